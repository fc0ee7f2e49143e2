// Package regfile loads register layouts from YAML and builds validated
// bitfield schemas from them.
package regfile

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"plcreg/bitfield"
)

// Register is a named layout, optionally bound to an OPC UA node.
type Register struct {
	Name        string
	Node        string
	Description string
	Schema      *bitfield.Schema
}

// File is a parsed register file.
type File struct {
	Enums     []*bitfield.Enum
	Registers []*Register

	enums     map[string]*bitfield.Enum
	registers map[string]*Register
}

type document struct {
	Enums     []enumDoc     `yaml:"enums"`
	Registers []registerDoc `yaml:"registers"`
}

type enumDoc struct {
	Name     string       `yaml:"name"`
	Width    int          `yaml:"width"`
	Variants []variantDoc `yaml:"variants"`
}

type variantDoc struct {
	Name  string `yaml:"name"`
	Value uint64 `yaml:"value"`
}

type registerDoc struct {
	Name        string     `yaml:"name"`
	Node        string     `yaml:"node"`
	Description string     `yaml:"description"`
	Width       int        `yaml:"width"`
	Strict      bool       `yaml:"strict"`
	Fields      []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Enum string `yaml:"enum"`
	Bits string `yaml:"bits"`
}

// Load reads and parses the register file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read register file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return f, nil
}

// Parse builds a File from YAML. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, errors.New("register file is empty")
		}
		return nil, errors.Wrap(err, "could not parse register file")
	}

	f := &File{
		enums:     make(map[string]*bitfield.Enum, len(doc.Enums)),
		registers: make(map[string]*Register, len(doc.Registers)),
	}
	for _, ed := range doc.Enums {
		e, err := buildEnum(ed)
		if err != nil {
			return nil, err
		}
		if _, ok := f.enums[e.Name()]; ok {
			return nil, errors.Errorf("enum %s declared twice", e.Name())
		}
		f.enums[e.Name()] = e
		f.Enums = append(f.Enums, e)
	}
	for _, rd := range doc.Registers {
		r, err := f.buildRegister(rd)
		if err != nil {
			return nil, err
		}
		if _, ok := f.registers[r.Name]; ok {
			return nil, errors.Errorf("register %s declared twice", r.Name)
		}
		f.registers[r.Name] = r
		f.Registers = append(f.Registers, r)
	}
	return f, nil
}

// Lookup returns the named register.
func (f *File) Lookup(name string) (*Register, bool) {
	r, ok := f.registers[name]
	return r, ok
}

// Enum returns the named enum.
func (f *File) Enum(name string) (*bitfield.Enum, bool) {
	e, ok := f.enums[name]
	return e, ok
}

func buildEnum(ed enumDoc) (*bitfield.Enum, error) {
	if ed.Name == "" {
		return nil, errors.New("enum without a name")
	}
	width := ed.Width
	if width == 0 {
		width = 8
	}
	repr, err := bitfield.ParseWidth(width)
	if err != nil {
		return nil, errors.Wrapf(err, "enum %s", ed.Name)
	}
	variants := make([]bitfield.Variant, 0, len(ed.Variants))
	for _, v := range ed.Variants {
		variants = append(variants, bitfield.Variant{Name: v.Name, Discriminant: v.Value})
	}
	return bitfield.NewEnum(ed.Name, repr, variants...)
}

func (f *File) buildRegister(rd registerDoc) (*Register, error) {
	if rd.Name == "" {
		return nil, errors.New("register without a name")
	}
	width, err := bitfield.ParseWidth(rd.Width)
	if err != nil {
		return nil, errors.Wrapf(err, "register %s", rd.Name)
	}

	b := bitfield.NewBuilder(width)
	if rd.Strict {
		b.Options(bitfield.RejectOverlap())
	}
	for _, fd := range rd.Fields {
		field, err := f.buildField(fd)
		if err != nil {
			return nil, errors.Wrapf(err, "register %s", rd.Name)
		}
		b.Field(field)
	}
	s, err := b.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "register %s", rd.Name)
	}
	return &Register{
		Name:        rd.Name,
		Node:        rd.Node,
		Description: rd.Description,
		Schema:      s,
	}, nil
}

func (f *File) buildField(fd fieldDoc) (bitfield.Field, error) {
	start, end, err := ParseBits(fd.Bits)
	if err != nil {
		return bitfield.Field{}, errors.Wrapf(err, "field %s", fd.Name)
	}
	field := bitfield.Field{Name: fd.Name, Start: start, End: end}

	switch t := strings.ToLower(fd.Type); t {
	case "bool", "boolean":
		field.Adapter = bitfield.BoolAdapter{}
	case "uint8", "byte", "uint16", "uint32", "uint64":
		field.Adapter = uintAdapters[t]
	case "enum":
		e, ok := f.enums[fd.Enum]
		if !ok {
			return bitfield.Field{}, errors.Errorf("field %s: unknown enum %q", fd.Name, fd.Enum)
		}
		field.Adapter = bitfield.NewEnumAdapter(e)
	default:
		return bitfield.Field{}, errors.Errorf("field %s: unknown type %q", fd.Name, fd.Type)
	}
	return field, nil
}

var uintAdapters = map[string]bitfield.Adapter{
	"uint8":  bitfield.Uint8Adapter,
	"byte":   bitfield.Uint8Adapter,
	"uint16": bitfield.Uint16Adapter,
	"uint32": bitfield.Uint32Adapter,
	"uint64": bitfield.Uint64Adapter,
}

// ParseBits parses a bit range written as "n" or "start:end".
func ParseBits(s string) (start, end uint, err error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return 0, 0, errors.New("missing bit range")
	}
	lo, hi, isRange := strings.Cut(s, ":")
	a, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 8)
	if err != nil {
		return 0, 0, errors.Errorf("invalid bit range %q", s)
	}
	if !isRange {
		return uint(a), uint(a), nil
	}
	b, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 8)
	if err != nil {
		return 0, 0, errors.Errorf("invalid bit range %q", s)
	}
	return uint(a), uint(b), nil
}
