package regfile

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"plcreg/bitfield"
)

// ParseValue converts text to a Value accepted by adapter a. Booleans use
// strconv.ParseBool, integers accept 0x/0o/0b prefixes, and enums accept a
// variant name or its discriminant.
func ParseValue(a bitfield.Adapter, text string) (bitfield.Value, error) {
	text = strings.TrimSpace(text)
	switch a.Kind() {
	case bitfield.KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return bitfield.Value{}, errors.Errorf("invalid boolean %q", text)
		}
		return bitfield.Bool(b), nil
	case bitfield.KindUint:
		n, err := strconv.ParseUint(text, 0, int(a.Width()))
		if err != nil {
			return bitfield.Value{}, errors.Errorf("invalid %s %q", a.Width(), text)
		}
		return bitfield.Uint(a.Width(), n)
	case bitfield.KindEnum:
		ea, ok := a.(bitfield.EnumAdapter)
		if !ok {
			return bitfield.Value{}, errors.Errorf("unsupported adapter %v", a)
		}
		e := ea.Enum()
		if v, err := e.Value(text); err == nil {
			return v, nil
		}
		n, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return bitfield.Value{}, errors.Wrapf(bitfield.ErrInvalidDiscriminant, "%s has no variant %q", e.Name(), text)
		}
		v, err := e.ValueOf(n)
		if err != nil {
			return bitfield.Value{}, errors.Wrapf(err, "%s has no discriminant %d", e.Name(), n)
		}
		return v, nil
	default:
		return bitfield.Value{}, errors.Errorf("unsupported adapter %v", a)
	}
}

// ParseAssignments parses "field=value" pairs against schema s.
func ParseAssignments(s *bitfield.Schema, pairs []string) (bitfield.Values, error) {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, text, ok := strings.Cut(p, "=")
		if !ok {
			return nil, errors.Errorf("expected field=value, got %q", p)
		}
		m[strings.TrimSpace(name)] = text
	}
	return ParseFields(s, m)
}

// ParseFields parses textual field values keyed by field name.
func ParseFields(s *bitfield.Schema, fields map[string]string) (bitfield.Values, error) {
	values := make(bitfield.Values, len(fields))
	for name, text := range fields {
		f, ok := s.Field(name)
		if !ok {
			return nil, errors.Wrapf(bitfield.ErrUnknownField, "field %s", name)
		}
		v, err := ParseValue(f.Adapter, text)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", name)
		}
		values[name] = v
	}
	return values, nil
}
