package bitfield

import (
	"fmt"
)

// Field places a named value in the inclusive bit range [Start, End] of a word.
type Field struct {
	Name    string
	Start   uint
	End     uint
	Adapter Adapter
}

// BitCount returns the number of bits allocated to the field.
func (f Field) BitCount() uint {
	return f.End - f.Start + 1
}

// Mask returns the field's bits in their position within a word of width w.
func (f Field) Mask(w Width) uint64 {
	return mask(f.BitCount(), w) << f.Start
}

func (f Field) String() string {
	if f.Start == f.End {
		return fmt.Sprintf("%s: %v => [%d]", f.Name, f.Adapter, f.Start)
	}
	return fmt.Sprintf("%s: %v => [%d:%d]", f.Name, f.Adapter, f.Start, f.End)
}

// Schema is a validated word layout. It is immutable and safe for concurrent use.
type Schema struct {
	width  Width
	fields []Field
	index  map[string]int
}

type schemaOptions struct {
	rejectOverlap bool
}

// SchemaOption configures NewSchema.
type SchemaOption func(*schemaOptions)

// RejectOverlap makes NewSchema fail with ErrFieldOverlap when two fields share a bit.
func RejectOverlap() SchemaOption {
	return func(o *schemaOptions) {
		o.rejectOverlap = true
	}
}

// NewSchema validates fields against the word width and returns the schema.
// Fields keep their given order, which is the order Encode and Decode visit them.
func NewSchema(width Width, fields []Field, opts ...SchemaOption) (*Schema, error) {
	var o schemaOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !width.Valid() {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWidth, uint8(width))
	}

	s := &Schema{
		width:  width,
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)

	for i, f := range s.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: %w", i, ErrUnnamedField)
		}
		if _, ok := s.index[f.Name]; ok {
			return nil, fieldErr(f.Name, 0, ErrDuplicateField)
		}
		if f.Adapter == nil {
			return nil, fieldErr(f.Name, 0, ErrNilAdapter)
		}
		if a, ok := f.Adapter.(interface{ valid() error }); ok {
			if err := a.valid(); err != nil {
				return nil, fieldErr(f.Name, 0, err)
			}
		}
		if f.Start > f.End || f.End >= uint(width) {
			return nil, fieldErr(f.Name, uint64(f.End), ErrBitRangeOutOfBounds)
		}
		s.index[f.Name] = i
	}

	if o.rejectOverlap {
		if pairs := s.Overlaps(); len(pairs) > 0 {
			return nil, fmt.Errorf("field '%s' and field '%s': %w", pairs[0][0], pairs[0][1], ErrFieldOverlap)
		}
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(width Width, fields []Field, opts ...SchemaOption) *Schema {
	s, err := NewSchema(width, fields, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Width returns the word width.
func (s *Schema) Width() Width { return s.width }

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the fields in schema order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Overlaps returns every pair of field names whose bit ranges intersect.
func (s *Schema) Overlaps() [][2]string {
	var pairs [][2]string
	for i := 0; i < len(s.fields); i++ {
		a := s.fields[i].Mask(s.width)
		for j := i + 1; j < len(s.fields); j++ {
			if a&s.fields[j].Mask(s.width) != 0 {
				pairs = append(pairs, [2]string{s.fields[i].Name, s.fields[j].Name})
			}
		}
	}
	return pairs
}

// Mask returns the union of all field masks.
func (s *Schema) Mask() uint64 {
	var m uint64
	for _, f := range s.fields {
		m |= f.Mask(s.width)
	}
	return m
}
