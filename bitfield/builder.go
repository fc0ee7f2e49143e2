package bitfield

import (
	"fmt"
)

// Builder collects fields for a Schema. The first error is kept and returned by Build.
//
//	s, err := bitfield.NewBuilder(bitfield.Width32).
//		Bool("enabled", 0).
//		Enum("mode", modes, 1, 2).
//		Uint("priority", bitfield.Width8, 3, 5).
//		Build()
type Builder struct {
	width  Width
	fields []Field
	opts   []SchemaOption
	err    error
}

// NewBuilder starts a schema for words of the given width.
func NewBuilder(width Width) *Builder {
	return &Builder{width: width}
}

// Bool adds a single-bit boolean field.
func (b *Builder) Bool(name string, bit uint) *Builder {
	return b.Field(Field{Name: name, Start: bit, End: bit, Adapter: BoolAdapter{}})
}

// Uint adds an unsigned integer field of natural width w over bits [start, end].
func (b *Builder) Uint(name string, w Width, start, end uint) *Builder {
	a, err := NewUintAdapter(w)
	if err != nil {
		b.setErr(fmt.Errorf("field '%s': %w", name, err))
		return b
	}
	return b.Field(Field{Name: name, Start: start, End: end, Adapter: a})
}

// Enum adds an enum field over bits [start, end].
func (b *Builder) Enum(name string, e *Enum, start, end uint) *Builder {
	if e == nil {
		b.setErr(fieldErr(name, 0, ErrNilAdapter))
		return b
	}
	return b.Field(Field{Name: name, Start: start, End: end, Adapter: NewEnumAdapter(e)})
}

// Field adds an arbitrary field.
func (b *Builder) Field(f Field) *Builder {
	b.fields = append(b.fields, f)
	return b
}

// Options appends schema options applied at Build.
func (b *Builder) Options(opts ...SchemaOption) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build validates the collected fields.
func (b *Builder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewSchema(b.width, b.fields, b.opts...)
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}
