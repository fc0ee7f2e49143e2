package bitfield

import (
	"fmt"
)

// Variant is one symbol of an Enum and its assigned discriminant.
type Variant struct {
	Name         string
	Discriminant uint64
}

// Enum is a fixed table mapping variant names to explicit discriminants.
// Discriminants need not be contiguous.
type Enum struct {
	typeName string
	repr     Width
	variants []Variant
	byName   map[string]uint64
	byValue  map[uint64]string
}

// NewEnum builds a discriminant table. Every discriminant must fit repr and
// both names and discriminants must be unique.
func NewEnum(name string, repr Width, variants ...Variant) (*Enum, error) {
	if !repr.Valid() {
		return nil, fmt.Errorf("enum %s: %w", name, ErrInvalidWidth)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: enum %s has no variants", ErrInvalidEnum, name)
	}
	e := &Enum{
		typeName: name,
		repr:     repr,
		variants: make([]Variant, 0, len(variants)),
		byName:   make(map[string]uint64, len(variants)),
		byValue:  make(map[uint64]string, len(variants)),
	}
	for _, v := range variants {
		if v.Name == "" {
			return nil, fmt.Errorf("%w: enum %s has an unnamed variant", ErrInvalidEnum, name)
		}
		if v.Discriminant > repr.Max() {
			return nil, fmt.Errorf("%w: enum %s variant %s discriminant %d does not fit %s",
				ErrInvalidEnum, name, v.Name, v.Discriminant, repr)
		}
		if _, ok := e.byName[v.Name]; ok {
			return nil, fmt.Errorf("%w: enum %s declares variant %s twice", ErrInvalidEnum, name, v.Name)
		}
		if other, ok := e.byValue[v.Discriminant]; ok {
			return nil, fmt.Errorf("%w: enum %s variants %s and %s share discriminant %d",
				ErrInvalidEnum, name, other, v.Name, v.Discriminant)
		}
		e.byName[v.Name] = v.Discriminant
		e.byValue[v.Discriminant] = v.Name
		e.variants = append(e.variants, v)
	}
	return e, nil
}

// MustEnum is like NewEnum but panics on error. Intended for package-level tables.
func MustEnum(name string, repr Width, variants ...Variant) *Enum {
	e, err := NewEnum(name, repr, variants...)
	if err != nil {
		panic(err)
	}
	return e
}

// Name returns the enum type name.
func (e *Enum) Name() string { return e.typeName }

// Repr returns the width of the enum's representation type.
func (e *Enum) Repr() Width { return e.repr }

// Variants returns the variants in declaration order.
func (e *Enum) Variants() []Variant {
	out := make([]Variant, len(e.variants))
	copy(out, e.variants)
	return out
}

// Value returns the Value for the named variant.
func (e *Enum) Value(variant string) (Value, error) {
	d, ok := e.byName[variant]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s has no variant %q", ErrInvalidDiscriminant, e.typeName, variant)
	}
	return Value{kind: KindEnum, bits: d, width: e.repr, enum: e}, nil
}

// MustValue is like Value but panics when the variant is unknown.
func (e *Enum) MustValue(variant string) Value {
	v, err := e.Value(variant)
	if err != nil {
		panic(err)
	}
	return v
}

// ValueOf returns the Value whose discriminant is d.
func (e *Enum) ValueOf(d uint64) (Value, error) {
	if _, ok := e.byValue[d]; !ok {
		return Value{}, ErrInvalidDiscriminant
	}
	return Value{kind: KindEnum, bits: d, width: e.repr, enum: e}, nil
}

func (e *Enum) name(d uint64) (string, bool) {
	n, ok := e.byValue[d]
	return n, ok
}

func (e *Enum) String() string {
	return e.typeName
}
