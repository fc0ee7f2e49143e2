package bitfield

import (
	"fmt"
)

// Adapter converts between a field's semantic Value and its raw bit pattern.
type Adapter interface {
	// Kind is the variant of Value the adapter accepts and produces.
	Kind() Kind
	// Width is the natural width of the value: 8 for bool, the integer width for
	// unsigned integers and the representation width for enums.
	Width() Width
	// ToBits converts v to a raw integer of the target width.
	ToBits(v Value, target Width) (uint64, error)
	// FromBits converts raw bits extracted from a word of the source width.
	FromBits(raw uint64, source Width) (Value, error)
	String() string
}

// BoolAdapter maps false/true to 0/1.
type BoolAdapter struct{}

func (BoolAdapter) Kind() Kind     { return KindBool }
func (BoolAdapter) Width() Width   { return Width8 }
func (BoolAdapter) String() string { return "bool" }
func (BoolAdapter) valid() error   { return nil }

func (BoolAdapter) ToBits(v Value, _ Width) (uint64, error) {
	if v.kind != KindBool {
		return 0, ErrKindMismatch
	}
	return v.bits, nil
}

func (BoolAdapter) FromBits(raw uint64, _ Width) (Value, error) {
	switch raw {
	case 0:
		return Bool(false), nil
	case 1:
		return Bool(true), nil
	default:
		return Value{}, ErrInvalidBooleanBits
	}
}

// UintAdapter carries unsigned integers of a fixed natural width.
type UintAdapter struct {
	width Width
}

// NewUintAdapter returns the adapter for unsigned integers of width w.
func NewUintAdapter(w Width) (UintAdapter, error) {
	if !w.Valid() {
		return UintAdapter{}, ErrInvalidWidth
	}
	return UintAdapter{width: w}, nil
}

// Adapters for the four unsigned widths.
var (
	Uint8Adapter  = UintAdapter{width: Width8}
	Uint16Adapter = UintAdapter{width: Width16}
	Uint32Adapter = UintAdapter{width: Width32}
	Uint64Adapter = UintAdapter{width: Width64}
)

func (a UintAdapter) Kind() Kind     { return KindUint }
func (a UintAdapter) Width() Width   { return a.width }
func (a UintAdapter) String() string { return a.width.String() }

func (a UintAdapter) valid() error {
	if !a.width.Valid() {
		return ErrInvalidWidth
	}
	return nil
}

// ToBits accepts only values of the adapter's width, the width FromBits
// produces. A number above the adapter's maximum is an overflow, as is one
// above target's maximum when the value is wider than the word.
func (a UintAdapter) ToBits(v Value, target Width) (uint64, error) {
	if v.kind != KindUint {
		return 0, ErrKindMismatch
	}
	if v.bits > a.width.Max() {
		return v.bits, ErrCrossWidthOverflow
	}
	if v.width != a.width {
		return v.bits, fmt.Errorf("%w: %s value for a %s field", ErrKindMismatch, v.width, a.width)
	}
	if v.width > target && v.bits > target.Max() {
		return v.bits, ErrCrossWidthOverflow
	}
	return v.bits, nil
}

// FromBits re-checks that raw fits the adapter width. Extraction already masks
// raw to the field, so this only fails for fields wider than the adapter.
func (a UintAdapter) FromBits(raw uint64, _ Width) (Value, error) {
	if raw > a.width.Max() {
		return Value{}, ErrCrossWidthOverflow
	}
	return Value{kind: KindUint, bits: raw, width: a.width}, nil
}

// EnumAdapter validates discriminants against an Enum table.
type EnumAdapter struct {
	enum *Enum
}

// NewEnumAdapter returns the adapter for e.
func NewEnumAdapter(e *Enum) EnumAdapter {
	return EnumAdapter{enum: e}
}

func (a EnumAdapter) Kind() Kind     { return KindEnum }
func (a EnumAdapter) Width() Width   { return a.enum.repr }
func (a EnumAdapter) Enum() *Enum    { return a.enum }
func (a EnumAdapter) String() string { return "enum " + a.enum.typeName }

func (a EnumAdapter) valid() error {
	if a.enum == nil {
		return ErrNilAdapter
	}
	return nil
}

func (a EnumAdapter) ToBits(v Value, _ Width) (uint64, error) {
	if v.kind != KindEnum || v.enum != a.enum {
		return 0, ErrKindMismatch
	}
	return v.bits, nil
}

func (a EnumAdapter) FromBits(raw uint64, _ Width) (Value, error) {
	if _, ok := a.enum.byValue[raw]; !ok {
		return Value{}, ErrInvalidDiscriminant
	}
	return Value{kind: KindEnum, bits: raw, width: a.enum.repr, enum: a.enum}, nil
}
