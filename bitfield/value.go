package bitfield

import (
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value or Adapter carries.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindUint
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint:
		return "uint"
	case KindEnum:
		return "enum"
	default:
		return "invalid"
	}
}

// Value is a decoded field value: a boolean, an unsigned integer of a natural
// width, or a variant of an Enum. Values are comparable with ==.
type Value struct {
	kind  Kind
	bits  uint64
	width Width
	enum  *Enum
}

// Values maps field names to values.
type Values map[string]Value

// Bool returns a boolean Value.
func Bool(b bool) Value {
	v := Value{kind: KindBool, width: Width8}
	if b {
		v.bits = 1
	}
	return v
}

// Uint8 returns an 8-bit unsigned Value.
func Uint8(x uint8) Value { return Value{kind: KindUint, bits: uint64(x), width: Width8} }

// Uint16 returns a 16-bit unsigned Value.
func Uint16(x uint16) Value { return Value{kind: KindUint, bits: uint64(x), width: Width16} }

// Uint32 returns a 32-bit unsigned Value.
func Uint32(x uint32) Value { return Value{kind: KindUint, bits: uint64(x), width: Width32} }

// Uint64 returns a 64-bit unsigned Value.
func Uint64(x uint64) Value { return Value{kind: KindUint, bits: x, width: Width64} }

// Uint returns an unsigned integer Value whose natural width is w.
// It fails when x does not fit in w bits.
func Uint(w Width, x uint64) (Value, error) {
	if !w.Valid() {
		return Value{}, ErrInvalidWidth
	}
	if x > w.Max() {
		return Value{}, fmt.Errorf("%w: %d does not fit %s", ErrCrossWidthOverflow, x, w)
	}
	return Value{kind: KindUint, bits: x, width: w}, nil
}

// Kind returns the variant of v. The zero Value has no kind.
func (v Value) Kind() Kind { return v.kind }

// Width returns the natural width of an unsigned Value, or the representation
// width of an enum Value.
func (v Value) Width() Width { return v.width }

// Bool reports the boolean carried by v.
func (v Value) Bool() bool { return v.kind == KindBool && v.bits == 1 }

// Uint returns the raw number carried by v: the integer for KindUint, the
// discriminant for KindEnum and 0/1 for KindBool.
func (v Value) Uint() uint64 { return v.bits }

// Enum returns the discriminant table of an enum Value, nil otherwise.
func (v Value) Enum() *Enum { return v.enum }

// Variant returns the variant name of an enum Value.
func (v Value) Variant() string {
	if v.kind != KindEnum || v.enum == nil {
		return ""
	}
	name, _ := v.enum.name(v.bits)
	return name
}

// Interface returns v as a plain Go value: bool, uint8..uint64, or the variant name.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.Bool()
	case KindUint:
		switch v.width {
		case Width8:
			return uint8(v.bits)
		case Width16:
			return uint16(v.bits)
		case Width32:
			return uint32(v.bits)
		default:
			return v.bits
		}
	case KindEnum:
		return v.Variant()
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindUint:
		return strconv.FormatUint(v.bits, 10)
	case KindEnum:
		return v.Variant()
	default:
		return "<invalid>"
	}
}
