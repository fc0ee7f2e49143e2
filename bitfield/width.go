package bitfield

import (
	"fmt"
	"math"
)

// Width is the bit width of a word or of an unsigned integer's natural representation.
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// Valid reports whether w is one of 8, 16, 32 or 64.
func (w Width) Valid() bool {
	switch w {
	case Width8, Width16, Width32, Width64:
		return true
	}
	return false
}

// Max returns the largest value representable in w bits.
func (w Width) Max() uint64 {
	return mask(uint(w), w)
}

func (w Width) String() string {
	return fmt.Sprintf("u%d", uint8(w))
}

// ParseWidth converts 8, 16, 32 or 64 to a Width.
func ParseWidth(bits int) (Width, error) {
	w := Width(bits)
	if bits < 0 || bits > math.MaxUint8 || !w.Valid() {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidWidth, bits)
	}
	return w, nil
}

// mask returns count one-bits, or every bit of the word when count reaches
// the word width. Shifting a uint64 by 64 yields 0 in Go, so the full-width case
// is handled explicitly.
func mask(count uint, word Width) uint64 {
	if count >= uint(word) {
		if word >= Width64 {
			return math.MaxUint64
		}
		return (uint64(1) << uint(word)) - 1
	}
	return (uint64(1) << count) - 1
}

// Word is the set of unsigned integer types a register word can be held in.
type Word interface {
	uint8 | uint16 | uint32 | uint64
}

// WidthOf returns the Width of the word type T.
func WidthOf[T Word]() Width {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Width8
	case uint16:
		return Width16
	case uint32:
		return Width32
	default:
		return Width64
	}
}
