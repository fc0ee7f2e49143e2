package bitfield

import (
	"errors"
	"fmt"
)

var (
	// ErrBitRangeOutOfBounds is returned when a field's bit range does not fit the word.
	ErrBitRangeOutOfBounds = errors.New("bit range out of bounds")
	// ErrValueExceedsFieldWidth is returned when a value needs more bits than its field has.
	ErrValueExceedsFieldWidth = errors.New("value exceeds maximum for its bit width")
	// ErrCrossWidthOverflow is returned when a number does not fit the target representation.
	ErrCrossWidthOverflow = errors.New("value too large for target width")
	// ErrInvalidBooleanBits is returned when bits decoded for a boolean are neither 0 nor 1.
	ErrInvalidBooleanBits = errors.New("bit pattern is not a boolean")
	// ErrInvalidDiscriminant is returned when decoded bits match no enum variant.
	ErrInvalidDiscriminant = errors.New("invalid enum discriminant")

	ErrInvalidWidth     = errors.New("word width must be 8, 16, 32 or 64")
	ErrDuplicateField   = errors.New("duplicate field name")
	ErrUnnamedField     = errors.New("field has no name")
	ErrNilAdapter       = errors.New("field has no adapter")
	ErrFieldOverlap     = errors.New("fields overlap")
	ErrMissingField     = errors.New("missing value for field")
	ErrUnknownField     = errors.New("unknown field")
	ErrKindMismatch     = errors.New("value kind does not match field")
	ErrWordExceedsWidth = errors.New("word has bits set above the register width")
	ErrWidthMismatch    = errors.New("word type does not match register width")
	ErrInvalidEnum      = errors.New("invalid enum definition")
	ErrUnsupportedType  = errors.New("unsupported type")
)

// FieldError reports a failure on a single field. It unwraps to one of the
// sentinel errors above.
type FieldError struct {
	Field string
	Raw   uint64
	Err   error
}

func (e *FieldError) Error() string {
	switch e.Err {
	case ErrInvalidBooleanBits, ErrInvalidDiscriminant, ErrCrossWidthOverflow, ErrValueExceedsFieldWidth:
		return fmt.Sprintf("field '%s': %v (0x%X)", e.Field, e.Err, e.Raw)
	default:
		return fmt.Sprintf("field '%s': %v", e.Field, e.Err)
	}
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(name string, raw uint64, err error) error {
	return &FieldError{Field: name, Raw: raw, Err: err}
}
