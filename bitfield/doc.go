// Package bitfield packs named, typed values into fixed-width register words
// and unpacks words back into values.
//
// A Schema lists Fields, each an inclusive bit range of the word and an
// Adapter converting between the field's Value and its raw bits. Bit 0 is the
// least significant bit. Schemas are validated once and are then immutable, so
// a single Schema can serve any number of goroutines.
//
// Encode rejects values that need more bits than their field provides, and
// Decode rejects bit patterns that are not a legal value: a boolean field
// holding anything but 0 or 1, or an enum field holding a discriminant no
// variant declares. Both stop at the first failing field and report it as a
// *FieldError wrapping one of the package's sentinel errors.
package bitfield
