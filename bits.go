package main

import (
	"fmt"

	"github.com/pkg/errors"

	"plcreg/bitfield"
	"plcreg/regfile"
)

// validateBitNames accepts no names (defaults are used) or exactly one
// name per bit of the word.
func validateBitNames(names []string, width bitfield.Width) error {
	if len(names) == 0 {
		return nil
	}
	if len(names) != int(width) {
		return errors.Errorf("bit names must be exactly %d (got %d). Provide all %d bit names or none at all",
			width, len(names), width)
	}
	return nil
}

// bitRegister builds a layout with one boolean field per bit, for words that
// have no entry in the register file. Fields are named bit_0, bit_1, ...
// unless names are given.
func bitRegister(name string, width bitfield.Width, names []string) (*regfile.Register, error) {
	if !width.Valid() {
		return nil, errors.Wrapf(bitfield.ErrInvalidWidth, "%d", width)
	}
	if err := validateBitNames(names, width); err != nil {
		return nil, err
	}

	b := bitfield.NewBuilder(width)
	for bit := uint(0); bit < uint(width); bit++ {
		fieldName := fmt.Sprintf("bit_%d", bit)
		if len(names) > 0 {
			fieldName = names[bit]
		}
		b.Bool(fieldName, bit)
	}
	s, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &regfile.Register{Name: name, Schema: s}, nil
}
