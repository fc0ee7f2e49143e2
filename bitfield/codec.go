package bitfield

import (
	"fmt"
	"sort"
)

// Encode packs values into a word following the schema's field order.
// Every field needs a value and names outside the schema are rejected.
// It stops at the first field that fails and returns no partial word.
func (s *Schema) Encode(values Values) (uint64, error) {
	if err := s.checkNames(values); err != nil {
		return 0, err
	}
	var word uint64
	for _, f := range s.fields {
		v, ok := values[f.Name]
		if !ok {
			return 0, fieldErr(f.Name, 0, ErrMissingField)
		}
		bits, err := s.pack(f, v)
		if err != nil {
			return 0, err
		}
		word |= bits
	}
	return word, nil
}

// Decode unpacks every field of word. It stops at the first field whose bits
// are not a legal value.
func (s *Schema) Decode(word uint64) (Values, error) {
	if err := s.checkWord(word); err != nil {
		return nil, err
	}
	values := make(Values, len(s.fields))
	for _, f := range s.fields {
		v, err := s.extract(f, word)
		if err != nil {
			return nil, err
		}
		values[f.Name] = v
	}
	return values, nil
}

// Get decodes a single field of word.
func (s *Schema) Get(word uint64, name string) (Value, error) {
	f, ok := s.Field(name)
	if !ok {
		return Value{}, fieldErr(name, 0, ErrUnknownField)
	}
	if err := s.checkWord(word); err != nil {
		return Value{}, err
	}
	return s.extract(f, word)
}

// Set returns word with the named field replaced by v. Bits outside the field
// are left as they are.
func (s *Schema) Set(word uint64, name string, v Value) (uint64, error) {
	f, ok := s.Field(name)
	if !ok {
		return 0, fieldErr(name, 0, ErrUnknownField)
	}
	if err := s.checkWord(word); err != nil {
		return 0, err
	}
	bits, err := s.pack(f, v)
	if err != nil {
		return 0, err
	}
	return (word &^ f.Mask(s.width)) | bits, nil
}

// Merge applies every entry of values to word with Set, in schema order.
func (s *Schema) Merge(word uint64, values Values) (uint64, error) {
	if err := s.checkNames(values); err != nil {
		return 0, err
	}
	var err error
	for _, f := range s.fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		word, err = s.Set(word, f.Name, v)
		if err != nil {
			return 0, err
		}
	}
	return word, nil
}

// checkNames reports the first name of values, in sorted order, that is not
// a field of s.
func (s *Schema) checkNames(values Values) error {
	var unknown []string
	for name := range values {
		if _, ok := s.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fieldErr(unknown[0], 0, ErrUnknownField)
}

func (s *Schema) pack(f Field, v Value) (uint64, error) {
	raw, err := f.Adapter.ToBits(v, s.width)
	if err != nil {
		return 0, fieldErr(f.Name, raw, err)
	}
	m := mask(f.BitCount(), s.width)
	if raw > m {
		return 0, fieldErr(f.Name, raw, ErrValueExceedsFieldWidth)
	}
	return (raw & m) << f.Start, nil
}

func (s *Schema) extract(f Field, word uint64) (Value, error) {
	raw := (word >> f.Start) & mask(f.BitCount(), s.width)
	v, err := f.Adapter.FromBits(raw, s.width)
	if err != nil {
		return Value{}, fieldErr(f.Name, raw, err)
	}
	return v, nil
}

func (s *Schema) checkWord(word uint64) error {
	if word > s.width.Max() {
		return fmt.Errorf("%w: 0x%X does not fit %s", ErrWordExceedsWidth, word, s.width)
	}
	return nil
}

// EncodeWord is Encode for a word type matching the schema width.
func EncodeWord[T Word](s *Schema, values Values) (T, error) {
	if w := WidthOf[T](); w != s.width {
		return 0, fmt.Errorf("%w: %s word for %s register", ErrWidthMismatch, w, s.width)
	}
	word, err := s.Encode(values)
	if err != nil {
		return 0, err
	}
	return T(word), nil
}

// DecodeWord is Decode for a word type matching the schema width.
func DecodeWord[T Word](s *Schema, word T) (Values, error) {
	if w := WidthOf[T](); w != s.width {
		return nil, fmt.Errorf("%w: %s word for %s register", ErrWidthMismatch, w, s.width)
	}
	return s.Decode(uint64(word))
}
