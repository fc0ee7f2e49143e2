package bitfield

import (
	"fmt"
	"reflect"
)

// Marshal encodes the exported fields of the struct v with schema s.
//
// Struct fields are matched to schema fields by the `bits` tag, or by the Go
// field name when untagged. `bits:"-"` skips a field. Bool fields carry
// booleans, unsigned integer fields carry integers, and enum fields are either
// an unsigned integer holding the discriminant or a string holding the variant
// name.
func Marshal(s *Schema, v any) (uint64, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return 0, fmt.Errorf("%w: nil %T", ErrUnsupportedType, v)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}

	values := make(Values, s.Len())
	err := walkStruct(s, rv, func(f Field, fv reflect.Value) error {
		val, err := toValue(f, fv)
		if err != nil {
			return err
		}
		values[f.Name] = val
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.Encode(values)
}

// Unmarshal decodes word with schema s into the struct pointed to by dst.
// Struct fields are matched as in Marshal.
func Unmarshal(s *Schema, word uint64, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T", ErrUnsupportedType, dst)
	}
	values, err := s.Decode(word)
	if err != nil {
		return err
	}
	return walkStruct(s, rv.Elem(), func(f Field, fv reflect.Value) error {
		return setValue(f, fv, values[f.Name])
	})
}

func walkStruct(s *Schema, rv reflect.Value, fn func(Field, reflect.Value) error) error {
	t := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		tag, tagged := sf.Tag.Lookup("bits")
		if tagged {
			if tag == "-" {
				continue
			}
			name = tag
		}
		f, ok := s.Field(name)
		if !ok {
			if tagged {
				return fieldErr(name, 0, ErrUnknownField)
			}
			continue
		}
		if err := fn(f, rv.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func toValue(f Field, fv reflect.Value) (Value, error) {
	switch f.Adapter.Kind() {
	case KindBool:
		if fv.Kind() == reflect.Bool {
			return Bool(fv.Bool()), nil
		}
	case KindUint:
		if isUint(fv.Kind()) {
			w := f.Adapter.Width()
			if fv.Uint() > w.Max() {
				return Value{}, fieldErr(f.Name, fv.Uint(), ErrCrossWidthOverflow)
			}
			return Value{kind: KindUint, bits: fv.Uint(), width: w}, nil
		}
	case KindEnum:
		e := enumOf(f.Adapter)
		if e == nil {
			break
		}
		if isUint(fv.Kind()) {
			v, err := e.ValueOf(fv.Uint())
			if err != nil {
				return Value{}, fieldErr(f.Name, fv.Uint(), err)
			}
			return v, nil
		}
		if fv.Kind() == reflect.String {
			v, err := e.Value(fv.String())
			if err != nil {
				return Value{}, fieldErr(f.Name, 0, ErrInvalidDiscriminant)
			}
			return v, nil
		}
	}
	return Value{}, fieldErr(f.Name, 0, fmt.Errorf("%w: %s into %v", ErrKindMismatch, fv.Type(), f.Adapter))
}

func setValue(f Field, fv reflect.Value, v Value) error {
	switch {
	case v.kind == KindBool && fv.Kind() == reflect.Bool:
		fv.SetBool(v.Bool())
		return nil
	case (v.kind == KindUint || v.kind == KindEnum) && isUint(fv.Kind()):
		if fv.OverflowUint(v.bits) {
			return fieldErr(f.Name, v.bits, ErrCrossWidthOverflow)
		}
		fv.SetUint(v.bits)
		return nil
	case v.kind == KindEnum && fv.Kind() == reflect.String:
		fv.SetString(v.Variant())
		return nil
	}
	return fieldErr(f.Name, v.bits, fmt.Errorf("%w: %v into %s", ErrKindMismatch, f.Adapter, fv.Type()))
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func enumOf(a Adapter) *Enum {
	if ea, ok := a.(interface{ Enum() *Enum }); ok {
		return ea.Enum()
	}
	return nil
}
