package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"plcreg/bitfield"
	"plcreg/regfile"
)

// wordFromValue converts a node value to a register word of width w.
// Signed integers are reinterpreted at their own size, so an Int16 node
// holding -1 yields 0xFFFF and a plain int is taken as 64 bits. Floats must
// hold a non-negative integer.
func wordFromValue(value interface{}, w bitfield.Width) (uint64, error) {
	var word uint64
	switch v := value.(type) {
	case uint8:
		word = uint64(v)
	case uint16:
		word = uint64(v)
	case uint32:
		word = uint64(v)
	case uint64:
		word = v
	case uint:
		word = uint64(v)
	case int8:
		word = uint64(uint8(v))
	case int16:
		word = uint64(uint16(v))
	case int32:
		word = uint64(uint32(v))
	case int64:
		word = uint64(v)
	case int:
		word = uint64(int64(v))
	case float32:
		return wordFromValue(float64(v), w)
	case float64:
		if v < 0 || v != math.Trunc(v) || v >= 1<<64 {
			return 0, errors.Errorf("value %v cannot be converted to a register word", v)
		}
		word = uint64(v)
	default:
		return 0, errors.Errorf("value of type %T cannot be converted to a register word", value)
	}
	if word > w.Max() {
		return 0, errors.Wrapf(bitfield.ErrWordExceedsWidth, "value 0x%X for a %s register", word, w)
	}
	return word, nil
}

// decodeFields decodes word and returns the fields in layout order.
func decodeFields(s *bitfield.Schema, word uint64) ([]FieldValue, error) {
	values, err := s.Decode(word)
	if err != nil {
		return nil, err
	}
	fields := make([]FieldValue, 0, s.Len())
	for _, f := range s.Fields() {
		v := values[f.Name]
		fields = append(fields, FieldValue{
			Name:  f.Name,
			Value: v.Interface(),
			Raw:   v.Uint(),
			Bits:  bitRange(f),
		})
	}
	return fields, nil
}

func bitRange(f bitfield.Field) string {
	if f.Start == f.End {
		return strconv.FormatUint(uint64(f.Start), 10)
	}
	return fmt.Sprintf("%d:%d", f.Start, f.End)
}

// decodeRegister decodes word through r's layout.
func decodeRegister(r *regfile.Register, word uint64) (RegisterResponse, error) {
	resp := RegisterResponse{
		Register: r.Name,
		Node:     r.Node,
		Width:    int(r.Schema.Width()),
		Word:     word,
	}
	fields, err := decodeFields(r.Schema, word)
	registerDecodeCount.WithLabelValues(r.Name, resultLabel(err)).Inc()
	if err != nil {
		return resp, errors.Wrapf(err, "register %s", r.Name)
	}
	resp.Fields = fields
	return resp, nil
}
