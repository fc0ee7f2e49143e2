package bitfield_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcreg/bitfield"
)

var operationMode = bitfield.MustEnum("OperationMode", bitfield.Width8,
	bitfield.Variant{Name: "Idle", Discriminant: 0},
	bitfield.Variant{Name: "Active", Discriminant: 1},
	bitfield.Variant{Name: "LowPower", Discriminant: 2},
	bitfield.Variant{Name: "Sleep", Discriminant: 3},
)

func controlSchema(t *testing.T) *bitfield.Schema {
	t.Helper()
	s, err := bitfield.NewBuilder(bitfield.Width32).
		Bool("enabled", 0).
		Enum("mode", operationMode, 1, 2).
		Uint("priority", bitfield.Width8, 3, 5).
		Build()
	require.NoError(t, err)
	return s
}

func requireFieldErr(t *testing.T, err error, field string, target error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, target)
	var fe *bitfield.FieldError
	require.True(t, errors.As(err, &fe), "expected *FieldError, got %T", err)
	assert.Equal(t, field, fe.Field)
}

func TestControlRegister(t *testing.T) {
	s := controlSchema(t)
	values := bitfield.Values{
		"enabled":  bitfield.Bool(true),
		"mode":     operationMode.MustValue("LowPower"),
		"priority": bitfield.Uint8(3),
	}

	word, err := s.Encode(values)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b000_011_10_1), word)
	assert.Equal(t, uint64(29), word)

	decoded, err := s.Decode(29)
	require.NoError(t, err)
	assert.Equal(t, values, decoded)
	assert.Equal(t, "LowPower", decoded["mode"].Variant())
}

func TestFieldWidthLimit(t *testing.T) {
	s, err := bitfield.NewBuilder(bitfield.Width8).
		Uint("value", bitfield.Width8, 0, 3).
		Build()
	require.NoError(t, err)

	word, err := s.Encode(bitfield.Values{"value": bitfield.Uint8(15)})
	require.NoError(t, err)
	assert.Equal(t, uint64(15), word)

	_, err = s.Encode(bitfield.Values{"value": bitfield.Uint8(16)})
	requireFieldErr(t, err, "value", bitfield.ErrValueExceedsFieldWidth)
}

func TestRangeRejection(t *testing.T) {
	tests := []struct {
		name    string
		start   uint
		end     uint
		value   uint64
		wantErr bool
	}{
		{name: "1 bit max", start: 0, end: 0, value: 1},
		{name: "1 bit over", start: 0, end: 0, value: 2, wantErr: true},
		{name: "3 bits max", start: 4, end: 6, value: 7},
		{name: "3 bits over", start: 4, end: 6, value: 8, wantErr: true},
		{name: "16 bits max", start: 8, end: 23, value: math.MaxUint16},
		{name: "16 bits over", start: 8, end: 23, value: math.MaxUint16 + 1, wantErr: true},
		{name: "31 bits max", start: 1, end: 31, value: 1<<31 - 1},
		{name: "31 bits over", start: 1, end: 31, value: 1 << 31, wantErr: true},
		{name: "zero always fits", start: 31, end: 31, value: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := bitfield.NewBuilder(bitfield.Width32).
				Uint("f", bitfield.Width32, tt.start, tt.end).
				Build()
			require.NoError(t, err)

			word, err := s.Encode(bitfield.Values{"f": bitfield.Uint32(uint32(tt.value))})
			if tt.wantErr {
				requireFieldErr(t, err, "f", bitfield.ErrValueExceedsFieldWidth)
				assert.Zero(t, word)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value<<tt.start, word)
		})
	}
}

func TestFullWidthField(t *testing.T) {
	tests := []struct {
		name    string
		width   bitfield.Width
		adapter bitfield.UintAdapter
		value   bitfield.Value
		want    uint64
	}{
		{name: "u8", width: bitfield.Width8, adapter: bitfield.Uint8Adapter, value: bitfield.Uint8(math.MaxUint8), want: math.MaxUint8},
		{name: "u16", width: bitfield.Width16, adapter: bitfield.Uint16Adapter, value: bitfield.Uint16(math.MaxUint16), want: math.MaxUint16},
		{name: "u32", width: bitfield.Width32, adapter: bitfield.Uint32Adapter, value: bitfield.Uint32(math.MaxUint32), want: math.MaxUint32},
		{name: "u64", width: bitfield.Width64, adapter: bitfield.Uint64Adapter, value: bitfield.Uint64(math.MaxUint64), want: math.MaxUint64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := bitfield.NewSchema(tt.width, []bitfield.Field{
				{Name: "all", Start: 0, End: uint(tt.width) - 1, Adapter: tt.adapter},
			})
			require.NoError(t, err)

			word, err := s.Encode(bitfield.Values{"all": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, word)

			decoded, err := s.Decode(word)
			require.NoError(t, err)
			assert.Equal(t, tt.value, decoded["all"])
		})
	}
}

func TestDecodeBoolean(t *testing.T) {
	s, err := bitfield.NewSchema(bitfield.Width8, []bitfield.Field{
		{Name: "flag", Start: 2, End: 3, Adapter: bitfield.BoolAdapter{}},
	})
	require.NoError(t, err)

	v, err := s.Decode(0b0000_0000)
	require.NoError(t, err)
	assert.False(t, v["flag"].Bool())

	v, err = s.Decode(0b0000_0100)
	require.NoError(t, err)
	assert.True(t, v["flag"].Bool())

	for _, word := range []uint64{0b0000_1000, 0b0000_1100} {
		_, err = s.Decode(word)
		requireFieldErr(t, err, "flag", bitfield.ErrInvalidBooleanBits)
	}

	// bits outside the field never leak into it
	v, err = s.Decode(0b1111_0011)
	require.NoError(t, err)
	assert.False(t, v["flag"].Bool())
}

func TestDecodeSparseEnum(t *testing.T) {
	even := bitfield.MustEnum("Even", bitfield.Width8,
		bitfield.Variant{Name: "OnlyEven0", Discriminant: 0},
		bitfield.Variant{Name: "OnlyEven2", Discriminant: 2},
	)
	s, err := bitfield.NewBuilder(bitfield.Width8).
		Enum("enum_field", even, 0, 2).
		Build()
	require.NoError(t, err)

	tests := []struct {
		word    uint64
		want    string
		wantErr bool
	}{
		{word: 0, want: "OnlyEven0"},
		{word: 1, wantErr: true},
		{word: 2, want: "OnlyEven2"},
		{word: 3, wantErr: true},
		{word: 7, wantErr: true},
	}

	for _, tt := range tests {
		values, err := s.Decode(tt.word)
		if tt.wantErr {
			requireFieldErr(t, err, "enum_field", bitfield.ErrInvalidDiscriminant)
			assert.Nil(t, values)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, values["enum_field"].Variant())
	}
}

func TestCrossWidthOverflow(t *testing.T) {
	t.Run("encode wide value into narrow word", func(t *testing.T) {
		s, err := bitfield.NewSchema(bitfield.Width8, []bitfield.Field{
			{Name: "level", Start: 0, End: 7, Adapter: bitfield.Uint16Adapter},
		})
		require.NoError(t, err)

		word, err := s.Encode(bitfield.Values{"level": bitfield.Uint16(200)})
		require.NoError(t, err)
		assert.Equal(t, uint64(200), word)

		_, err = s.Encode(bitfield.Values{"level": bitfield.Uint16(300)})
		requireFieldErr(t, err, "level", bitfield.ErrCrossWidthOverflow)
	})

	t.Run("decode field wider than its type", func(t *testing.T) {
		s, err := bitfield.NewSchema(bitfield.Width16, []bitfield.Field{
			{Name: "count", Start: 0, End: 11, Adapter: bitfield.Uint8Adapter},
		})
		require.NoError(t, err)

		v, err := s.Decode(0x00FF)
		require.NoError(t, err)
		assert.Equal(t, bitfield.Uint8(0xFF), v["count"])

		_, err = s.Decode(0x0100)
		requireFieldErr(t, err, "count", bitfield.ErrCrossWidthOverflow)
	})
}

func TestFailFast(t *testing.T) {
	s, err := bitfield.NewBuilder(bitfield.Width16).
		Uint("first", bitfield.Width8, 0, 1).
		Bool("second", 2).
		Uint("third", bitfield.Width8, 3, 4).
		Build()
	require.NoError(t, err)

	_, err = s.Encode(bitfield.Values{
		"first":  bitfield.Uint8(9),
		"second": bitfield.Bool(true),
		"third":  bitfield.Uint8(9),
	})
	requireFieldErr(t, err, "first", bitfield.ErrValueExceedsFieldWidth)

	_, err = s.Encode(bitfield.Values{
		"first":  bitfield.Uint8(1),
		"second": bitfield.Uint8(1),
		"third":  bitfield.Uint8(9),
	})
	requireFieldErr(t, err, "second", bitfield.ErrKindMismatch)

	_, err = s.Encode(bitfield.Values{
		"first": bitfield.Uint8(1),
		"third": bitfield.Uint8(1),
	})
	requireFieldErr(t, err, "second", bitfield.ErrMissingField)
}

func TestEncodeUnknownField(t *testing.T) {
	s := controlSchema(t)

	word, err := s.Encode(bitfield.Values{
		"enabled":  bitfield.Bool(true),
		"mode":     operationMode.MustValue("LowPower"),
		"priority": bitfield.Uint8(3),
		"enabeld":  bitfield.Bool(true),
	})
	requireFieldErr(t, err, "enabeld", bitfield.ErrUnknownField)
	assert.Zero(t, word)

	_, err = s.Encode(bitfield.Values{
		"enabled": bitfield.Bool(true),
		"zeta":    bitfield.Bool(true),
		"alpha":   bitfield.Bool(true),
	})
	requireFieldErr(t, err, "alpha", bitfield.ErrUnknownField)
}

func TestEncodeWiderValueThanField(t *testing.T) {
	s, err := bitfield.NewBuilder(bitfield.Width16).
		Uint("count", bitfield.Width8, 0, 15).
		Build()
	require.NoError(t, err)

	_, err = s.Encode(bitfield.Values{"count": bitfield.Uint16(300)})
	requireFieldErr(t, err, "count", bitfield.ErrCrossWidthOverflow)

	_, err = s.Encode(bitfield.Values{"count": bitfield.Uint16(5)})
	requireFieldErr(t, err, "count", bitfield.ErrKindMismatch)
}

func TestDecodeWordExceedsWidth(t *testing.T) {
	s, err := bitfield.NewBuilder(bitfield.Width8).Bool("on", 0).Build()
	require.NoError(t, err)

	_, err = s.Decode(0x100)
	assert.ErrorIs(t, err, bitfield.ErrWordExceedsWidth)
}

func TestEnumKindMismatch(t *testing.T) {
	other := bitfield.MustEnum("Other", bitfield.Width8, bitfield.Variant{Name: "Idle", Discriminant: 0})
	s := controlSchema(t)

	_, err := s.Encode(bitfield.Values{
		"enabled":  bitfield.Bool(false),
		"mode":     other.MustValue("Idle"),
		"priority": bitfield.Uint8(0),
	})
	requireFieldErr(t, err, "mode", bitfield.ErrKindMismatch)
}

func TestGetSetMerge(t *testing.T) {
	s := controlSchema(t)

	v, err := s.Get(29, "priority")
	require.NoError(t, err)
	assert.Equal(t, bitfield.Uint8(3), v)

	word, err := s.Set(29, "mode", operationMode.MustValue("Sleep"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0b011_11_1), word)

	// bits not covered by the schema survive Set
	word, err = s.Set(0xFFFF_0000, "enabled", bitfield.Bool(true))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFFFF_0001), word)

	_, err = s.Set(0, "priority", bitfield.Uint8(8))
	requireFieldErr(t, err, "priority", bitfield.ErrValueExceedsFieldWidth)

	_, err = s.Get(0, "missing")
	requireFieldErr(t, err, "missing", bitfield.ErrUnknownField)

	word, err = s.Merge(29, bitfield.Values{
		"enabled":  bitfield.Bool(false),
		"priority": bitfield.Uint8(7),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0b111_10_0), word)

	_, err = s.Merge(29, bitfield.Values{"nope": bitfield.Bool(true)})
	requireFieldErr(t, err, "nope", bitfield.ErrUnknownField)
}

func TestTypedWords(t *testing.T) {
	s := controlSchema(t)
	values := bitfield.Values{
		"enabled":  bitfield.Bool(true),
		"mode":     operationMode.MustValue("LowPower"),
		"priority": bitfield.Uint8(3),
	}

	word, err := bitfield.EncodeWord[uint32](s, values)
	require.NoError(t, err)
	assert.Equal(t, uint32(29), word)

	decoded, err := bitfield.DecodeWord(s, word)
	require.NoError(t, err)
	assert.Equal(t, values, decoded)

	_, err = bitfield.EncodeWord[uint16](s, values)
	assert.ErrorIs(t, err, bitfield.ErrWidthMismatch)

	_, err = bitfield.DecodeWord(s, uint64(29))
	assert.ErrorIs(t, err, bitfield.ErrWidthMismatch)
}

func TestRoundTrip(t *testing.T) {
	s, err := bitfield.NewBuilder(bitfield.Width64).
		Bool("ready", 0).
		Uint("nibble", bitfield.Width8, 1, 4).
		Enum("mode", operationMode, 5, 6).
		Uint("counter", bitfield.Width16, 7, 22).
		Uint("address", bitfield.Width32, 23, 54).
		Uint("tail", bitfield.Width8, 55, 62).
		Bool("fault", 63).
		Build()
	require.NoError(t, err)

	modes := operationMode.Variants()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		values := bitfield.Values{
			"ready":   bitfield.Bool(rng.Intn(2) == 1),
			"nibble":  bitfield.Uint8(uint8(rng.Intn(16))),
			"mode":    operationMode.MustValue(modes[rng.Intn(len(modes))].Name),
			"counter": bitfield.Uint16(uint16(rng.Uint32())),
			"address": bitfield.Uint32(rng.Uint32()),
			"tail":    bitfield.Uint8(uint8(rng.Uint32())),
			"fault":   bitfield.Bool(rng.Intn(2) == 1),
		}

		word, err := s.Encode(values)
		require.NoError(t, err)

		decoded, err := s.Decode(word)
		require.NoError(t, err)
		require.Equal(t, values, decoded, "word 0x%016X", word)
	}
}

func TestOverlappingFieldsShareBits(t *testing.T) {
	s, err := bitfield.NewBuilder(bitfield.Width16).
		Uint("low", bitfield.Width8, 0, 7).
		Uint("middle", bitfield.Width8, 4, 11).
		Build()
	require.NoError(t, err)

	word, err := s.Encode(bitfield.Values{
		"low":    bitfield.Uint8(0x0F),
		"middle": bitfield.Uint8(0xF0),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0F0F), word)

	values, err := s.Decode(word)
	require.NoError(t, err)
	assert.Equal(t, bitfield.Uint8(0x0F), values["low"])
	assert.Equal(t, bitfield.Uint8(0xF0), values["middle"])
}
