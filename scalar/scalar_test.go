package scalar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasmbridge/errors"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		tag  string
		want Type
	}{
		{"i32", I32},
		{"i64", I64},
		{"f32", F32},
		{"f64", F64},
		{" i32 ", I32},
		{"s32", I32},
		{"u8", I32},
		{"bool", I32},
		{"char", I32},
		{"u64", I64},
		{"s64", I64},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := ParseType(tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseType_Unsupported(t *testing.T) {
	for _, tag := range []string{"v128", "externref", "funcref", "string", "list<u8>"} {
		t.Run(tag, func(t *testing.T) {
			_, err := ParseType(tag)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindUnsupportedValueType), "got %v", err)
		})
	}

	_, err := ParseType("")
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestParseTypes_AbortsOnFirstBadTag(t *testing.T) {
	_, err := ParseTypes([]string{"i32", "v128", "f64"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnsupportedValueType))
}

func TestParseTypes_Empty(t *testing.T) {
	got, err := ParseTypes(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseTypes([]string{})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseTypes([]string{"i64", "f32"})
	require.NoError(t, err)
	assert.Equal(t, []Type{I64, F32}, got)
}

func TestTypeString_RoundTrip(t *testing.T) {
	for _, typ := range []Type{I32, I64, F32, F64} {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
		assert.Equal(t, typ, mustFromAPI(t, typ.API()))
	}
	assert.False(t, Type(0).Valid())
	assert.Contains(t, Type(9).String(), "invalid")
}

func mustFromAPI(t *testing.T, vt api.ValueType) Type {
	t.Helper()
	typ, err := FromAPI(vt)
	require.NoError(t, err)
	return typ
}

func TestFromAPI_RejectsReferences(t *testing.T) {
	_, err := FromAPI(api.ValueTypeExternref)
	assert.True(t, errors.IsKind(err, errors.KindUnsupportedValueType))

	_, err = FromAPIList("params", []api.ValueType{api.ValueTypeI32, api.ValueTypeExternref})
	require.Error(t, err)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"params", "1"}, e.Path)
}

func TestFromWIT(t *testing.T) {
	got, err := FromWIT(wit.U32{})
	require.NoError(t, err)
	assert.Equal(t, I32, got)

	got, err = FromWIT(wit.F64{})
	require.NoError(t, err)
	assert.Equal(t, F64, got)

	_, err = FromWIT(wit.String{})
	assert.True(t, errors.IsKind(err, errors.KindUnsupportedValueType))
}

func TestTypeText(t *testing.T) {
	b, err := F32.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "f32", string(b))

	var typ Type
	require.NoError(t, typ.UnmarshalText([]byte("i64")))
	assert.Equal(t, I64, typ)

	_, err = Type(0).MarshalText()
	assert.Error(t, err)
}

func TestF32BitsRoundTrip(t *testing.T) {
	inputs := []float32{0.0, float32(math.Copysign(0, -1)), 1.5, -1.5, 3.4028235e38, 1e-45, 0.1}
	for _, f := range inputs {
		v := F32Value(f)
		back := F32Bits(uint32(v.Bits()))
		assert.Equal(t, math.Float32bits(f), math.Float32bits(back.F32()), "value %v", f)
	}

	negZero := F32Value(float32(math.Copysign(0, -1)))
	assert.Equal(t, uint64(0x80000000), negZero.Bits())
	assert.True(t, math.Signbit(float64(negZero.F32())))

	assert.Equal(t, float32(1.5), F32Bits(0x3fc00000).F32())
}

func TestF64BitsRoundTrip(t *testing.T) {
	inputs := []float64{0.0, math.Copysign(0, -1), 1.5, math.MaxFloat64, math.SmallestNonzeroFloat64}
	for _, f := range inputs {
		v := F64Value(f)
		assert.Equal(t, math.Float64bits(f), math.Float64bits(F64Bits(v.Bits()).F64()))
	}

	nan := F64Bits(0x7ff8000000000001)
	assert.Equal(t, uint64(0x7ff8000000000001), F64Value(nan.F64()).Bits(), "NaN payload preserved")
}

func TestIntegerEncoding(t *testing.T) {
	v := I32Value(-1)
	assert.Equal(t, uint64(0xffffffff), v.Raw())
	assert.Equal(t, int32(-1), FromRaw(I32, 0xffffffffffffffff).I32())
	assert.Equal(t, int64(-1), v.Int())

	assert.Equal(t, int64(math.MinInt64), I64Value(math.MinInt64).I64())

	got, err := FromBits(I32, 0x1_0000_0005)
	require.NoError(t, err)
	assert.Equal(t, int32(5), got.I32())

	_, err = FromBits(Type(0), 1)
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		typ  Type
		in   string
		want Value
	}{
		{I32, "42", I32Value(42)},
		{I32, "-7", I32Value(-7)},
		{I64, "9007199254740993", I64Value(9007199254740993)},
		{F32, "1.5", F32Value(1.5)},
		{F32, "0x80000000", F32Bits(0x80000000)},
		{F64, "-0.25", F64Value(-0.25)},
		{F64, "0x3ff8000000000000", F64Value(1.5)},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String()+"/"+tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseValue(I32, "nope")
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestMarshal(t *testing.T) {
	stack, err := Marshal("add", []Type{I32, F64}, []Value{I32Value(-2), F64Value(1.5)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0xfffffffe, math.Float64bits(1.5)}, stack)

	back := Unmarshal([]Type{I32, F64}, stack)
	assert.Equal(t, I32Value(-2), back[0])
	assert.Equal(t, F64Value(1.5), back[1])

	_, err = Marshal("add", []Type{I32}, nil)
	assert.True(t, errors.IsKind(err, errors.KindArgumentCountMismatch))

	_, err = Marshal("add", []Type{I32}, []Value{F32Value(1)})
	assert.True(t, errors.IsKind(err, errors.KindTypeMismatch))
}

func TestSignature(t *testing.T) {
	sig := Signature{Params: []Type{I32, I64}, Results: []Type{F32}}
	assert.Equal(t, "(i32, i64) -> (f32)", sig.String())
	assert.True(t, sig.Equal(Signature{Params: []Type{I32, I64}, Results: []Type{F32}}))
	assert.False(t, sig.Equal(Signature{Params: []Type{I32}}))

	params, results := sig.Tags()
	assert.Equal(t, []string{"i32", "i64"}, params)
	assert.Equal(t, []string{"f32"}, results)
}
