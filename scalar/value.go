package scalar

import (
	"math"
	"strconv"

	"github.com/wippyai/wasmbridge/errors"
)

// Value is a tagged scalar. Floats are held as their IEEE 754 bit pattern so
// that values round-trip bit for bit (including -0.0 and NaN payloads).
type Value struct {
	bits uint64
	typ  Type
}

func I32Value(v int32) Value { return Value{typ: I32, bits: uint64(uint32(v))} }

func I64Value(v int64) Value { return Value{typ: I64, bits: uint64(v)} }

func F32Value(v float32) Value { return Value{typ: F32, bits: uint64(math.Float32bits(v))} }

func F64Value(v float64) Value { return Value{typ: F64, bits: math.Float64bits(v)} }

// F32Bits builds an f32 value from its bit pattern.
func F32Bits(bits uint32) Value { return Value{typ: F32, bits: uint64(bits)} }

// F64Bits builds an f64 value from its bit pattern.
func F64Bits(bits uint64) Value { return Value{typ: F64, bits: bits} }

// FromBits builds a value of type t from a bit pattern. For i32 and f32
// only the low 32 bits are kept.
func FromBits(t Type, bits uint64) (Value, error) {
	switch t {
	case I32, F32:
		return Value{typ: t, bits: uint64(uint32(bits))}, nil
	case I64, F64:
		return Value{typ: t, bits: bits}, nil
	}
	return Value{}, errors.UnsupportedValueType(nil, t.String())
}

// FromRaw decodes a wazero stack slot of type t. t must be valid.
func FromRaw(t Type, raw uint64) Value {
	if t == I32 || t == F32 {
		raw = uint64(uint32(raw))
	}
	return Value{typ: t, bits: raw}
}

func (v Value) Type() Type { return v.typ }

// Bits returns the raw bit pattern: the two's complement integer for i32/i64
// and the IEEE 754 encoding for f32/f64.
func (v Value) Bits() uint64 { return v.bits }

// Raw returns the value encoded as a wazero stack slot.
func (v Value) Raw() uint64 { return v.bits }

func (v Value) I32() int32 { return int32(uint32(v.bits)) }

func (v Value) I64() int64 { return int64(v.bits) }

func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }

func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

// Int returns the integer payload widened to int64. Floats return their bits.
func (v Value) Int() int64 {
	if v.typ == I32 {
		return int64(v.I32())
	}
	return int64(v.bits)
}

// String formats v as "i32:42" or "f64:1.5".
func (v Value) String() string {
	switch v.typ {
	case I32:
		return "i32:" + strconv.FormatInt(int64(v.I32()), 10)
	case I64:
		return "i64:" + strconv.FormatInt(v.I64(), 10)
	case F32:
		return "f32:" + strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case F64:
		return "f64:" + strconv.FormatFloat(v.F64(), 'g', -1, 64)
	}
	return "invalid"
}

// ParseValue parses a literal of type t. Floats accept decimal notation or a
// "0x"-prefixed bit pattern.
func ParseValue(t Type, s string) (Value, error) {
	var (
		v   Value
		err error
	)
	switch t {
	case I32:
		var n int64
		n, err = strconv.ParseInt(s, 0, 32)
		v = I32Value(int32(n))
	case I64:
		var n int64
		n, err = strconv.ParseInt(s, 0, 64)
		v = I64Value(n)
	case F32:
		if isHex(s) {
			var b uint64
			b, err = strconv.ParseUint(s[2:], 16, 32)
			v = F32Bits(uint32(b))
		} else {
			var f float64
			f, err = strconv.ParseFloat(s, 32)
			v = F32Value(float32(f))
		}
	case F64:
		if isHex(s) {
			var b uint64
			b, err = strconv.ParseUint(s[2:], 16, 64)
			v = F64Bits(b)
		} else {
			var f float64
			f, err = strconv.ParseFloat(s, 64)
			v = F64Value(f)
		}
	default:
		return Value{}, errors.UnsupportedValueType(nil, t.String())
	}
	if err != nil {
		return Value{}, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Expected(t.String()).
			Value(s).
			Cause(err).
			Detail("parse %q", s).
			Build()
	}
	return v, nil
}

func isHex(s string) bool {
	return len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// Marshal encodes vals into wazero stack slots against the declared types.
// path names the call site for errors.
func Marshal(path string, types []Type, vals []Value) ([]uint64, error) {
	if len(vals) != len(types) {
		return nil, errors.ArgumentCountMismatch(path, len(types), len(vals))
	}
	stack := make([]uint64, len(vals))
	for i, v := range vals {
		if v.typ != types[i] {
			return nil, errors.TypeMismatch(errors.PhaseDispatch,
				[]string{path, strconv.Itoa(i)}, types[i].String(), v.typ.String())
		}
		stack[i] = v.Raw()
	}
	return stack, nil
}

// Unmarshal decodes the first len(types) stack slots.
func Unmarshal(types []Type, stack []uint64) []Value {
	out := make([]Value, len(types))
	for i, t := range types {
		out[i] = FromRaw(t, stack[i])
	}
	return out
}

// TypesOf returns the types of vals.
func TypesOf(vals []Value) []Type {
	out := make([]Type, len(vals))
	for i, v := range vals {
		out[i] = v.typ
	}
	return out
}
