package scalar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasmbridge/errors"
)

// Type is one of the four scalar WebAssembly value types the bridge carries.
// The zero value is invalid.
type Type byte

const (
	I32 Type = iota + 1
	I64
	F32
	F64
)

// String returns the language-neutral tag for t.
func (t Type) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "invalid(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is one of the four scalar types.
func (t Type) Valid() bool {
	return t >= I32 && t <= F64
}

// API returns the wazero value type for t.
func (t Type) API() api.ValueType {
	switch t {
	case I32:
		return api.ValueTypeI32
	case I64:
		return api.ValueTypeI64
	case F32:
		return api.ValueTypeF32
	case F64:
		return api.ValueTypeF64
	}
	panic("scalar: API called on invalid type " + t.String())
}

// MarshalText encodes t as its tag.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.UnsupportedValueType(nil, t.String())
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tag produced by MarshalText or accepted by ParseType.
func (t *Type) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseType decodes a type tag. Core tags (i32, i64, f32, f64) map directly;
// WIT primitive names (s32, u8, bool, char, ...) map to their flattened core
// type. Anything else is an unsupported value type.
func ParseType(tag string) (Type, error) {
	switch strings.TrimSpace(tag) {
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	case "":
		return 0, errors.InvalidInput(errors.PhaseTranslate, "empty type tag")
	}

	wt, err := wit.ParseType(strings.TrimSpace(tag))
	if err != nil {
		return 0, errors.New(errors.PhaseTranslate, errors.KindUnsupportedValueType).
			Detail("unknown type tag %q", tag).
			Value(tag).
			Cause(err).
			Build()
	}
	return FromWIT(wt)
}

// ParseTypes decodes a list of tags, aborting on the first unsupported one.
// An empty list yields nil.
func ParseTypes(tags []string) ([]Type, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make([]Type, len(tags))
	for i, tag := range tags {
		t, err := ParseType(tag)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// FromAPI converts a wazero value type. Reference and vector types are
// rejected rather than skipped.
func FromAPI(vt api.ValueType) (Type, error) {
	switch vt {
	case api.ValueTypeI32:
		return I32, nil
	case api.ValueTypeI64:
		return I64, nil
	case api.ValueTypeF32:
		return F32, nil
	case api.ValueTypeF64:
		return F64, nil
	}
	return 0, errors.UnsupportedValueType(nil, api.ValueTypeName(vt))
}

// FromAPIList converts every entry of vts; path locates the list in errors.
func FromAPIList(path string, vts []api.ValueType) ([]Type, error) {
	out := make([]Type, len(vts))
	for i, vt := range vts {
		t, err := FromAPI(vt)
		if err != nil {
			return nil, errors.UnsupportedValueType([]string{path, strconv.Itoa(i)}, api.ValueTypeName(vt))
		}
		out[i] = t
	}
	return out, nil
}

// APIList converts ts to wazero value types.
func APIList(ts []Type) []api.ValueType {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		out[i] = t.API()
	}
	return out
}

// FromWIT flattens a WIT primitive to its core representation per the
// canonical ABI. Compound types do not fit in a single scalar.
func FromWIT(t wit.Type) (Type, error) {
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return I32, nil
	case wit.S64, wit.U64:
		return I64, nil
	case wit.F32:
		return F32, nil
	case wit.F64:
		return F64, nil
	}
	return 0, errors.UnsupportedValueType(nil, fmt.Sprintf("%T", t))
}

// Signature is an ordered parameter and result type list.
type Signature struct {
	Params  []Type
	Results []Type
}

// String renders s as "(i32, i64) -> (f32)".
func (s Signature) String() string {
	return "(" + joinTypes(s.Params) + ") -> (" + joinTypes(s.Results) + ")"
}

// Equal reports whether s and o have identical parameter and result lists.
func (s Signature) Equal(o Signature) bool {
	return typesEqual(s.Params, o.Params) && typesEqual(s.Results, o.Results)
}

// Tags returns the parameter and result tags.
func (s Signature) Tags() (params, results []string) {
	return tags(s.Params), tags(s.Results)
}

func tags(ts []Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

func joinTypes(ts []Type) string {
	return strings.Join(tags(ts), ", ")
}

func typesEqual(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
