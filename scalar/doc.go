// Package scalar translates between the bridge's language-neutral scalar type
// tags (i32, i64, f32, f64) and wazero's native value types, and carries
// tagged scalar values across the boundary.
//
// Only the four core numeric types are supported. Reference and vector types
// are reported as errors.KindUnsupportedValueType; callers abort the
// enclosing operation instead of dropping the value.
//
// Floats are stored as raw IEEE 754 bit patterns:
//
//	v := scalar.F32Value(-0.0)
//	v.Bits()  // 0x80000000
//	scalar.F32Bits(0x3fc00000).F32() // 1.5
package scalar
