// Package errors provides structured error types for the wasm bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Kinds mirror the bridge's failure taxonomy: compile and instantiation
// failures, unknown sessions and exports, argument and reply arity problems,
// unsupported value types, and reply channel failures.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDispatch, errors.KindTypeMismatch).
//		Path("add", "arg1").
//		Expected("i32").
//		Actual("f64").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ExportNotFound("add")
//	err := errors.ArityMismatch(7, 1, 0)
//
// Test for a category with IsKind, which walks wrapped causes:
//
//	if errors.IsKind(err, errors.KindDuplicateImportCall) { ... }
package errors
