// Package engine wraps wazero for the bridge.
//
// # Architecture
//
// The engine package provides three main types:
//
//	WazeroEngine   - validated Config plus a shared compilation cache
//	WazeroModule   - a compiled module with its import/export interface
//	WazeroInstance - a running instance inside its own wazero runtime
//
// Each instance gets a dedicated wazero runtime. Host modules are
// registered by import module name ("env", ...), so two instances of the
// same module with different host bindings cannot share a runtime. The
// compilation cache makes the per-instance compile a lookup.
//
// # Configuration
//
// Config maps the bridge's engine options onto wazero:
//
//	Strategy          auto | compiler | interpreter
//	OptLevel          none | speed | speed_and_size (compiler only)
//	Interruptible     WithCloseOnContextDone
//	MaxStackDepth     function listener counting guest frames
//	DebugInfo         WithDebugInfoEnabled
//	MemoryLimitPages  WithMemoryLimitPages
//	EnableWASI        link wasi_snapshot_preview1 when imported
//
// Unknown values fail validation; only the empty strategy falls back to
// auto.
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use.
// WazeroInstance is NOT thread-safe and should be used by a single goroutine.
package engine
