// Package runtime is the session lifecycle and call bridge between an
// asynchronous external actor and WebAssembly modules.
//
// # Sessions
//
// Load compiles a module, wires one stub per declared import, instantiates
// it once and publishes the session under the caller's id. The outcome is
// reported as a Ready or LoadFailed event; a failed load registers
// nothing.
//
// # Calls
//
// CallExport queues the call on the session's worker goroutine and
// reports CallCompleted or CallFailed exactly once. When guest code calls
// an import, the stub emits ImportCall and blocks until the actor answers
// with ReplyToImport. While it waits, the worker keeps serving queued
// calls on the same goroutine, so the instance is never entered from two
// goroutines. A call that reaches an import id already waiting for its
// reply fails with duplicate_import_call.
//
//	Requested -> Dispatched -> Completed | Failed
//
// CallExportNoImports runs synchronously on a disposable instance whose
// imports return zeros; it never notifies the actor.
//
// # Teardown
//
// Unload removes the session from the registry first, then disconnects the
// reply channels so waiting stubs unwind with channel_disconnected, then
// stops the worker. Queued calls fail; resources are released when the
// worker exits.
//
// # Events
//
// The Notifier must not block. actor.Mailbox is an unbounded
// implementation.
package runtime
