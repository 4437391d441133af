// Package wasmbridge runs WebAssembly modules on behalf of an external,
// asynchronous actor and lets module code call back into that actor.
//
// Each loaded module is a session: a compiled module, one instance, a fixed
// set of import declarations and one reply channel per import id. Exports
// run on the session's worker goroutine and report through events, so the
// actor is never blocked by guest execution. When guest code calls an
// import, the stub notifies the actor and suspends until the actor replies.
//
// # Packages
//
//	wasmbridge/
//	├── runtime/       Sessions, reply channels, import stubs, dispatch
//	├── engine/        wazero integration and engine configuration
//	├── scalar/        i32/i64/f32/f64 type tags and bit-exact values
//	├── errors/        Structured error types
//	├── wasm/          Minimal binary reader and writer
//	├── actor/         Unbounded mailbox for runtime events
//	├── port/          JSON line protocol for an out-of-process actor
//	└── cmd/wasmbridge CLI: port server and interactive console
//
// # Quick Start
//
//	mb := actor.NewMailbox()
//	rt, err := runtime.New(ctx, runtime.WithNotifier(mb))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	rt.Load(runtime.LoadRequest{
//	    Session: 1,
//	    Token:   "load",
//	    Bytes:   wasmBytes,
//	    Imports: []runtime.ImportDecl{{ID: 7, Params: []scalar.Type{scalar.I32}}},
//	})
//
//	mb.Run(ctx, actor.Handlers{
//	    Ready: func(e runtime.Ready) {
//	        rt.CallExport(e.Session, "call-1", "run", nil)
//	    },
//	    ImportCall: func(e runtime.ImportCall) {
//	        rt.ReplyToImport(e.Session, e.ImportID, nil)
//	    },
//	    CallCompleted: func(e runtime.CallCompleted) {
//	        fmt.Println(e.Results)
//	    },
//	})
//
// # Floats
//
// f32 and f64 values are carried as IEEE 754 bit patterns end to end.
// Negative zero and NaN payloads survive every hop, including the port
// protocol, where floats are sent as unsigned integers.
package wasmbridge
