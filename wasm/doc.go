// Package wasm reads and writes the parts of the WebAssembly binary format
// the bridge needs.
//
// # Parsing
//
// ParseModule decodes the interface of a module: types, imports, function
// declarations, exports and the start index. Code, data and element
// sections are skipped; compilation and validation belong to the engine.
//
//	m, err := wasm.ParseModule(data)
//	for _, exp := range m.Exports {
//	    fmt.Println(exp.Name, wasm.KindName(exp.Kind))
//	}
//
// # Encoding
//
// Module.Encode produces a binary module. Tests and examples use it with
// the instruction helpers to build fixtures in process:
//
//	m := &wasm.Module{}
//	add := m.AddType(wasm.FuncType{
//	    Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
//	    Results: []wasm.ValType{wasm.ValI32},
//	})
//	m.Funcs = append(m.Funcs, add)
//	m.Code = append(m.Code, wasm.FuncBody{
//	    Code: wasm.Instr(wasm.LocalGet(0), wasm.LocalGet(1), []byte{wasm.OpI32Add}),
//	})
//	m.Exports = append(m.Exports, wasm.Export{Name: "add", Kind: wasm.KindFunc})
//	data := m.Encode()
package wasm
