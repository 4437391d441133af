package wasm

// Module is the subset of a WebAssembly module the bridge reads and writes:
// enough to enumerate imports and exports and to build small test modules.
type Module struct {
	Start    *uint32
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index per defined function
	Tables   []TableType
	Memories []Limits
	Globals  []Global
	Exports  []Export
	Code     []FuncBody
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import describes an imported item. Only function imports carry TypeIdx.
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
	Kind    byte
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// TableType is a table of references.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// Global is a global variable with a constant initializer. Init holds the
// raw expression bytes including the trailing end opcode.
type Global struct {
	Init    []byte
	Type    ValType
	Mutable bool
}

// FuncBody is a function body. Code holds the instruction bytes including
// the trailing end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry declares Count locals of Type.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// AddType appends ft unless an identical type exists and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, existing := range m.Types {
		if valTypesEqual(existing.Params, ft.Params) && valTypesEqual(existing.Results, ft.Results) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// NumImportedFuncs returns the number of function imports, which precede
// defined functions in the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

func valTypesEqual(a, b []ValType) bool {
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
