package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmbridge/actor"
	"github.com/wippyai/wasmbridge/runtime"
	"github.com/wippyai/wasmbridge/scalar"
	"github.com/wippyai/wasmbridge/wasm"
)

const eventTimeout = 5 * time.Second

var (
	i32 = []wasm.ValType{wasm.ValI32}
	f32 = []wasm.ValType{wasm.ValF32}
	f64 = []wasm.ValType{wasm.ValF64}
)

type harness struct {
	rt *runtime.Runtime
	mb *actor.Mailbox
}

func newHarness(t *testing.T, opts ...runtime.Option) *harness {
	t.Helper()
	mb := actor.NewMailbox()
	rt, err := runtime.New(context.Background(), append([]runtime.Option{runtime.WithNotifier(mb)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		require.NoError(t, rt.Close(ctx))
	})
	return &harness{rt: rt, mb: mb}
}

// next returns the next event, failing the test if it is not a T.
func next[T runtime.Event](t *testing.T, h *harness) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	e, err := h.mb.Receive(ctx)
	require.NoError(t, err, "waiting for %T", *new(T))
	ev, ok := e.(T)
	require.True(t, ok, "expected %T, got %#v", *new(T), e)
	return ev
}

// load loads code as session id and waits for Ready.
func (h *harness) load(t *testing.T, id int64, code []byte, imports ...runtime.ImportDecl) {
	t.Helper()
	h.rt.Load(runtime.LoadRequest{Session: id, Token: "load", Bytes: code, Imports: imports})
	ready := next[runtime.Ready](t, h)
	require.Equal(t, id, ready.Session)
	require.Equal(t, "load", ready.Token)
}

// arithModule exports add(i32, i32) -> i32, id_f32, id_f64, pair() -> (i32, i32)
// and a memory, a table and a global.
func arithModule() []byte {
	m := &wasm.Module{}
	add := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: i32})
	idF32 := m.AddType(wasm.FuncType{Params: f32, Results: f32})
	idF64 := m.AddType(wasm.FuncType{Params: f64, Results: f64})
	pair := m.AddType(wasm.FuncType{Results: []wasm.ValType{wasm.ValI32, wasm.ValI32}})
	m.Funcs = []uint32{add, idF32, idF64, pair}
	m.Code = []wasm.FuncBody{
		{Code: wasm.Instr(wasm.LocalGet(0), wasm.LocalGet(1), []byte{wasm.OpI32Add})},
		{Code: wasm.Instr(wasm.LocalGet(0))},
		{Code: wasm.Instr(wasm.LocalGet(0))},
		{Code: wasm.Instr(wasm.I32Const(1), wasm.I32Const(2))},
	}
	m.Memories = []wasm.Limits{{Min: 1}}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}}
	m.Globals = []wasm.Global{{Type: wasm.ValI32, Init: wasm.Instr(wasm.I32Const(9))}}
	m.Exports = []wasm.Export{
		{Name: "add", Kind: wasm.KindFunc, Idx: 0},
		{Name: "id_f32", Kind: wasm.KindFunc, Idx: 1},
		{Name: "id_f64", Kind: wasm.KindFunc, Idx: 2},
		{Name: "pair", Kind: wasm.KindFunc, Idx: 3},
		{Name: "memory", Kind: wasm.KindMemory},
		{Name: "table", Kind: wasm.KindTable},
		{Name: "answer", Kind: wasm.KindGlobal},
	}
	return m.Encode()
}

// notifyModule imports env.notify(i32) and exports run() -> i32, which
// calls notify(42) and returns 1.
func notifyModule() []byte {
	m := &wasm.Module{}
	notify := m.AddType(wasm.FuncType{Params: i32})
	run := m.AddType(wasm.FuncType{Results: i32})
	m.Imports = []wasm.Import{{Module: "env", Name: "notify", Kind: wasm.KindFunc, TypeIdx: notify}}
	m.Funcs = []uint32{run}
	m.Code = []wasm.FuncBody{{Code: wasm.Instr(wasm.I32Const(42), wasm.Call(0), wasm.I32Const(1))}}
	m.Exports = []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 1}}
	return m.Encode()
}

// askModule imports env.ask() -> i32 and exports run() -> i32 returning
// ask() + 1, plus add(i32, i32) -> i32 which never calls the import.
func askModule() []byte {
	m := &wasm.Module{}
	ask := m.AddType(wasm.FuncType{Results: i32})
	add := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: i32})
	m.Imports = []wasm.Import{{Module: "env", Name: "ask", Kind: wasm.KindFunc, TypeIdx: ask}}
	m.Funcs = []uint32{ask, add}
	m.Code = []wasm.FuncBody{
		{Code: wasm.Instr(wasm.Call(0), wasm.I32Const(1), []byte{wasm.OpI32Add})},
		{Code: wasm.Instr(wasm.LocalGet(0), wasm.LocalGet(1), []byte{wasm.OpI32Add})},
	}
	m.Exports = []wasm.Export{
		{Name: "run", Kind: wasm.KindFunc, Idx: 1},
		{Name: "add", Kind: wasm.KindFunc, Idx: 2},
	}
	return m.Encode()
}

// startModule calls env.ask from its start section.
func startModule() []byte {
	m := &wasm.Module{}
	ask := m.AddType(wasm.FuncType{Results: i32})
	void := m.AddType(wasm.FuncType{})
	m.Imports = []wasm.Import{{Module: "env", Name: "ask", Kind: wasm.KindFunc, TypeIdx: ask}}
	m.Funcs = []uint32{void}
	m.Code = []wasm.FuncBody{{Code: wasm.Instr(wasm.Call(0), []byte{wasm.OpDrop})}}
	start := uint32(1)
	m.Start = &start
	return m.Encode()
}

func askDecl(id int64) runtime.ImportDecl {
	return runtime.ImportDecl{ID: id, Results: []scalar.Type{scalar.I32}}
}
