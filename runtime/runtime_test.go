package runtime_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmbridge/actor"
	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/runtime"
	"github.com/wippyai/wasmbridge/scalar"
)

func TestLoadAndCallNoImports(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, arithModule())

	results, err := h.rt.CallExportNoImports(context.Background(), 1, "add",
		[]scalar.Value{scalar.I32Value(40), scalar.I32Value(2)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(42), results[0].I32())

	results, err = h.rt.CallExportNoImports(context.Background(), 1, "pair", nil)
	require.NoError(t, err)
	sig, err := h.rt.ExportSignature(1, "pair")
	require.NoError(t, err)
	assert.Len(t, results, len(sig.Results))
	assert.Equal(t, []int32{1, 2}, []int32{results[0].I32(), results[1].I32()})
}

func TestFloatBitsRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, arithModule())

	for _, bits := range []uint32{
		math.Float32bits(0.0),
		math.Float32bits(float32(math.Copysign(0, -1))),
		math.Float32bits(1.5),
		math.Float32bits(-3.25),
		0x7fc00001, // NaN with payload
	} {
		results, err := h.rt.CallExportNoImports(context.Background(), 1, "id_f32",
			[]scalar.Value{scalar.F32Bits(bits)})
		require.NoError(t, err)
		assert.Equal(t, uint64(bits), results[0].Bits(), "f32 bits %#x", bits)
	}

	for _, v := range []float64{0, math.Copysign(0, -1), 1.5, math.MaxFloat64} {
		results, err := h.rt.CallExportNoImports(context.Background(), 1, "id_f64",
			[]scalar.Value{scalar.F64Value(v)})
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(v), results[0].Bits())
	}
}

func TestImportCallScenario(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, notifyModule(), runtime.ImportDecl{ID: 7, Params: []scalar.Type{scalar.I32}})

	h.rt.CallExport(1, "tok-1", "run", nil)

	call := next[runtime.ImportCall](t, h)
	assert.Equal(t, int64(1), call.Session)
	assert.Equal(t, int64(7), call.ImportID)
	require.Len(t, call.Args, 1)
	assert.Equal(t, scalar.I32Value(42), call.Args[0])

	require.NoError(t, h.rt.ReplyToImport(1, 7, nil))

	done := next[runtime.CallCompleted](t, h)
	assert.Equal(t, "tok-1", done.Token)
	assert.Equal(t, "run", done.Export)
	assert.Equal(t, []scalar.Value{scalar.I32Value(1)}, done.Results)
}

func TestDuplicateImportCall(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, askModule(), askDecl(3))

	h.rt.CallExport(1, "first", "run", nil)
	h.rt.CallExport(1, "second", "run", nil)

	call := next[runtime.ImportCall](t, h)
	assert.Equal(t, int64(3), call.ImportID)

	failed := next[runtime.CallFailed](t, h)
	assert.Equal(t, "second", failed.Token)
	assert.True(t, errors.IsKind(failed.Err, errors.KindDuplicateImportCall), "got %v", failed.Err)

	require.NoError(t, h.rt.ReplyToImport(1, 3, []scalar.Value{scalar.I32Value(41)}))

	done := next[runtime.CallCompleted](t, h)
	assert.Equal(t, "first", done.Token)
	assert.Equal(t, int32(42), done.Results[0].I32())
}

func TestCallsProceedWhileImportWaits(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, askModule(), askDecl(3))

	h.rt.CallExport(1, "slow", "run", nil)
	next[runtime.ImportCall](t, h)

	h.rt.CallExport(1, "fast", "add", []scalar.Value{scalar.I32Value(1), scalar.I32Value(2)})
	fast := next[runtime.CallCompleted](t, h)
	assert.Equal(t, "fast", fast.Token)
	assert.Equal(t, int32(3), fast.Results[0].I32())

	require.NoError(t, h.rt.ReplyToImport(1, 3, []scalar.Value{scalar.I32Value(9)}))
	slow := next[runtime.CallCompleted](t, h)
	assert.Equal(t, "slow", slow.Token)
	assert.Equal(t, int32(10), slow.Results[0].I32())
}

func TestExportNotFound(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, arithModule())
	before := h.rt.Sessions()

	h.rt.CallExport(1, "tok", "missing", nil)
	failed := next[runtime.CallFailed](t, h)
	assert.Equal(t, "tok", failed.Token)
	assert.True(t, errors.IsKind(failed.Err, errors.KindExportNotFound), "got %v", failed.Err)
	assert.Equal(t, before, h.rt.Sessions())

	_, err := h.rt.ExportSignature(1, "missing")
	assert.True(t, errors.IsKind(err, errors.KindExportNotFound))

	// Non-function exports are not callable.
	_, err = h.rt.ExportSignature(1, "memory")
	assert.True(t, errors.IsKind(err, errors.KindExportNotFound))
}

func TestArgumentErrors(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, arithModule())

	h.rt.CallExport(1, "count", "add", []scalar.Value{scalar.I32Value(1)})
	failed := next[runtime.CallFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindArgumentCountMismatch), "got %v", failed.Err)

	h.rt.CallExport(1, "type", "add", []scalar.Value{scalar.I32Value(1), scalar.I64Value(2)})
	failed = next[runtime.CallFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindTypeMismatch), "got %v", failed.Err)

	_, err := h.rt.CallExportNoImports(context.Background(), 1, "add", nil)
	assert.True(t, errors.IsKind(err, errors.KindArgumentCountMismatch))
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t)

	h.rt.CallExport(99, "tok", "run", nil)
	failed := next[runtime.CallFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindUnknownSession))

	_, err := h.rt.ListExports(99)
	assert.True(t, errors.IsKind(err, errors.KindUnknownSession))
	_, err = h.rt.ExportSignature(99, "run")
	assert.True(t, errors.IsKind(err, errors.KindUnknownSession))
	_, err = h.rt.CallExportNoImports(context.Background(), 99, "run", nil)
	assert.True(t, errors.IsKind(err, errors.KindUnknownSession))
	assert.True(t, errors.IsKind(h.rt.ReplyToImport(99, 1, nil), errors.KindUnknownSession))
	assert.True(t, errors.IsKind(h.rt.Unload(99), errors.KindUnknownSession))
}

func TestCompileFailure(t *testing.T) {
	h := newHarness(t)

	h.rt.Load(runtime.LoadRequest{Session: 5, Token: "bad", Bytes: []byte("\x00asm\x01\x00\x00\x00\xff")})
	failed := next[runtime.LoadFailed](t, h)
	assert.Equal(t, int64(5), failed.Session)
	assert.Equal(t, "bad", failed.Token)
	assert.True(t, errors.IsKind(failed.Err, errors.KindCompile), "got %v", failed.Err)

	_, err := h.rt.ListExports(5)
	assert.True(t, errors.IsKind(err, errors.KindUnknownSession))
	assert.Empty(t, h.rt.Sessions())

	// The id is free again.
	h.load(t, 5, arithModule())
}

func TestLoadFromPath(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "arith.wasm")
	require.NoError(t, os.WriteFile(path, arithModule(), 0o600))

	h.rt.Load(runtime.LoadRequest{Session: 1, Token: "path", Path: path})
	next[runtime.Ready](t, h)

	h.rt.Load(runtime.LoadRequest{Session: 2, Token: "missing", Path: filepath.Join(t.TempDir(), "nope.wasm")})
	failed := next[runtime.LoadFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindCompile))

	h.rt.Load(runtime.LoadRequest{Session: 3, Token: "empty"})
	failed = next[runtime.LoadFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindInvalidInput))
}

func TestLoadDuplicateSession(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, arithModule())

	h.rt.Load(runtime.LoadRequest{Session: 1, Token: "again", Bytes: arithModule()})
	failed := next[runtime.LoadFailed](t, h)
	assert.Equal(t, "again", failed.Token)
	assert.True(t, errors.IsKind(failed.Err, errors.KindAlreadyExists))
}

func TestLoadDeclarationErrors(t *testing.T) {
	tests := []struct {
		name    string
		imports []runtime.ImportDecl
		kind    errors.Kind
	}{
		{"missing declaration", nil, errors.KindInstantiation},
		{"wrong result type", []runtime.ImportDecl{{ID: 3, Results: []scalar.Type{scalar.I64}}}, errors.KindInstantiation},
		{"wrong name", []runtime.ImportDecl{{ID: 3, Name: "tell", Results: []scalar.Type{scalar.I32}}}, errors.KindInstantiation},
		{"duplicate id", []runtime.ImportDecl{askDecl(3), askDecl(3)}, errors.KindInvalidInput},
		{"invalid type", []runtime.ImportDecl{{ID: 3, Results: []scalar.Type{0}}}, errors.KindUnsupportedValueType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.rt.Load(runtime.LoadRequest{Session: 1, Token: "t", Bytes: askModule(), Imports: tt.imports})
			failed := next[runtime.LoadFailed](t, h)
			assert.True(t, errors.IsKind(failed.Err, tt.kind), "got %v", failed.Err)
			assert.Empty(t, h.rt.Sessions())
		})
	}
}

func TestLoadMatchingName(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, askModule(), runtime.ImportDecl{ID: 3, Module: "env", Name: "ask", Results: []scalar.Type{scalar.I32}})
}

func TestStartSectionCallingImport(t *testing.T) {
	h := newHarness(t)
	h.rt.Load(runtime.LoadRequest{Session: 1, Token: "start", Bytes: startModule(), Imports: []runtime.ImportDecl{askDecl(1)}})
	failed := next[runtime.LoadFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindInstantiation), "got %v", failed.Err)
	assert.Empty(t, h.rt.Sessions())
}

func TestListExports(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, arithModule())

	first, err := h.rt.ListExports(1)
	require.NoError(t, err)
	second, err := h.rt.ListExports(1)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, []runtime.Export{
		{Name: "add", Kind: "function"},
		{Name: "answer", Kind: "global"},
		{Name: "id_f32", Kind: "function"},
		{Name: "id_f64", Kind: "function"},
		{Name: "memory", Kind: "memory"},
		{Name: "pair", Kind: "function"},
		{Name: "table", Kind: "table"},
	}, first)

	funcs, err := h.rt.ListFunctionExports(1)
	require.NoError(t, err)
	require.Len(t, funcs, 4)
	assert.Equal(t, "add", funcs[0].Name)
	assert.Equal(t, "(i32, i32) -> (i32)", funcs[0].Signature.String())
}

func TestReplyErrors(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, askModule(), askDecl(3))

	err := h.rt.ReplyToImport(1, 4, nil)
	assert.True(t, errors.IsKind(err, errors.KindNoSuchImport), "got %v", err)

	err = h.rt.ReplyToImport(1, 3, []scalar.Value{scalar.I32Value(1)})
	assert.True(t, errors.IsKind(err, errors.KindSendFailed), "got %v", err)
}

func TestArityMismatch(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, askModule(), askDecl(3))

	h.rt.CallExport(1, "tok", "run", nil)
	next[runtime.ImportCall](t, h)
	require.NoError(t, h.rt.ReplyToImport(1, 3, nil))

	failed := next[runtime.CallFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindArityMismatch), "got %v", failed.Err)

	// The import is free again.
	h.rt.CallExport(1, "retry", "run", nil)
	next[runtime.ImportCall](t, h)
	require.NoError(t, h.rt.ReplyToImport(1, 3, []scalar.Value{scalar.I32Value(1), scalar.I32Value(99)}))
	done := next[runtime.CallCompleted](t, h)
	assert.Equal(t, int32(2), done.Results[0].I32())
}

func TestReplyTypeMismatch(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, askModule(), askDecl(3))

	h.rt.CallExport(1, "tok", "run", nil)
	next[runtime.ImportCall](t, h)
	require.NoError(t, h.rt.ReplyToImport(1, 3, []scalar.Value{scalar.F64Value(1)}))

	failed := next[runtime.CallFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindTypeMismatch), "got %v", failed.Err)
}

func TestUnloadDisconnectsWaitingImport(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1, askModule(), askDecl(3))

	h.rt.CallExport(1, "tok", "run", nil)
	next[runtime.ImportCall](t, h)

	require.NoError(t, h.rt.Unload(1))
	assert.Empty(t, h.rt.Sessions())

	failed := next[runtime.CallFailed](t, h)
	assert.Equal(t, "tok", failed.Token)
	assert.True(t, errors.IsKind(failed.Err, errors.KindChannelDisconnected), "got %v", failed.Err)

	assert.True(t, errors.IsKind(h.rt.ReplyToImport(1, 3, nil), errors.KindUnknownSession))
}

func TestReplyTimeout(t *testing.T) {
	h := newHarness(t, runtime.WithReplyTimeout(20*time.Millisecond))
	h.load(t, 1, askModule(), askDecl(3))

	h.rt.CallExport(1, "tok", "run", nil)
	next[runtime.ImportCall](t, h)

	failed := next[runtime.CallFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindTimeout), "got %v", failed.Err)

	// A late reply is rejected instead of satisfying a future call.
	assert.True(t, errors.IsKind(h.rt.ReplyToImport(1, 3, nil), errors.KindSendFailed))
}

func TestPerSessionEngineConfig(t *testing.T) {
	h := newHarness(t)

	h.rt.Load(runtime.LoadRequest{
		Session: 1,
		Token:   "interp",
		Bytes:   arithModule(),
		Config:  &engine.Config{Strategy: engine.StrategyInterpreter, MaxStackDepth: 128, DebugInfo: true},
	})
	next[runtime.Ready](t, h)

	h.rt.CallExport(1, "tok", "add", []scalar.Value{scalar.I32Value(2), scalar.I32Value(3)})
	done := next[runtime.CallCompleted](t, h)
	assert.Equal(t, int32(5), done.Results[0].I32())

	h.rt.Load(runtime.LoadRequest{
		Session: 2,
		Token:   "bad",
		Bytes:   arithModule(),
		Config:  &engine.Config{Strategy: engine.StrategyInterpreter, OptLevel: engine.OptSpeed},
	})
	failed := next[runtime.LoadFailed](t, h)
	assert.True(t, errors.IsKind(failed.Err, errors.KindInvalidConfig), "got %v", failed.Err)
}

func TestClose(t *testing.T) {
	rt, err := runtime.New(context.Background())
	require.NoError(t, err)
	require.NoError(t, rt.Close(context.Background()))
	require.NoError(t, rt.Close(context.Background()))
}

func TestCloseDuringLoad(t *testing.T) {
	code := arithModule()
	for i := 0; i < 50; i++ {
		mb := actor.NewMailbox()
		rt, err := runtime.New(context.Background(), runtime.WithNotifier(mb))
		require.NoError(t, err)

		rt.Load(runtime.LoadRequest{Session: 1, Token: "l", Bytes: code})
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		require.NoError(t, rt.Close(ctx))
		cancel()

		assert.Empty(t, rt.Sessions())
		e, ok := mb.TryReceive()
		require.True(t, ok, "load produced no outcome")
		switch ev := e.(type) {
		case runtime.Ready:
			// Published before Close started, so Close must have unloaded it.
			assert.Equal(t, "l", ev.Token)
		case runtime.LoadFailed:
			assert.Equal(t, "l", ev.Token)
		default:
			t.Fatalf("unexpected event %#v", e)
		}
		_, ok = mb.TryReceive()
		assert.False(t, ok, "extra event after Close")
	}
}

func TestNewInvalidOptions(t *testing.T) {
	_, err := runtime.New(context.Background(), runtime.WithQueueDepth(0))
	assert.True(t, errors.IsKind(err, errors.KindInvalidConfig))

	_, err = runtime.New(context.Background(), runtime.WithEngineConfig(engine.Config{Strategy: "jit"}))
	assert.True(t, errors.IsKind(err, errors.KindInvalidConfig))
}
