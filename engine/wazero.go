package engine

import (
	"context"
	"crypto/rand"
	"io"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/wasm"
)

// WazeroEngine compiles modules against one compilation cache. Every
// instance runs in its own wazero runtime so that host modules registered
// for one instance never collide with another's.
type WazeroEngine struct {
	cache  wazero.CompilationCache
	cfg    Config
	mu     sync.Mutex
	closed bool
}

// NewWazeroEngine creates a new wazero-based engine with the default config
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration.
// The configuration is validated up front.
func NewWazeroEngineWithConfig(_ context.Context, cfg *Config) (*WazeroEngine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &WazeroEngine{
		cfg:   c.normalized(),
		cache: wazero.NewCompilationCache(),
	}, nil
}

// Config returns the normalized configuration.
func (e *WazeroEngine) Config() Config {
	return e.cfg
}

func (e *WazeroEngine) newRuntime(ctx context.Context) wazero.Runtime {
	return wazero.NewRuntimeWithConfig(ctx, e.cfg.runtimeConfig(e.cache))
}

// compileContext attaches the stack depth listener when a limit is set.
// Listeners are fixed at compile time.
func (e *WazeroEngine) compileContext(ctx context.Context) context.Context {
	if e.cfg.MaxStackDepth > 0 {
		return experimental.WithFunctionListenerFactory(ctx, depthListenerFactory{})
	}
	return ctx
}

// LoadModule compiles wasmBytes. Compilation failures are KindCompile.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			Detail("engine is closed").
			Build()
	}

	r := e.newRuntime(ctx)
	compiled, err := r.CompileModule(e.compileContext(ctx), wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Compile(err)
	}

	iface, err := wasm.ParseModule(wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Compile(err)
	}

	Logger().Debug("module compiled",
		zap.Int("bytes", len(wasmBytes)),
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.Int("exports", len(compiled.ExportedFunctions())))

	return &WazeroModule{
		engine:   e,
		runtime:  r,
		compiled: compiled,
		iface:    iface,
		rawBytes: wasmBytes,
	}, nil
}

// Close releases the compilation cache. Modules and instances created by
// the engine must be closed separately.
func (e *WazeroEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.cache.Close(ctx)
}

// WazeroModule is a compiled WASM module
type WazeroModule struct {
	engine   *WazeroEngine
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	iface    *wasm.Module
	rawBytes []byte
}

// FuncDef describes an imported or exported function. Module is empty for
// exports.
type FuncDef struct {
	Module  string
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// HostFunc is a Go implementation bound to a module import.
type HostFunc struct {
	Fn      api.GoModuleFunc
	Module  string
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	// Stdout and Stderr receive WASI output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
	Name   string
}

// Imports returns the imported functions in declaration order.
func (m *WazeroModule) Imports() []FuncDef {
	defs := m.compiled.ImportedFunctions()
	out := make([]FuncDef, 0, len(defs))
	for _, def := range defs {
		module, name, _ := def.Import()
		out = append(out, FuncDef{
			Module:  module,
			Name:    name,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	return out
}

// Exports returns the exported functions sorted by name.
func (m *WazeroModule) Exports() []FuncDef {
	defs := m.compiled.ExportedFunctions()
	out := make([]FuncDef, 0, len(defs))
	for name, def := range defs {
		out = append(out, FuncDef{
			Name:    name,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Interface returns the decoded import and export sections.
func (m *WazeroModule) Interface() *wasm.Module {
	return m.iface
}

// UsesWASI reports whether the module imports WASI preview1.
func (m *WazeroModule) UsesWASI() bool {
	for _, imp := range m.iface.Imports {
		if imp.Module == WASIModuleName {
			return true
		}
	}
	return false
}

// Engine returns the engine that compiled the module.
func (m *WazeroModule) Engine() *WazeroEngine {
	return m.engine
}

// Instantiate links hosts and creates an instance in a fresh runtime.
// Start functions, including the module's start section, run before it
// returns; with WASI enabled a reactor's _initialize runs too.
func (m *WazeroModule) Instantiate(ctx context.Context, hosts []HostFunc, cfg *InstanceConfig) (*WazeroInstance, error) {
	if cfg == nil {
		cfg = &InstanceConfig{}
	}
	e := m.engine

	r := e.newRuntime(ctx)
	ok := false
	defer func() {
		if !ok {
			_ = r.Close(ctx)
		}
	}()

	// Cache hit: the definition runtime already compiled these bytes.
	compiled, err := r.CompileModule(e.compileContext(ctx), m.rawBytes)
	if err != nil {
		return nil, errors.Compile(err)
	}

	wasi := e.cfg.EnableWASI && m.UsesWASI()
	if wasi {
		if err := instantiateWASI(ctx, r); err != nil {
			return nil, errors.Instantiation("instantiate WASI", err)
		}
	}

	if err := linkHosts(ctx, r, hosts); err != nil {
		return nil, err
	}

	modCfg := wazero.NewModuleConfig().WithName(cfg.Name).WithStartFunctions()
	if wasi {
		modCfg = modCfg.WithStartFunctions("_initialize").
			WithSysWalltime().
			WithSysNanotime().
			WithRandSource(rand.Reader)
		if cfg.Stdout != nil {
			modCfg = modCfg.WithStdout(cfg.Stdout)
		}
		if cfg.Stderr != nil {
			modCfg = modCfg.WithStderr(cfg.Stderr)
		}
	}

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		var be *errors.Error
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, errors.Instantiation("instantiate module", err)
	}

	ok = true
	return &WazeroInstance{
		runtime:  r,
		module:   mod,
		maxDepth: e.cfg.MaxStackDepth,
	}, nil
}

// linkHosts registers hosts as host modules, one per distinct module name,
// preserving first-seen order.
func linkHosts(ctx context.Context, r wazero.Runtime, hosts []HostFunc) error {
	var order []string
	byModule := make(map[string][]HostFunc)
	for _, h := range hosts {
		if _, seen := byModule[h.Module]; !seen {
			order = append(order, h.Module)
		}
		byModule[h.Module] = append(byModule[h.Module], h)
	}

	for _, name := range order {
		builder := r.NewHostModuleBuilder(name)
		for _, h := range byModule[name] {
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(h.Fn, h.Params, h.Results).
				WithName(h.Name).
				Export(h.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Instantiation("link host module "+name, err)
		}
	}
	return nil
}

// Close releases the definition runtime.
func (m *WazeroModule) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// WazeroInstance is a running module and the runtime that owns it. It is
// not safe for concurrent calls; callers serialize access.
type WazeroInstance struct {
	runtime  wazero.Runtime
	module   api.Module
	maxDepth uint32
}

// ExportedFunction looks the export up on every call. Holding api.Function
// values across re-entrant calls is not safe.
func (i *WazeroInstance) ExportedFunction(name string) api.Function {
	return i.module.ExportedFunction(name)
}

// Call invokes export name with stack holding the parameters. On return
// stack holds the results; it must be sized for the larger of the two.
func (i *WazeroInstance) Call(ctx context.Context, name string, stack []uint64) error {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return errors.ExportNotFound(name)
	}
	if i.maxDepth > 0 {
		ctx = withDepthLimit(ctx, i.maxDepth)
	}
	return fn.CallWithStack(ctx, stack)
}

// Closed reports whether the instance was closed, for example by an
// interrupted call.
func (i *WazeroInstance) Closed() bool {
	return i.module.IsClosed()
}

// Close closes the instance and its runtime.
func (i *WazeroInstance) Close(ctx context.Context) error {
	return i.runtime.Close(ctx)
}
