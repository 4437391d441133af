package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasmbridge/actor"
	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/port"
	"github.com/wippyai/wasmbridge/runtime"
	"github.com/wippyai/wasmbridge/scalar"
)

// importFlags collects -import values of the form id:params:results, for
// example 7:i32: or 3::i32 or 1:i32,i64:f64.
type importFlags []runtime.ImportDecl

func (f *importFlags) String() string {
	parts := make([]string, len(*f))
	for i, d := range *f {
		params, results := d.Signature().Tags()
		parts[i] = fmt.Sprintf("%d:%s:%s", d.ID, strings.Join(params, ","), strings.Join(results, ","))
	}
	return strings.Join(parts, " ")
}

func (f *importFlags) Set(v string) error {
	d, err := parseImport(v)
	if err != nil {
		return err
	}
	*f = append(*f, d)
	return nil
}

func parseImport(v string) (runtime.ImportDecl, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return runtime.ImportDecl{}, fmt.Errorf("import %q: want id:params:results", v)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return runtime.ImportDecl{}, fmt.Errorf("import %q: id: %w", v, err)
	}
	params, err := scalar.ParseTypes(splitList(parts[1]))
	if err != nil {
		return runtime.ImportDecl{}, fmt.Errorf("import %q: %w", v, err)
	}
	results, err := scalar.ParseTypes(splitList(parts[2]))
	if err != nil {
		return runtime.ImportDecl{}, fmt.Errorf("import %q: %w", v, err)
	}
	return runtime.ImportDecl{ID: id, Params: params, Results: results}, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

type engineFlags struct {
	strategy   string
	optLevel   string
	interrupt  bool
	maxStack   uint
	debugInfo  bool
	memPages   uint
	enableWASI bool
}

// buildConfig converts flag values into a validated engine config.
func buildConfig(f engineFlags) (engine.Config, error) {
	if f.maxStack > math.MaxUint32 {
		return engine.Config{}, fmt.Errorf("-max-stack %d out of range", f.maxStack)
	}
	if f.memPages > math.MaxUint32 {
		return engine.Config{}, fmt.Errorf("-memory-pages %d out of range", f.memPages)
	}
	cfg := engine.Config{
		Strategy:         engine.Strategy(f.strategy),
		OptLevel:         engine.OptLevel(f.optLevel),
		Interruptible:    f.interrupt,
		MaxStackDepth:    uint32(f.maxStack),
		DebugInfo:        f.debugInfo,
		MemoryLimitPages: uint32(f.memPages),
		EnableWASI:       f.enableWASI,
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

func main() {
	var (
		imports      importFlags
		wasmFile     = flag.String("wasm", "", "Path to wasm module (interactive and list modes)")
		strategy     = flag.String("strategy", "auto", "Execution strategy: auto, compiler, interpreter")
		optLevel     = flag.String("opt", "none", "Optimization level: none, speed, speed_and_size")
		interrupt    = flag.Bool("interruptible", false, "Stop running guest code when a call times out")
		maxStack     = flag.Uint("max-stack", 0, "Maximum nested guest frames per call (0 = engine default)")
		debugInfo    = flag.Bool("debug-info", false, "Keep debug info for trap messages")
		memPages     = flag.Uint("memory-pages", 0, "Memory limit per instance in 64KiB pages (0 = 65536)")
		enableWASI   = flag.Bool("wasi", false, "Link wasi_snapshot_preview1 for modules that import it")
		queueDepth   = flag.Int("queue", runtime.DefaultQueueDepth, "Per-session call queue depth")
		replyTimeout = flag.Duration("reply-timeout", 0, "Fail an import call with no reply after this long (0 = wait)")
		callTimeout  = flag.Duration("call-timeout", 0, "Fail an export call after this long (0 = no limit)")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		portMode     = flag.Bool("port", false, "Serve the JSON line protocol on stdin/stdout")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
		list         = flag.Bool("list", false, "List exports and exit")
	)
	flag.Var(&imports, "import", "Import declaration id:params:results (repeatable, in module import order)")
	flag.Parse()

	cfg, err := buildConfig(engineFlags{
		strategy:   *strategy,
		optLevel:   *optLevel,
		interrupt:  *interrupt,
		maxStack:   *maxStack,
		debugInfo:  *debugInfo,
		memPages:   *memPages,
		enableWASI: *enableWASI,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	opts := []runtime.Option{
		runtime.WithEngineConfig(cfg),
		runtime.WithQueueDepth(*queueDepth),
		runtime.WithReplyTimeout(*replyTimeout),
		runtime.WithCallTimeout(*callTimeout),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *list:
		if *wasmFile == "" {
			usage()
		}
		err = runList(ctx, *wasmFile, imports, opts)
	case *interactive || (!*portMode && *wasmFile != "" && term.IsTerminal(int(os.Stdin.Fd()))):
		if *wasmFile == "" {
			usage()
		}
		err = runInteractive(*wasmFile, imports, opts)
	default:
		err = runPort(ctx, *logLevel, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: wasmbridge [-port] [engine flags]          (JSON lines on stdin/stdout)")
	fmt.Fprintln(os.Stderr, "       wasmbridge -wasm <file.wasm> -list [-import id:params:results ...]")
	fmt.Fprintln(os.Stderr, "       wasmbridge -wasm <file.wasm> -i    [-import id:params:results ...]")
	os.Exit(1)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func runPort(ctx context.Context, level string, opts []runtime.Option) error {
	log, err := newLogger(level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	engine.SetLogger(log.Named("engine"))

	srv, err := port.NewServer(ctx, log.Named("runtime"), opts...)
	if err != nil {
		return err
	}
	log.Info("serving", zap.Int("pid", os.Getpid()))
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

// runList loads the module once and prints its exports. Every function
// import must still be declared with -import.
func runList(ctx context.Context, path string, imports []runtime.ImportDecl, opts []runtime.Option) error {
	mb := actor.NewMailbox()
	rt, err := runtime.New(ctx, append(opts, runtime.WithNotifier(mb))...)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(cctx)
	}()

	const session = 1
	rt.Load(runtime.LoadRequest{Session: session, Token: "list", Path: path, Imports: imports})
	e, err := mb.Receive(ctx)
	if err != nil {
		return err
	}
	if failed, ok := e.(runtime.LoadFailed); ok {
		return failed.Err
	}

	exports, err := rt.ListExports(session)
	if err != nil {
		return err
	}
	funcs, err := rt.ListFunctionExports(session)
	if err != nil {
		return err
	}
	sigs := make(map[string]scalar.Signature, len(funcs))
	for _, f := range funcs {
		sigs[f.Name] = f.Signature
	}

	fmt.Printf("Module: %s\n", path)
	fmt.Printf("Imports: %d\n", len(imports))
	fmt.Printf("Exports: %d\n\n", len(exports))
	for _, exp := range exports {
		if sig, ok := sigs[exp.Name]; ok {
			fmt.Printf("  %-8s %s%s\n", exp.Kind, exp.Name, sig)
			continue
		}
		fmt.Printf("  %-8s %s\n", exp.Kind, exp.Name)
	}
	return nil
}
