package engine

import (
	goruntime "runtime"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasmbridge/errors"
)

// Strategy selects how wazero executes code.
type Strategy string

const (
	// StrategyAuto uses the compiler where the platform supports it and the
	// interpreter elsewhere. The empty string means auto.
	StrategyAuto        Strategy = "auto"
	StrategyCompiler    Strategy = "compiler"
	StrategyInterpreter Strategy = "interpreter"
)

// OptLevel is the requested optimization level. wazero's compiler always
// optimizes for speed, so the optimizing levels only constrain the strategy.
type OptLevel string

const (
	OptNone         OptLevel = "none"
	OptSpeed        OptLevel = "speed"
	OptSpeedAndSize OptLevel = "speed_and_size"
)

// Config holds configuration for engine creation. The zero value is valid:
// automatic strategy, no stack depth limit, no WASI.
type Config struct {
	// Strategy selects compiler or interpreter. Empty means StrategyAuto.
	Strategy Strategy

	// OptLevel is the optimization level. Empty means OptNone. Optimizing
	// levels are rejected with the interpreter.
	OptLevel OptLevel

	// Interruptible closes a running instance when the call context is
	// cancelled, so a timed out call stops instead of running to completion.
	// The instance is unusable afterwards.
	Interruptible bool

	// MaxStackDepth bounds the number of nested guest function frames per
	// call. 0 means wazero's default limit only.
	MaxStackDepth uint32

	// DebugInfo keeps DWARF-based source positions in trap messages.
	DebugInfo bool

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableWASI links wasi_snapshot_preview1 for modules that import it.
	EnableWASI bool
}

// ParseStrategy decodes a strategy name. Empty maps to StrategyAuto.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyCompiler, StrategyInterpreter:
		return st, nil
	}
	return "", errors.InvalidConfig("unknown strategy %q", s)
}

// ParseOptLevel decodes an optimization level name. Empty maps to OptNone.
func ParseOptLevel(s string) (OptLevel, error) {
	switch lvl := OptLevel(strings.ToLower(strings.TrimSpace(s))); lvl {
	case "", OptNone:
		return OptNone, nil
	case OptSpeed, OptSpeedAndSize:
		return lvl, nil
	}
	return "", errors.InvalidConfig("unknown optimization level %q", s)
}

// Validate rejects unknown values and combinations the platform cannot
// honor instead of silently falling back.
func (c *Config) Validate() error {
	strategy, err := ParseStrategy(string(c.Strategy))
	if err != nil {
		return err
	}
	lvl, err := ParseOptLevel(string(c.OptLevel))
	if err != nil {
		return err
	}
	if strategy == StrategyCompiler && !CompilerSupported() {
		return errors.InvalidConfig("compiler strategy is not supported on %s/%s", goruntime.GOOS, goruntime.GOARCH)
	}
	if lvl != OptNone {
		if strategy == StrategyInterpreter {
			return errors.InvalidConfig("optimization level %q requires the compiler strategy", lvl)
		}
		if !CompilerSupported() {
			return errors.InvalidConfig("optimization level %q is not available on %s/%s", lvl, goruntime.GOOS, goruntime.GOARCH)
		}
	}
	if c.MemoryLimitPages > 65536 {
		return errors.InvalidConfig("memory limit %d pages exceeds 65536", c.MemoryLimitPages)
	}
	return nil
}

// normalized returns a copy with enums in canonical form. c must be
// validated.
func (c Config) normalized() Config {
	c.Strategy, _ = ParseStrategy(string(c.Strategy))
	c.OptLevel, _ = ParseOptLevel(string(c.OptLevel))
	return c
}

// runtimeConfig builds the wazero configuration. c must be validated.
func (c Config) runtimeConfig(cache wazero.CompilationCache) wazero.RuntimeConfig {
	var rc wazero.RuntimeConfig
	switch c.Strategy {
	case StrategyCompiler:
		rc = wazero.NewRuntimeConfigCompiler()
	case StrategyInterpreter:
		rc = wazero.NewRuntimeConfigInterpreter()
	default:
		rc = wazero.NewRuntimeConfig()
	}
	rc = rc.WithCloseOnContextDone(c.Interruptible).
		WithDebugInfoEnabled(c.DebugInfo)
	if c.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	if cache != nil {
		rc = rc.WithCompilationCache(cache)
	}
	return rc
}

// CompilerSupported reports whether wazero's compiler runs on this platform.
func CompilerSupported() bool {
	switch goruntime.GOARCH {
	case "amd64", "arm64":
	default:
		return false
	}
	switch goruntime.GOOS {
	case "linux", "darwin", "freebsd", "netbsd", "dragonfly", "solaris", "illumos", "windows":
		return true
	}
	return false
}
