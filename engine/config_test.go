package engine

import (
	"testing"

	"github.com/wippyai/wasmbridge/errors"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyAuto, false},
		{"auto", StrategyAuto, false},
		{"Compiler", StrategyCompiler, false},
		{" interpreter ", StrategyInterpreter, false},
		{"cranelift", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStrategy(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseOptLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    OptLevel
		wantErr bool
	}{
		{"", OptNone, false},
		{"none", OptNone, false},
		{"speed", OptSpeed, false},
		{"speed_and_size", OptSpeedAndSize, false},
		{"size", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOptLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOptLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseOptLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero value", Config{}, false},
		{"interpreter", Config{Strategy: StrategyInterpreter}, false},
		{"interpreter no opt", Config{Strategy: StrategyInterpreter, OptLevel: OptNone}, false},
		{"unknown strategy", Config{Strategy: "jit"}, true},
		{"unknown opt level", Config{OptLevel: "fast"}, true},
		{"interpreter with speed", Config{Strategy: StrategyInterpreter, OptLevel: OptSpeed}, true},
		{"interpreter with speed and size", Config{Strategy: StrategyInterpreter, OptLevel: OptSpeedAndSize}, true},
		{"memory limit too large", Config{MemoryLimitPages: 70000}, true},
		{"memory limit max", Config{MemoryLimitPages: 65536}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsKind(err, errors.KindInvalidConfig) {
				t.Errorf("expected invalid_config, got %v", err)
			}
		})
	}
}

func TestConfig_CompilerStrategy(t *testing.T) {
	err := (&Config{Strategy: StrategyCompiler, OptLevel: OptSpeed}).Validate()
	if CompilerSupported() && err != nil {
		t.Errorf("compiler should validate on a supported platform: %v", err)
	}
	if !CompilerSupported() && !errors.IsKind(err, errors.KindInvalidConfig) {
		t.Errorf("expected invalid_config on unsupported platform, got %v", err)
	}
}

func TestConfig_Normalized(t *testing.T) {
	c := Config{Strategy: "COMPILER"}.normalized()
	if c.Strategy != StrategyCompiler {
		t.Errorf("expected lower-cased strategy, got %q", c.Strategy)
	}
	if c.OptLevel != OptNone {
		t.Errorf("expected default opt level, got %q", c.OptLevel)
	}
}
