package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmbridge/scalar"
)

func TestParseImport(t *testing.T) {
	tests := []struct {
		in      string
		id      int64
		params  []scalar.Type
		results []scalar.Type
	}{
		{"7:i32:", 7, []scalar.Type{scalar.I32}, nil},
		{"3::i32", 3, nil, []scalar.Type{scalar.I32}},
		{"1:i32,i64:f64", 1, []scalar.Type{scalar.I32, scalar.I64}, []scalar.Type{scalar.F64}},
		{"2:u8,bool:s64", 2, []scalar.Type{scalar.I32, scalar.I32}, []scalar.Type{scalar.I64}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := parseImport(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.id, d.ID)
			assert.Equal(t, tt.params, d.Params)
			assert.Equal(t, tt.results, d.Results)
		})
	}
}

func TestParseImportErrors(t *testing.T) {
	for _, in := range []string{"7", "x:i32:", "1:v128:", "1:i32"} {
		_, err := parseImport(in)
		assert.Error(t, err, in)
	}
}

func TestImportFlagsString(t *testing.T) {
	var f importFlags
	require.NoError(t, f.Set("7:i32:"))
	require.NoError(t, f.Set("3::f32"))
	assert.Equal(t, "7:i32: 3::f32", f.String())
}

func TestBuildConfig(t *testing.T) {
	cfg, err := buildConfig(engineFlags{strategy: "auto", optLevel: "none", maxStack: 512, memPages: 16})
	require.NoError(t, err)
	assert.Equal(t, uint32(512), cfg.MaxStackDepth)
	assert.Equal(t, uint32(16), cfg.MemoryLimitPages)

	wide := uint64(math.MaxUint32) + 2
	_, err = buildConfig(engineFlags{strategy: "auto", optLevel: "none", maxStack: uint(wide)})
	assert.ErrorContains(t, err, "-max-stack")

	_, err = buildConfig(engineFlags{strategy: "auto", optLevel: "none", memPages: uint(wide)})
	assert.ErrorContains(t, err, "-memory-pages")

	_, err = buildConfig(engineFlags{strategy: "auto", optLevel: "none", memPages: 70000})
	assert.Error(t, err)
}
