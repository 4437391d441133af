package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASIModuleName is the import module name of WASI preview1.
const WASIModuleName = wasi_snapshot_preview1.ModuleName

// instantiateWASI links WASI preview1 into r. Output goes wherever the
// instance's module config points; the default discards it.
func instantiateWASI(ctx context.Context, r wazero.Runtime) error {
	builder := r.NewHostModuleBuilder(WASIModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	_, err := builder.Instantiate(ctx)
	return err
}
