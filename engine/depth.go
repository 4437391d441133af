package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasmbridge/errors"
)

type depthKey struct{}

// depthCounter tracks guest frames for one call. A call runs on a single
// goroutine, so no synchronization is needed.
type depthCounter struct {
	depth uint32
	limit uint32
}

func withDepthLimit(ctx context.Context, limit uint32) context.Context {
	return context.WithValue(ctx, depthKey{}, &depthCounter{limit: limit})
}

func depthFrom(ctx context.Context) *depthCounter {
	c, _ := ctx.Value(depthKey{}).(*depthCounter)
	return c
}

type depthListenerFactory struct{}

func (depthListenerFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return depthListener{}
}

// depthListener aborts a call whose guest stack grows past the limit.
type depthListener struct{}

func (depthListener) Before(ctx context.Context, _ api.Module, def api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	c := depthFrom(ctx)
	if c == nil {
		return
	}
	c.depth++
	if c.depth > c.limit {
		panic(errors.New(errors.PhaseDispatch, errors.KindTrap).
			Detail("stack depth limit %d exceeded in %s", c.limit, def.DebugName()).
			Build())
	}
}

func (depthListener) After(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64) {
	if c := depthFrom(ctx); c != nil && c.depth > 0 {
		c.depth--
	}
}

func (depthListener) Abort(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ error) {
	if c := depthFrom(ctx); c != nil && c.depth > 0 {
		c.depth--
	}
}
