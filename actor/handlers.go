package actor

import (
	"context"
	"errors"

	"github.com/wippyai/wasmbridge/runtime"
)

// Handlers routes events by type. Nil handlers ignore their events.
type Handlers struct {
	Ready         func(runtime.Ready)
	LoadFailed    func(runtime.LoadFailed)
	ImportCall    func(runtime.ImportCall)
	CallCompleted func(runtime.CallCompleted)
	CallFailed    func(runtime.CallFailed)
}

// Dispatch calls the handler for e.
func (h Handlers) Dispatch(e runtime.Event) {
	switch ev := e.(type) {
	case runtime.Ready:
		if h.Ready != nil {
			h.Ready(ev)
		}
	case runtime.LoadFailed:
		if h.LoadFailed != nil {
			h.LoadFailed(ev)
		}
	case runtime.ImportCall:
		if h.ImportCall != nil {
			h.ImportCall(ev)
		}
	case runtime.CallCompleted:
		if h.CallCompleted != nil {
			h.CallCompleted(ev)
		}
	case runtime.CallFailed:
		if h.CallFailed != nil {
			h.CallFailed(ev)
		}
	}
}

// Run dispatches events from m until ctx ends or m is closed and drained.
// Handlers run one at a time on the calling goroutine, which is the
// actor's own execution context; they must not block on the bridge.
func (m *Mailbox) Run(ctx context.Context, h Handlers) error {
	for {
		e, err := m.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		h.Dispatch(e)
	}
}
