package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/scalar"
)

// CallState is the lifecycle of one CallExport. Completed and Failed are
// terminal and each is reached at most once per call.
type CallState int32

const (
	CallStateRequested CallState = iota
	CallStateDispatched
	CallStateCompleted
	CallStateFailed
)

func (s CallState) String() string {
	switch s {
	case CallStateRequested:
		return "requested"
	case CallStateDispatched:
		return "dispatched"
	case CallStateCompleted:
		return "completed"
	case CallStateFailed:
		return "failed"
	}
	return "unknown"
}

// callJob is a live call queued on a session worker.
type callJob struct {
	stubErr  error
	session  *Session
	notifier Notifier
	log      *zap.Logger
	token    string
	export   string
	args     []scalar.Value
	timeout  time.Duration
	state    atomic.Int32
}

type callKey struct{}

func withCall(ctx context.Context, j *callJob) context.Context {
	return context.WithValue(ctx, callKey{}, j)
}

// callFrom returns the call executing on ctx, if any.
func callFrom(ctx context.Context) *callJob {
	j, _ := ctx.Value(callKey{}).(*callJob)
	return j
}

func (j *callJob) State() CallState {
	return CallState(j.state.Load())
}

func (j *callJob) transition(from, to CallState) bool {
	if !j.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	j.log.Debug("call state",
		zap.Int64("session", j.session.id),
		zap.String("export", j.export),
		zap.String("token", j.token),
		zap.Stringer("state", to))
	return true
}

// recordStubError keeps the first error raised by an import stub during
// this call. Stubs run on the worker goroutine that runs the call.
func (j *callJob) recordStubError(err error) {
	if j.stubErr == nil {
		j.stubErr = err
	}
}

func (j *callJob) run(ctx context.Context) {
	if ctx.Err() != nil {
		j.cancel(errors.New(errors.PhaseDispatch, errors.KindChannelDisconnected).
			Detail("session unloaded before the call ran").
			Build())
		return
	}
	if !j.transition(CallStateRequested, CallStateDispatched) {
		return
	}

	callCtx := withCall(ctx, j)
	if j.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, j.timeout)
		defer cancel()
	}

	results, err := j.session.call(callCtx, j.export, j.args)
	if err != nil {
		if j.stubErr != nil {
			err = j.stubErr
		}
		j.fail(err)
		return
	}
	if j.transition(CallStateDispatched, CallStateCompleted) {
		j.notifier.Notify(CallCompleted{
			Session: j.session.id,
			Token:   j.token,
			Export:  j.export,
			Results: results,
		})
	}
}

func (j *callJob) cancel(err error) {
	j.fail(err)
}

// fail moves the call to Failed from any non-terminal state and notifies
// once.
func (j *callJob) fail(err error) {
	if !j.transition(CallStateDispatched, CallStateFailed) && !j.transition(CallStateRequested, CallStateFailed) {
		return
	}
	j.log.Debug("call failed",
		zap.Int64("session", j.session.id),
		zap.String("export", j.export),
		zap.String("token", j.token),
		zap.Error(err))
	j.notifier.Notify(CallFailed{
		Session: j.session.id,
		Token:   j.token,
		Export:  j.export,
		Err:     err,
	})
}

// call runs export on the session instance. Only the worker goroutine
// calls it.
func (s *Session) call(ctx context.Context, export string, args []scalar.Value) ([]scalar.Value, error) {
	sig, err := s.Signature(export)
	if err != nil {
		return nil, err
	}
	stack, err := marshalArgs(export, sig, args)
	if err != nil {
		return nil, err
	}
	if err := s.instance.Call(ctx, export, stack); err != nil {
		return nil, classify(ctx, export, err)
	}
	return scalar.Unmarshal(sig.Results, stack), nil
}

// callDisposable runs export on a fresh instance whose imports return
// zeros, without touching the session instance or the actor.
func (s *Session) callDisposable(ctx context.Context, export string, args []scalar.Value) ([]scalar.Value, error) {
	sig, err := s.Signature(export)
	if err != nil {
		return nil, err
	}
	stack, err := marshalArgs(export, sig, args)
	if err != nil {
		return nil, err
	}

	inst, err := s.module.Instantiate(ctx, noopHosts(s.bindableImports()), nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := inst.Close(context.Background()); err != nil {
			s.log.Warn("close disposable instance", zap.Int64("session", s.id), zap.Error(err))
		}
	}()

	if err := inst.Call(ctx, export, stack); err != nil {
		return nil, classify(ctx, export, err)
	}
	return scalar.Unmarshal(sig.Results, stack), nil
}

// bindableImports returns the imports the actor (or a no-op stub) must
// provide: all function imports except WASI when the engine links it.
func (s *Session) bindableImports() []engine.FuncDef {
	return bindable(s.module)
}

func bindable(m *engine.WazeroModule) []engine.FuncDef {
	all := m.Imports()
	if !m.Engine().Config().EnableWASI {
		return all
	}
	out := make([]engine.FuncDef, 0, len(all))
	for _, imp := range all {
		if imp.Module != engine.WASIModuleName {
			out = append(out, imp)
		}
	}
	return out
}

// marshalArgs checks args against sig and returns a stack large enough
// for both parameters and results.
func marshalArgs(export string, sig scalar.Signature, args []scalar.Value) ([]uint64, error) {
	stack, err := scalar.Marshal(export, sig.Params, args)
	if err != nil {
		return nil, err
	}
	if n := len(sig.Results); n > len(stack) {
		stack = append(stack, make([]uint64, n-len(stack))...)
	}
	return stack, nil
}

// classify maps an engine call error onto the bridge taxonomy. Errors
// raised by the bridge inside the guest (stubs, depth limit) pass through.
func classify(ctx context.Context, export string, err error) error {
	var be *errors.Error
	if errors.As(err, &be) {
		return be
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Timeout(errors.PhaseDispatch, "call "+export+" exceeded its deadline", err)
	}
	return errors.Trap(export, err)
}
