package runtime

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/scalar"
)

// Runtime is the composition root of the bridge: one registry, one shared
// engine, one notification target. Load and CallExport report through
// events; the other operations answer directly.
type Runtime struct {
	ctx          context.Context
	cancel       context.CancelFunc
	engine       *engine.WazeroEngine
	registry     *Registry
	notifier     Notifier
	log          *zap.Logger
	stdout       io.Writer
	stderr       io.Writer
	wg           sync.WaitGroup
	queueDepth   int
	replyTimeout time.Duration
	callTimeout  time.Duration
	mu           sync.RWMutex
	closed       bool
}

// New creates a Runtime. ctx bounds the lifetime of every session.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := options{
		notifier:   discard{},
		log:        zap.NewNop(),
		queueDepth: DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.queueDepth < 1 {
		return nil, errors.InvalidConfig("queue depth must be positive, got %d", o.queueDepth)
	}
	if o.notifier == nil {
		o.notifier = discard{}
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	eng, err := engine.NewWazeroEngineWithConfig(ctx, o.engineConfig)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithCancel(ctx)
	return &Runtime{
		ctx:          rctx,
		cancel:       cancel,
		engine:       eng,
		registry:     NewRegistry(),
		notifier:     o.notifier,
		log:          o.log,
		stdout:       o.stdout,
		stderr:       o.stderr,
		queueDepth:   o.queueDepth,
		replyTimeout: o.replyTimeout,
		callTimeout:  o.callTimeout,
	}, nil
}

// Load creates session req.Session in the background. The outcome arrives
// as Ready or LoadFailed carrying req.Token. Nothing is registered unless
// every stage succeeds.
func (r *Runtime) Load(req LoadRequest) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.notifier.Notify(LoadFailed{Session: req.Session, Token: req.Token, Err: errClosed()})
		return
	}
	if err := r.registry.Reserve(req.Session); err != nil {
		r.notifier.Notify(LoadFailed{Session: req.Session, Token: req.Token, Err: err})
		return
	}
	r.wg.Add(1)
	go r.bootstrap(req)
}

// CallExport queues a call of export on the session worker. The outcome
// arrives as CallCompleted or CallFailed carrying token. Failures found
// before queueing are reported the same way.
func (r *Runtime) CallExport(session int64, token, export string, args []scalar.Value) {
	s, err := r.registry.Get(session)
	if err != nil {
		r.notifier.Notify(CallFailed{Session: session, Token: token, Export: export, Err: err})
		return
	}
	job := &callJob{
		session:  s,
		notifier: r.notifier,
		log:      r.log,
		token:    token,
		export:   export,
		args:     args,
		timeout:  r.callTimeout,
	}

	sig, err := s.Signature(export)
	if err == nil {
		_, err = marshalArgs(export, sig, args)
	}
	if err == nil {
		err = s.worker.submit(job)
	}
	if err != nil {
		job.fail(err)
	}
}

// CallExportNoImports calls export synchronously on a disposable instance
// whose imports return zeros. It is meant for exports that never reach an
// import; the actor is never notified.
func (r *Runtime) CallExportNoImports(ctx context.Context, session int64, export string, args []scalar.Value) ([]scalar.Value, error) {
	s, err := r.registry.Get(session)
	if err != nil {
		return nil, err
	}
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	return s.callDisposable(ctx, export, args)
}

// ReplyToImport answers the outstanding ImportCall for importID.
func (r *Runtime) ReplyToImport(session, importID int64, values []scalar.Value) error {
	s, err := r.registry.Get(session)
	if err != nil {
		return err
	}
	if err := s.replies.Send(importID, values); err != nil {
		r.log.Warn("reply rejected",
			zap.Int64("session", session),
			zap.Int64("import_id", importID),
			zap.Error(err))
		return err
	}
	return nil
}

// ExportSignature returns the parameter and result types of export.
func (r *Runtime) ExportSignature(session int64, export string) (scalar.Signature, error) {
	s, err := r.registry.Get(session)
	if err != nil {
		return scalar.Signature{}, err
	}
	return s.Signature(export)
}

// ListExports returns every export with its kind, sorted by name.
func (r *Runtime) ListExports(session int64) ([]Export, error) {
	s, err := r.registry.Get(session)
	if err != nil {
		return nil, err
	}
	return s.Exports(), nil
}

// ListFunctionExports returns the function exports with their signatures.
func (r *Runtime) ListFunctionExports(session int64) ([]FunctionExport, error) {
	s, err := r.registry.Get(session)
	if err != nil {
		return nil, err
	}
	return s.Functions(), nil
}

// Unload removes the session. It is unreachable once Unload returns;
// waiting import stubs and queued calls fail with channel_disconnected and
// engine resources are released when the worker exits.
func (r *Runtime) Unload(session int64) error {
	s, err := r.registry.Remove(session)
	if err != nil {
		return err
	}
	s.replies.Close()
	s.cancel()
	s.worker.shutdown()
	return nil
}

// Sessions returns the live session ids in ascending order.
func (r *Runtime) Sessions() []int64 {
	return r.registry.IDs()
}

// Close unloads every session, waits for workers to exit or ctx to end,
// and closes the shared engine.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	for _, id := range r.registry.IDs() {
		_ = r.Unload(id)
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Timeout(errors.PhaseRegistry, "sessions still running at close", ctx.Err())
	}
	return r.engine.Close(ctx)
}

func errClosed() error {
	return errors.New(errors.PhaseRegistry, errors.KindInvalidInput).
		Detail("runtime is closed").
		Build()
}
