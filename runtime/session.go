package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/scalar"
)

// Export is a module export and its kind: function, global, table, memory
// or tag.
type Export struct {
	Name string
	Kind string
}

// FunctionExport is an exported function with its scalar signature.
type FunctionExport struct {
	Name      string
	Signature scalar.Signature
}

// exportSig is a cached export signature. err is set for exports whose
// types are not scalars.
type exportSig struct {
	err error
	sig scalar.Signature
}

// Session is one loaded module: its instance, import wiring, reply
// channels and export signature cache. Everything except the worker's
// queue is immutable once the session is published.
type Session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	engine     *engine.WazeroEngine
	module     *engine.WazeroModule
	instance   *engine.WazeroInstance
	replies    *ReplyTable
	worker     *worker
	log        *zap.Logger
	exports    map[string]exportSig
	imports    []ImportDecl
	exportList []Export
	funcs      []FunctionExport
	id         int64
	ownsEngine bool
	published  atomic.Bool
}

// ID returns the session id.
func (s *Session) ID() int64 { return s.id }

// Signature returns the cached signature of function export name.
func (s *Session) Signature(name string) (scalar.Signature, error) {
	e, ok := s.exports[name]
	if !ok {
		return scalar.Signature{}, errors.ExportNotFound(name)
	}
	if e.err != nil {
		return scalar.Signature{}, e.err
	}
	return e.sig, nil
}

// Exports returns every export sorted by name.
func (s *Session) Exports() []Export {
	return append([]Export(nil), s.exportList...)
}

// Functions returns the function exports with scalar signatures, sorted by
// name. Exports using other value types are omitted.
func (s *Session) Functions() []FunctionExport {
	return append([]FunctionExport(nil), s.funcs...)
}

// Imports returns the import declarations.
func (s *Session) Imports() []ImportDecl {
	return append([]ImportDecl(nil), s.imports...)
}

// release closes engine resources. Only the worker goroutine calls it,
// after its loop exits, or bootstrap on failure.
func (s *Session) release() {
	ctx := context.Background()
	if s.instance != nil {
		if err := s.instance.Close(ctx); err != nil {
			s.log.Warn("close instance", zap.Int64("session", s.id), zap.Error(err))
		}
	}
	if s.module != nil {
		if err := s.module.Close(ctx); err != nil {
			s.log.Warn("close module", zap.Int64("session", s.id), zap.Error(err))
		}
	}
	if s.ownsEngine && s.engine != nil {
		if err := s.engine.Close(ctx); err != nil {
			s.log.Warn("close engine", zap.Int64("session", s.id), zap.Error(err))
		}
	}
	s.cancel()
}

// task is a unit of work for a session worker.
type task interface {
	run(ctx context.Context)
	cancel(err error)
}

// worker serializes every call into one session's instance. Tasks also
// run inline while an import stub waits for its reply, which is how a
// call can proceed while another on the same session is suspended.
type worker struct {
	ctx     context.Context
	tasks   chan task
	stop    chan struct{}
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

func newWorker(ctx context.Context, depth int) *worker {
	return &worker{
		ctx:   ctx,
		tasks: make(chan task, depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// submit queues t without blocking.
func (w *worker) submit(t task) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return errors.New(errors.PhaseDispatch, errors.KindChannelDisconnected).
			Detail("session worker stopped").
			Build()
	}
	select {
	case w.tasks <- t:
		return nil
	default:
		return errors.New(errors.PhaseDispatch, errors.KindQueueFull).
			Detail("session call queue is full (%d)", cap(w.tasks)).
			Build()
	}
}

// loop runs tasks until shutdown or cancellation, then fails whatever is
// still queued.
func (w *worker) loop() {
	defer close(w.done)
	for {
		select {
		case t := <-w.tasks:
			t.run(w.ctx)
		case <-w.stop:
			w.drain()
			return
		case <-w.ctx.Done():
			w.shutdown()
			w.drain()
			return
		}
	}
}

func (w *worker) drain() {
	for {
		select {
		case t := <-w.tasks:
			t.cancel(errors.New(errors.PhaseDispatch, errors.KindChannelDisconnected).
				Detail("session unloaded before the call ran").
				Build())
		default:
			return
		}
	}
}

// shutdown stops accepting tasks. Once it returns no submit is in
// progress, so drain sees every queued task.
func (w *worker) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stop)
}
