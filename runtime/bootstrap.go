package runtime

import (
	"context"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/scalar"
	"github.com/wippyai/wasmbridge/wasm"
)

// LoadRequest describes a session to create. Bytes take precedence; Path
// is read when Bytes is empty. A nil Config uses the runtime's shared
// engine; otherwise the session gets its own engine built from Config.
type LoadRequest struct {
	Config  *engine.Config
	Token   string
	Path    string
	Bytes   []byte
	Imports []ImportDecl
	Session int64
}

// bootstrap builds, publishes and then serves one session. It runs on its
// own goroutine, which becomes the session worker on success.
func (r *Runtime) bootstrap(req LoadRequest) {
	defer r.wg.Done()

	s, err := r.buildSession(req)
	if err != nil {
		r.registry.Release(req.Session)
		r.log.Warn("load failed",
			zap.Int64("session", req.Session),
			zap.String("token", req.Token),
			zap.Error(err))
		r.notifier.Notify(LoadFailed{Session: req.Session, Token: req.Token, Err: err})
		return
	}

	if err := r.publish(s); err != nil {
		r.registry.Release(req.Session)
		s.release()
		r.notifier.Notify(LoadFailed{Session: req.Session, Token: req.Token, Err: err})
		return
	}

	r.log.Info("session ready",
		zap.Int64("session", s.id),
		zap.String("token", req.Token),
		zap.Int("imports", len(s.imports)),
		zap.Int("exports", len(s.exportList)))
	r.notifier.Notify(Ready{Session: s.id, Token: req.Token})

	s.worker.loop()
	s.release()
	r.log.Info("session unloaded", zap.Int64("session", s.id))
}

// publish registers s unless Close has started. Close snapshots the
// registry after marking the runtime closed, so the check and the insert
// share r.mu.
func (r *Runtime) publish(s *Session) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errClosed()
	}
	if err := r.registry.Insert(s); err != nil {
		return err
	}
	s.published.Store(true)
	return nil
}

// buildSession compiles, wires and instantiates. On error nothing is left
// allocated.
func (r *Runtime) buildSession(req LoadRequest) (s *Session, err error) {
	code, err := moduleBytes(req)
	if err != nil {
		return nil, err
	}
	if err := validateDecls(req.Imports); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(r.ctx)
	s = &Session{
		id:      req.Session,
		ctx:     ctx,
		cancel:  cancel,
		engine:  r.engine,
		imports: append([]ImportDecl(nil), req.Imports...),
		replies: NewReplyTable(),
		log:     r.log,
	}
	defer func() {
		if err != nil {
			s.release()
			s = nil
		}
	}()

	if req.Config != nil {
		s.engine, err = engine.NewWazeroEngineWithConfig(ctx, req.Config)
		if err != nil {
			return s, err
		}
		s.ownsEngine = true
	}

	s.module, err = s.engine.LoadModule(ctx, code)
	if err != nil {
		return s, err
	}

	for _, decl := range s.imports {
		if err = s.replies.Create(decl.ID); err != nil {
			return s, err
		}
	}
	s.worker = newWorker(ctx, r.queueDepth)

	stubs := &stubFactory{
		session:      s,
		notifier:     r.notifier,
		log:          r.log,
		replyTimeout: r.replyTimeout,
	}
	hosts, err := stubs.build(s.imports, bindable(s.module))
	if err != nil {
		return s, err
	}

	s.instance, err = s.module.Instantiate(ctx, hosts, &engine.InstanceConfig{
		Name:   "session-" + strconv.FormatInt(s.id, 10),
		Stdout: r.stdout,
		Stderr: r.stderr,
	})
	if err != nil {
		return s, err
	}

	s.exports, s.funcs = signatures(s.module.Exports())
	s.exportList = exportKinds(s.module.Interface())
	return s, nil
}

func moduleBytes(req LoadRequest) ([]byte, error) {
	if len(req.Bytes) > 0 {
		return req.Bytes, nil
	}
	if req.Path == "" {
		return nil, errors.InvalidInput(errors.PhaseCompile, "module bytes and path are both empty")
	}
	code, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, errors.New(errors.PhaseCompile, errors.KindCompile).
			Path(req.Path).
			Detail("read module file").
			Cause(err).
			Build()
	}
	return code, nil
}

func validateDecls(decls []ImportDecl) error {
	seen := make(map[int64]struct{}, len(decls))
	for _, d := range decls {
		if _, dup := seen[d.ID]; dup {
			return errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
				Path(importPath(d.ID)).
				Detail("import id declared twice").
				Value(d.ID).
				Build()
		}
		seen[d.ID] = struct{}{}
		if err := d.validate(); err != nil {
			return err
		}
	}
	return nil
}

// signatures builds the export signature cache. Exports with non-scalar
// types are cached with their error so calls fail explicitly.
func signatures(defs []engine.FuncDef) (map[string]exportSig, []FunctionExport) {
	cache := make(map[string]exportSig, len(defs))
	funcs := make([]FunctionExport, 0, len(defs))
	for _, def := range defs {
		params, err := scalar.FromAPIList(def.Name, def.Params)
		if err != nil {
			cache[def.Name] = exportSig{err: err}
			continue
		}
		results, err := scalar.FromAPIList(def.Name, def.Results)
		if err != nil {
			cache[def.Name] = exportSig{err: err}
			continue
		}
		sig := scalar.Signature{Params: params, Results: results}
		cache[def.Name] = exportSig{sig: sig}
		funcs = append(funcs, FunctionExport{Name: def.Name, Signature: sig})
	}
	return cache, funcs
}

func exportKinds(m *wasm.Module) []Export {
	out := make([]Export, len(m.Exports))
	for i, exp := range m.Exports {
		out[i] = Export{Name: exp.Name, Kind: wasm.KindName(exp.Kind)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
