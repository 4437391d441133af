package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/scalar"
)

// ImportDecl declares one import the actor implements. ID routes replies
// and must be unique within a session. Module and Name are optional; when
// set they must match the module import the declaration binds to.
type ImportDecl struct {
	Module  string
	Name    string
	Params  []scalar.Type
	Results []scalar.Type
	ID      int64
}

// Signature returns the declared parameter and result types.
func (d ImportDecl) Signature() scalar.Signature {
	return scalar.Signature{Params: d.Params, Results: d.Results}
}

func (d ImportDecl) validate() error {
	for i, t := range d.Params {
		if !t.Valid() {
			return errors.UnsupportedValueType([]string{importPath(d.ID), "params", strconv.Itoa(i)}, t.String())
		}
	}
	for i, t := range d.Results {
		if !t.Valid() {
			return errors.UnsupportedValueType([]string{importPath(d.ID), "results", strconv.Itoa(i)}, t.String())
		}
	}
	return nil
}

func importPath(id int64) string {
	return "import " + strconv.FormatInt(id, 10)
}

// stubFactory builds the host functions that forward guest import calls
// to the actor.
type stubFactory struct {
	session      *Session
	notifier     Notifier
	log          *zap.Logger
	replyTimeout time.Duration
}

// build binds decls positionally to the module's function imports and
// returns one stub per import. Every stub is wired to its reply channel
// before instantiation.
func (f *stubFactory) build(decls []ImportDecl, imports []engine.FuncDef) ([]engine.HostFunc, error) {
	if len(decls) != len(imports) {
		return nil, errors.Instantiation(
			fmt.Sprintf("module imports %d functions, %d declared", len(imports), len(decls)), nil)
	}

	hosts := make([]engine.HostFunc, len(decls))
	for i, decl := range decls {
		imp := imports[i]
		if decl.Module != "" && decl.Module != imp.Module || decl.Name != "" && decl.Name != imp.Name {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
				Path(importPath(decl.ID)).
				Expected(imp.Module+"."+imp.Name).
				Actual(decl.Module+"."+decl.Name).
				Detail("declaration %d names a different import", i).
				Build()
		}

		params, err := scalar.FromAPIList(imp.Module+"."+imp.Name, imp.Params)
		if err != nil {
			return nil, err
		}
		results, err := scalar.FromAPIList(imp.Module+"."+imp.Name, imp.Results)
		if err != nil {
			return nil, err
		}
		want := scalar.Signature{Params: params, Results: results}
		if !want.Equal(decl.Signature()) {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
				Path(importPath(decl.ID), imp.Module+"."+imp.Name).
				Expected(want.String()).
				Actual(decl.Signature().String()).
				Detail("import signature mismatch").
				Build()
		}

		if f.session.replies.lookup(decl.ID) == nil {
			return nil, errors.Instantiation("no reply channel for "+importPath(decl.ID), nil)
		}

		hosts[i] = engine.HostFunc{
			Module:  imp.Module,
			Name:    imp.Name,
			Params:  imp.Params,
			Results: imp.Results,
			Fn:      f.stub(decl),
		}
	}
	return hosts, nil
}

// stub returns the host function for decl. Errors abort the guest call by
// panicking; wazero recovers the panic and returns it from the export call.
// The error is also recorded on the current call so dispatch reports it
// unchanged.
func (f *stubFactory) stub(decl ImportDecl) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		results, err := f.invoke(ctx, decl, stack)
		if err != nil {
			if j := callFrom(ctx); j != nil {
				j.recordStubError(err)
			}
			panic(err)
		}
		for i, v := range results {
			stack[i] = v.Raw()
		}
	}
}

func (f *stubFactory) invoke(ctx context.Context, decl ImportDecl, stack []uint64) ([]scalar.Value, error) {
	s := f.session
	if !s.published.Load() {
		return nil, errors.Instantiation(importPath(decl.ID)+" called before the session was ready", nil)
	}

	args := scalar.Unmarshal(decl.Params, stack)

	c, err := s.replies.begin(decl.ID)
	if err != nil {
		f.log.Warn("import call rejected",
			zap.Int64("session", s.id),
			zap.Int64("import_id", decl.ID),
			zap.Error(err))
		return nil, err
	}

	f.log.Debug("import call",
		zap.Int64("session", s.id),
		zap.Int64("import_id", decl.ID),
		zap.Int("args", len(args)))
	f.notifier.Notify(ImportCall{Session: s.id, ImportID: decl.ID, Args: args})

	if f.replyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.replyTimeout)
		defer cancel()
	}
	values, err := s.replies.wait(ctx, c, s.worker)
	if err != nil {
		return nil, err
	}

	if len(values) < len(decl.Results) {
		return nil, errors.ArityMismatch(decl.ID, len(decl.Results), len(values))
	}
	values = values[:len(decl.Results)]
	for i, v := range values {
		if v.Type() != decl.Results[i] {
			return nil, errors.TypeMismatch(errors.PhaseImport,
				[]string{importPath(decl.ID), strconv.Itoa(i)}, decl.Results[i].String(), v.Type().String())
		}
	}
	return values, nil
}

// noopHosts links every import to a function that returns zeros without
// contacting the actor. Used for disposable introspection instances.
func noopHosts(imports []engine.FuncDef) []engine.HostFunc {
	hosts := make([]engine.HostFunc, len(imports))
	for i, imp := range imports {
		n := len(imp.Results)
		hosts[i] = engine.HostFunc{
			Module:  imp.Module,
			Name:    imp.Name,
			Params:  imp.Params,
			Results: imp.Results,
			Fn: func(_ context.Context, _ api.Module, stack []uint64) {
				clear(stack[:n])
			},
		}
	}
	return hosts
}
