package port

import (
	"math"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/wippyai/wasmbridge/engine"
	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/runtime"
	"github.com/wippyai/wasmbridge/scalar"
)

// Request operations.
const (
	OpLoad          = "load"
	OpCall          = "call"
	OpCallNoImports = "call_no_imports"
	OpReply         = "reply"
	OpSignature     = "signature"
	OpExports       = "exports"
	OpFunctions     = "functions"
	OpUnload        = "unload"
	OpSessions      = "sessions"
)

// Message events.
const (
	EventReady         = "ready"
	EventLoadFailed    = "load_failed"
	EventImportCall    = "import_call"
	EventCallCompleted = "call_completed"
	EventCallFailed    = "call_failed"
	EventResult        = "result"
	EventError         = "error"
)

// Scalar is a value on the wire. Value holds the integer for i32 and i64
// and the bit pattern for f32 and f64.
type Scalar struct {
	Value json.Number `json:"value"`
	Type  string      `json:"type"`
}

// Import is an import declaration on the wire.
type Import struct {
	Module  string   `json:"module,omitempty"`
	Name    string   `json:"name,omitempty"`
	Params  []string `json:"params"`
	Results []string `json:"results"`
	ID      int64    `json:"id"`
}

// Config is the engine configuration on the wire.
type Config struct {
	Strategy         string `json:"strategy,omitempty"`
	OptLevel         string `json:"opt_level,omitempty"`
	MaxStackDepth    uint32 `json:"max_stack_depth,omitempty"`
	MemoryLimitPages uint32 `json:"memory_limit_pages,omitempty"`
	Interruptible    bool   `json:"interruptible,omitempty"`
	DebugInfo        bool   `json:"debug_info,omitempty"`
	WASI             bool   `json:"wasi,omitempty"`
}

// Request is one input line.
type Request struct {
	Config   *Config  `json:"config,omitempty"`
	Op       string   `json:"op"`
	Token    string   `json:"token,omitempty"`
	Path     string   `json:"path,omitempty"`
	Export   string   `json:"export,omitempty"`
	Module   []byte   `json:"module,omitempty"`
	Imports  []Import `json:"imports,omitempty"`
	Args     []Scalar `json:"args,omitempty"`
	Values   []Scalar `json:"values,omitempty"`
	Session  int64    `json:"session"`
	ImportID int64    `json:"import_id,omitempty"`
}

// Error is a failure on the wire.
type Error struct {
	Kind    string `json:"kind"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
}

// ExportInfo is one list_exports entry.
type ExportInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Signature is an export signature as type tags.
type Signature struct {
	Name    string   `json:"name,omitempty"`
	Params  []string `json:"params"`
	Results []string `json:"results"`
}

// Message is one output line.
type Message struct {
	ImportID  *int64       `json:"import_id,omitempty"`
	OK        *bool        `json:"ok,omitempty"`
	Error     *Error       `json:"error,omitempty"`
	Signature *Signature   `json:"signature,omitempty"`
	Event     string       `json:"event"`
	Token     string       `json:"token,omitempty"`
	Export    string       `json:"export,omitempty"`
	Args      []Scalar     `json:"args,omitempty"`
	Results   []Scalar     `json:"results,omitempty"`
	Exports   []ExportInfo `json:"exports,omitempty"`
	Functions []Signature  `json:"functions,omitempty"`
	Sessions  []int64      `json:"sessions,omitempty"`
	Session   int64        `json:"session"`
}

// EncodeScalar converts v to its wire form.
func EncodeScalar(v scalar.Value) Scalar {
	var n string
	switch v.Type() {
	case scalar.I32:
		n = strconv.FormatInt(int64(v.I32()), 10)
	case scalar.I64:
		n = strconv.FormatInt(v.I64(), 10)
	default:
		n = strconv.FormatUint(v.Bits(), 10)
	}
	return Scalar{Type: v.Type().String(), Value: json.Number(n)}
}

// EncodeScalars converts vs to wire form.
func EncodeScalars(vs []scalar.Value) []Scalar {
	if len(vs) == 0 {
		return nil
	}
	out := make([]Scalar, len(vs))
	for i, v := range vs {
		out[i] = EncodeScalar(v)
	}
	return out
}

// DecodeScalar converts a wire scalar. Integers may be given signed or as
// their unsigned two's complement; float bit patterns must be unsigned and
// fit the width.
func DecodeScalar(s Scalar) (scalar.Value, error) {
	t, err := scalar.ParseType(s.Type)
	if err != nil {
		return scalar.Value{}, err
	}
	text := s.Value.String()
	switch t {
	case scalar.I32:
		if v, err := strconv.ParseInt(text, 10, 64); err == nil && v >= math.MinInt32 && v <= math.MaxUint32 {
			return scalar.I32Value(int32(uint32(v))), nil
		}
	case scalar.I64:
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			return scalar.I64Value(v), nil
		}
		if v, err := strconv.ParseUint(text, 10, 64); err == nil {
			return scalar.I64Value(int64(v)), nil
		}
	case scalar.F32:
		if v, err := strconv.ParseUint(text, 10, 32); err == nil {
			return scalar.F32Bits(uint32(v)), nil
		}
	case scalar.F64:
		if v, err := strconv.ParseUint(text, 10, 64); err == nil {
			return scalar.F64Bits(v), nil
		}
	}
	return scalar.Value{}, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
		Expected(t.String()).
		Actual(text).
		Detail("value out of range").
		Value(text).
		Build()
}

// DecodeScalars converts a wire list, aborting on the first bad value.
func DecodeScalars(ss []Scalar) ([]scalar.Value, error) {
	out := make([]scalar.Value, len(ss))
	for i, s := range ss {
		v, err := DecodeScalar(s)
		if err != nil {
			return nil, errors.New(errors.PhaseDecode, errors.KindOf(err)).
				Path(strconv.Itoa(i)).
				Detail("scalar %d", i).
				Cause(err).
				Build()
		}
		out[i] = v
	}
	return out, nil
}

func (imp Import) decl() (runtime.ImportDecl, error) {
	params, err := scalar.ParseTypes(imp.Params)
	if err != nil {
		return runtime.ImportDecl{}, err
	}
	results, err := scalar.ParseTypes(imp.Results)
	if err != nil {
		return runtime.ImportDecl{}, err
	}
	return runtime.ImportDecl{
		ID:      imp.ID,
		Module:  imp.Module,
		Name:    imp.Name,
		Params:  params,
		Results: results,
	}, nil
}

func decls(imps []Import) ([]runtime.ImportDecl, error) {
	out := make([]runtime.ImportDecl, len(imps))
	for i, imp := range imps {
		d, err := imp.decl()
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// engineConfig converts c. Enum values are validated when the engine is
// built, so unknown names fail the load rather than falling back.
func (c *Config) engineConfig() *engine.Config {
	if c == nil {
		return nil
	}
	return &engine.Config{
		Strategy:         engine.Strategy(c.Strategy),
		OptLevel:         engine.OptLevel(c.OptLevel),
		Interruptible:    c.Interruptible,
		MaxStackDepth:    c.MaxStackDepth,
		DebugInfo:        c.DebugInfo,
		MemoryLimitPages: c.MemoryLimitPages,
		EnableWASI:       c.WASI,
	}
}

// EncodeError converts err to wire form.
func EncodeError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *errors.Error
	if errors.As(err, &be) {
		return &Error{Kind: string(be.Kind), Phase: string(be.Phase), Message: be.Error()}
	}
	return &Error{Kind: "internal", Message: err.Error()}
}

func encodeSignature(name string, sig scalar.Signature) *Signature {
	params, results := sig.Tags()
	return &Signature{Name: name, Params: params, Results: results}
}

// EncodeEvent converts a runtime event to its output line.
func EncodeEvent(e runtime.Event) Message {
	switch ev := e.(type) {
	case runtime.Ready:
		return Message{Event: EventReady, Session: ev.Session, Token: ev.Token}
	case runtime.LoadFailed:
		return Message{Event: EventLoadFailed, Session: ev.Session, Token: ev.Token, Error: EncodeError(ev.Err)}
	case runtime.ImportCall:
		id := ev.ImportID
		return Message{Event: EventImportCall, Session: ev.Session, ImportID: &id, Args: EncodeScalars(ev.Args)}
	case runtime.CallCompleted:
		return Message{Event: EventCallCompleted, Session: ev.Session, Token: ev.Token, Export: ev.Export, Results: EncodeScalars(ev.Results)}
	case runtime.CallFailed:
		return Message{Event: EventCallFailed, Session: ev.Session, Token: ev.Token, Export: ev.Export, Error: EncodeError(ev.Err)}
	case response:
		return ev.msg
	}
	return Message{Event: EventError, Session: e.SessionID(), Error: &Error{Kind: "internal", Message: "unknown event"}}
}
