package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseConfig      Phase = "config"      // engine configuration
	PhaseCompile     Phase = "compile"     // module compilation
	PhaseInstantiate Phase = "instantiate" // import wiring and instantiation
	PhaseRegistry    Phase = "registry"    // session registry
	PhaseDispatch    Phase = "dispatch"    // export calls
	PhaseImport      Phase = "import"      // import stub / reply channel
	PhaseTranslate   Phase = "translate"   // value type translation
	PhaseDecode      Phase = "decode"      // binary or wire decoding
)

// Kind categorizes the error
type Kind string

const (
	KindCompile               Kind = "compile_error"
	KindInstantiation         Kind = "instantiation"
	KindUnknownSession        Kind = "unknown_session"
	KindExportNotFound        Kind = "export_not_found"
	KindArgumentCountMismatch Kind = "argument_count_mismatch"
	KindTypeMismatch          Kind = "type_mismatch"
	KindArityMismatch         Kind = "arity_mismatch"
	KindUnsupportedValueType  Kind = "unsupported_value_type"
	KindChannelDisconnected   Kind = "channel_disconnected"
	KindDuplicateImportCall   Kind = "duplicate_import_call"
	KindNoSuchImport          Kind = "no_such_import"
	KindSendFailed            Kind = "send_failed"
	KindAlreadyExists         Kind = "already_exists"
	KindInvalidConfig         Kind = "invalid_config"
	KindInvalidInput          Kind = "invalid_input"
	KindTimeout               Kind = "timeout"
	KindQueueFull             Kind = "queue_full"
	KindTrap                  Kind = "trap"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Expected string
	Actual   string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Expected != "" || e.Actual != "" {
		b.WriteString(": expected ")
		b.WriteString(orNone(e.Expected))
		b.WriteString(", got ")
		b.WriteString(orNone(e.Actual))
	}

	if e.Detail != "" {
		if e.Expected != "" || e.Actual != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target with an empty
// Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// As is errors.As, re-exported so callers need only this package.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is errors.Is, re-exported so callers need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path (session, import, export, argument index)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Expected sets the expected type or shape
func (b *Builder) Expected(s string) *Builder {
	b.err.Expected = s
	return b
}

// Actual sets the observed type or shape
func (b *Builder) Actual(s string) *Builder {
	b.err.Actual = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the bridge's error taxonomy

// Compile creates a module compilation error
func Compile(cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompile,
		Detail: "compile module",
		Cause:  cause,
	}
}

// Instantiation creates an import linkage or instantiation error
func Instantiation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// UnknownSession creates an error for a session id absent from the registry
func UnknownSession(phase Phase, id int64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownSession,
		Detail: fmt.Sprintf("session %d is not loaded", id),
		Value:  id,
	}
}

// AlreadyExists creates an error for a duplicate session id
func AlreadyExists(id int64) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindAlreadyExists,
		Detail: fmt.Sprintf("session %d is already loaded", id),
		Value:  id,
	}
}

// ExportNotFound creates an error for a missing function export
func ExportNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindExportNotFound,
		Detail: fmt.Sprintf("function %q not found", name),
		Value:  name,
	}
}

// ArgumentCountMismatch creates an error for a call with the wrong number of arguments
func ArgumentCountMismatch(export string, want, got int) *Error {
	return &Error{
		Phase:    PhaseDispatch,
		Kind:     KindArgumentCountMismatch,
		Path:     []string{export},
		Expected: fmt.Sprintf("%d arguments", want),
		Actual:   fmt.Sprintf("%d arguments", got),
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, expected, actual string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		Expected: expected,
		Actual:   actual,
	}
}

// ArityMismatch creates an error for a reply carrying fewer values than declared
func ArityMismatch(importID int64, want, got int) *Error {
	return &Error{
		Phase:    PhaseImport,
		Kind:     KindArityMismatch,
		Path:     []string{fmt.Sprintf("import %d", importID)},
		Expected: fmt.Sprintf("%d results", want),
		Actual:   fmt.Sprintf("%d values", got),
	}
}

// UnsupportedValueType creates an error for a non-scalar value type
func UnsupportedValueType(path []string, what string) *Error {
	return &Error{
		Phase:  PhaseTranslate,
		Kind:   KindUnsupportedValueType,
		Path:   path,
		Detail: fmt.Sprintf("value type %s is not supported", what),
		Value:  what,
	}
}

// ChannelDisconnected creates an error for a torn down reply channel
func ChannelDisconnected(importID int64) *Error {
	return &Error{
		Phase:  PhaseImport,
		Kind:   KindChannelDisconnected,
		Detail: fmt.Sprintf("reply channel for import %d disconnected", importID),
		Value:  importID,
	}
}

// DuplicateImportCall creates an error for a second outstanding call on one import id
func DuplicateImportCall(importID int64) *Error {
	return &Error{
		Phase:  PhaseImport,
		Kind:   KindDuplicateImportCall,
		Detail: fmt.Sprintf("import %d already has an outstanding call", importID),
		Value:  importID,
	}
}

// NoSuchImport creates an error for a reply addressed to an undeclared import id
func NoSuchImport(importID int64) *Error {
	return &Error{
		Phase:  PhaseImport,
		Kind:   KindNoSuchImport,
		Detail: fmt.Sprintf("import %d is not declared", importID),
		Value:  importID,
	}
}

// SendFailed creates an error for a reply that could not be delivered
func SendFailed(importID int64, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseImport,
		Kind:   KindSendFailed,
		Path:   []string{fmt.Sprintf("import %d", importID)},
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidConfig creates an engine configuration error
func InvalidConfig(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Timeout creates a deadline expiry error
func Timeout(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Detail: detail,
		Cause:  cause,
	}
}

// Trap creates an error for a failed WebAssembly execution
func Trap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindTrap,
		Path:   []string{export},
		Detail: "execution failed",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
