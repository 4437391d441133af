package runtime

import (
	"github.com/wippyai/wasmbridge/scalar"
)

// Event is an asynchronous notification for the external actor.
type Event interface {
	SessionID() int64
}

// Ready reports a successfully loaded session.
type Ready struct {
	Token   string
	Session int64
}

// LoadFailed reports a load that registered nothing.
type LoadFailed struct {
	Err     error
	Token   string
	Session int64
}

// ImportCall asks the actor to run import ImportID with Args and answer
// with ReplyToImport. The guest is blocked until it does.
type ImportCall struct {
	Args     []scalar.Value
	Session  int64
	ImportID int64
}

// CallCompleted carries the results of a CallExport.
type CallCompleted struct {
	Token   string
	Export  string
	Results []scalar.Value
	Session int64
}

// CallFailed reports a CallExport that did not complete.
type CallFailed struct {
	Err     error
	Token   string
	Export  string
	Session int64
}

func (e Ready) SessionID() int64         { return e.Session }
func (e LoadFailed) SessionID() int64    { return e.Session }
func (e ImportCall) SessionID() int64    { return e.Session }
func (e CallCompleted) SessionID() int64 { return e.Session }
func (e CallFailed) SessionID() int64    { return e.Session }

// Notifier delivers events to the external actor. Notify is called from
// session workers and must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type discard struct{}

func (discard) Notify(Event) {}
