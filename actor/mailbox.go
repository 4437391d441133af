package actor

import (
	"context"
	"errors"
	"sync"

	"github.com/wippyai/wasmbridge/runtime"
)

// ErrClosed is returned by Receive once the mailbox is closed and empty.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded event queue implementing runtime.Notifier.
// Notify never blocks and never drops: a dropped ImportCall would leave a
// guest waiting forever.
type Mailbox struct {
	signal chan struct{}
	queue  []runtime.Event
	mu     sync.Mutex
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{signal: make(chan struct{}, 1)}
}

// Notify enqueues e. Events sent after Close are discarded.
func (m *Mailbox) Notify(e runtime.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, e)
	m.mu.Unlock()
	m.wake()
}

func (m *Mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// TryReceive dequeues the oldest event without waiting.
func (m *Mailbox) TryReceive() (runtime.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	e := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return e, true
}

// Receive waits for the next event.
func (m *Mailbox) Receive(ctx context.Context) (runtime.Event, error) {
	for {
		if e, ok := m.TryReceive(); ok {
			return e, nil
		}
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		select {
		case <-m.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops accepting events. Queued events can still be received.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

var _ runtime.Notifier = (*Mailbox)(nil)
