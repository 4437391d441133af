package runtime

import (
	"context"
	"strconv"
	"sync"

	"github.com/wippyai/wasmbridge/errors"
	"github.com/wippyai/wasmbridge/scalar"
)

// ReplyTable maps import ids to single-slot reply channels for one session.
// Channels are created during bootstrap and never recreated. Close
// disconnects every channel at once.
type ReplyTable struct {
	channels map[int64]*replyChannel
	done     chan struct{}
	mu       sync.RWMutex
	once     sync.Once
}

// replyChannel holds at most one pending reply for the one outstanding
// call on its import id.
type replyChannel struct {
	ready    chan struct{}
	pending  []scalar.Value
	id       int64
	mu       sync.Mutex
	inFlight bool
	hasReply bool
}

// NewReplyTable returns an empty table.
func NewReplyTable() *ReplyTable {
	return &ReplyTable{
		channels: make(map[int64]*replyChannel),
		done:     make(chan struct{}),
	}
}

// Create adds the channel for id. Each id is created once.
func (t *ReplyTable) Create(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.channels[id]; ok {
		return errors.New(errors.PhaseImport, errors.KindInvalidInput).
			Detail("import %d declared twice", id).
			Value(id).
			Build()
	}
	t.channels[id] = &replyChannel{id: id, ready: make(chan struct{}, 1)}
	return nil
}

func (t *ReplyTable) lookup(id int64) *replyChannel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.channels[id]
}

// Send delivers values to the call outstanding on id. A reply with no
// outstanding call, or a second reply before the first is consumed, is
// rejected rather than held for a later call.
func (t *ReplyTable) Send(id int64, values []scalar.Value) error {
	c := t.lookup(id)
	if c == nil {
		return errors.NoSuchImport(id)
	}
	select {
	case <-t.done:
		return errors.SendFailed(id, "session is closed", errors.ChannelDisconnected(id))
	default:
	}

	c.mu.Lock()
	switch {
	case !c.inFlight:
		c.mu.Unlock()
		return errors.SendFailed(id, "no outstanding call", nil)
	case c.hasReply:
		c.mu.Unlock()
		return errors.SendFailed(id, "a reply is already pending", nil)
	}
	c.pending = values
	c.hasReply = true
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return nil
}

// begin marks a call outstanding on id. A second call before the first is
// answered fails with duplicate_import_call.
func (t *ReplyTable) begin(id int64) (*replyChannel, error) {
	c := t.lookup(id)
	if c == nil {
		return nil, errors.NoSuchImport(id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return nil, errors.DuplicateImportCall(id)
	}
	c.inFlight = true
	c.hasReply = false
	c.pending = nil
	select {
	case <-c.ready:
	default:
	}
	return c, nil
}

// take consumes the pending reply and ends the outstanding call.
func (c *replyChannel) take() ([]scalar.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasReply {
		return nil, false
	}
	v := c.pending
	c.pending = nil
	c.hasReply = false
	c.inFlight = false
	return v, true
}

// abandon ends the outstanding call without a reply.
func (c *replyChannel) abandon() {
	c.mu.Lock()
	c.inFlight = false
	c.hasReply = false
	c.pending = nil
	c.mu.Unlock()
}

// Recv blocks until the reply for id arrives, the table is closed, or ctx
// ends. While waiting it runs tasks from w inline, so calls queued on the
// same session worker can proceed. w may be nil.
func (t *ReplyTable) Recv(ctx context.Context, id int64, w *worker) ([]scalar.Value, error) {
	c, err := t.begin(id)
	if err != nil {
		return nil, err
	}
	return t.wait(ctx, c, w)
}

func (t *ReplyTable) wait(ctx context.Context, c *replyChannel, w *worker) ([]scalar.Value, error) {
	var tasks <-chan task
	if w != nil {
		tasks = w.tasks
	}
	for {
		select {
		case <-c.ready:
			if v, ok := c.take(); ok {
				return v, nil
			}
		case <-t.done:
			c.abandon()
			return nil, errors.ChannelDisconnected(c.id)
		case <-ctx.Done():
			c.abandon()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, errors.Timeout(errors.PhaseImport, "no reply for import "+strconv.FormatInt(c.id, 10), ctx.Err())
			}
			return nil, errors.ChannelDisconnected(c.id)
		case tk := <-tasks:
			tk.run(w.ctx)
		}
	}
}

// Close disconnects every channel. Blocked receivers return
// channel_disconnected; later sends fail.
func (t *ReplyTable) Close() {
	t.once.Do(func() { close(t.done) })
}

// Len returns the number of channels.
func (t *ReplyTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}
