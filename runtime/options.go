package runtime

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasmbridge/engine"
)

// DefaultQueueDepth is the per-session call queue capacity.
const DefaultQueueDepth = 64

type options struct {
	notifier     Notifier
	log          *zap.Logger
	engineConfig *engine.Config
	stdout       io.Writer
	stderr       io.Writer
	queueDepth   int
	replyTimeout time.Duration
	callTimeout  time.Duration
}

// Option configures a Runtime.
type Option func(*options)

// WithNotifier sets the event target. Without it events are dropped.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithEngineConfig configures the shared engine used by loads without
// their own config.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) { o.engineConfig = &cfg }
}

// WithQueueDepth sets how many calls may wait on one session's worker.
func WithQueueDepth(n int) Option {
	return func(o *options) { o.queueDepth = n }
}

// WithReplyTimeout bounds how long an import stub waits for its reply.
// Zero waits until the session is unloaded.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *options) { o.replyTimeout = d }
}

// WithCallTimeout bounds each CallExport. Zero means no limit. A guest
// stuck in a loop is only stopped if the engine is Interruptible.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithOutput directs WASI stdout and stderr. Both default to discard.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}
