package treebus

import (
	"io"
	"log/slog"
	"os"
)

// Option configures a bus at creation time. Options passed to Child override
// the values inherited from the parent bus.
type Option func(*busOptions)

type busOptions struct {
	safePublishing bool
	errorHandler   func(error)
	logger         *slog.Logger
	copyListeners  bool
}

func defaultOptions() busOptions {
	return busOptions{
		errorHandler:  stderrErrorHandler(),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)), // No-op logger by default
		copyListeners: true,
	}
}

// stderrErrorHandler builds the default error handler: dispatch failures
// routed to it are written to stderr so they are never silently lost.
func stderrErrorHandler() func(error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return func(err error) {
		logger.Error("event handler failed", slog.String("error", err.Error()))
	}
}

// WithSafePublishing keeps dispatch going when a handler fails: the error is
// handed to the bus error handler and the remaining handlers still run.
// Without it the first failure aborts the remaining handlers for that message
// and surfaces on the publish receipt.
func WithSafePublishing() Option {
	return func(o *busOptions) {
		o.safePublishing = true
	}
}

// WithoutSafePublishing switches a bus back to fail-fast dispatch. Useful on
// a child whose parent enabled WithSafePublishing, since children inherit the
// parent's settings.
func WithoutSafePublishing() Option {
	return func(o *busOptions) {
		o.safePublishing = false
	}
}

// WithErrorHandler sets the callback that receives dispatch errors under safe
// publishing. The default writes to stderr. The callback runs on the dispatch
// goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(o *busOptions) {
		if fn != nil {
			o.errorHandler = fn
		}
	}
}

// WithLogger configures structured logging for the bus.
// Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *busOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithoutListenerCopy stops Child from copying the parent's listeners onto
// the new bus. The setting also becomes the default for the new bus's own
// children.
func WithoutListenerCopy() Option {
	return func(o *busOptions) {
		o.copyListeners = false
	}
}

// SubscribeOption tunes a single subscription made with Subscribe or Pull.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	limit    int
	limitSet bool
	priority int
}

func (o subscribeOptions) validate() error {
	if o.limitSet && o.limit <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// effectiveLimit returns the configured delivery limit, -1 when unlimited.
func (o subscribeOptions) effectiveLimit() int {
	if !o.limitSet {
		return -1
	}
	return o.limit
}

// WithLimit caps the subscription at n deliveries. After the nth delivery the
// subscription disposes itself. Subscribe and Pull reject n <= 0 with
// ErrInvalidLimit before anything is registered.
func WithLimit(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		o.limit = n
		o.limitSet = true
	}
}

// WithPriority orders handlers for the same topic on the same bus: lower
// values run first, ties keep subscription order. The default priority is 0.
func WithPriority(p int) SubscribeOption {
	return func(o *subscribeOptions) {
		o.priority = p
	}
}
