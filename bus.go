package treebus

import (
	"context"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
)

// ListenerFunc observes every message delivered locally on a bus. It receives
// the topic, the payload, and the number of handler registrations currently
// stored for the topic on this bus. Listeners run before handlers and cannot
// veto or modify delivery.
type ListenerFunc func(topic AnyTopic, payload any, handlers int)

type listenerEntry struct {
	fn  ListenerFunc
	key uintptr
}

// Bus is one node in a dispatch tree. Messages published on a bus are
// delivered to its own subscriptions and, depending on the topic's direction,
// broadcast through its subtree or forwarded one hop to its parent.
//
// A bus owns its children and its subscriptions; disposing it cascades to
// both. It holds only a weak reference to its parent, so a forgotten child
// never keeps an abandoned parent alive.
//
// All methods are safe for concurrent use.
type Bus struct {
	id     string
	parent weak.Pointer[Bus]
	sched  *scheduler
	opts   busOptions

	ctx    context.Context
	cancel context.CancelFunc

	registry *registry

	mu        sync.Mutex
	children  []*Bus
	listeners []listenerEntry
	queue     []task
	draining  bool
	disposed  bool
	flushers  []chan struct{}

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// New creates a root bus. Dispose it when done so pending receipts resolve
// and subscriptions are released.
//
// Example:
//
//	bus := treebus.New(
//	    treebus.WithSafePublishing(),
//	    treebus.WithLogger(logger),
//	)
//	defer bus.Dispose()
func New(opts ...Option) *Bus {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	b := &Bus{
		id:       uuid.New().String(),
		sched:    &scheduler{},
		opts:     options,
		registry: newRegistry(),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.opts.logger.Debug("bus created", slog.String("bus_id", b.id))
	return b
}

// Child creates a bus one level below b. The child shares the tree's dispatch
// order, inherits b's effective options unless overridden by opts, and
// receives a copy of b's current listeners unless listener copying is
// disabled. Disposing b disposes the child.
func (b *Bus) Child(opts ...Option) (*Bus, error) {
	options := b.opts
	for _, opt := range opts {
		opt(&options)
	}

	child := &Bus{
		id:       uuid.New().String(),
		parent:   weak.Make(b),
		sched:    b.sched,
		opts:     options,
		registry: newRegistry(),
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil, ErrBusDisposed
	}
	child.ctx, child.cancel = context.WithCancel(b.ctx)
	if options.copyListeners {
		child.listeners = slices.Clone(b.listeners)
	}
	b.children = append(b.children, child)
	b.mu.Unlock()

	b.opts.logger.Debug("child bus created",
		slog.String("bus_id", child.id),
		slog.String("parent_id", b.id))
	return child, nil
}

// AddListener attaches fn to this bus. Listeners added after a child was
// created do not appear on that child; new children copy the listener list at
// creation. Adding to a disposed bus is a no-op.
func (b *Bus) AddListener(fn ListenerFunc) {
	if fn == nil {
		return
	}

	entry := listenerEntry{fn: fn, key: reflect.ValueOf(fn).Pointer()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.listeners = append(b.listeners, entry)
}

// RemoveListener detaches the first listener matching fn by function
// identity. Closures created by the same function literal share identity, so
// removing one removes the oldest of them.
func (b *Bus) RemoveListener(fn ListenerFunc) {
	if fn == nil {
		return
	}

	key := reflect.ValueOf(fn).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.key == key {
			b.listeners = slices.Delete(b.listeners, i, i+1)
			return
		}
	}
}

// Dispose permanently shuts the bus down: queued publishes resolve their
// receipts with ErrBusDisposed, every subscription is disposed, children are
// disposed recursively, and the bus detaches from its parent. Dispose is
// idempotent and safe to call from a handler running on the same tree.
func (b *Bus) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	children := b.children
	queue := b.queue
	flushers := b.flushers
	b.children = nil
	b.listeners = nil
	b.queue = nil
	b.flushers = nil
	b.mu.Unlock()

	b.cancel()

	for _, t := range queue {
		if t.receipt != nil {
			t.receipt.resolve(ErrBusDisposed)
		}
	}
	for _, reg := range b.registry.drainAll() {
		reg.dispose()
	}
	for _, child := range children {
		child.Dispose()
	}
	if p := b.parent.Value(); p != nil {
		p.removeChild(b)
	}
	for _, ch := range flushers {
		close(ch)
	}

	b.opts.logger.Debug("bus disposed", slog.String("bus_id", b.id))
}

// Flush blocks until the publish queue is empty and dispatch is idle, or ctx
// ends. Calling Flush from a handler on the same tree deadlocks: dispatch
// cannot drain past the handler.
func (b *Bus) Flush(ctx context.Context) error {
	b.mu.Lock()
	if !b.draining && len(b.queue) == 0 {
		b.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	b.flushers = append(b.flushers, done)
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats provides observability metrics for monitoring and tests.
type Stats struct {
	Published     int64 // messages accepted for dispatch on this bus
	Delivered     int64 // successful handler deliveries on this bus
	Failed        int64 // handler failures on this bus, panics included
	Subscriptions int   // registrations currently stored
	Listeners     int   // listeners currently attached
	Children      int   // direct children currently alive
	Pending       int   // queued messages not yet dispatched
	Disposed      bool
}

// Stats returns a point-in-time snapshot of bus activity. This method is
// thread-safe and can be called at any time.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		Listeners: len(b.listeners),
		Children:  len(b.children),
		Pending:   len(b.queue),
		Disposed:  b.disposed,
	}
	b.mu.Unlock()

	s.Published = b.published.Load()
	s.Delivered = b.delivered.Load()
	s.Failed = b.failed.Load()
	s.Subscriptions = b.registry.total()
	return s
}

// Parent returns the parent bus, or nil for a root and for a parent that has
// been garbage collected.
func (b *Bus) Parent() *Bus {
	return b.parent.Value()
}

// Disposed reports whether the bus has been disposed.
func (b *Bus) Disposed() bool {
	return b.isDisposed()
}

// ID returns the bus identifier used in logs.
func (b *Bus) ID() string {
	return b.id
}

func (b *Bus) subscribeTarget() (*Bus, []SubscribeOption) {
	return b, nil
}

func (b *Bus) isDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

func (b *Bus) childrenSnapshot() []*Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.children)
}

func (b *Bus) listenersSnapshot() []listenerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.listeners)
}

func (b *Bus) removeChild(child *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.children {
		if c == child {
			b.children = slices.Delete(b.children, i, i+1)
			return
		}
	}
}
