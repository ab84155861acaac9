package treebus

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes messages of type T delivered to a subscription. The
// context is the delivering bus's lifecycle context; it is canceled when that
// bus is disposed. Returning an error fails the dispatch under the bus error
// policy.
type Handler[T any] func(ctx context.Context, msg T) error

// registration is the registry's view of one subscription, uniform across the
// handler and pull variants.
type registration interface {
	// claim consumes one delivery permit before deliver is called.
	claim() (ok bool, last bool)

	// deliver hands one payload to the subscriber.
	deliver(ctx context.Context, payload any) error

	// dispose deactivates the registration and removes it from its bus.
	// Idempotent, safe to call during dispatch.
	dispose()

	priority() int
}

// regCore carries the state shared by both registration variants: the owning
// bus, priority, remaining delivery count, and disposed flag.
type regCore struct {
	bus   *Bus
	topic AnyTopic
	prio  int

	mu        sync.Mutex
	remaining int // -1 when unlimited
	disposed  bool
}

func (c *regCore) priority() int { return c.prio }

// claim consumes one delivery permit. last reports that this delivery
// exhausts the limit, so the caller must dispose the registration after the
// payload has been handed over.
func (c *regCore) claim() (ok bool, last bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || c.remaining == 0 {
		return false, false
	}
	if c.remaining > 0 {
		c.remaining--
		last = c.remaining == 0
	}
	return true, last
}

// markDisposed flips the disposed flag and reports whether this call did it.
func (c *regCore) markDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return false
	}
	c.disposed = true
	return true
}

func (c *regCore) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// handlerRegistration is the eager variant: a type-erased callback invoked
// inline during dispatch.
type handlerRegistration struct {
	regCore
	fn func(context.Context, any) error
}

func (h *handlerRegistration) deliver(ctx context.Context, payload any) error {
	return h.fn(ctx, payload)
}

func (h *handlerRegistration) dispose() {
	if !h.markDisposed() {
		return
	}
	h.bus.registry.remove(h.topic, h)
}

// Subscription is the handle returned by Subscribe and SubscribeOnce.
type Subscription struct {
	reg *handlerRegistration
}

// Topic returns the topic the subscription is bound to.
func (s *Subscription) Topic() AnyTopic {
	return s.reg.topic
}

// Disposed reports whether the subscription is no longer active.
func (s *Subscription) Disposed() bool {
	return s.reg.isDisposed()
}

// Dispose cancels the subscription and removes it from its bus. It is
// idempotent and safe to call from inside a handler. A message that already
// started dispatching may still be delivered once.
func (s *Subscription) Dispose() {
	s.reg.dispose()
}

// Subscribe registers fn for messages on topic t. The target is either a
// *Bus or a *Builder carrying preset options.
//
// Handlers run one at a time on the dispatch goroutine of the bus tree, in
// priority order within the topic. A handler may publish, subscribe, and
// dispose freely, but must not wait for its own bus tree (Receipt.Await,
// Flush, PullSubscription.Next) or dispatch stalls forever.
//
// Example:
//
//	orders := treebus.NewTopic[Order]("order.placed", treebus.DirectionChildren)
//	sub, err := treebus.Subscribe(bus, orders, func(ctx context.Context, o Order) error {
//	    return store.Save(ctx, o)
//	}, treebus.WithPriority(-1))
func Subscribe[T any](on SubscribeTarget, t *Topic[T], fn Handler[T], opts ...SubscribeOption) (*Subscription, error) {
	if on == nil {
		return nil, ErrNilBus
	}
	if t == nil {
		return nil, ErrNilTopic
	}
	if fn == nil {
		return nil, ErrNilHandler
	}

	b, options, err := resolveTarget(on, opts)
	if err != nil {
		return nil, err
	}

	reg := &handlerRegistration{
		regCore: regCore{
			bus:       b,
			topic:     t,
			prio:      options.priority,
			remaining: options.effectiveLimit(),
		},
		fn: func(ctx context.Context, payload any) error {
			msg, ok := payload.(T)
			if !ok {
				return fmt.Errorf("unexpected payload type: %T", payload)
			}
			return fn(ctx, msg)
		},
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil, ErrBusDisposed
	}
	b.registry.add(t, reg)
	b.mu.Unlock()

	return &Subscription{reg: reg}, nil
}

// SubscribeOnce registers fn for exactly one delivery. The subscription
// disposes itself after the message is handled.
func SubscribeOnce[T any](on SubscribeTarget, t *Topic[T], fn Handler[T]) (*Subscription, error) {
	return Subscribe(on, t, fn, WithLimit(1))
}

// resolveTarget expands a subscribe target into its bus and the merged,
// validated options. Target options apply first, call-site options override.
func resolveTarget(on SubscribeTarget, opts []SubscribeOption) (*Bus, subscribeOptions, error) {
	b, base := on.subscribeTarget()
	if b == nil {
		return nil, subscribeOptions{}, ErrNilBus
	}

	var options subscribeOptions
	for _, opt := range base {
		opt(&options)
	}
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.validate(); err != nil {
		return nil, subscribeOptions{}, err
	}
	return b, options, nil
}
