package treebus

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
)

// pullResult carries one resolved wait: a value, or the end of the
// subscription when ok is false.
type pullResult[T any] struct {
	value T
	ok    bool
}

// PullSubscription is the pull-based subscription variant returned by Pull.
// No handler runs on dispatch; values queue in an internal buffer until the
// consumer asks for them with Next or Values, and consumers waiting on an
// empty buffer are served oldest first.
//
// The subscription registers with its bus on the first Next call, not at Pull
// time, so an unused PullSubscription costs the bus nothing and captures no
// messages.
type PullSubscription[T any] struct {
	core regCore

	mu         sync.Mutex
	buf        []T
	waiters    []chan pullResult[T]
	registered bool
}

func (s *PullSubscription[T]) priority() int { return s.core.priority() }

func (s *PullSubscription[T]) claim() (bool, bool) { return s.core.claim() }

// deliver routes one payload to the oldest waiter, or buffers it when nobody
// is waiting. Dispatch never blocks on a slow consumer.
func (s *PullSubscription[T]) deliver(_ context.Context, payload any) error {
	v, ok := payload.(T)
	if !ok {
		return fmt.Errorf("unexpected payload type: %T", payload)
	}

	s.mu.Lock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		w <- pullResult[T]{value: v, ok: true}
		return nil
	}
	s.buf = append(s.buf, v)
	s.mu.Unlock()
	return nil
}

// dispose finishes the subscription: waiters resolve as finished, the
// registration leaves the bus, and already-buffered values stay pullable.
func (s *PullSubscription[T]) dispose() {
	if !s.core.markDisposed() {
		return
	}

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	registered := s.registered
	s.mu.Unlock()

	if registered {
		s.core.bus.registry.remove(s.core.topic, s)
	}
	for _, w := range waiters {
		w <- pullResult[T]{}
	}
}

// ensureRegistered performs the deferred registry insertion on first use. If
// the bus was disposed since Pull, the subscription finishes instead.
func (s *PullSubscription[T]) ensureRegistered() {
	s.mu.Lock()
	if s.registered {
		s.mu.Unlock()
		return
	}
	s.registered = true
	s.mu.Unlock()

	if s.core.isDisposed() {
		return
	}

	b := s.core.bus
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		s.dispose()
		return
	}
	b.registry.add(s.core.topic, s)
	b.mu.Unlock()

	// dispose may have run between the registered flip and the insert and
	// found nothing to remove. Re-check so the entry cannot outlive the
	// subscription; remove tolerates both sides racing it.
	if s.core.isDisposed() {
		b.registry.remove(s.core.topic, s)
	}
}

// Next blocks until a value is available, the subscription finishes, or ctx
// ends. Values buffered before disposal remain pullable afterwards; once the
// buffer is drained Next returns ErrSubscriptionDisposed.
//
// Calling Next from a handler on the same bus tree deadlocks unless a value
// is already buffered: dispatch cannot proceed past the handler to deliver
// one.
func (s *PullSubscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	s.ensureRegistered()

	s.mu.Lock()
	if len(s.buf) > 0 {
		v := s.buf[0]
		s.buf = s.buf[1:]
		s.mu.Unlock()
		return v, nil
	}
	if s.core.isDisposed() {
		s.mu.Unlock()
		return zero, ErrSubscriptionDisposed
	}
	w := make(chan pullResult[T], 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case res := <-w:
		if !res.ok {
			return zero, ErrSubscriptionDisposed
		}
		return res.value, nil
	case <-ctx.Done():
		withdrawn := false
		s.mu.Lock()
		for i, candidate := range s.waiters {
			if candidate == w {
				s.waiters = slices.Delete(s.waiters, i, i+1)
				withdrawn = true
				break
			}
		}
		s.mu.Unlock()
		if withdrawn {
			return zero, ctx.Err()
		}

		// The waiter is no longer queued: a deliver or dispose claimed it
		// and sends exactly one result. A committed value wins over
		// cancellation.
		res := <-w
		if res.ok {
			return res.value, nil
		}
		return zero, ctx.Err()
	}
}

// Values adapts the subscription to a single-use iterator. The sequence ends
// when the subscription finishes or ctx ends; breaking out early disposes the
// subscription.
func (s *PullSubscription[T]) Values(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(v) {
				s.Dispose()
				return
			}
		}
	}
}

// Topic returns the topic the subscription is bound to.
func (s *PullSubscription[T]) Topic() AnyTopic {
	return s.core.topic
}

// Disposed reports whether the subscription has finished. Buffered values may
// still be pullable after disposal.
func (s *PullSubscription[T]) Disposed() bool {
	return s.core.isDisposed()
}

// Dispose finishes the subscription and releases anyone blocked in Next. It
// is idempotent. Buffered values survive and remain pullable.
func (s *PullSubscription[T]) Dispose() {
	s.dispose()
}

// Pull creates a lazy subscription on topic t: no handler is involved, and
// values are consumed with Next or Values. The registry insertion is deferred
// to the first Next, so messages published between Pull and the first Next
// are not captured.
//
// Example:
//
//	sub, err := treebus.Pull(bus, results)
//	if err != nil {
//	    return err
//	}
//	defer sub.Dispose()
//	for r := range sub.Values(ctx) {
//	    process(r)
//	}
func Pull[T any](on SubscribeTarget, t *Topic[T], opts ...SubscribeOption) (*PullSubscription[T], error) {
	if on == nil {
		return nil, ErrNilBus
	}
	if t == nil {
		return nil, ErrNilTopic
	}

	b, options, err := resolveTarget(on, opts)
	if err != nil {
		return nil, err
	}
	if b.isDisposed() {
		return nil, ErrBusDisposed
	}

	return &PullSubscription[T]{
		core: regCore{
			bus:       b,
			topic:     t,
			prio:      options.priority,
			remaining: options.effectiveLimit(),
		},
	}, nil
}

// First waits for the next single value published on topic t. It is the pull
// analogue of SubscribeOnce: the underlying subscription is limited to one
// delivery and disposed on return.
func First[T any](ctx context.Context, on SubscribeTarget, t *Topic[T]) (T, error) {
	var zero T

	sub, err := Pull(on, t, WithLimit(1))
	if err != nil {
		return zero, err
	}
	defer sub.Dispose()
	return sub.Next(ctx)
}
