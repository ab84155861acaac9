package bind

import (
	"sync"

	"github.com/dmitrymomot/treebus"
)

// Binding describes one subscription to make. Build bindings with Handler or
// Once; the zero value is invalid and rejected by Attach.
type Binding struct {
	subscribe func(b *treebus.Bus) (*treebus.Subscription, error)
}

// Handler binds fn to topic t with the given subscription options.
func Handler[T any](t *treebus.Topic[T], fn treebus.Handler[T], opts ...treebus.SubscribeOption) Binding {
	return Binding{
		subscribe: func(b *treebus.Bus) (*treebus.Subscription, error) {
			return treebus.Subscribe(b, t, fn, opts...)
		},
	}
}

// Once binds fn to topic t for exactly one delivery.
func Once[T any](t *treebus.Topic[T], fn treebus.Handler[T]) Binding {
	return Binding{
		subscribe: func(b *treebus.Bus) (*treebus.Subscription, error) {
			return treebus.SubscribeOnce(b, t, fn)
		},
	}
}

// Set owns the subscriptions created by one Attach call. Dispose releases
// them all.
type Set struct {
	mu   sync.Mutex
	subs []*treebus.Subscription
}

// Attach subscribes every binding on b, in order. On the first failure the
// subscriptions already made are disposed and the error is returned, so a
// partially attached component never stays behind.
func Attach(b *treebus.Bus, bindings ...Binding) (*Set, error) {
	subs := make([]*treebus.Subscription, 0, len(bindings))

	for _, binding := range bindings {
		if binding.subscribe == nil {
			disposeAll(subs)
			return nil, ErrNilBinding
		}
		sub, err := binding.subscribe(b)
		if err != nil {
			disposeAll(subs)
			return nil, err
		}
		subs = append(subs, sub)
	}

	return &Set{subs: subs}, nil
}

// Dispose releases every subscription in the set, in subscription order.
// It is idempotent and safe for concurrent use.
func (s *Set) Dispose() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	disposeAll(subs)
}

// Len returns the number of subscriptions the set still owns. It drops to
// zero after Dispose.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func disposeAll(subs []*treebus.Subscription) {
	for _, sub := range subs {
		sub.Dispose()
	}
}
