package treebus

import (
	"cmp"
	"slices"
	"sync"
)

// registry stores the registrations of one bus keyed by topic. Dispatch walks
// snapshot copies, so subscribing and disposing during delivery never
// invalidates an in-flight walk.
type registry struct {
	mu   sync.RWMutex
	subs map[AnyTopic][]registration
}

func newRegistry() *registry {
	return &registry{subs: make(map[AnyTopic][]registration)}
}

// add appends reg, preserving subscription order within the topic.
func (r *registry) add(topic AnyTopic, reg registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[topic] = append(r.subs[topic], reg)
}

// remove deletes reg by identity. Removing an absent registration is a no-op.
func (r *registry) remove(topic AnyTopic, reg registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs, ok := r.subs[topic]
	if !ok {
		return
	}
	for i, candidate := range regs {
		if candidate == reg {
			r.subs[topic] = slices.Delete(regs, i, i+1)
			break
		}
	}
	if len(r.subs[topic]) == 0 {
		delete(r.subs, topic)
	}
}

// snapshot returns the topic's registrations ordered by priority, lowest
// first, ties in subscription order.
func (r *registry) snapshot(topic AnyTopic) []registration {
	r.mu.RLock()
	regs := r.subs[topic]
	out := make([]registration, len(regs))
	copy(out, regs)
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b registration) int {
		return cmp.Compare(a.priority(), b.priority())
	})
	return out
}

// count returns the number of registrations currently stored for topic.
func (r *registry) count(topic AnyTopic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[topic])
}

// total returns the number of registrations across all topics.
func (r *registry) total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, regs := range r.subs {
		n += len(regs)
	}
	return n
}

// drainAll empties the registry and returns everything it held.
func (r *registry) drainAll() []registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []registration
	for _, regs := range r.subs {
		out = append(out, regs...)
	}
	clear(r.subs)
	return out
}
