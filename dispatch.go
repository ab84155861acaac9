package treebus

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// task is one queued delivery: a payload bound for a topic plus routing
// flags. broadcast is set only for the originating bus; notifyListeners only
// where listeners should observe the message.
type task struct {
	topic           AnyTopic
	payload         any
	broadcast       bool
	notifyListeners bool
	receipt         *Receipt
}

// scheduler serializes task execution across one bus tree. Every bus in a
// tree shares the scheduler created by its root, so no two tasks run
// concurrently anywhere in the tree.
type scheduler struct {
	mu sync.Mutex
}

// Publish enqueues value for delivery on topic t and returns without waiting
// for dispatch. Handlers run later on the tree's dispatch goroutine, in FIFO
// order per bus. Failures that escape the bus error policy are logged; use
// PublishResult to observe them.
func Publish[T any](b *Bus, t *Topic[T], value T) error {
	if b == nil {
		return ErrNilBus
	}
	if t == nil {
		return ErrNilTopic
	}
	return b.enqueue(task{topic: t, payload: value, broadcast: true, notifyListeners: true})
}

// PublishResult enqueues value like Publish and additionally returns a
// Receipt that resolves when dispatch of this message has finished everywhere
// it propagated.
func PublishResult[T any](b *Bus, t *Topic[T], value T) (*Receipt, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	if t == nil {
		return nil, ErrNilTopic
	}

	r := newReceipt()
	if err := b.enqueue(task{topic: t, payload: value, broadcast: true, notifyListeners: true, receipt: r}); err != nil {
		return nil, err
	}
	return r, nil
}

// enqueue appends t to the publish queue and starts a drain if none is
// running. At most one drain goroutine exists per bus at any time; publish
// bursts coalesce into the running drain.
func (b *Bus) enqueue(t task) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return ErrBusDisposed
	}
	b.queue = append(b.queue, t)
	start := !b.draining
	if start {
		b.draining = true
	}
	b.mu.Unlock()

	b.published.Add(1)
	if start {
		go b.drain()
	}
	return nil
}

// drain pops and executes queued tasks in FIFO order until the queue is
// empty, then releases any Flush waiters and exits. Disposal empties the
// queue, so a drain never outlives its bus.
func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			flushers := b.flushers
			b.flushers = nil
			b.mu.Unlock()
			for _, ch := range flushers {
				close(ch)
			}
			return
		}
		t := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.sched.mu.Lock()
		err := b.deliverNow(t.topic, t.payload, t.broadcast, t.notifyListeners)
		b.sched.mu.Unlock()

		if t.receipt != nil {
			t.receipt.resolve(err)
		} else if err != nil {
			b.opts.logger.Error("dispatch failed",
				slog.String("bus_id", b.id),
				slog.String("topic", t.topic.Name()),
				slog.String("error", err.Error()))
		}
	}
}

// deliverNow dispatches one message on this bus synchronously: propagation
// first, then listeners, then local handlers in priority order. The returned
// error is the first failure that escaped a bus's error policy; it aborts the
// rest of the dispatch.
func (b *Bus) deliverNow(topic AnyTopic, payload any, broadcast, notifyListeners bool) error {
	if b.isDisposed() {
		return nil
	}

	if broadcast {
		switch topic.Direction() {
		case DirectionChildren:
			for _, child := range b.childrenSnapshot() {
				if err := child.deliverNow(topic, payload, true, false); err != nil {
					return err
				}
			}
		case DirectionParent:
			if p := b.parent.Value(); p != nil {
				if err := p.deliverNow(topic, payload, false, false); err != nil {
					return err
				}
			}
		}
	}

	if notifyListeners {
		count := b.registry.count(topic)
		for _, l := range b.listenersSnapshot() {
			b.notifyListener(l, topic, payload, count)
		}
	}

	for _, reg := range b.registry.snapshot(topic) {
		ok, last := reg.claim()
		if !ok {
			continue
		}
		err := b.invoke(reg, payload)
		if last {
			reg.dispose()
		}
		if err != nil {
			b.failed.Add(1)
			derr := &DispatchError{Topic: topic, Err: err}
			if b.opts.safePublishing {
				b.consumeError(derr)
				continue
			}
			return derr
		}
		b.delivered.Add(1)
	}
	return nil
}

// invoke runs one registration's deliver with panic recovery, so a crashing
// handler degrades into a dispatch error instead of taking the process down.
func (b *Bus) invoke(reg registration, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return reg.deliver(b.ctx, payload)
}

// consumeError hands a dispatch failure to the configured error handler with
// panic recovery. The handler is user code and must not be able to kill the
// dispatch goroutine.
func (b *Bus) consumeError(derr *DispatchError) {
	defer func() {
		if r := recover(); r != nil {
			b.opts.logger.Error("error handler panicked",
				slog.String("bus_id", b.id),
				slog.String("topic", derr.Topic.Name()),
				slog.Any("panic", r))
		}
	}()
	b.opts.errorHandler(derr)
}

// notifyListener runs one listener with panic recovery. Listener panics are
// logged and never abort dispatch.
func (b *Bus) notifyListener(l listenerEntry, topic AnyTopic, payload any, handlers int) {
	defer func() {
		if r := recover(); r != nil {
			b.opts.logger.Error("listener panicked",
				slog.String("bus_id", b.id),
				slog.String("topic", topic.Name()),
				slog.Any("panic", r))
		}
	}()
	l.fn(topic, payload, handlers)
}
