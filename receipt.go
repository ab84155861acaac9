package treebus

import (
	"context"
	"sync"
	"time"
)

// Receipt reports the outcome of a single publish once dispatch of that
// message has finished everywhere it propagated.
//
// Without safe publishing the first handler failure resolves the receipt with
// a *DispatchError. With safe publishing failures go to the bus error handler
// instead and the receipt resolves nil. A receipt still pending when its bus
// is disposed resolves with ErrBusDisposed.
type Receipt struct {
	err  error
	once sync.Once
	done chan struct{}
}

func newReceipt() *Receipt {
	return &Receipt{done: make(chan struct{})}
}

// resolve records the dispatch outcome. Later calls are no-ops.
func (r *Receipt) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Await blocks until dispatch finishes and returns its outcome.
// Calling Await from a handler on the same bus tree deadlocks: the dispatch
// the receipt is waiting on cannot proceed past the handler.
func (r *Receipt) Await() error {
	<-r.done
	return r.err
}

// AwaitWithTimeout waits for dispatch to finish with a timeout.
// If the timeout elapses first, returns ErrAwaitTimeout.
func (r *Receipt) AwaitWithTimeout(timeout time.Duration) error {
	select {
	case <-r.done:
		return r.err
	case <-time.After(timeout):
		return ErrAwaitTimeout
	}
}

// AwaitContext waits for dispatch to finish or ctx to end, whichever comes
// first.
func (r *Receipt) AwaitContext(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsComplete checks whether dispatch has finished without blocking.
func (r *Receipt) IsComplete() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
