package treebus

import (
	"errors"
	"fmt"
)

var (
	// ErrBusDisposed is returned when publishing, subscribing, or creating a
	// child on a disposed bus. Receipts still pending when a bus is disposed
	// resolve with this error.
	ErrBusDisposed = errors.New("bus is disposed")

	// ErrSubscriptionDisposed is returned by PullSubscription.Next once the
	// subscription is disposed and its buffer is drained.
	ErrSubscriptionDisposed = errors.New("subscription is disposed")

	// ErrInvalidLimit is returned when a delivery limit is zero or negative.
	ErrInvalidLimit = errors.New("delivery limit must be positive")

	// ErrNilTopic is returned when a nil topic is passed to publish,
	// subscribe, or pull.
	ErrNilTopic = errors.New("topic cannot be nil")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilBus is returned when a nil bus or subscribe target is provided.
	ErrNilBus = errors.New("bus cannot be nil")

	// ErrHandlerPanic is returned when a handler panics during dispatch.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrAwaitTimeout is returned by Receipt.AwaitWithTimeout when dispatch
	// does not finish within the timeout.
	ErrAwaitTimeout = errors.New("await timed out")
)

// DispatchError reports a handler failure while dispatching a single message.
// It wraps the error the handler returned, or a *PanicError when the handler
// panicked. Without safe publishing it surfaces on the publish receipt; with
// safe publishing it is routed to the bus error handler instead.
type DispatchError struct {
	// Topic is the topic the failing handler was subscribed to.
	Topic AnyTopic

	// Err is the underlying handler error.
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch on topic %q: %v", e.Topic.Name(), e.Err)
}

// Unwrap returns the underlying handler error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace captured at recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
