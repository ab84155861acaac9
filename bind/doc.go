// Package bind attaches groups of handlers to a bus declaratively and
// disposes them together.
//
// Components that subscribe to several topics usually want all-or-nothing
// setup and one-call teardown. A binding table expresses that:
//
//	type billing struct {
//		store *Store
//	}
//
//	func (s *billing) Attach(bus *treebus.Bus) (*bind.Set, error) {
//		return bind.Attach(bus,
//			bind.Handler(orderPlaced, s.onOrderPlaced),
//			bind.Handler(orderCanceled, s.onOrderCanceled, treebus.WithPriority(-5)),
//			bind.Once(storeReady, s.onReady),
//		)
//	}
//
//	set, err := svc.Attach(bus)
//	if err != nil {
//		return err // nothing was left subscribed
//	}
//	defer set.Dispose()
//
// # Semantics
//
// Attach applies bindings in order through the regular Subscribe path, so
// limits, priorities, and validation behave exactly as they do there. If any
// binding fails, the subscriptions already made are disposed before the error
// returns: a Set either owns every binding or none.
//
// Set.Dispose is idempotent and disposes in subscription order. Disposing the
// bus itself also disposes the underlying subscriptions; a later Set.Dispose
// is then a no-op.
package bind
