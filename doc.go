// Package treebus provides a hierarchical in-process publish/subscribe
// dispatcher. Buses form a tree: messages published on one bus are delivered
// to its own subscribers and, depending on the topic, broadcast through its
// subtree or forwarded one hop to its parent. Delivery is asynchronous with
// strict FIFO ordering per bus and a single logical dispatch thread per tree.
//
// # Core Components
//
// Topic is a typed, opaque message identifier created once and shared by
// publishers and subscribers. The payload type rides on the topic, so
// publishing a wrong payload or subscribing with a wrong handler signature
// fails at compile time.
//
// Bus is one node of the dispatch tree. New creates a root; Child grows the
// tree. Disposing a bus cascades to its children, while parents are only
// weakly referenced so an abandoned subtree can be collected.
//
// Subscribe attaches handler callbacks with optional delivery limits and
// priorities. Pull creates a handler-free subscription whose values are
// consumed on demand, one at a time or as an iterator.
//
// Listeners observe every message delivered locally on a bus, before
// handlers run, together with the current handler count for the topic.
//
// Receipt is a future returned by PublishResult that resolves once dispatch
// of that message has finished everywhere it propagated.
//
// # Basic Usage
//
// Declare topics as package-level variables, subscribe, publish:
//
//	import (
//		"context"
//		"log/slog"
//		"os"
//
//		"github.com/dmitrymomot/treebus"
//	)
//
//	type OrderPlaced struct {
//		OrderID string
//		Total   int
//	}
//
//	var orderPlaced = treebus.NewTopic[OrderPlaced]("order.placed", treebus.DirectionChildren)
//
//	func main() {
//		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
//
//		bus := treebus.New(treebus.WithLogger(logger))
//		defer bus.Dispose()
//
//		sub, err := treebus.Subscribe(bus, orderPlaced, func(ctx context.Context, msg OrderPlaced) error {
//			logger.Info("order placed", "order_id", msg.OrderID, "total", msg.Total)
//			return nil
//		})
//		if err != nil {
//			panic(err)
//		}
//		defer sub.Dispose()
//
//		if err := treebus.Publish(bus, orderPlaced, OrderPlaced{OrderID: "ord_123", Total: 4200}); err != nil {
//			panic(err)
//		}
//
//		// Delivery is asynchronous; wait for the queue to drain.
//		_ = bus.Flush(context.Background())
//	}
//
// # Bus Trees and Broadcast Direction
//
// A topic's direction decides where messages travel beyond the bus they were
// published on. DirectionChildren delivers through the whole subtree before
// the publishing bus's own subscribers run; DirectionParent forwards a single
// hop up:
//
//	var configChanged = treebus.NewTopic[Config]("config.changed", treebus.DirectionChildren)
//	var moduleReady = treebus.NewTopic[string]("module.ready", treebus.DirectionParent)
//
//	root := treebus.New()
//	defer root.Dispose()
//
//	module, _ := root.Child()
//
//	// Subscribers on module see configChanged published on root.
//	treebus.Subscribe(module, configChanged, applyConfig)
//
//	// Subscribers on root see moduleReady published on module.
//	treebus.Subscribe(root, moduleReady, trackReadiness)
//
// Disposing root disposes module along with every subscription on both.
//
// # Delivery Order, Limits, and Priority
//
// Handlers for one topic on one bus run in priority order, lowest value
// first, ties in subscription order. Limits cap how many deliveries a
// subscription receives before it disposes itself:
//
//	// Runs before priority-0 subscribers, at most 3 times.
//	treebus.Subscribe(bus, orderPlaced, audit,
//		treebus.WithPriority(-10),
//		treebus.WithLimit(3))
//
//	// The same options as a reusable builder.
//	early := bus.WithPriority(-10)
//	treebus.Subscribe(early, orderPlaced, audit)
//	treebus.SubscribeOnce(early, orderPlaced, warmCache)
//
// # Error Handling
//
// By default a handler error or panic aborts the remaining handlers for that
// message. Fire-and-forget publishes log the failure; PublishResult surfaces
// it on the receipt:
//
//	receipt, _ := treebus.PublishResult(bus, orderPlaced, order)
//	if err := receipt.Await(); err != nil {
//		var derr *treebus.DispatchError
//		if errors.As(err, &derr) {
//			logger.Error("dispatch failed", "topic", derr.Topic.Name(), "error", derr.Err)
//		}
//	}
//
// With safe publishing the bus routes failures to its error handler and keeps
// dispatching:
//
//	bus := treebus.New(
//		treebus.WithSafePublishing(),
//		treebus.WithErrorHandler(func(err error) {
//			metrics.CountDispatchError(err)
//		}),
//	)
//
// Each bus in a tree applies its own policy to the handlers it hosts.
//
// # Pull Subscriptions
//
// Pull inverts delivery: values queue inside the subscription and the
// consumer takes them when ready. The subscription joins the bus on the first
// Next call, not at Pull time:
//
//	sub, err := treebus.Pull(bus, orderPlaced)
//	if err != nil {
//		return err
//	}
//	defer sub.Dispose()
//
//	for order := range sub.Values(ctx) {
//		process(order)
//	}
//
// For a single value, First subscribes, waits, and cleans up:
//
//	order, err := treebus.First(ctx, bus, orderPlaced)
//
// # Configuration
//
// Bus policy can come from the environment using the standard env tags:
//
//	cfg, err := treebus.LoadConfig() // reads BUS_SAFE_PUBLISHING, BUS_COPY_LISTENERS
//	if err != nil {
//		log.Fatal(err)
//	}
//	bus := treebus.NewFromConfig(cfg, treebus.WithLogger(logger))
//
// # Concurrency Model
//
// Publish never blocks: it appends to the bus's FIFO queue and returns. A
// single drain goroutine per bus empties the queue, and a tree-wide lock
// serializes task execution, so handlers never run concurrently within one
// tree and per-bus publish order is preserved. Handlers may publish,
// subscribe, and dispose freely. The only forbidden move is waiting for your
// own tree from inside a handler: Receipt.Await, Bus.Flush, and
// PullSubscription.Next on an empty buffer all need dispatch to advance,
// which is blocked behind the running handler.
//
// All exported types are safe for concurrent use.
package treebus
