package treebus

import "slices"

// SubscribeTarget is where a subscription lands: a *Bus directly, or a
// *Builder carrying preset options. Implementations are limited to this
// package.
type SubscribeTarget interface {
	subscribeTarget() (*Bus, []SubscribeOption)
}

// Builder accumulates subscription options for reuse across Subscribe, Pull,
// and First calls on one bus. Builders are immutable: each chained call
// returns a new value, so a partially built chain can be shared safely.
//
//	critical := bus.WithPriority(-10)
//	treebus.Subscribe(critical, topicA, onA)
//	treebus.Subscribe(critical.WithLimit(1), topicB, onB)
//
// Values are validated by the consuming call, not by the chain: WithLimit(0)
// builds fine and Subscribe returns ErrInvalidLimit.
type Builder struct {
	bus  *Bus
	opts []SubscribeOption
}

func (bl *Builder) subscribeTarget() (*Bus, []SubscribeOption) {
	if bl == nil {
		return nil, nil
	}
	return bl.bus, bl.opts
}

func (bl *Builder) with(opt SubscribeOption) *Builder {
	return &Builder{
		bus:  bl.bus,
		opts: append(slices.Clip(bl.opts), opt),
	}
}

// WithLimit returns a builder whose subscriptions are capped at n deliveries.
func (bl *Builder) WithLimit(n int) *Builder {
	return bl.with(WithLimit(n))
}

// WithPriority returns a builder whose subscriptions run at priority p.
func (bl *Builder) WithPriority(p int) *Builder {
	return bl.with(WithPriority(p))
}

// WithLimit starts a subscription builder on b capped at n deliveries.
func (b *Bus) WithLimit(n int) *Builder {
	return &Builder{bus: b, opts: []SubscribeOption{WithLimit(n)}}
}

// WithPriority starts a subscription builder on b at priority p.
func (b *Bus) WithPriority(p int) *Builder {
	return &Builder{bus: b, opts: []SubscribeOption{WithPriority(p)}}
}
