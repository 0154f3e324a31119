// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import "context"

// Subscriber receives the messages of one topic in publish order.
type Subscriber[T any] interface {
	// C returns a read-only message channel. It is closed after Close.
	C() <-chan T
	// Close unsubscribes. It is safe to call more than once.
	Close() error
}

// Bus is the event transport abstraction.
type Bus[T any] interface {
	Publish(ctx context.Context, topic string, msg T) error
	Subscribe(ctx context.Context, topic string, opts ...SubscribeOption[T]) (Subscriber[T], error)
}

type subscribeConfig[T any] struct {
	initial []T
}

// SubscribeOption customises a subscription.
type SubscribeOption[T any] func(*subscribeConfig[T])

// WithInitial enqueues msg ahead of anything published after the
// subscription is registered. Registration and seeding happen under the bus
// lock, so no publish can slip in between.
func WithInitial[T any](msg T) SubscribeOption[T] {
	return func(c *subscribeConfig[T]) {
		c.initial = append(c.initial, msg)
	}
}
