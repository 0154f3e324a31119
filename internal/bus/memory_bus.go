// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/metrics"
)

// MemoryBus is an in-process pub/sub. Every subscriber owns an unbounded
// FIFO mailbox drained by a single goroutine, so Publish never blocks on a
// slow reader and never drops or reorders messages for a live subscriber.
type MemoryBus[T any] struct {
	mu    sync.RWMutex
	subs  map[string][]*mailbox[T]
	label func(topic string) string
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// Option configures a MemoryBus.
type Option[T any] func(*MemoryBus[T])

// WithTopicLabel maps topics to low-cardinality metric labels.
func WithTopicLabel[T any](fn func(topic string) string) Option[T] {
	return func(b *MemoryBus[T]) { b.label = fn }
}

func NewMemoryBus[T any](opts ...Option[T]) *MemoryBus[T] {
	b := &MemoryBus[T]{
		subs:  make(map[string][]*mailbox[T]),
		label: func(string) string { return "all" },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Publish appends msg to the mailbox of every subscriber of topic.
// Callers that need a total order across publishers must serialise their
// Publish calls themselves.
func (b *MemoryBus[T]) Publish(ctx context.Context, topic string, msg T) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	label := b.label(topic)
	if err := ctx.Err(); err != nil {
		reason := publishDropReason(err)
		metrics.IncBusDropReason(label, reason)
		if count := dropCount.Add(1); count%dropLogEvery == 0 {
			log.L().Warn().
				Str("topic", topic).
				Str("reason", reason).
				Uint64("dropped", count).
				Msg("memory bus abandoned publishes due to context cancellation")
		}
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}

	b.mu.RLock()
	for _, mb := range b.subs[topic] {
		if depth := mb.push(msg); depth > 1 {
			metrics.ObserveMailboxDepth(label, depth)
		}
	}
	b.mu.RUnlock()
	metrics.IncBusPublished(label)
	return nil
}

// Subscribe registers a subscriber for topic. The subscription is closed
// when ctx is done or Close is called.
func (b *MemoryBus[T]) Subscribe(ctx context.Context, topic string, opts ...SubscribeOption[T]) (Subscriber[T], error) {
	if ctx == nil {
		return nil, fmt.Errorf("subscribe context is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe topic %q: %w", topic, err)
	}
	var cfg subscribeConfig[T]
	for _, opt := range opts {
		opt(&cfg)
	}

	mb := newMailbox[T]()
	sub := &memSub[T]{b: b, topic: topic, mb: mb}

	b.mu.Lock()
	for _, msg := range cfg.initial {
		mb.push(msg)
	}
	b.subs[topic] = append(b.subs[topic], mb)
	b.mu.Unlock()
	metrics.AddBusSubscribers(b.label(topic), 1)

	go mb.pump()
	sub.stop = context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

// CloseTopic closes every subscriber of topic. Messages still queued for
// them are discarded and their channels are closed.
func (b *MemoryBus[T]) CloseTopic(topic string) {
	b.mu.Lock()
	lst := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for _, mb := range lst {
		mb.close()
	}
	if n := len(lst); n > 0 {
		metrics.AddBusSubscribers(b.label(topic), -float64(n))
	}
}

// Subscribers returns the number of subscribers registered on topic.
func (b *MemoryBus[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *MemoryBus[T]) remove(topic string, target *mailbox[T]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	lst := b.subs[topic]
	out := lst[:0]
	found := false
	for _, mb := range lst {
		if mb == target {
			found = true
			continue
		}
		out = append(out, mb)
	}
	if len(out) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = out
	}
	return found
}

type memSub[T any] struct {
	b     *MemoryBus[T]
	topic string
	mb    *mailbox[T]
	stop  func() bool
	once  sync.Once
}

func (s *memSub[T]) C() <-chan T {
	return s.mb.out
}

func (s *memSub[T]) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		if s.b.remove(s.topic, s.mb) {
			metrics.AddBusSubscribers(s.b.label(s.topic), -1)
		}
		s.mb.close()
	})
	return nil
}

// Ensure compliance
var _ Bus[int] = (*MemoryBus[int])(nil)
