// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"fmt"

	"github.com/ManuGH/playerstate/internal/bus"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
)

// Subscription delivers the values of one descriptor+slice: the current
// value first, then every committed change in commit order.
type Subscription struct {
	d    descriptor.Descriptor
	kind state.Kind
	sub  bus.Subscriber[state.Update]
}

// C is closed when the subscription ends: its context is done, Close is
// called or the descriptor is destroyed.
func (s *Subscription) C() <-chan state.Update { return s.sub.C() }

// Close releases the subscription.
func (s *Subscription) Close() error { return s.sub.Close() }

func (s *Subscription) Descriptor() descriptor.Descriptor { return s.d }
func (s *Subscription) Kind() state.Kind                  { return s.kind }

// Subscribe attaches a consumer to one slice of d for the lifetime of ctx.
// Subscriptions are identified by descriptor value only, so consumers that
// share nothing but the descriptor see identical sequences.
func (s *Store) Subscribe(ctx context.Context, d descriptor.Descriptor, kind state.Kind) (*Subscription, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("subscribe %s: %w", kind, ErrInvalidKind)
	}
	inst, err := s.lookup(d)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.closed {
		return nil, fmt.Errorf("%s: %w", d, ErrUnknownDescriptor)
	}
	seed := state.Update{
		Descriptor: d.String(),
		Kind:       kind,
		Seq:        inst.seq[kind],
		Value:      state.Clone(inst.slices[kind]),
	}
	sub, err := s.bus.Subscribe(ctx, topicFor(d, kind), bus.WithInitial(seed))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", d, kind, err)
	}
	return &Subscription{d: d, kind: kind, sub: sub}, nil
}

// SubscribeContext is Subscribe for the player instance ctx belongs to.
func (s *Store) SubscribeContext(ctx context.Context, kind state.Kind) (*Subscription, error) {
	return s.Subscribe(ctx, descriptor.MustFromContext(ctx), kind)
}
