// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store holds the four state slices of every mounted player and
// propagates each committed change to all subscribers of that
// descriptor+slice, wherever they live.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ManuGH/playerstate/internal/bus"
	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/metrics"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownDescriptor = descriptor.ErrUnknownDescriptor
	ErrExists            = errors.New("player descriptor already has state")
	ErrKindMismatch      = errors.New("slice kind mismatch")
	ErrInvalidKind       = errors.New("invalid slice kind")
)

// Store is the system-of-record for player slices.
//
// Design intent:
// - One mutex per descriptor serialises every writer of that player.
// - Publishing happens under that mutex, so subscribers see commit order.
// - Descriptors share nothing mutable besides the instance map.
type Store struct {
	mu        sync.RWMutex
	instances map[descriptor.Descriptor]*instance

	bus    *bus.MemoryBus[state.Update]
	logger zerolog.Logger
}

type instance struct {
	mu     sync.Mutex
	d      descriptor.Descriptor
	slices [len(state.Kinds)]state.Slice
	seq    [len(state.Kinds)]uint64
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(opts ...Option) *Store {
	s := &Store{
		instances: make(map[descriptor.Descriptor]*instance),
		bus:       bus.NewMemoryBus[state.Update](bus.WithTopicLabel[state.Update](topicLabel)),
		logger:    xglog.WithComponent("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func topicFor(d descriptor.Descriptor, k state.Kind) string {
	return d.String() + "/" + k.String()
}

func topicLabel(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// Initial returns the slice values a freshly mounted player starts with.
func Initial() [4]state.Slice {
	return [4]state.Slice{
		state.ControlsState{Volume: 1},
		state.InterfaceState{CaptionLoad: state.CaptionLoadState{Status: state.LoadIdle}},
		state.MetaState{},
		state.SourceState{},
	}
}

// Create allocates the slices of d.
func (s *Store) Create(d descriptor.Descriptor) error {
	if d.IsZero() {
		return fmt.Errorf("create: %w", descriptor.ErrInvalidDescriptor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[d]; ok {
		return fmt.Errorf("create %s: %w", d, ErrExists)
	}
	inst := &instance{d: d}
	initial := Initial()
	for i, k := range state.Kinds {
		inst.slices[k] = initial[i]
		inst.seq[k] = 1
	}
	s.instances[d] = inst
	metrics.SetPlayersActive(len(s.instances))
	s.logger.Debug().
		Str(xglog.FieldEvent, "store.created").
		Str(xglog.FieldDescriptor, d.String()).
		Msg("player slices created")
	return nil
}

// Destroy tears down the slices of d and closes every subscription to them.
// Later mutations of d fail with ErrUnknownDescriptor.
func (s *Store) Destroy(d descriptor.Descriptor) error {
	s.mu.Lock()
	inst, ok := s.instances[d]
	if ok {
		delete(s.instances, d)
	}
	n := len(s.instances)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("destroy %s: %w", d, ErrUnknownDescriptor)
	}
	metrics.SetPlayersActive(n)

	inst.mu.Lock()
	inst.closed = true
	for _, k := range state.Kinds {
		s.bus.CloseTopic(topicFor(d, k))
	}
	inst.mu.Unlock()

	s.logger.Debug().
		Str(xglog.FieldEvent, "store.destroyed").
		Str(xglog.FieldDescriptor, d.String()).
		Msg("player slices destroyed")
	return nil
}

// Has reports whether d currently has slices.
func (s *Store) Has(d descriptor.Descriptor) bool {
	_, err := s.lookup(d)
	return err == nil
}

func (s *Store) lookup(d descriptor.Descriptor) (*instance, error) {
	s.mu.RLock()
	inst, ok := s.instances[d]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", d, ErrUnknownDescriptor)
	}
	return inst, nil
}

// Get returns a snapshot of one slice.
func (s *Store) Get(d descriptor.Descriptor, kind state.Kind) (state.Slice, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("get %s: %w", kind, ErrInvalidKind)
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
	return state.Clone(inst.slices[kind]), nil
}

// Controls returns a snapshot of the Controls slice.
func (s *Store) Controls(d descriptor.Descriptor) (state.ControlsState, error) {
	v, err := s.Get(d, state.KindControls)
	if err != nil {
		return state.ControlsState{}, err
	}
	return v.(state.ControlsState), nil
}

// Interface returns a snapshot of the Interface slice.
func (s *Store) Interface(d descriptor.Descriptor) (state.InterfaceState, error) {
	v, err := s.Get(d, state.KindInterface)
	if err != nil {
		return state.InterfaceState{}, err
	}
	return v.(state.InterfaceState), nil
}

// Meta returns a snapshot of the Meta slice.
func (s *Store) Meta(d descriptor.Descriptor) (state.MetaState, error) {
	v, err := s.Get(d, state.KindMeta)
	if err != nil {
		return state.MetaState{}, err
	}
	return v.(state.MetaState), nil
}

// Source returns a snapshot of the Source slice.
func (s *Store) Source(d descriptor.Descriptor) (state.SourceState, error) {
	v, err := s.Get(d, state.KindSource)
	if err != nil {
		return state.SourceState{}, err
	}
	return v.(state.SourceState), nil
}

// Mutate applies updater to one slice. The updater receives a private copy
// and must return a value of the same kind.
func (s *Store) Mutate(d descriptor.Descriptor, kind state.Kind, updater func(state.Slice) (state.Slice, error)) error {
	if !kind.Valid() {
		return fmt.Errorf("mutate %s: %w", kind, ErrInvalidKind)
	}
	return s.Update(d, func(tx *Tx) error {
		next, err := updater(state.Clone(tx.get(kind)))
		if err != nil {
			return err
		}
		if next == nil || next.Kind() != kind {
			return fmt.Errorf("mutate %s: %w", kind, ErrKindMismatch)
		}
		tx.set(next)
		return nil
	})
}

// Update runs fn against private copies of all four slices and commits the
// touched ones atomically. Readers and subscribers never observe a partial
// transaction. Touched slices whose value did not change publish nothing.
func (s *Store) Update(d descriptor.Descriptor, fn func(tx *Tx) error) error {
	inst, err := s.lookup(d)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.closed {
		return fmt.Errorf("%s: %w", d, ErrUnknownDescriptor)
	}

	tx := newTx(inst.slices)
	if err := fn(tx); err != nil {
		for _, k := range state.Kinds {
			if tx.touched[k] {
				metrics.RecordSliceMutation(k.String(), "rejected")
			}
		}
		return err
	}

	for _, k := range state.Kinds {
		if !tx.touched[k] {
			continue
		}
		next := tx.value(k)
		if state.Equal(inst.slices[k], next) {
			metrics.RecordSliceMutation(k.String(), "unchanged")
			continue
		}
		inst.slices[k] = next
		inst.seq[k]++
		metrics.RecordSliceMutation(k.String(), "changed")

		u := state.Update{Descriptor: d.String(), Kind: k, Seq: inst.seq[k], Value: state.Clone(next)}
		if err := s.bus.Publish(context.Background(), topicFor(d, k), u); err != nil {
			s.logger.Warn().Err(err).
				Str(xglog.FieldDescriptor, d.String()).
				Str(xglog.FieldSlice, k.String()).
				Msg("slice update publish failed")
		}
	}
	return nil
}
