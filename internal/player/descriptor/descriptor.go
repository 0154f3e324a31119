// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package descriptor mints and resolves the tokens that scope one logical
// player instance. Every other player component keys its state by a
// Descriptor and obtains it from the context, never through parameters
// threaded across every layer.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnknownDescriptor = errors.New("unknown player descriptor")
	ErrInvalidDescriptor = errors.New("invalid player descriptor")
)

// Descriptor is an opaque, comparable token for one player instance.
// The zero value is not a valid descriptor.
type Descriptor struct {
	id string
}

// String returns the wire form of the descriptor.
func (d Descriptor) String() string { return d.id }

// IsZero reports whether d was never minted.
func (d Descriptor) IsZero() bool { return d.id == "" }

// Registry tracks the descriptors of currently mounted player instances.
type Registry struct {
	mu   sync.RWMutex
	live map[Descriptor]struct{}
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[Descriptor]struct{})}
}

// Mint creates a new descriptor unique among all live ones.
func (r *Registry) Mint() Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		d := Descriptor{id: uuid.NewString()}
		if _, taken := r.live[d]; taken {
			continue
		}
		r.live[d] = struct{}{}
		return d
	}
}

// Release forgets d. It reports whether d was live.
func (r *Registry) Release(d Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[d]; !ok {
		return false
	}
	delete(r.live, d)
	return true
}

// Live reports whether d is currently mounted.
func (r *Registry) Live(d Descriptor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[d]
	return ok
}

// Len returns the number of live descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Parse resolves the wire form of a live descriptor. It is meant for
// process boundaries (HTTP paths); in-process code uses FromContext.
func (r *Registry) Parse(id string) (Descriptor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidDescriptor, id)
	}
	d := Descriptor{id: id}
	if !r.Live(d) {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownDescriptor, id)
	}
	return d, nil
}

type ctxKey struct{}

// WithDescriptor scopes ctx to the player instance d.
func WithDescriptor(ctx context.Context, d Descriptor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, d)
}

// FromContext returns the descriptor of the nearest enclosing player instance.
func FromContext(ctx context.Context) (Descriptor, bool) {
	if ctx == nil {
		return Descriptor{}, false
	}
	d, ok := ctx.Value(ctxKey{}).(Descriptor)
	if !ok || d.IsZero() {
		return Descriptor{}, false
	}
	return d, true
}

// MustFromContext is FromContext for code that only runs inside a player
// instance. Resolving outside one is a programming error and panics.
func MustFromContext(ctx context.Context) Descriptor {
	d, ok := FromContext(ctx)
	if !ok {
		panic("descriptor: no player instance in context")
	}
	return d
}
