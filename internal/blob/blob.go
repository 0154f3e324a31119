// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package blob hands out short-lived URLs for in-memory caption documents.
// A URL stays resolvable until it is revoked or its owner is unmounted.
package blob

import (
	"errors"
	"strings"
	"sync"

	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/google/uuid"
)

// Scheme prefixes every URL minted by a Registry.
const Scheme = "blob:playerd/"

var ErrNotFound = errors.New("blob not found")

// Blob is one stored document.
type Blob struct {
	Owner   descriptor.Descriptor
	Content []byte
	MIME    string
}

// Registry stores blobs by id.
type Registry struct {
	mu      sync.RWMutex
	blobs   map[string]Blob
	byOwner map[descriptor.Descriptor]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		blobs:   make(map[string]Blob),
		byOwner: make(map[descriptor.Descriptor]map[string]struct{}),
	}
}

// Put stores content for owner and returns its URL.
func (r *Registry) Put(owner descriptor.Descriptor, content []byte, mime string) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[id] = Blob{Owner: owner, Content: append([]byte(nil), content...), MIME: mime}
	ids, ok := r.byOwner[owner]
	if !ok {
		ids = make(map[string]struct{})
		r.byOwner[owner] = ids
	}
	ids[id] = struct{}{}
	return Scheme + id
}

// ID extracts the registry id from a blob URL. Bare ids are accepted too.
func ID(url string) string {
	return strings.TrimPrefix(url, Scheme)
}

// Get resolves a blob URL or bare id.
func (r *Registry) Get(url string) (Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[ID(url)]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return b, nil
}

// Revoke drops one blob. Unknown URLs are ignored.
func (r *Registry) Revoke(url string) bool {
	id := ID(url)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[id]
	if !ok {
		return false
	}
	delete(r.blobs, id)
	if ids := r.byOwner[b.Owner]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byOwner, b.Owner)
		}
	}
	return true
}

// RevokeOwner drops every blob of owner and returns how many there were.
func (r *Registry) RevokeOwner(owner descriptor.Descriptor) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byOwner[owner]
	for id := range ids {
		delete(r.blobs, id)
	}
	delete(r.byOwner, owner)
	return len(ids)
}

// Len returns the number of live blobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
