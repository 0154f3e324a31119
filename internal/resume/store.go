// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package resume remembers where playback of a media item stopped.
package resume

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// FinishedRatio is the share of the duration after which an item counts as
// watched and is no longer resumed.
const FinishedRatio = 0.95

// Key identifies a media item. EpisodeID is empty for movies.
type Key struct {
	MediaID   string
	EpisodeID string
}

func (k Key) IsZero() bool { return k.MediaID == "" }

func (k Key) String() string {
	if k.EpisodeID == "" {
		return k.MediaID
	}
	return k.MediaID + "/" + k.EpisodeID
}

// State is the saved playback position of one item.
type State struct {
	Position  time.Duration
	Duration  time.Duration
	Finished  bool
	UpdatedAt time.Time
}

// Resumable reports whether playback should continue from Position.
func (s *State) Resumable() bool {
	return s != nil && !s.Finished && s.Position > 0
}

// IsFinished applies FinishedRatio to a position.
func IsFinished(pos, duration time.Duration) bool {
	return duration > 0 && float64(pos) >= FinishedRatio*float64(duration)
}

// Store persists resume states. Get returns nil, nil for unknown keys.
type Store interface {
	Put(ctx context.Context, key Key, state *State) error
	Get(ctx context.Context, key Key) (*State, error)
	Delete(ctx context.Context, key Key) error
	Close() error
}

const (
	BackendSqlite = "sqlite"
	BackendMemory = "memory"
)

// DBFile is the sqlite file name under the data directory.
const DBFile = "resume.sqlite"

// NewStore creates a store for backend. An empty backend means sqlite when
// dir is set and memory otherwise.
func NewStore(ctx context.Context, backend, dir string) (Store, error) {
	if backend == "" {
		backend = BackendSqlite
	}
	switch backend {
	case BackendSqlite:
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(ctx, filepath.Join(dir, DBFile))
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown resume store backend: %s (supported: sqlite, memory)", backend)
	}
}

// MemoryStore implements Store using a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Key]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Key]State)}
}

func (s *MemoryStore) Put(_ context.Context, key Key, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return errClosed
	}
	s.data[key] = *state
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data[key]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
