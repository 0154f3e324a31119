// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package player is the root of a player instance. It owns the descriptor
// of every mounted instance and wires the slice store, the caption
// coordinator and the resume recorder to it.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/playerstate/internal/blob"
	"github.com/ManuGH/playerstate/internal/captions"
	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/media"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/store"
	"github.com/ManuGH/playerstate/internal/resume"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

var ErrShutdown = errors.New("player is shut down")

// Deps are the collaborators of a Player. Fetcher, Meta and Sources are
// required; the rest default to in-memory implementations.
type Deps struct {
	Store   *store.Store
	Blobs   *blob.Registry
	Fetcher captions.Fetcher
	Parser  captions.Parser
	Meta    media.MetaProvider
	Sources media.SourceResolver
	// Resume is optional. Without it positions are neither saved nor restored.
	Resume resume.Store
}

type Option func(*Player)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Player) { p.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(p *Player) { p.clock = c }
}

func WithPolicy(pol captions.Policy) Option {
	return func(p *Player) { p.policy = &pol }
}

func WithSaveInterval(d time.Duration) Option {
	return func(p *Player) { p.saveInterval = d }
}

// Player mounts and tears down player instances.
type Player struct {
	deps     Deps
	registry *descriptor.Registry
	coord    *captions.Coordinator
	logger   zerolog.Logger
	clock    clock.Clock

	policy       *captions.Policy
	saveInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	instances map[descriptor.Descriptor]*Instance
}

// New builds a Player. It panics when a required dependency is missing.
func New(deps Deps, opts ...Option) *Player {
	if deps.Fetcher == nil || deps.Meta == nil || deps.Sources == nil {
		panic("player: Fetcher, Meta and Sources are required")
	}
	p := &Player{
		registry:     descriptor.NewRegistry(),
		logger:       xglog.WithComponent("player"),
		clock:        clock.New(),
		saveInterval: resume.DefaultSaveInterval,
		instances:    make(map[descriptor.Descriptor]*Instance),
	}
	for _, opt := range opts {
		opt(p)
	}
	if deps.Store == nil {
		deps.Store = store.New()
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewRegistry()
	}
	p.deps = deps

	copts := []captions.Option{captions.WithClock(p.clock)}
	if p.policy != nil {
		copts = append(copts, captions.WithPolicy(*p.policy))
	}
	p.coord = captions.New(deps.Store, deps.Fetcher, deps.Parser, deps.Blobs, copts...)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

func (p *Player) Store() *store.Store                { return p.deps.Store }
func (p *Player) Blobs() *blob.Registry              { return p.deps.Blobs }
func (p *Player) Coordinator() *captions.Coordinator { return p.coord }

// Mount creates a new player instance with its own descriptor.
func (p *Player) Mount(ctx context.Context) (*Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrShutdown
	}

	d := p.registry.Mint()
	in := &Instance{p: p, d: d, ctx: descriptor.WithDescriptor(p.ctx, d)}
	if err := p.deps.Store.Create(d); err != nil {
		p.registry.Release(d)
		return nil, fmt.Errorf("mount: %w", err)
	}
	if err := p.coord.Attach(p.ctx, d); err != nil {
		_ = p.deps.Store.Destroy(d)
		p.registry.Release(d)
		return nil, fmt.Errorf("mount: %w", err)
	}
	if p.deps.Resume != nil {
		rec, err := resume.StartRecorder(p.ctx, p.deps.Store, d, p.deps.Resume,
			resume.WithSaveInterval(p.saveInterval),
			resume.WithRecorderClock(p.clock))
		if err != nil {
			p.coord.Detach(d)
			_ = p.deps.Store.Destroy(d)
			p.registry.Release(d)
			return nil, fmt.Errorf("mount: %w", err)
		}
		in.recorder = rec
	}
	p.instances[d] = in

	xglog.WithContext(ctx, p.logger).Info().
		Str(xglog.FieldEvent, "player.mounted").
		Str(xglog.FieldDescriptor, d.String()).
		Msg("player instance mounted")
	return in, nil
}

// Mirror scopes ctx to the existing instance d, so a second view (a casting
// mirror, a detached popout) reads and drives the same logical player.
func (p *Player) Mirror(ctx context.Context, d descriptor.Descriptor) (context.Context, error) {
	if !p.registry.Live(d) {
		return nil, fmt.Errorf("mirror %s: %w", d, descriptor.ErrUnknownDescriptor)
	}
	return descriptor.WithDescriptor(ctx, d), nil
}

// Lookup resolves the wire form of a descriptor to its mounted instance.
func (p *Player) Lookup(id string) (*Instance, error) {
	d, err := p.registry.Parse(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.instances[d]
	if !ok {
		return nil, fmt.Errorf("%w: %s", descriptor.ErrUnknownDescriptor, id)
	}
	return in, nil
}

// Len returns the number of mounted instances.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// Shutdown unmounts every instance and waits for background caption work,
// or until ctx is done.
func (p *Player) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	all := make([]*Instance, 0, len(p.instances))
	for _, in := range p.instances {
		all = append(all, in)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, in := range all {
			in.Unmount()
		}
		p.coord.Close()
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info().Str(xglog.FieldEvent, "player.shutdown").Int("instances", len(all)).Msg("player shut down")
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("player shutdown: %w", ctx.Err())
	}
}

func (p *Player) forget(d descriptor.Descriptor) {
	p.mu.Lock()
	delete(p.instances, d)
	p.mu.Unlock()
}
