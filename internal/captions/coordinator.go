// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package captions drives caption loads for mounted players.
//
// Every descriptor gets an entry holding its load token, its auto-load
// bookkeeping and its timers. A load runs fetch and parse in the background
// and commits only if its token is still the latest one for the descriptor
// when it completes. Lock order is entry lock, then store; the store never
// calls back into the coordinator.
package captions

import (
	"context"
	"fmt"
	"sync"
	"time"

	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/metrics"
	"github.com/ManuGH/playerstate/internal/player/controls"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/ManuGH/playerstate/internal/player/store"
	"github.com/ManuGH/playerstate/internal/subtitle"
	"github.com/ManuGH/playerstate/internal/telemetry"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Triggers record what issued a load.
const (
	// TriggerManual marks loads issued through IssueLoad.
	TriggerManual = "manual"
	// TriggerAuto marks loads issued by the auto-load timer.
	TriggerAuto = "auto"
)

// Fetcher retrieves the raw document behind a caption locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Invalidator is implemented by fetchers that keep fetched documents around.
// A document that fails validation is invalidated so the next load of the
// same locator goes back to the origin.
type Invalidator interface {
	Invalidate(ctx context.Context, locator string)
}

// Parser validates a fetched document.
type Parser interface {
	Parse(text string) (*subtitle.Document, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(text string) (*subtitle.Document, error)

func (f ParserFunc) Parse(text string) (*subtitle.Document, error) { return f(text) }

// DefaultParser accepts SubRip and WebVTT.
var DefaultParser Parser = ParserFunc(subtitle.Parse)

// Blobs stores applied documents behind de-referenceable URLs.
type Blobs interface {
	Put(owner descriptor.Descriptor, content []byte, mime string) string
	Revoke(url string) bool
}

// Policy holds the tunables of the coordinator.
type Policy struct {
	AutoLoad         bool
	AutoLoadLanguage string
	AutoLoadDelay    time.Duration
	// PopoutCloseDelay > 0 closes the popout on a timer after the caption
	// commit instead of in the same transaction.
	PopoutCloseDelay time.Duration
	FetchTimeout     time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		AutoLoad:         true,
		AutoLoadLanguage: "en",
		AutoLoadDelay:    3 * time.Second,
		FetchTimeout:     15 * time.Second,
	}
}

// Status is the state of a descriptor's latest load.
type Status struct {
	State     LoadState
	Token     uint64
	CaptionID string
	Trigger   string
	Err       error
}

// LoadStatus maps the status onto the Interface slice vocabulary.
func (s Status) LoadStatus() state.LoadStatus { return loadStatus(s.State) }

type load struct {
	token    uint64
	mediaKey string
	track    state.CaptionTrack
	linked   bool
	id       string
	trigger  string
	state    LoadState
	started  time.Time
}

type entry struct {
	d      descriptor.Descriptor
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	detached   bool
	token      uint64
	status     Status
	appliedURL string
	// loadKey is the media key the status was issued under.
	loadKey    string
	loadCancel context.CancelFunc

	triggered  map[string]struct{}
	autoTimer  *clock.Timer
	autoKey    string
	autoGen    uint64
	closeTimer *clock.Timer
	closeGen   uint64
}

// Coordinator runs caption loads for any number of descriptors.
type Coordinator struct {
	store   *store.Store
	fetcher Fetcher
	parser  Parser
	blobs   Blobs
	clock   clock.Clock
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[descriptor.Descriptor]*entry

	policyMu sync.RWMutex
	policy   Policy

	loads    sync.WaitGroup
	watchers sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock swaps the time source used for timers.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger each descriptor's logger derives from.
func WithLogger(l zerolog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithPolicy replaces DefaultPolicy. SetPolicy changes it later.
func WithPolicy(p Policy) Option {
	return func(co *Coordinator) { co.policy = p }
}

// New builds a coordinator. A nil parser means DefaultParser.
func New(s *store.Store, fetcher Fetcher, parser Parser, blobs Blobs, opts ...Option) *Coordinator {
	if parser == nil {
		parser = DefaultParser
	}
	c := &Coordinator{
		store:   s,
		fetcher: fetcher,
		parser:  parser,
		blobs:   blobs,
		clock:   clock.New(),
		logger:  xglog.WithComponent("captions"),
		entries: make(map[descriptor.Descriptor]*entry),
		policy:  DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the active policy.
func (c *Coordinator) Policy() Policy {
	c.policyMu.RLock()
	defer c.policyMu.RUnlock()
	return c.policy
}

// SetPolicy replaces the policy. Timers already armed keep their delay.
func (c *Coordinator) SetPolicy(p Policy) {
	c.policyMu.Lock()
	c.policy = p
	c.policyMu.Unlock()
}

// Attach starts coordinating d and watches its Meta slice for auto loads
// until Detach or until ctx is done.
func (c *Coordinator) Attach(ctx context.Context, d descriptor.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[d]; ok {
		return fmt.Errorf("attach %s: %w", d, ErrAlreadyAttached)
	}

	ectx, cancel := context.WithCancel(descriptor.WithDescriptor(ctx, d))
	sub, err := c.store.Subscribe(ectx, d, state.KindMeta)
	if err != nil {
		cancel()
		return fmt.Errorf("attach %s: %w", d, err)
	}
	e := &entry{
		d:         d,
		logger:    c.logger.With().Str(xglog.FieldDescriptor, d.String()).Logger(),
		ctx:       ectx,
		cancel:    cancel,
		status:    Status{State: StateIdle},
		triggered: make(map[string]struct{}),
	}
	c.entries[d] = e

	c.watchers.Add(1)
	go c.watchMeta(e, sub)
	return nil
}

// Detach stops coordinating d. Pending timers are stopped, in-flight loads
// are canceled and can no longer commit. It returns false when d was not
// attached. No mutation of d happens after Detach returns.
func (c *Coordinator) Detach(d descriptor.Descriptor) bool {
	c.mu.Lock()
	e, ok := c.entries[d]
	delete(c.entries, d)
	c.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.detached = true
	e.token++
	e.stopAutoTimer()
	if e.closeTimer != nil {
		e.closeTimer.Stop()
		e.closeTimer = nil
	}
	if e.appliedURL != "" {
		c.blobs.Revoke(e.appliedURL)
		e.appliedURL = ""
	}
	e.mu.Unlock()

	e.cancel()
	e.logger.Debug().Str(xglog.FieldEvent, "captions.detached").Msg("caption coordinator detached")
	return true
}

// Close detaches every descriptor and waits for background work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	ds := make([]descriptor.Descriptor, 0, len(c.entries))
	for d := range c.entries {
		ds = append(ds, d)
	}
	c.mu.Unlock()
	for _, d := range ds {
		c.Detach(d)
	}
	c.watchers.Wait()
	c.loads.Wait()
}

// Wait blocks until every load issued so far has completed.
func (c *Coordinator) Wait() {
	c.loads.Wait()
}

// Status returns the status of d's latest load.
func (c *Coordinator) Status(d descriptor.Descriptor) (Status, error) {
	e, err := c.entry(d)
	if err != nil {
		return Status{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}

func (c *Coordinator) entry(d descriptor.Descriptor) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[d]
	if !ok {
		return nil, fmt.Errorf("%s: %w", d, ErrNotAttached)
	}
	return e, nil
}

// IssueLoad starts loading track for d, superseding any load in flight, and
// returns the new load token. Failures of the load itself are reported
// through Status and the Interface slice, never here.
func (c *Coordinator) IssueLoad(ctx context.Context, d descriptor.Descriptor, track state.CaptionTrack, linked bool) (uint64, error) {
	e, err := c.entry(d)
	if err != nil {
		return 0, err
	}
	return c.issue(ctx, e, track, linked, TriggerManual)
}

func (c *Coordinator) issue(ctx context.Context, e *entry, track state.CaptionTrack, linked bool, trigger string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.issueLocked(ctx, e, track, linked, trigger)
}

// issueLocked must be called with e.mu held.
func (c *Coordinator) issueLocked(ctx context.Context, e *entry, track state.CaptionTrack, linked bool, trigger string) (uint64, error) {
	policy := c.Policy()
	if e.detached {
		return 0, fmt.Errorf("%s: %w", e.d, ErrNotAttached)
	}
	tr, ok := TransitionFor(e.status.State, EvIssue)
	if !ok {
		return 0, fmt.Errorf("issue load from %s: illegal transition", e.status.State)
	}
	meta, err := c.store.Meta(e.d)
	if err != nil {
		return 0, err
	}

	e.token++
	l := &load{
		token:    e.token,
		mediaKey: mediaKey(meta),
		track:    track,
		linked:   linked,
		id:       CaptionID(track, linked),
		trigger:  trigger,
		state:    tr.To,
		started:  c.clock.Now(),
	}
	e.status = Status{State: tr.To, Token: l.token, CaptionID: l.id, Trigger: trigger}
	e.loadKey = l.mediaKey
	if err := c.mirror(e); err != nil {
		return 0, err
	}

	// The load outlives the request that issued it; it keeps the caller's
	// trace and ends with the entry or a media change.
	base := trace.ContextWithSpanContext(e.ctx, trace.SpanContextFromContext(ctx))
	lctx, cancel := context.WithTimeout(base, policy.FetchTimeout)
	e.loadCancel = cancel

	e.logger.Debug().
		Str(xglog.FieldEvent, "captions.issued").
		Uint64(xglog.FieldLoadToken, l.token).
		Str(xglog.FieldCaptionID, l.id).
		Str(xglog.FieldLocator, track.URL).
		Str("trigger", trigger).
		Msg("caption load issued")

	c.loads.Add(1)
	go c.run(lctx, cancel, e, l)
	return l.token, nil
}

// resetForMedia supersedes a load still in flight for media other than key.
// Its fetch is canceled and the status returns to idle. Caller holds e.mu.
func (c *Coordinator) resetForMedia(e *entry, key string) {
	if e.status.State != StateLoading || e.loadKey == key {
		return
	}
	e.token++
	if e.loadCancel != nil {
		e.loadCancel()
		e.loadCancel = nil
	}
	e.logger.Debug().
		Str(xglog.FieldEvent, "captions.superseded").
		Uint64(xglog.FieldLatest, e.token).
		Str(xglog.FieldCaptionID, e.status.CaptionID).
		Str("reason", "media_changed").
		Msg("caption load superseded by media change")
	e.status = Status{State: StateIdle}
	e.loadKey = key
	if err := c.mirror(e); err != nil {
		e.logger.Warn().Err(err).Msg("caption status mirror failed")
	}
}

// mirror copies the entry status into the Interface slice. Caller holds e.mu.
func (c *Coordinator) mirror(e *entry) error {
	cl := state.CaptionLoadState{Status: e.status.LoadStatus(), CaptionID: e.status.CaptionID}
	if e.status.Err != nil {
		cl.Error = e.status.Err.Error()
	}
	return c.store.Update(e.d, func(tx *store.Tx) error {
		tx.Interface().CaptionLoad = cl
		return nil
	})
}

type document struct {
	body []byte
	mime string
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, e *entry, l *load) {
	defer c.loads.Done()
	defer cancel()

	ctx, span := telemetry.Tracer("playerd/captions").Start(ctx, "captions.load",
		trace.WithAttributes(telemetry.CaptionLoadAttributes(e.d.String(), l.track.LangISO, l.linked, l.token, l.trigger)...))
	defer span.End()

	body, err := c.fetcher.Fetch(ctx, l.track.URL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(telemetry.ErrorAttributes("fetch")...)
		c.complete(e, l, EvFetchFailed, fmt.Errorf("%w: %w", ErrFetch, err), document{})
		return
	}

	doc, err := c.parser.Parse(string(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(telemetry.ErrorAttributes("validation")...)
		if inv, ok := c.fetcher.(Invalidator); ok {
			inv.Invalidate(ctx, l.track.URL)
		}
		c.complete(e, l, EvParseFailed, fmt.Errorf("%w: %w", ErrValidation, err), document{})
		return
	}
	c.complete(e, l, EvCommitted, nil, document{body: body, mime: mimeFor(doc)})
}

func mimeFor(doc *subtitle.Document) string {
	if doc != nil && doc.Format == subtitle.FormatWebVTT {
		return "text/vtt; charset=utf-8"
	}
	return "application/x-subrip; charset=utf-8"
}

func (c *Coordinator) complete(e *entry, l *load, ev EventKind, loadErr error, doc document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	elapsed := c.clock.Since(l.started)

	if !e.detached {
		if meta, err := c.store.Meta(e.d); err == nil {
			c.resetForMedia(e, mediaKey(meta))
		}
	}
	if e.detached || l.token != e.token {
		c.advance(e, l, EvSuperseded)
		metrics.RecordCaptionLoad(l.trigger, outcome(EvSuperseded), elapsed)
		e.logger.Debug().
			Str(xglog.FieldEvent, "captions.superseded").
			Uint64(xglog.FieldLoadToken, l.token).
			Uint64(xglog.FieldLatest, e.token).
			Str(xglog.FieldCaptionID, l.id).
			Msg("discarding superseded caption load")
		return
	}

	if ev == EvCommitted {
		if err := c.commit(e, l, doc); err != nil {
			ev, loadErr = EvFetchFailed, err
		}
	}
	if !c.advance(e, l, ev) {
		return
	}
	metrics.RecordCaptionLoad(l.trigger, outcome(ev), elapsed)

	if ev == EvCommitted {
		e.status = Status{State: l.state, Token: l.token, CaptionID: l.id, Trigger: l.trigger}
		e.logger.Info().
			Str(xglog.FieldEvent, "captions.applied").
			Uint64(xglog.FieldLoadToken, l.token).
			Str(xglog.FieldCaptionID, l.id).
			Dur("elapsed", elapsed).
			Msg("caption applied")
		return
	}

	e.status = Status{State: l.state, Token: l.token, CaptionID: l.id, Trigger: l.trigger, Err: loadErr}
	if err := c.mirror(e); err != nil {
		e.logger.Warn().Err(err).Msg("caption status mirror failed")
	}
	e.logger.Warn().Err(loadErr).
		Str(xglog.FieldEvent, "captions.failed").
		Uint64(xglog.FieldLoadToken, l.token).
		Str(xglog.FieldCaptionID, l.id).
		Str(xglog.FieldLocator, l.track.URL).
		Msg("caption load failed")
}

// advance applies ev to l. Caller holds e.mu.
func (c *Coordinator) advance(e *entry, l *load, ev EventKind) bool {
	tr, ok := TransitionFor(l.state, ev)
	if !ok {
		e.logger.Error().
			Str(xglog.FieldEvent, "captions.illegal_transition").
			Str(xglog.FieldOldState, string(l.state)).
			Str("trigger_event", string(ev)).
			Uint64(xglog.FieldLoadToken, l.token).
			Msg("illegal caption load transition")
		return false
	}
	l.state = tr.To
	return true
}

// commit publishes the document and selects it in Controls. Caller holds
// e.mu and has checked the token.
func (c *Coordinator) commit(e *entry, l *load, doc document) error {
	policy := c.Policy()
	url := c.blobs.Put(e.d, doc.body, doc.mime)
	closeNow := policy.PopoutCloseDelay <= 0

	if err := controls.For(c.store, e.d).CommitCaption(l.id, url, closeNow); err != nil {
		c.blobs.Revoke(url)
		return fmt.Errorf("commit caption: %w", err)
	}
	if e.appliedURL != "" {
		c.blobs.Revoke(e.appliedURL)
	}
	e.appliedURL = url

	if !closeNow {
		c.scheduleClose(e, policy.PopoutCloseDelay)
	}
	return nil
}

// scheduleClose closes the popout after delay unless the entry is detached or
// a later commit rescheduled it. Caller holds e.mu.
func (c *Coordinator) scheduleClose(e *entry, delay time.Duration) {
	if e.closeTimer != nil {
		e.closeTimer.Stop()
	}
	e.closeGen++
	gen := e.closeGen
	e.closeTimer = c.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.detached || gen != e.closeGen {
			return
		}
		e.closeTimer = nil
		if err := controls.For(c.store, e.d).ClosePopout(); err != nil {
			e.logger.Debug().Err(err).Msg("deferred popout close failed")
		}
	})
}

func (c *Coordinator) watchMeta(e *entry, sub *store.Subscription) {
	defer c.watchers.Done()
	defer sub.Close()
	for u := range sub.C() {
		meta, ok := u.Meta()
		if !ok {
			continue
		}
		c.onMeta(e, meta)
	}
}

// onMeta evaluates the auto-load decision once per Meta change.
func (c *Coordinator) onMeta(e *entry, meta state.MetaState) {
	policy := c.Policy()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return
	}
	if cur, err := c.store.Meta(e.d); err == nil {
		c.resetForMedia(e, mediaKey(cur))
	}
	key := EpisodeKey(meta)
	if e.autoTimer != nil && e.autoKey == key {
		return
	}
	if e.autoTimer != nil {
		e.stopAutoTimer()
		e.logger.Debug().
			Str(xglog.FieldEvent, "captions.auto_canceled").
			Str(xglog.FieldEpisodeID, e.autoKey).
			Msg("pending auto caption load canceled by media change")
	}
	if !policy.AutoLoad {
		return
	}
	track, ok := AutoLoadDecision(meta, e.triggered, policy.AutoLoadLanguage)
	if !ok {
		return
	}
	e.autoKey = key
	e.autoGen++
	gen := e.autoGen
	e.autoTimer = c.clock.AfterFunc(policy.AutoLoadDelay, func() {
		c.fireAuto(e, gen, track)
	})
	metrics.IncCaptionAutoScheduled()
	e.logger.Debug().
		Str(xglog.FieldEvent, "captions.auto_scheduled").
		Str(xglog.FieldEpisodeID, key).
		Str(xglog.FieldLanguage, track.LangISO).
		Dur("delay", policy.AutoLoadDelay).
		Msg("auto caption load scheduled")
}

func (c *Coordinator) fireAuto(e *entry, gen uint64, track state.CaptionTrack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached || gen != e.autoGen || e.autoTimer == nil {
		return
	}
	e.autoTimer = nil
	if meta, err := c.store.Meta(e.d); err != nil || EpisodeKey(meta) != e.autoKey {
		return
	}
	if _, err := c.issueLocked(e.ctx, e, track, true, TriggerAuto); err != nil {
		e.logger.Debug().Err(err).Msg("auto caption load not issued")
		return
	}
	e.triggered[e.autoKey] = struct{}{}
}

// stopAutoTimer must be called with e.mu held.
func (e *entry) stopAutoTimer() {
	if e.autoTimer != nil {
		e.autoTimer.Stop()
		e.autoTimer = nil
	}
	e.autoGen++
}
