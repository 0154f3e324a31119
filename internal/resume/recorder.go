// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resume

import (
	"context"
	"time"

	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/metrics"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	pstore "github.com/ManuGH/playerstate/internal/player/store"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultSaveInterval bounds how often a playing item is written.
const DefaultSaveInterval = 10 * time.Second

// Recorder follows one player and writes its position to a Store: on every
// pause, at most once per interval while playing, and once more on Stop.
type Recorder struct {
	ps       *pstore.Store
	d        descriptor.Descriptor
	store    Store
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

func WithSaveInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithRecorderClock(c clock.Clock) RecorderOption {
	return func(r *Recorder) { r.clock = c }
}

func WithRecorderLogger(l zerolog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// StartRecorder subscribes to the Controls and Meta slices of d. The recorder
// runs until Stop, until ctx is done or until d is destroyed.
func StartRecorder(ctx context.Context, ps *pstore.Store, d descriptor.Descriptor, rs Store, opts ...RecorderOption) (*Recorder, error) {
	r := &Recorder{
		ps:       ps,
		d:        d,
		store:    rs,
		interval: DefaultSaveInterval,
		clock:    clock.New(),
		logger:   xglog.WithComponent("resume"),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str(xglog.FieldDescriptor, d.String()).Logger()

	ctx, cancel := context.WithCancel(ctx)
	ctrl, err := ps.Subscribe(ctx, d, state.KindControls)
	if err != nil {
		cancel()
		return nil, err
	}
	meta, err := ps.Subscribe(ctx, d, state.KindMeta)
	if err != nil {
		cancel()
		_ = ctrl.Close()
		return nil, err
	}
	r.cancel = cancel
	go r.run(ctrl, meta)
	return r, nil
}

// Stop flushes the last position and waits for the recorder to exit. Call
// it before the player's slices are destroyed so the flush sees the final
// value.
func (r *Recorder) Stop() {
	r.cancel()
	<-r.done
}

type tracked struct {
	key      Key
	last     state.ControlsState
	saved    time.Duration
	dirty    bool
	throttle *rate.Sometimes
}

func (r *Recorder) run(ctrl, meta *pstore.Subscription) {
	defer close(r.done)
	defer ctrl.Close()
	defer meta.Close()

	var cur tracked
	ctrlC, metaC := ctrl.C(), meta.C()
	for ctrlC != nil || metaC != nil {
		select {
		case u, ok := <-metaC:
			if !ok {
				metaC = nil
				continue
			}
			m, _ := u.Meta()
			key := Key{MediaID: m.MediaID, EpisodeID: m.EpisodeID()}
			if key == cur.key {
				continue
			}
			next := tracked{key: key, last: cur.last, throttle: &rate.Sometimes{Interval: r.interval}}
			if cur.key.IsZero() {
				// Position reported before any item was known belongs to the first one.
				next.dirty = cur.dirty
			} else {
				r.flush(&cur)
			}
			cur = next
		case u, ok := <-ctrlC:
			if !ok {
				ctrlC = nil
				continue
			}
			cs, _ := u.Controls()
			wasPlaying := cur.last.Playing
			cur.last = cs
			if cs.Position != cur.saved {
				cur.dirty = true
			}
			switch {
			case cur.key.IsZero():
			case wasPlaying && !cs.Playing:
				r.flush(&cur)
			case cs.Playing && cur.throttle != nil:
				cur.throttle.Do(func() { r.flush(&cur) })
			}
		}
	}
	r.reconcile(&cur)
	r.flush(&cur)
}

// reconcile folds in the current slice values, which may be newer than the
// last delivered updates when the subscriptions were closed.
func (r *Recorder) reconcile(cur *tracked) {
	cs, err := r.ps.Controls(r.d)
	if err != nil {
		return
	}
	m, err := r.ps.Meta(r.d)
	if err != nil {
		return
	}
	key := Key{MediaID: m.MediaID, EpisodeID: m.EpisodeID()}
	if key != cur.key && !cur.key.IsZero() {
		r.flush(cur)
		*cur = tracked{key: key}
	}
	cur.key = key
	cur.last = cs
	if cs.Position != cur.saved {
		cur.dirty = true
	}
}

func (r *Recorder) flush(cur *tracked) {
	if cur.key.IsZero() || !cur.dirty || cur.last.Position <= 0 {
		return
	}
	st := &State{
		Position:  cur.last.Position,
		Duration:  cur.last.Duration,
		Finished:  IsFinished(cur.last.Position, cur.last.Duration),
		UpdatedAt: r.clock.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.store.Put(ctx, cur.key, st)
	metrics.RecordResumeWrite(err)
	if err != nil {
		r.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "resume.write_failed").
			Str(xglog.FieldMediaID, cur.key.MediaID).
			Str(xglog.FieldEpisodeID, cur.key.EpisodeID).
			Msg("resume position not saved")
		return
	}
	cur.saved = st.Position
	cur.dirty = false
	r.logger.Debug().
		Str(xglog.FieldEvent, "resume.saved").
		Str(xglog.FieldMediaID, cur.key.MediaID).
		Str(xglog.FieldEpisodeID, cur.key.EpisodeID).
		Dur("position", st.Position).
		Bool("finished", st.Finished).
		Msg("resume position saved")
}
