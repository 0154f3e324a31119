// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package captions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/playerstate/internal/blob"
	"github.com/ManuGH/playerstate/internal/player/controls"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/ManuGH/playerstate/internal/player/store"
	"github.com/ManuGH/playerstate/internal/subtitle"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	esSRT = "1\n00:00:01,000 --> 00:00:02,000\nHola\n"
	enSRT = "1\n00:00:01,000 --> 00:00:02,000\nHello\n"
	enVTT = "WEBVTT\n\n00:01.000 --> 00:02.000\nHello\n"
)

var (
	trackES  = state.CaptionTrack{LangISO: "es", URL: "https://subs.example/es.srt"}
	trackEN  = state.CaptionTrack{LangISO: "en", URL: "https://subs.example/en.srt"}
	trackBad = state.CaptionTrack{LangISO: "en", URL: "https://subs.example/broken.srt"}
)

// fakeFetcher serves fixed bodies. Locators with a gate block until the gate
// is closed or the load context ends.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  []string
	// invalidated records locators dropped after failed validation.
	invalidated []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string]string{
			trackES.URL:  esSRT,
			trackEN.URL:  enSRT,
			trackBad.URL: "<html>502 Bad Gateway</html>",
		},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
	}
}

func (f *fakeFetcher) gate(locator string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[locator] = g
	return g
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, locator)
	g := f.gates[locator]
	body, ok := f.bodies[locator]
	err := f.errs[locator]
	f.mu.Unlock()

	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("404 not found")
	}
	return []byte(body), nil
}

func (f *fakeFetcher) Invalidate(_ context.Context, locator string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, locator)
}

func (f *fakeFetcher) Invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	store   *store.Store
	fetcher *fakeFetcher
	blobs   *blob.Registry
	clock   *clock.Mock
	coord   *Coordinator
	d       descriptor.Descriptor
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		store:   store.New(store.WithLogger(zerolog.Nop())),
		fetcher: newFakeFetcher(),
		blobs:   blob.NewRegistry(),
		clock:   clock.NewMock(),
		d:       descriptor.NewRegistry().Mint(),
	}
	h.coord = New(h.store, h.fetcher, nil, h.blobs,
		WithClock(h.clock),
		WithLogger(zerolog.Nop()),
		WithPolicy(policy),
	)
	require.NoError(t, h.store.Create(h.d))
	require.NoError(t, h.coord.Attach(context.Background(), h.d))
	t.Cleanup(func() {
		h.coord.Close()
		_ = h.store.Destroy(h.d)
	})
	return h
}

func manualPolicy() Policy {
	p := DefaultPolicy()
	p.AutoLoad = false
	return p
}

func (h *harness) caption(t *testing.T) state.CaptionSelection {
	t.Helper()
	cs, err := h.store.Controls(h.d)
	require.NoError(t, err)
	return cs.Caption
}

func (h *harness) iface(t *testing.T) state.InterfaceState {
	t.Helper()
	is, err := h.store.Interface(h.d)
	require.NoError(t, err)
	return is
}

func (h *harness) setMeta(t *testing.T, m state.MetaState) {
	t.Helper()
	require.NoError(t, h.store.Update(h.d, func(tx *store.Tx) error {
		tx.ReplaceMeta(m)
		return nil
	}))
}

// pendingAuto returns the item key of an armed auto-load timer.
func (h *harness) pendingAuto() (string, bool) {
	e, err := h.coord.entry(h.d)
	if err != nil {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoKey, e.autoTimer != nil
}

func (h *harness) waitPendingAuto(t *testing.T, key string) {
	t.Helper()
	require.Eventually(t, func() bool {
		k, ok := h.pendingAuto()
		return ok && k == key
	}, 2*time.Second, time.Millisecond)
}

func episode(id string, tracks ...state.CaptionTrack) state.MetaState {
	return state.MetaState{
		MediaID:  "show-1",
		Title:    "Show",
		Type:     state.MediaShow,
		Episode:  &state.Episode{EpisodeID: id, SeasonID: "s1", Number: 1},
		Captions: tracks,
	}
}

func TestSupersession_LatestIssueWins(t *testing.T) {
	for _, tc := range []struct {
		name    string
		esFirst bool
	}{
		{name: "stale resolves last", esFirst: false},
		{name: "stale resolves first", esFirst: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, manualPolicy())
			ctx := context.Background()
			esGate := h.fetcher.gate(trackES.URL)
			enGate := h.fetcher.gate(trackEN.URL)

			tokES, err := h.coord.IssueLoad(ctx, h.d, trackES, true)
			require.NoError(t, err)
			tokEN, err := h.coord.IssueLoad(ctx, h.d, trackEN, true)
			require.NoError(t, err)
			require.Greater(t, tokEN, tokES)

			if tc.esFirst {
				close(esGate)
				close(enGate)
			} else {
				close(enGate)
				require.Eventually(t, func() bool {
					st, _ := h.coord.Status(h.d)
					return st.State == StateApplied
				}, 2*time.Second, time.Millisecond)
				close(esGate)
			}
			h.coord.Wait()

			require.Equal(t, "linked-en", h.caption(t).ID)
			st, err := h.coord.Status(h.d)
			require.NoError(t, err)
			require.Equal(t, StateApplied, st.State)
			require.Equal(t, tokEN, st.Token)
			require.Equal(t, state.LoadApplied, h.iface(t).CaptionLoad.Status)
			require.Equal(t, 1, h.blobs.Len())
		})
	}
}

func TestApplied_CommitsBlobAndResumesPlayback(t *testing.T) {
	h := newHarness(t, manualPolicy())
	h.fetcher.bodies[trackEN.URL] = enVTT

	_, err := h.coord.IssueLoad(context.Background(), h.d, trackEN, false)
	require.NoError(t, err)
	h.coord.Wait()

	cs, err := h.store.Controls(h.d)
	require.NoError(t, err)
	require.True(t, cs.Playing)
	require.Equal(t, "external-en", cs.Caption.ID)

	b, err := h.blobs.Get(cs.Caption.URL)
	require.NoError(t, err)
	require.Equal(t, enVTT, string(b.Content))
	require.Contains(t, b.MIME, "text/vtt")
	require.Equal(t, h.d, b.Owner)
}

func TestParseFailure_LeavesCaptionUnchanged(t *testing.T) {
	h := newHarness(t, manualPolicy())
	ctx := context.Background()

	_, err := h.coord.IssueLoad(ctx, h.d, trackES, true)
	require.NoError(t, err)
	h.coord.Wait()
	before := h.caption(t)
	require.Equal(t, "linked-es", before.ID)

	_, err = h.coord.IssueLoad(ctx, h.d, trackBad, true)
	require.NoError(t, err)
	h.coord.Wait()

	require.Equal(t, before, h.caption(t))
	st, err := h.coord.Status(h.d)
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.State)
	require.ErrorIs(t, st.Err, ErrValidation)
	require.ErrorIs(t, st.Err, subtitle.ErrInvalid)

	cl := h.iface(t).CaptionLoad
	require.Equal(t, state.LoadFailed, cl.Status)
	require.NotEmpty(t, cl.Error)
	require.Equal(t, "linked-en", cl.CaptionID)
}

func TestParseFailure_InvalidatesFetchedDocument(t *testing.T) {
	h := newHarness(t, manualPolicy())
	ctx := context.Background()

	_, err := h.coord.IssueLoad(ctx, h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()
	require.Empty(t, h.fetcher.Invalidated())

	_, err = h.coord.IssueLoad(ctx, h.d, trackBad, true)
	require.NoError(t, err)
	h.coord.Wait()
	require.Equal(t, []string{trackBad.URL}, h.fetcher.Invalidated())
}

func TestFetchFailure_ReportsFetchClass(t *testing.T) {
	h := newHarness(t, manualPolicy())
	boom := errors.New("connection reset")
	h.fetcher.errs[trackEN.URL] = boom

	_, err := h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()

	st, err := h.coord.Status(h.d)
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.State)
	require.ErrorIs(t, st.Err, ErrFetch)
	require.ErrorIs(t, st.Err, boom)
	require.True(t, h.caption(t).Empty())

	// A retry after the origin recovers applies normally.
	delete(h.fetcher.errs, trackEN.URL)
	_, err = h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()
	require.Equal(t, "linked-en", h.caption(t).ID)
}

func TestCommit_RevokesPreviousBlob(t *testing.T) {
	h := newHarness(t, manualPolicy())
	ctx := context.Background()

	_, err := h.coord.IssueLoad(ctx, h.d, trackES, true)
	require.NoError(t, err)
	h.coord.Wait()
	first := h.caption(t).URL

	_, err = h.coord.IssueLoad(ctx, h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()

	_, err = h.blobs.Get(first)
	require.ErrorIs(t, err, blob.ErrNotFound)
	_, err = h.blobs.Get(h.caption(t).URL)
	require.NoError(t, err)
}

func TestPopoutClosesWithCommitByDefault(t *testing.T) {
	h := newHarness(t, manualPolicy())
	require.NoError(t, controls.For(h.store, h.d).OpenPopout("captions"))

	_, err := h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()

	is := h.iface(t)
	require.Empty(t, is.Popout)
	require.Equal(t, state.LoadApplied, is.CaptionLoad.Status)
}

func TestDeferredPopoutClose(t *testing.T) {
	p := manualPolicy()
	p.PopoutCloseDelay = 100 * time.Millisecond
	h := newHarness(t, p)
	require.NoError(t, controls.For(h.store, h.d).OpenPopout("captions"))

	_, err := h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()
	require.Equal(t, "captions", h.iface(t).Popout)

	h.clock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return h.iface(t).Popout == ""
	}, 2*time.Second, time.Millisecond)
}

func TestTeardownDuringDeferredClose_NoMutation(t *testing.T) {
	p := manualPolicy()
	p.PopoutCloseDelay = 100 * time.Millisecond
	h := newHarness(t, p)
	require.NoError(t, controls.For(h.store, h.d).OpenPopout("captions"))

	_, err := h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()

	require.True(t, h.coord.Detach(h.d))
	h.clock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, "captions", h.iface(t).Popout)
}

func TestAutoTrigger_OncePerEpisode(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	h.setMeta(t, episode("e1", trackES, trackEN))
	h.waitPendingAuto(t, "e1")

	// Same episode again, e.g. a title refresh: nothing new is scheduled.
	m := episode("e1", trackES, trackEN)
	m.Title = "Show (remastered)"
	h.setMeta(t, m)
	h.setMeta(t, episode("e1", trackES, trackEN))

	h.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return h.fetcher.Calls() == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.caption(t).ID == "linked-en" }, 2*time.Second, time.Millisecond)

	st, err := h.coord.Status(h.d)
	require.NoError(t, err)
	require.Equal(t, TriggerAuto, st.Trigger)

	h.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, h.fetcher.Calls())

	// A new episode triggers once more; returning to e1 does not.
	h.setMeta(t, episode("e2", trackEN))
	h.waitPendingAuto(t, "e2")
	h.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return h.fetcher.Calls() == 2 }, 2*time.Second, time.Millisecond)

	h.setMeta(t, episode("e1", trackES, trackEN))
	time.Sleep(20 * time.Millisecond)
	_, pending := h.pendingAuto()
	require.False(t, pending)
	h.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, h.fetcher.Calls())
}

func TestAutoTrigger_NewEpisodeReplacesPendingDebounce(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	other := state.CaptionTrack{LangISO: "EN-GB", URL: "https://subs.example/e2-en.srt"}
	h.fetcher.bodies[other.URL] = enSRT

	h.setMeta(t, episode("e1", trackEN))
	h.waitPendingAuto(t, "e1")
	h.setMeta(t, episode("e2", other))
	h.waitPendingAuto(t, "e2")

	h.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return h.fetcher.Calls() == 1 }, 2*time.Second, time.Millisecond)
	h.coord.Wait()

	h.fetcher.mu.Lock()
	got := h.fetcher.calls[0]
	h.fetcher.mu.Unlock()
	require.Equal(t, other.URL, got)
	require.Equal(t, "linked-en-gb", h.caption(t).ID)
}

func TestAutoTrigger_ReturnAfterCanceledDebounceFires(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	h.setMeta(t, episode("e1", trackEN))
	h.waitPendingAuto(t, "e1")
	h.setMeta(t, episode("e2", trackES))
	require.Eventually(t, func() bool {
		_, pending := h.pendingAuto()
		return !pending
	}, 2*time.Second, time.Millisecond)

	// e1 never loaded, so coming back schedules it again.
	h.setMeta(t, episode("e1", trackEN))
	h.waitPendingAuto(t, "e1")
	h.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return h.fetcher.Calls() == 1 }, 2*time.Second, time.Millisecond)
	h.coord.Wait()
	require.Equal(t, "linked-en", h.caption(t).ID)
}

func TestAutoTrigger_MovieNeverAutoLoads(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	h.setMeta(t, state.MetaState{
		MediaID:  "movie-1",
		Type:     state.MediaMovie,
		Captions: []state.CaptionTrack{trackEN},
	})
	time.Sleep(20 * time.Millisecond)
	_, pending := h.pendingAuto()
	require.False(t, pending)

	h.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.fetcher.Calls())
	require.Empty(t, h.caption(t).ID)
}

func TestMediaChange_SupersedesInFlightLoad(t *testing.T) {
	h := newHarness(t, manualPolicy())
	ctx := context.Background()

	h.setMeta(t, episode("e1", trackES))
	gate := h.fetcher.gate(trackES.URL)
	_, err := h.coord.IssueLoad(ctx, h.d, trackES, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.fetcher.Calls() == 1 }, 2*time.Second, time.Millisecond)

	h.setMeta(t, episode("e2"))
	close(gate)
	h.coord.Wait()

	require.Empty(t, h.caption(t).ID, "caption of the previous episode applied")
	require.Zero(t, h.blobs.Len())
	require.Eventually(t, func() bool {
		st, err := h.coord.Status(h.d)
		return err == nil && st.State == StateIdle
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, state.LoadIdle, h.iface(t).CaptionLoad.Status)

	// Loads issued for the new media still apply.
	_, err = h.coord.IssueLoad(ctx, h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()
	require.Equal(t, "linked-en", h.caption(t).ID)
}

func TestAutoTrigger_MediaChangeWithoutMatchCancelsPending(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	h.setMeta(t, episode("e1", trackEN))
	h.waitPendingAuto(t, "e1")
	h.setMeta(t, episode("e2", trackES))
	require.Eventually(t, func() bool {
		_, pending := h.pendingAuto()
		return !pending
	}, 2*time.Second, time.Millisecond)

	h.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.fetcher.Calls())
}

func TestTeardownDuringDebounce_NoMutation(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	h.setMeta(t, episode("e1", trackEN))
	h.waitPendingAuto(t, "e1")

	sub, err := h.store.Subscribe(context.Background(), h.d, state.KindControls)
	require.NoError(t, err)
	defer sub.Close()
	<-sub.C()

	require.True(t, h.coord.Detach(h.d))
	h.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)

	require.Zero(t, h.fetcher.Calls())
	select {
	case u := <-sub.C():
		t.Fatalf("mutation after teardown: %+v", u)
	default:
	}
}

func TestDetach_CancelsInFlightLoad(t *testing.T) {
	h := newHarness(t, manualPolicy())
	h.fetcher.gate(trackEN.URL)

	_, err := h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.fetcher.Calls() == 1 }, 2*time.Second, time.Millisecond)

	require.True(t, h.coord.Detach(h.d))
	h.coord.Wait()

	require.True(t, h.caption(t).Empty())
	require.Equal(t, state.LoadLoading, h.iface(t).CaptionLoad.Status)

	_, err = h.coord.Status(h.d)
	require.ErrorIs(t, err, ErrNotAttached)
	_, err = h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.ErrorIs(t, err, ErrNotAttached)
	require.False(t, h.coord.Detach(h.d))
}

func TestFetchTimeout(t *testing.T) {
	p := manualPolicy()
	p.FetchTimeout = 20 * time.Millisecond
	h := newHarness(t, p)
	h.fetcher.gate(trackEN.URL)

	_, err := h.coord.IssueLoad(context.Background(), h.d, trackEN, true)
	require.NoError(t, err)
	h.coord.Wait()

	st, err := h.coord.Status(h.d)
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.State)
	require.ErrorIs(t, st.Err, ErrFetch)
	require.ErrorIs(t, st.Err, context.DeadlineExceeded)
}

func TestAttach_Twice(t *testing.T) {
	h := newHarness(t, manualPolicy())
	require.ErrorIs(t, h.coord.Attach(context.Background(), h.d), ErrAlreadyAttached)

	unknown := descriptor.NewRegistry().Mint()
	require.ErrorIs(t, h.coord.Attach(context.Background(), unknown), store.ErrUnknownDescriptor)
}

func TestDescriptorsDoNotShareBookkeeping(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	other := descriptor.NewRegistry().Mint()
	require.NoError(t, h.store.Create(other))
	require.NoError(t, h.coord.Attach(context.Background(), other))
	defer func() {
		h.coord.Detach(other)
		_ = h.store.Destroy(other)
	}()

	h.setMeta(t, episode("e1", trackEN))
	h.waitPendingAuto(t, "e1")
	require.NoError(t, h.store.Update(other, func(tx *store.Tx) error {
		tx.ReplaceMeta(episode("e1", trackEN))
		return nil
	}))
	require.Eventually(t, func() bool {
		e, err := h.coord.entry(other)
		if err != nil {
			return false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.autoTimer != nil
	}, 2*time.Second, time.Millisecond)

	h.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return h.fetcher.Calls() == 2 }, 2*time.Second, time.Millisecond)
}
