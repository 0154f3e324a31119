// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package controls_test

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/playerstate/internal/player/controls"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/ManuGH/playerstate/internal/player/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newPlayer(t *testing.T) (*store.Store, descriptor.Descriptor) {
	t.Helper()
	s := store.New()
	d := descriptor.NewRegistry().Mint()
	require.NoError(t, s.Create(d))
	t.Cleanup(func() { _ = s.Destroy(d) })
	return s, d
}

func collectInterface(t *testing.T, sub *store.Subscription, n int) []state.InterfaceState {
	t.Helper()
	var out []state.InterfaceState
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case u, ok := <-sub.C():
			require.True(t, ok, "subscription closed early")
			v, ok := u.Interface()
			require.True(t, ok)
			out = append(out, v)
		case <-timeout:
			t.Fatalf("timed out after %d of %d updates", len(out), n)
		}
	}
	return out
}

func requireNoMore(t *testing.T, sub *store.Subscription) {
	t.Helper()
	select {
	case u := <-sub.C():
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOpenPopout_SameNameTwiceIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s, d := newPlayer(t)
	c := controls.For(s, d)

	sub, err := s.Subscribe(context.Background(), d, state.KindInterface)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.OpenPopout("settings"))
	require.NoError(t, c.OpenPopout("settings"))

	got := collectInterface(t, sub, 2)
	require.Equal(t, "", got[0].Popout)
	require.Equal(t, "settings", got[1].Popout)
	requireNoMore(t, sub)
}

func TestOpenPopout_DifferentNameReplaces(t *testing.T) {
	s, d := newPlayer(t)
	c := controls.For(s, d)

	require.NoError(t, c.OpenPopout("a"))
	require.NoError(t, c.OpenPopout("b"))

	is, err := s.Interface(d)
	require.NoError(t, err)
	require.Equal(t, "b", is.Popout)
}

func TestClosePopout_WithNoneOpenIsNoop(t *testing.T) {
	s, d := newPlayer(t)
	c := controls.For(s, d)

	require.NoError(t, c.ClosePopout())
	is, err := s.Interface(d)
	require.NoError(t, err)
	require.Empty(t, is.Popout)

	require.NoError(t, c.OpenPopout("episodes"))
	require.NoError(t, c.ClosePopout())
	is, err = s.Interface(d)
	require.NoError(t, err)
	require.Empty(t, is.Popout)
}

func TestSeekAndVolumeAreClamped(t *testing.T) {
	s, d := newPlayer(t)
	c := controls.For(s, d)

	require.NoError(t, c.ReportTime(10*time.Second, time.Minute))
	require.NoError(t, c.Seek(-time.Second))
	cs, err := s.Controls(d)
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), cs.Position)

	require.NoError(t, c.Seek(2*time.Minute))
	require.NoError(t, c.SetVolume(3))
	cs, err = s.Controls(d)
	require.NoError(t, err)
	require.Equal(t, time.Minute, cs.Position)
	require.Equal(t, 1.0, cs.Volume)

	require.NoError(t, c.SetVolume(-1))
	cs, _ = s.Controls(d)
	require.Equal(t, 0.0, cs.Volume)
}

func TestCommitCaption_ClosesPopoutInSameCommit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s, d := newPlayer(t)
	c := controls.For(s, d)
	require.NoError(t, c.OpenPopout("settings"))

	sub, err := s.Subscribe(context.Background(), d, state.KindInterface)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.CommitCaption("linked-en", "blob:playerd/x", true))

	got := collectInterface(t, sub, 2)
	require.Equal(t, "settings", got[0].Popout)
	require.Empty(t, got[1].Popout)
	require.Equal(t, state.LoadApplied, got[1].CaptionLoad.Status)

	cs, err := s.Controls(d)
	require.NoError(t, err)
	require.True(t, cs.Playing)
	require.Equal(t, state.CaptionSelection{ID: "linked-en", URL: "blob:playerd/x"}, cs.Caption)
}

func TestFromContext_UsesAmbientDescriptor(t *testing.T) {
	s, d := newPlayer(t)
	ctx := descriptor.WithDescriptor(context.Background(), d)

	require.NoError(t, controls.FromContext(ctx, s).SetLeftControlsHover(true))
	is, err := s.Interface(d)
	require.NoError(t, err)
	require.True(t, is.LeftControlsHover)

	require.Panics(t, func() { controls.FromContext(context.Background(), s) })
}

func TestCommandsOnDestroyedPlayerFail(t *testing.T) {
	s, d := newPlayer(t)
	require.NoError(t, s.Destroy(d))

	err := controls.For(s, d).Play()
	require.ErrorIs(t, err, store.ErrUnknownDescriptor)
}
