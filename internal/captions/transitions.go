// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package captions

import "github.com/ManuGH/playerstate/internal/player/state"

// LoadState is the state of one caption load, and of a descriptor's latest
// load when reported through Status.
type LoadState string

const (
	StateIdle       LoadState = "idle"
	StateLoading    LoadState = "loading"
	StateApplied    LoadState = "applied"
	StateSuperseded LoadState = "superseded"
	StateFailed     LoadState = "failed"
)

// Terminal reports whether no further transition leaves s except a new issue.
func (s LoadState) Terminal() bool {
	switch s {
	case StateApplied, StateSuperseded, StateFailed:
		return true
	default:
		return false
	}
}

// EventKind drives the load state machine.
type EventKind string

const (
	EvIssue       EventKind = "issue"
	EvFetchFailed EventKind = "fetch_failed"
	EvParseFailed EventKind = "parse_failed"
	EvCommitted   EventKind = "committed"
	EvSuperseded  EventKind = "superseded"
)

// Transition is a single allowed edge.
type Transition struct {
	From  LoadState
	To    LoadState
	Event EventKind
}

var transitionsTable = []Transition{
	// Issue path. Loading --issue--> Loading is the supersession edge for the
	// descriptor; the previous load finishes on its own and lands in
	// Superseded.
	{From: StateIdle, To: StateLoading, Event: EvIssue},
	{From: StateLoading, To: StateLoading, Event: EvIssue},
	{From: StateApplied, To: StateLoading, Event: EvIssue},
	{From: StateFailed, To: StateLoading, Event: EvIssue},

	// Completion
	{From: StateLoading, To: StateFailed, Event: EvFetchFailed},
	{From: StateLoading, To: StateFailed, Event: EvParseFailed},
	{From: StateLoading, To: StateApplied, Event: EvCommitted},
	{From: StateLoading, To: StateSuperseded, Event: EvSuperseded},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from LoadState, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// outcome is the metric label of a terminal transition.
func outcome(ev EventKind) string {
	switch ev {
	case EvCommitted:
		return "applied"
	default:
		return string(ev)
	}
}

// loadStatus maps a descriptor status onto the Interface slice vocabulary.
// Superseded never reaches a descriptor's status.
func loadStatus(s LoadState) state.LoadStatus {
	switch s {
	case StateLoading:
		return state.LoadLoading
	case StateApplied:
		return state.LoadApplied
	case StateFailed:
		return state.LoadFailed
	default:
		return state.LoadIdle
	}
}
