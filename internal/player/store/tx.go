// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import "github.com/ManuGH/playerstate/internal/player/state"

// Tx is a pending multi-slice change. Accessors hand out pointers to private
// copies; calling an accessor marks that slice for commit.
type Tx struct {
	controls state.ControlsState
	iface    state.InterfaceState
	meta     state.MetaState
	source   state.SourceState

	touched [len(state.Kinds)]bool
}

func newTx(cur [len(state.Kinds)]state.Slice) *Tx {
	return &Tx{
		controls: cur[state.KindControls].(state.ControlsState),
		iface:    cur[state.KindInterface].(state.InterfaceState),
		meta:     cur[state.KindMeta].(state.MetaState).Clone(),
		source:   cur[state.KindSource].(state.SourceState),
	}
}

func (tx *Tx) Controls() *state.ControlsState {
	tx.touched[state.KindControls] = true
	return &tx.controls
}

func (tx *Tx) Interface() *state.InterfaceState {
	tx.touched[state.KindInterface] = true
	return &tx.iface
}

func (tx *Tx) Meta() *state.MetaState {
	tx.touched[state.KindMeta] = true
	return &tx.meta
}

func (tx *Tx) Source() *state.SourceState {
	tx.touched[state.KindSource] = true
	return &tx.source
}

// ReplaceMeta swaps the whole Meta slice.
func (tx *Tx) ReplaceMeta(m state.MetaState) {
	*tx.Meta() = m.Clone()
}

func (tx *Tx) get(k state.Kind) state.Slice {
	switch k {
	case state.KindControls:
		return tx.controls
	case state.KindInterface:
		return tx.iface
	case state.KindMeta:
		return tx.meta
	default:
		return tx.source
	}
}

func (tx *Tx) set(v state.Slice) {
	switch s := v.(type) {
	case state.ControlsState:
		*tx.Controls() = s
	case state.InterfaceState:
		*tx.Interface() = s
	case state.MetaState:
		tx.ReplaceMeta(s)
	case state.SourceState:
		*tx.Source() = s
	}
}

func (tx *Tx) value(k state.Kind) state.Slice {
	if k == state.KindMeta {
		return tx.meta.Clone()
	}
	return tx.get(k)
}
