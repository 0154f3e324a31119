// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package state

// Update is one committed value of a descriptor's slice. Seq starts at 1 for
// the initial value and increases by one per committed change.
type Update struct {
	Descriptor string `json:"descriptor"`
	Kind       Kind   `json:"-"`
	Seq        uint64 `json:"seq"`
	Value      Slice  `json:"value"`
}

// Controls returns the value as ControlsState when Kind matches.
func (u Update) Controls() (ControlsState, bool) {
	v, ok := u.Value.(ControlsState)
	return v, ok
}

// Interface returns the value as InterfaceState when Kind matches.
func (u Update) Interface() (InterfaceState, bool) {
	v, ok := u.Value.(InterfaceState)
	return v, ok
}

// Meta returns a copy of the value as MetaState when Kind matches.
func (u Update) Meta() (MetaState, bool) {
	v, ok := u.Value.(MetaState)
	if !ok {
		return MetaState{}, false
	}
	return v.Clone(), true
}

// Source returns the value as SourceState when Kind matches.
func (u Update) Source() (SourceState, bool) {
	v, ok := u.Value.(SourceState)
	return v, ok
}
