// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package state defines the four slices held per player descriptor.
package state

import "fmt"

// Kind identifies one of the slices of a player instance.
type Kind uint8

const (
	KindControls Kind = iota
	KindInterface
	KindMeta
	KindSource

	numKinds
)

// Kinds lists every slice kind in commit order.
var Kinds = [numKinds]Kind{KindControls, KindInterface, KindMeta, KindSource}

func (k Kind) String() string {
	switch k {
	case KindControls:
		return "controls"
	case KindInterface:
		return "interface"
	case KindMeta:
		return "meta"
	case KindSource:
		return "source"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k names a known slice.
func (k Kind) Valid() bool { return k < numKinds }

// ParseKind maps the wire name of a slice back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown slice kind %q", s)
}

// Slice is implemented by the four slice structs only.
type Slice interface {
	Kind() Kind
	isSlice()
}
