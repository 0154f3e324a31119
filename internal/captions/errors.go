// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package captions

import "errors"

var (
	// ErrFetch classifies transport, HTTP and breaker failures of a load.
	ErrFetch = errors.New("caption fetch failed")
	// ErrValidation classifies documents that are not valid captions.
	ErrValidation = errors.New("caption document invalid")

	ErrNotAttached     = errors.New("descriptor not attached to caption coordinator")
	ErrAlreadyAttached = errors.New("descriptor already attached to caption coordinator")
)
