// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldService    = "service"
	FieldVersion    = "version"
	FieldRequestID  = "request_id"
	FieldDescriptor = "descriptor"
	FieldComponent  = "component"
	FieldEvent      = "event"

	// State fields
	FieldSlice    = "slice"
	FieldSeq      = "seq"
	FieldPopout   = "popout"
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Caption fields
	FieldCaptionID = "caption_id"
	FieldLoadToken = "load_token"
	FieldLatest    = "latest_token"
	FieldLocator   = "locator"
	FieldLanguage  = "lang"

	// Media fields
	FieldMediaID   = "media_id"
	FieldEpisodeID = "episode_id"

	// Path / network fields
	FieldPath   = "path"
	FieldListen = "listen_addr"
)
