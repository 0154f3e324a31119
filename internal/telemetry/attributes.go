// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by playerd spans.
const (
	PlayerDescriptorKey = "player.descriptor"
	PlayerSliceKey      = "player.slice"

	CaptionLangKey     = "caption.lang"
	CaptionLinkedKey   = "caption.linked"
	CaptionTokenKey    = "caption.load_token"
	CaptionOutcomeKey  = "caption.outcome"
	CaptionLocatorKey  = "caption.locator"
	CaptionBytesKey    = "caption.bytes"
	CaptionCacheHitKey = "caption.cache_hit"
	CaptionTriggerKey  = "caption.trigger"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// CaptionLoadAttributes describes one caption load.
func CaptionLoadAttributes(descriptor, lang string, linked bool, token uint64, trigger string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PlayerDescriptorKey, descriptor),
		attribute.String(CaptionLangKey, lang),
		attribute.Bool(CaptionLinkedKey, linked),
		attribute.Int64(CaptionTokenKey, int64(token)),
		attribute.String(CaptionTriggerKey, trigger),
	}
}

// FetchAttributes describes a caption fetch. Empty locators are omitted.
func FetchAttributes(locator string, cacheHit bool, n int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if locator != "" {
		attrs = append(attrs, attribute.String(CaptionLocatorKey, locator))
	}
	return append(attrs,
		attribute.Bool(CaptionCacheHitKey, cacheHit),
		attribute.Int(CaptionBytesKey, n),
	)
}

// ErrorAttributes marks a span as failed with a coarse error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
