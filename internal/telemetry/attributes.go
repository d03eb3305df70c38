// SPDX-License-Identifier: MIT
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Item attributes
	ItemVideoIDKey   = "item.video_id"
	ItemClassroomKey = "item.classroom_id"
	ItemChapterKey   = "item.chapter"
	ItemDurationKey  = "item.duration_s"

	// Playback attributes
	PlaybackCoverageKey = "playback.coverage_pct"
	PlaybackTicksKey    = "playback.ticks"
	PlaybackRestartsKey = "playback.restarts"
	PlaybackResultKey   = "playback.result"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// ItemAttributes creates span attributes identifying one watchable item.
func ItemAttributes(videoID, classroomID string, chapter int, duration float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ItemVideoIDKey, videoID),
		attribute.String(ItemClassroomKey, classroomID),
		attribute.Int(ItemChapterKey, chapter),
		attribute.Float64(ItemDurationKey, duration),
	}
}

// OutcomeAttributes creates span attributes describing how an item finished.
func OutcomeAttributes(result string, coverage float64, ticks, restarts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PlaybackResultKey, result),
		attribute.Float64(PlaybackCoverageKey, coverage),
		attribute.Int(PlaybackTicksKey, ticks),
		attribute.Int(PlaybackRestartsKey, restarts),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
