// Package types contains the shared domain types for the offline sync layer.
package types

import (
	"encoding/json"
	"time"
)

// RecordType identifies which remote endpoint and payload shape apply to a
// queued mutation at replay time.
type RecordType string

const (
	RecordWorkout RecordType = "workout"
	RecordPost    RecordType = "post"
	RecordComment RecordType = "comment"
	RecordLike    RecordType = "like"
)

// KnownRecordTypes lists every record type the gateway can replay.
var KnownRecordTypes = []RecordType{RecordWorkout, RecordPost, RecordComment, RecordLike}

// Valid reports whether rt is a recognized record type.
func (rt RecordType) Valid() bool {
	switch rt {
	case RecordWorkout, RecordPost, RecordComment, RecordLike:
		return true
	}
	return false
}

// QueuedMutation is a durably stored, not-yet-confirmed client write intended
// for eventual delivery to the backend.
//
// Synced is set true exactly once, on confirmed successful replay, and never
// reverts to false. Synced records stay in the store until a pruning pass
// removes them.
type QueuedMutation struct {
	ID         string          `json:"id"`
	RecordType RecordType      `json:"record_type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	Synced     bool            `json:"synced"`
}

// Diagnostics is the read-only storage snapshot exposed on the admin surface.
type Diagnostics struct {
	TotalItems    int64 `json:"totalItems"`
	UnsyncedItems int64 `json:"unsyncedItems"`
}

// PushMessage is the schema of externally pushed notification messages.
// Unknown fields are ignored; a missing Type selects the generic fallback.
type PushMessage struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Notification is a fully resolved user notification ready for display.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// HealthResponse is returned by GET /_tether/healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	TotalItems    int64  `json:"total_items"`
	UnsyncedItems int64  `json:"unsynced_items"`
}
