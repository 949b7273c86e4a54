// Package queue is the typed write façade over the durable local store.
// It is the only writer of new queued mutations.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stridehq/tether/internal/store"
	"github.com/stridehq/tether/internal/types"
)

// Queue constructs queued mutations and delegates persistence to the store.
type Queue struct {
	store store.Store
}

// New creates a Queue backed by the given store.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

// SaveOfflineWorkout enqueues a workout mutation and returns its queue id.
func (q *Queue) SaveOfflineWorkout(ctx context.Context, payload json.RawMessage) (string, error) {
	return q.save(ctx, types.RecordWorkout, payload)
}

// SaveOfflinePost enqueues a post mutation and returns its queue id.
func (q *Queue) SaveOfflinePost(ctx context.Context, payload json.RawMessage) (string, error) {
	return q.save(ctx, types.RecordPost, payload)
}

// SaveOfflineComment enqueues a comment mutation and returns its queue id.
func (q *Queue) SaveOfflineComment(ctx context.Context, payload json.RawMessage) (string, error) {
	return q.save(ctx, types.RecordComment, payload)
}

// SaveOfflineLike enqueues a like toggle and returns its queue id.
func (q *Queue) SaveOfflineLike(ctx context.Context, payload json.RawMessage) (string, error) {
	return q.save(ctx, types.RecordLike, payload)
}

// Save enqueues a mutation for an explicit record type. Unknown record types
// are rejected here rather than at replay time.
func (q *Queue) Save(ctx context.Context, rt types.RecordType, payload json.RawMessage) (string, error) {
	if !rt.Valid() {
		return "", fmt.Errorf("unknown record type %q", rt)
	}
	return q.save(ctx, rt, payload)
}

func (q *Queue) save(ctx context.Context, rt types.RecordType, payload json.RawMessage) (string, error) {
	m := &types.QueuedMutation{
		ID:         NewID(rt),
		RecordType: rt,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		Synced:     false,
	}

	if err := q.store.SaveMutation(ctx, m); err != nil {
		// A failed enqueue is reported to the UI the same way a failed
		// live network call would be.
		return "", fmt.Errorf("enqueue %s: %w", rt, err)
	}

	slog.Debug("mutation enqueued",
		"component", "queue",
		"record_type", rt,
		"id", m.ID,
	)
	return m.ID, nil
}

// NewID builds a queue id from the record type and a ULID, which carries the
// creation timestamp plus a random suffix. IDs are globally unique, sortable
// by creation time, and never reused.
func NewID(rt types.RecordType) string {
	return string(rt) + "_" + ulid.Make().String()
}
