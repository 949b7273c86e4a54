package store

import (
	"context"
	"time"

	"github.com/stridehq/tether/internal/types"
)

// Store defines the contract for the durable local mutation store.
//
// Every operation is a short, atomic read-modify-write; the store is shared
// between the UI-facing queue writers and the worker-side background drainer,
// so callers must not hold long read-then-later-write spans across calls.
type Store interface {
	// SaveMutation upserts a queued mutation by id.
	SaveMutation(ctx context.Context, m *types.QueuedMutation) error

	// ListUnsynced returns all unsynced mutations ordered by created_at
	// ascending. Used exclusively by drain passes.
	ListUnsynced(ctx context.Context) ([]types.QueuedMutation, error)

	// MarkSynced sets synced=true for one record. A missing id is a no-op,
	// not an error, so it is idempotent under concurrent pruning.
	MarkSynced(ctx context.Context, id string) error

	// PruneSynced bulk-deletes synced records and returns the count deleted.
	// It never removes unsynced records.
	PruneSynced(ctx context.Context) (int64, error)

	// CountAll and CountUnsynced back the diagnostics surface only.
	CountAll(ctx context.Context) (int64, error)
	CountUnsynced(ctx context.Context) (int64, error)

	// AcquireDrainLock takes the best-effort drain-in-progress marker.
	// Returns ErrDrainLockHeld when another owner holds an unexpired marker.
	// Re-acquisition by the same owner refreshes the expiry.
	AcquireDrainLock(ctx context.Context, owner string, ttl time.Duration) error

	// ReleaseDrainLock clears the marker if owned by owner; otherwise no-op.
	ReleaseDrainLock(ctx context.Context, owner string) error

	// GetMeta and SetMeta access the worker_meta key/value table.
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}
