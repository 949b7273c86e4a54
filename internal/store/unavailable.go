package store

import (
	"context"
	"time"

	"github.com/stridehq/tether/internal/types"
)

// UnavailableStore is the degraded-mode store used when the local database
// cannot be opened. Every operation reports ErrStorageUnavailable so the
// offline queue surface is disabled while the rest of the sidecar keeps
// serving traffic.
type UnavailableStore struct{}

func (UnavailableStore) SaveMutation(context.Context, *types.QueuedMutation) error {
	return ErrStorageUnavailable
}

func (UnavailableStore) ListUnsynced(context.Context) ([]types.QueuedMutation, error) {
	return nil, ErrStorageUnavailable
}

func (UnavailableStore) MarkSynced(context.Context, string) error {
	return ErrStorageUnavailable
}

func (UnavailableStore) PruneSynced(context.Context) (int64, error) {
	return 0, ErrStorageUnavailable
}

func (UnavailableStore) CountAll(context.Context) (int64, error) {
	return 0, ErrStorageUnavailable
}

func (UnavailableStore) CountUnsynced(context.Context) (int64, error) {
	return 0, ErrStorageUnavailable
}

func (UnavailableStore) AcquireDrainLock(context.Context, string, time.Duration) error {
	return ErrStorageUnavailable
}

func (UnavailableStore) ReleaseDrainLock(context.Context, string) error {
	return ErrStorageUnavailable
}

func (UnavailableStore) GetMeta(context.Context, string) (string, error) {
	return "", ErrStorageUnavailable
}

func (UnavailableStore) SetMeta(context.Context, string, string) error {
	return ErrStorageUnavailable
}

func (UnavailableStore) Close() error { return nil }
