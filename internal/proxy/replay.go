package proxy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stridehq/tether/internal/store"
)

// workerLockOwner identifies the worker-context drainer in the store's
// drain marker, distinguishing it from the orchestrator.
const workerLockOwner = "worker"

// HandleSyncEvent answers a platform-delivered background sync event. Events
// carrying a foreign tag are ignored. The drain runs independently of any
// page lifetime: each item is dispatched through the gateway and removed
// from the local store only on confirmed success; failed items stay queued,
// mirroring the orchestrator's continue-past-failure policy.
func (wk *Worker) HandleSyncEvent(ctx context.Context, tag string) error {
	if tag != wk.syncTag {
		slog.Debug("ignoring sync event with foreign tag",
			"component", "proxy",
			"tag", tag,
		)
		return nil
	}

	if err := wk.store.AcquireDrainLock(ctx, workerLockOwner, 2*time.Minute); err != nil {
		if errors.Is(err, store.ErrDrainLockHeld) {
			slog.Debug("background replay skipped, another drainer active",
				"component", "proxy",
			)
			return nil
		}
		return err
	}
	defer func() {
		if err := wk.store.ReleaseDrainLock(ctx, workerLockOwner); err != nil {
			slog.Warn("failed to release drain marker",
				"component", "proxy",
				"error", err,
			)
		}
	}()

	pending, err := wk.store.ListUnsynced(ctx)
	if err != nil {
		return err
	}

	var succeeded, failed int
	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}

		if err := wk.gateway.Replay(ctx, m); err != nil {
			failed++
			wk.metrics.ReplayFailed.Inc()
			slog.Warn("background replay failed",
				"component", "proxy",
				"action", "replay_failed",
				"id", m.ID,
				"record_type", m.RecordType,
				"error", err,
			)
			continue
		}

		if err := wk.store.MarkSynced(ctx, m.ID); err != nil {
			failed++
			slog.Warn("failed to mark mutation synced",
				"component", "proxy",
				"id", m.ID,
				"error", err,
			)
			continue
		}
		succeeded++
		wk.metrics.ReplaySucceeded.Inc()
	}

	pruned, err := wk.store.PruneSynced(ctx)
	if err != nil {
		slog.Warn("background pruning failed",
			"component", "proxy",
			"error", err,
		)
	} else {
		wk.metrics.MutationsPruned.Add(float64(pruned))
	}

	slog.Info("background replay completed",
		"component", "proxy",
		"action", "sync_event_complete",
		"tag", tag,
		"total", len(pending),
		"succeeded", succeeded,
		"failed", failed,
	)
	return nil
}
