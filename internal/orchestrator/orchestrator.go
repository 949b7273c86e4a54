// Package orchestrator drains the mutation queue when connectivity returns.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stridehq/tether/internal/connectivity"
	"github.com/stridehq/tether/internal/gateway"
	"github.com/stridehq/tether/internal/metrics"
	"github.com/stridehq/tether/internal/store"
)

// State is the orchestrator's current phase.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StatePruning
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDraining:
		return "draining"
	case StatePruning:
		return "pruning"
	default:
		return "idle"
	}
}

// drainLockOwner identifies this drainer in the store's drain marker.
const drainLockOwner = "orchestrator"

// Orchestrator runs the Idle → Draining → Pruning loop. There are no
// terminal states; the loop re-enters on every connectivity edge or manual
// trigger. At most one drain pass runs at a time: the Run loop executes
// passes inline and re-entrant triggers coalesce into the one-slot trigger
// channel.
type Orchestrator struct {
	store   store.Store
	gateway gateway.Gateway
	metrics *metrics.Metrics

	trigger chan struct{}
	state   atomic.Int32
	lockTTL time.Duration
}

// New creates an orchestrator over the given store and gateway.
func New(s store.Store, g gateway.Gateway, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:   s,
		gateway: g,
		metrics: m,
		trigger: make(chan struct{}, 1),
		lockTTL: 2 * time.Minute,
	}
}

// State returns the current phase, for diagnostics.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// TriggerSync requests a drain pass, equivalent to an observed became-online
// event. Triggers while a pass is running coalesce.
func (o *Orchestrator) TriggerSync() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run processes connectivity edges and manual triggers until ctx is
// cancelled. Only became-online edges start a pass; there is no scheduled
// backoff; the next edge or trigger is the retry mechanism.
func (o *Orchestrator) Run(ctx context.Context, events <-chan connectivity.Event) {
	slog.Info("worker started",
		"component", "orchestrator",
		"action", "worker_started",
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "orchestrator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case ev := <-events:
			if ev.State == connectivity.Online {
				o.runPass(ctx)
			}
		case <-o.trigger:
			o.runPass(ctx)
		}
	}
}

// runPass performs one complete Draining then Pruning sweep. Individual
// replay failures leave their record unsynced and the pass continues;
// partial progress is the designed behavior.
func (o *Orchestrator) runPass(ctx context.Context) {
	if err := o.store.AcquireDrainLock(ctx, drainLockOwner, o.lockTTL); err != nil {
		if errors.Is(err, store.ErrDrainLockHeld) {
			slog.Debug("drain pass skipped, another drainer active",
				"component", "orchestrator",
			)
		} else {
			slog.Error("failed to acquire drain marker",
				"component", "orchestrator",
				"error", err,
			)
		}
		return
	}
	defer func() {
		if err := o.store.ReleaseDrainLock(ctx, drainLockOwner); err != nil {
			slog.Warn("failed to release drain marker",
				"component", "orchestrator",
				"error", err,
			)
		}
	}()

	o.state.Store(int32(StateDraining))
	defer o.state.Store(int32(StateIdle))

	pending, err := o.store.ListUnsynced(ctx)
	if err != nil {
		slog.Error("failed to read unsynced mutations",
			"component", "orchestrator",
			"action", "drain_failed",
			"error", err,
		)
		return
	}

	var succeeded, failed int
	for _, m := range pending {
		if ctx.Err() != nil {
			return // graceful shutdown mid-pass; remaining items stay queued
		}

		if err := o.gateway.Replay(ctx, m); err != nil {
			// Left unsynced; the next pass re-derives the set from scratch.
			failed++
			o.metrics.ReplayFailed.Inc()
			slog.Warn("replay failed",
				"component", "orchestrator",
				"action", "replay_failed",
				"id", m.ID,
				"record_type", m.RecordType,
				"error", err,
			)
			continue
		}

		if err := o.store.MarkSynced(ctx, m.ID); err != nil {
			// The remote accepted the call but the flag write failed; the
			// record will be replayed again and the gateway's idempotency
			// covers the duplicate.
			failed++
			slog.Warn("failed to mark mutation synced",
				"component", "orchestrator",
				"id", m.ID,
				"error", err,
			)
			continue
		}

		succeeded++
		o.metrics.ReplaySucceeded.Inc()
	}

	// An empty set still proceeds to pruning; it is a harmless no-op.
	o.state.Store(int32(StatePruning))
	pruned, err := o.store.PruneSynced(ctx)
	if err != nil {
		slog.Warn("pruning failed",
			"component", "orchestrator",
			"error", err,
		)
	} else {
		o.metrics.MutationsPruned.Add(float64(pruned))
	}

	o.metrics.DrainPasses.Inc()
	slog.Info("drain pass completed",
		"component", "orchestrator",
		"action", "pass_complete",
		"total", len(pending),
		"succeeded", succeeded,
		"failed", failed,
		"pruned", pruned,
	)
}
