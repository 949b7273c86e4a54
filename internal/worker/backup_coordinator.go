// Package worker hosts the background coordinators that run for the
// lifetime of the daemon.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/stridehq/tether/internal/snapshot"
)

// BackupCoordinator periodically uploads the mutation queue database to
// S3-compatible storage. Upload failures are logged but never fatal; the
// local queue remains the source of truth.
type BackupCoordinator struct {
	uploader snapshot.Uploader
	dbPath   string
	interval time.Duration
}

// NewBackupCoordinator creates a coordinator that uploads the database file
// at dbPath on the given interval.
func NewBackupCoordinator(uploader snapshot.Uploader, dbPath string, interval time.Duration) *BackupCoordinator {
	return &BackupCoordinator{
		uploader: uploader,
		dbPath:   dbPath,
		interval: interval,
	}
}

// Run starts the coordinator loop. Uploads immediately on start, then on
// each interval. Respects context cancellation for graceful shutdown.
func (c *BackupCoordinator) Run(ctx context.Context) {
	if !c.uploader.Configured() {
		slog.Info("backup storage not configured, worker idle",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "worker_skipped",
		)
		return
	}

	slog.Info("worker started",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.uploadBackup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.uploadBackup(ctx)
		}
	}
}

// uploadBackup uploads the queue database and logs the outcome.
func (c *BackupCoordinator) uploadBackup(ctx context.Context) {
	slog.Info("queue backup started",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "backup_start",
		"path", c.dbPath,
	)

	if err := c.uploader.Upload(ctx, c.dbPath); err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log as error
		}
		slog.Warn("queue backup failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "backup_failed",
			"error", err,
		)
		return
	}

	slog.Info("queue backup uploaded",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "backup_uploaded",
	)
}
