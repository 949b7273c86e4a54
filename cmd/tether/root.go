package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stridehq/tether/internal/api"
	"github.com/stridehq/tether/internal/cache"
	"github.com/stridehq/tether/internal/config"
	"github.com/stridehq/tether/internal/connectivity"
	"github.com/stridehq/tether/internal/gateway"
	"github.com/stridehq/tether/internal/hub"
	"github.com/stridehq/tether/internal/metrics"
	"github.com/stridehq/tether/internal/notifier"
	"github.com/stridehq/tether/internal/orchestrator"
	"github.com/stridehq/tether/internal/proxy"
	"github.com/stridehq/tether/internal/snapshot"
	"github.com/stridehq/tether/internal/store"
	"github.com/stridehq/tether/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether - offline-first sync sidecar for the Stride app",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Initialize store (migrations, WAL mode). An unopenable database
	// disables the offline queue but does not stop the sidecar: traffic
	// still proxies and caches, queue operations answer 503.
	var db store.Store
	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		if !errors.Is(err, store.ErrStorageUnavailable) {
			return err
		}
		slog.Error("local store unavailable, offline queue disabled",
			"path", cfg.Database.Path, "error", err)
		db = store.UnavailableStore{}
	} else {
		db = sqliteStore
		slog.Info("store initialized", "path", cfg.Database.Path)
	}

	// 5. Gateway to the upstream application API
	gw := gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.HealthPath, nil)
	slog.Info("gateway initialized", "base_url", cfg.Gateway.BaseURL)

	// 6. Shared infrastructure
	m := metrics.New()
	h := hub.New()
	defer h.Close()
	caches := cache.New()

	// 7. Caching worker with install/activate lifecycle
	manifest := cfg.Worker.Manifest
	if len(manifest) == 0 {
		manifest = []string{cfg.Worker.OfflinePath}
	}
	wk, err := proxy.New(proxy.Config{
		Origin:      cfg.Worker.Origin,
		Version:     cfg.Worker.Version,
		Manifest:    manifest,
		OfflinePath: cfg.Worker.OfflinePath,
		APIPrefix:   cfg.Worker.APIPrefix,
		SyncTag:     cfg.Worker.SyncTag,
	}, caches, db, gw, h, m)
	if err != nil {
		return fmt.Errorf("create caching worker: %w", err)
	}

	// Install is all-or-nothing; a failed install leaves the previous
	// version's caches controlling and is retried on next start.
	if err := wk.Install(ctx); err != nil {
		slog.Warn("install pass failed, serving without static precache",
			"version", cfg.Worker.Version, "error", err)
	} else {
		dropped := wk.Activate()
		slog.Info("caching worker activated",
			"version", cfg.Worker.Version, "partitions_dropped", dropped)
	}

	// 8. Sync pipeline: monitor feeds the orchestrator
	monitor := connectivity.NewMonitor(gw, time.Duration(cfg.Connectivity.ProbeInterval))
	orch := orchestrator.New(db, gw, m)

	// 9. Update/install notifier
	notif := notifier.New(cfg.Worker.VersionFile, cfg.Worker.Version, h, db)

	// 10. Queue backup
	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return fmt.Errorf("create backup uploader: %w", err)
	}
	backup := worker.NewBackupCoordinator(uploader, cfg.Database.Path, time.Duration(cfg.Backup.Interval))

	// 11. HTTP router: admin surface plus proxy catch-all
	handler := api.NewHandler(db, orch, wk, notif, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler, h, m.Handler(), wk)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 12. Background workers. The orchestrator subscribes before the
	// monitor starts so the first probe's edge cannot be missed.
	events := monitor.Subscribe()
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity-monitor", monitor.Run)
	startWorker(ctx, &wg, "sync-orchestrator", func(ctx context.Context) {
		orch.Run(ctx, events)
	})
	startWorker(ctx, &wg, "update-notifier", func(ctx context.Context) {
		if err := notif.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("notifier stopped", "error", err)
		}
	})
	startWorker(ctx, &wg, "backup-coordinator", backup.Run)

	// 13. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Any other error triggers shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 14. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 15. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
