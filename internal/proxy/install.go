package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stridehq/tether/internal/cache"
	"github.com/stridehq/tether/internal/hub"
)

// Install seeds the static partition from the manifest. Caching is
// all-or-nothing: any miss aborts the install and no partial static cache is
// retained, since the offline fallback page itself is part of the manifest
// and must be guaranteed present.
func (wk *Worker) Install(ctx context.Context) error {
	staging := make(map[string]cache.Entry, len(wk.manifest))

	for _, path := range wk.manifest {
		entry, err := wk.fetchManifestEntry(ctx, path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInstallFailed, path, err)
		}
		staging[cache.Key(http.MethodGet, path)] = entry
	}

	// Commit the complete set in one step.
	wk.static().Replace(staging)

	slog.Info("worker installed",
		"component", "proxy",
		"action", "install_complete",
		"version", wk.version,
		"assets", len(staging),
	)
	return nil
}

func (wk *Worker) fetchManifestEntry(ctx context.Context, path string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wk.origin.String()+path, nil)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("build request: %w", err)
	}

	captured, err := wk.doCapture(req)
	if err != nil {
		return cache.Entry{}, err
	}
	if !captured.ok() {
		return cache.Entry{}, fmt.Errorf("origin returned %d", captured.status)
	}
	return captured.entry(), nil
}

func (wk *Worker) doCapture(req *http.Request) (*capturedResponse, error) {
	resp, err := wk.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	header := resp.Header.Clone()
	stripHopByHop(header)
	return &capturedResponse{status: resp.StatusCode, header: header, body: body}, nil
}

// Activate performs version rollover: every partition whose name does not
// match the current static/dynamic names is removed, then connected clients
// are told the new version has taken control. Returns the number of stale
// partitions dropped.
func (wk *Worker) Activate() int {
	dropped := wk.cache.DropExcept(wk.staticName(), wk.dynamicName())

	// Ensure both current partitions exist even before first traffic.
	wk.static()
	wk.dynamic()

	wk.hub.Broadcast(hub.Signal{Kind: hub.KindActivated, Version: wk.version})

	slog.Info("worker activated",
		"component", "proxy",
		"action", "activate_complete",
		"version", wk.version,
		"stale_partitions_dropped", dropped,
	)
	return dropped
}
