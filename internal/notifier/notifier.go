// Package notifier surfaces worker-lifecycle affordances to the UI: an
// "update waiting" action when a newer worker version is deployed, and an
// install affordance gated by a dismissal window.
//
// The two affordances use distinct signal kinds so clients render them in
// separate, non-overlapping surfaces.
package notifier

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stridehq/tether/internal/hub"
	"github.com/stridehq/tether/internal/store"
)

// installDismissWindow suppresses the install prompt after an explicit
// dismissal.
const installDismissWindow = 24 * time.Hour

// Notifier watches the deployed version file and tracks install prompting
// state.
type Notifier struct {
	versionFile string
	running     string
	hub         *hub.Hub
	store       store.Store

	mu             sync.Mutex
	updateWaiting  bool
	waitingVersion string
	installable    bool
}

// New creates a notifier for a worker currently running runningVersion.
// versionFile is the deployment artifact naming the newest available
// version; when its contents differ from the running version, an update is
// waiting to activate.
func New(versionFile, runningVersion string, h *hub.Hub, s store.Store) *Notifier {
	return &Notifier{
		versionFile: versionFile,
		running:     runningVersion,
		hub:         h,
		store:       s,
	}
}

// Run watches the version file until ctx is cancelled. An initial check
// covers versions deployed while the process was down.
func (n *Notifier) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors and deploy tools replace files rather
	// than writing in place.
	if err := watcher.Add(filepath.Dir(n.versionFile)); err != nil {
		return err
	}

	slog.Info("worker started",
		"component", "notifier",
		"action", "worker_started",
		"version_file", n.versionFile,
	)

	n.check()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "notifier",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(n.versionFile) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				n.check()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("version watch error", "component", "notifier", "error", err)
		}
	}
}

// check compares the deployed version against the running one and raises
// the update-waiting signal once per new version.
func (n *Notifier) check() {
	data, err := os.ReadFile(n.versionFile)
	if err != nil {
		slog.Debug("version file unreadable", "component", "notifier", "error", err)
		return
	}
	deployed := strings.TrimSpace(string(data))
	if deployed == "" || deployed == n.running {
		return
	}

	n.mu.Lock()
	alreadySeen := n.updateWaiting && n.waitingVersion == deployed
	n.updateWaiting = true
	n.waitingVersion = deployed
	n.mu.Unlock()

	if alreadySeen {
		return
	}

	slog.Info("update waiting",
		"component", "notifier",
		"action", "update_waiting",
		"running", n.running,
		"deployed", deployed,
	)
	n.hub.Broadcast(hub.Signal{Kind: hub.KindUpdateWaiting, Version: deployed})
}

// UpdateWaiting reports whether a newer version is waiting, and which.
func (n *Notifier) UpdateWaiting() (bool, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.updateWaiting, n.waitingVersion
}

// Installable reports whether the install affordance is currently raised.
func (n *Notifier) Installable() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.installable
}

// ActivateNow is the single user action for a waiting update: it posts the
// skip-waiting instruction and then reloads clients so the new version
// takes control.
func (n *Notifier) ActivateNow() {
	n.mu.Lock()
	waiting := n.updateWaiting
	version := n.waitingVersion
	n.updateWaiting = false
	n.mu.Unlock()

	if !waiting {
		return
	}

	slog.Info("activating waiting worker",
		"component", "notifier",
		"action", "activate_now",
		"version", version,
	)
	n.hub.Broadcast(hub.Signal{Kind: hub.KindSkipWaiting, Version: version})
	n.hub.Broadcast(hub.Signal{Kind: hub.KindReload})
}

// SignalInstallable handles the platform's before-install signal. The
// affordance is suppressed for 24 hours after an explicit dismissal,
// tracked by a stored timestamp. Returns whether the affordance was raised.
func (n *Notifier) SignalInstallable(ctx context.Context) (bool, error) {
	raw, err := n.store.GetMeta(ctx, store.MetaInstallDismissedAt)
	if err != nil {
		return false, err
	}
	if raw != "" {
		dismissedAt, err := time.Parse(time.RFC3339, raw)
		if err == nil && time.Since(dismissedAt) < installDismissWindow {
			slog.Debug("install prompt suppressed by recent dismissal",
				"component", "notifier",
				"dismissed_at", raw,
			)
			return false, nil
		}
	}

	n.mu.Lock()
	n.installable = true
	n.mu.Unlock()

	n.hub.Broadcast(hub.Signal{Kind: hub.KindInstallable})
	return true, nil
}

// DismissInstall records an explicit dismissal, starting the suppression
// window.
func (n *Notifier) DismissInstall(ctx context.Context) error {
	n.mu.Lock()
	n.installable = false
	n.mu.Unlock()
	return n.store.SetMeta(ctx, store.MetaInstallDismissedAt,
		time.Now().UTC().Format(time.RFC3339))
}
