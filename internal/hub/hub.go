// Package hub relays worker-lifecycle signals and notifications to connected
// UI clients over websocket.
package hub

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stridehq/tether/internal/types"
)

// defaultWriteTimeout bounds each broadcast write so one stalled client
// cannot hold the hub lock indefinitely.
const defaultWriteTimeout = 5 * time.Second

// Signal kinds delivered to clients.
const (
	KindUpdateWaiting = "update_waiting"
	KindInstallable   = "installable"
	KindActivated     = "activated"
	KindNotification  = "notification"
	KindSkipWaiting   = "skip_waiting"
	KindReload        = "reload"
)

// Signal is one message pushed to clients.
type Signal struct {
	Kind         string              `json:"kind"`
	Version      string              `json:"version,omitempty"`
	URL          string              `json:"url,omitempty"`
	Notification *types.Notification `json:"notification,omitempty"`
}

var upgrader = websocket.Upgrader{
	// The hub only serves the local app shell.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks connected clients and broadcasts signals to them.
// Zero connected clients is a normal state, never an error.
type Hub struct {
	mu           sync.Mutex
	conns        map[*websocket.Conn]struct{}
	writeTimeout time.Duration
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		conns:        make(map[*websocket.Conn]struct{}),
		writeTimeout: defaultWriteTimeout,
	}
}

// ServeHTTP upgrades the request and registers the client until it hangs up.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket",
			"component", "hub",
			"error", err,
		)
		return
	}

	h.mu.Lock()
	h.conns[ws] = struct{}{}
	count := len(h.conns)
	h.mu.Unlock()
	slog.Info("client connected", "component", "hub", "clients", count)

	// Inbound messages are not part of the protocol; the read loop exists
	// only to notice the close.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
		h.drop(ws)
	}()
}

func (h *Hub) drop(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, ws)
	count := len(h.conns)
	h.mu.Unlock()
	ws.Close()
	slog.Info("client disconnected", "component", "hub", "clients", count)
}

// Broadcast delivers the signal to every connected client and returns how
// many received it. Clients whose write fails are dropped. Writes happen
// under the hub lock: gorilla connections allow only one concurrent writer.
func (h *Hub) Broadcast(sig Signal) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var delivered int
	for ws := range h.conns {
		ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := ws.WriteJSON(sig); err != nil {
			slog.Warn("failed to write signal, dropping client",
				"component", "hub",
				"kind", sig.Kind,
				"error", err,
			)
			delete(h.conns, ws)
			ws.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// Notify delivers a resolved notification. When a client is open it is
// focused by posting it the target URL; with no clients open the caller
// falls back to opening a new one, reported via the false return, never as
// an error.
func (h *Hub) Notify(n types.Notification) bool {
	delivered := h.Broadcast(Signal{
		Kind:         KindNotification,
		URL:          n.URL,
		Notification: &n,
	})
	return delivered > 0
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for ws := range h.conns {
		conns = append(conns, ws)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, ws := range conns {
		ws.Close()
	}
}
