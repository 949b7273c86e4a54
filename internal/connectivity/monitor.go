// Package connectivity observes online/offline transitions and exposes an
// edge-triggered signal to subscribers.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the connectivity state.
type State int

const (
	Offline State = iota
	Online
)

// String returns the state name for logging.
func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Event is an edge notification: it fires only on actual transitions,
// at most once per offline→online (or online→offline) flip.
type Event struct {
	State State
	At    time.Time
}

// Prober checks reachability of the remote side. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor polls a prober and fans out edge events to subscribers.
//
// Subscriber channels are buffered with capacity one and written with
// coalescing semantics: a slow subscriber sees only the most recent edge,
// never a backlog of duplicate notifications.
type Monitor struct {
	prober       Prober
	interval     time.Duration
	probeTimeout time.Duration

	mu     sync.Mutex
	online bool
	subs   []chan Event
}

// NewMonitor creates a monitor that probes at the given interval.
// The monitor starts in the offline state; the first successful probe is an
// offline→online edge and triggers subscribers once.
func NewMonitor(p Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		prober:       p,
		interval:     interval,
		probeTimeout: interval,
	}
}

// Subscribe returns a channel receiving edge events. Must be called before
// Run starts delivering events to guarantee no missed edge.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Run polls until ctx is cancelled. It probes immediately on start so a
// freshly launched process discovers its state without waiting a full tick.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("connectivity monitor started",
		"component", "connectivity",
		"interval", m.interval.String(),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped",
				"component", "connectivity",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe performs one reachability check and emits an event on a state edge.
func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	nowOnline := err == nil

	m.mu.Lock()
	changed := nowOnline != m.online
	m.online = nowOnline
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}

	state := Offline
	if nowOnline {
		state = Online
	}
	slog.Info("connectivity changed",
		"component", "connectivity",
		"state", state.String(),
	)

	ev := Event{State: state, At: time.Now()}
	for _, ch := range subs {
		// Coalesce: drop the stale pending event, keep the newest.
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
