// Package metrics exposes Prometheus instrumentation for the sync layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters surfaced at /_tether/metrics.
type Metrics struct {
	registry *prometheus.Registry

	ReplaySucceeded      prometheus.Counter
	ReplayFailed         prometheus.Counter
	MutationsPruned      prometheus.Counter
	DrainPasses          prometheus.Counter
	CacheHits            *prometheus.CounterVec
	CacheMisses          prometheus.Counter
	OfflineResponses     prometheus.Counter
	NotificationsRelayed prometheus.Counter
}

// New creates a Metrics set on a private registry, so tests can construct
// as many instances as they need without collisions.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ReplaySucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_replay_succeeded_total",
			Help: "Queued mutations confirmed by the remote gateway.",
		}),
		ReplayFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_replay_failed_total",
			Help: "Queued mutations left unsynced after a failed replay.",
		}),
		MutationsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_mutations_pruned_total",
			Help: "Synced mutations removed by pruning passes.",
		}),
		DrainPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_drain_passes_total",
			Help: "Completed drain passes, including empty ones.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tether_cache_hits_total",
			Help: "Requests served from cache, by partition kind.",
		}, []string{"partition"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_cache_misses_total",
			Help: "Cache lookups that found no entry.",
		}),
		OfflineResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_offline_responses_total",
			Help: "Synthetic offline responses returned for data requests.",
		}),
		NotificationsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_notifications_relayed_total",
			Help: "Push messages resolved and relayed to clients.",
		}),
	}

	m.registry.MustRegister(
		m.ReplaySucceeded,
		m.ReplayFailed,
		m.MutationsPruned,
		m.DrainPasses,
		m.CacheHits,
		m.CacheMisses,
		m.OfflineResponses,
		m.NotificationsRelayed,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
