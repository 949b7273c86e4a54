// Package proxy is the network-interception worker: a long-lived process,
// independent of any page lifetime, that owns all outbound traffic for the
// app origin and decides between network and cache per request.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stridehq/tether/internal/cache"
	"github.com/stridehq/tether/internal/gateway"
	"github.com/stridehq/tether/internal/hub"
	"github.com/stridehq/tether/internal/metrics"
	"github.com/stridehq/tether/internal/store"
)

var (
	// ErrInstallFailed means the static manifest could not be fully cached.
	// Installation is all-or-nothing; no partial static cache is retained.
	ErrInstallFailed = errors.New("worker install failed")

	// ErrManifestMissingOffline means the offline fallback page is absent
	// from the static manifest, which would break the last-resort branch.
	ErrManifestMissingOffline = errors.New("manifest must include the offline fallback path")
)

// OfflineResponse is the structured payload synthesized for data requests
// when both network and cache miss. Callers check Offline rather than
// treating it as a generic failure.
type OfflineResponse struct {
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

// offlineFallbackHTML is the absolute last resort for navigations, used only
// if the worker somehow serves traffic before a successful install. The
// normal path serves the manifest's offline page from the static partition.
const offlineFallbackHTML = `<!DOCTYPE html><html><head><title>Offline</title></head>` +
	`<body><h1>You are offline</h1><p>Your changes are saved and will sync when you reconnect.</p></body></html>`

// Config describes one worker deployment.
type Config struct {
	// Origin is the upstream app origin all same-origin traffic forwards to.
	Origin string
	// Version names the cache partitions; bumping it triggers rollover.
	Version string
	// Manifest lists the paths seeded into the static partition at install.
	Manifest []string
	// OfflinePath is the guaranteed-available navigation fallback.
	OfflinePath string
	// APIPrefix marks data requests, which get network-first handling.
	APIPrefix string
	// SyncTag names the background sync event this worker answers to.
	SyncTag string
	// Client overrides the upstream HTTP client.
	Client *http.Client
}

// Worker applies the caching strategies and serves the offline fallbacks.
type Worker struct {
	origin      *url.URL
	client      *http.Client
	cache       *cache.Cache
	store       store.Store
	gateway     gateway.Gateway
	hub         *hub.Hub
	metrics     *metrics.Metrics
	version     string
	manifest    []string
	offlinePath string
	apiPrefix   string
	syncTag     string
}

// New validates the config and builds a worker. The offline fallback path
// must be a member of the manifest; the install-phase invariant depends on
// it.
func New(cfg Config, c *cache.Cache, s store.Store, g gateway.Gateway, h *hub.Hub, m *metrics.Metrics) (*Worker, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", cfg.Origin)
	}

	if cfg.OfflinePath == "" {
		cfg.OfflinePath = "/offline.html"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	if cfg.SyncTag == "" {
		cfg.SyncTag = "tether-mutations"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}

	var hasOffline bool
	for _, path := range cfg.Manifest {
		if path == cfg.OfflinePath {
			hasOffline = true
			break
		}
	}
	if !hasOffline {
		return nil, ErrManifestMissingOffline
	}

	return &Worker{
		origin:      origin,
		client:      cfg.Client,
		cache:       c,
		store:       s,
		gateway:     g,
		hub:         h,
		metrics:     m,
		version:     cfg.Version,
		manifest:    cfg.Manifest,
		offlinePath: cfg.OfflinePath,
		apiPrefix:   cfg.APIPrefix,
		syncTag:     cfg.SyncTag,
	}, nil
}

func (wk *Worker) staticName() string  { return "static-" + wk.version }
func (wk *Worker) dynamicName() string { return "dynamic-" + wk.version }

func (wk *Worker) static() *cache.Partition {
	return wk.cache.Partition(wk.staticName(), cache.KindStatic)
}

func (wk *Worker) dynamic() *cache.Partition {
	return wk.cache.Partition(wk.dynamicName(), cache.KindDynamic)
}

// SyncTag returns the background sync tag this worker answers to.
func (wk *Worker) SyncTag() string { return wk.syncTag }

// ServeHTTP routes one intercepted request. Errors are contained here and
// turned into fallback responses; a request must never escape as a panic or
// unhandled failure, since a dead worker stops intercepting all traffic.
func (wk *Worker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if wk.isCrossOrigin(r) {
		wk.passThrough(w, r)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, wk.apiPrefix):
		wk.handleAPI(w, r)
	case isNavigation(r):
		wk.handleNavigation(w, r)
	default:
		wk.handleStatic(w, r)
	}
}

// isCrossOrigin reports whether the request targets a host other than the
// app origin. Cross-origin traffic is never intercepted.
func (wk *Worker) isCrossOrigin(r *http.Request) bool {
	return r.URL.Host != "" && r.URL.Host != wk.origin.Host
}

// isNavigation identifies full-page navigation requests.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// handleAPI is network-first with dynamic-cache fallback and a structured
// offline response as the floor.
func (wk *Worker) handleAPI(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.RequestURI()

	resp, err := wk.forward(r, wk.origin)
	if err == nil {
		if resp.ok() {
			// Only read methods populate the cache; mutations never do.
			wk.dynamic().Put(r.Method, identity, resp.entry())
		}
		resp.write(w)
		return
	}

	if entry, ok := wk.dynamic().Get(r.Method, identity); ok {
		wk.metrics.CacheHits.WithLabelValues(string(cache.KindDynamic)).Inc()
		writeEntry(w, entry)
		return
	}

	wk.metrics.CacheMisses.Inc()
	wk.metrics.OfflineResponses.Inc()
	wk.writeOfflineJSON(w)
}

// handleNavigation is network-first, then dynamic cache, then the static
// offline page. The last branch must always resolve.
func (wk *Worker) handleNavigation(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.RequestURI()

	resp, err := wk.forward(r, wk.origin)
	if err == nil {
		if resp.ok() {
			wk.dynamic().Put(r.Method, identity, resp.entry())
		}
		resp.write(w)
		return
	}

	if entry, ok := wk.dynamic().Get(r.Method, identity); ok {
		wk.metrics.CacheHits.WithLabelValues(string(cache.KindDynamic)).Inc()
		writeEntry(w, entry)
		return
	}

	wk.serveOfflinePage(w)
}

// handleStatic is cache-first across both partitions, with network fill.
func (wk *Worker) handleStatic(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.RequestURI()

	if cache.Cacheable(r.Method) {
		if entry, ok := wk.static().Get(r.Method, identity); ok {
			wk.metrics.CacheHits.WithLabelValues(string(cache.KindStatic)).Inc()
			writeEntry(w, entry)
			return
		}
		if entry, ok := wk.dynamic().Get(r.Method, identity); ok {
			wk.metrics.CacheHits.WithLabelValues(string(cache.KindDynamic)).Inc()
			writeEntry(w, entry)
			return
		}
		wk.metrics.CacheMisses.Inc()
	}

	resp, err := wk.forward(r, wk.origin)
	if err != nil {
		wk.metrics.OfflineResponses.Inc()
		wk.writeOfflineJSON(w)
		return
	}
	if resp.ok() {
		wk.dynamic().Put(r.Method, identity, resp.entry())
	}
	resp.write(w)
}

// passThrough proxies a cross-origin request untouched, with no cache reads
// or writes in either direction.
func (wk *Worker) passThrough(w http.ResponseWriter, r *http.Request) {
	resp, err := wk.forward(r, r.URL)
	if err != nil {
		slog.Debug("cross-origin request failed",
			"component", "proxy",
			"host", r.URL.Host,
			"error", err,
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	resp.write(w)
}

// capturedResponse is a fully buffered upstream response.
type capturedResponse struct {
	status int
	header http.Header
	body   []byte
}

func (c *capturedResponse) ok() bool {
	return c.status >= 200 && c.status < 300
}

func (c *capturedResponse) entry() cache.Entry {
	return cache.Entry{Status: c.status, Header: c.header.Clone(), Body: c.body}
}

func (c *capturedResponse) write(w http.ResponseWriter) {
	copyHeader(w.Header(), c.header)
	w.WriteHeader(c.status)
	w.Write(c.body)
}

// forward rebuilds the request against base and executes it, buffering the
// response so it can be both returned and cached.
func (wk *Worker) forward(r *http.Request, base *url.URL) (*capturedResponse, error) {
	target := *r.URL
	if base != r.URL {
		target.Scheme = base.Scheme
		target.Host = base.Host
	}
	if target.Scheme == "" {
		target.Scheme = wk.origin.Scheme
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	copyHeader(req.Header, r.Header)
	stripHopByHop(req.Header)

	resp, err := wk.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := resp.Header.Clone()
	stripHopByHop(header)
	return &capturedResponse{status: resp.StatusCode, header: header, body: body}, nil
}

// writeEntry serves a cached entry.
func writeEntry(w http.ResponseWriter, e cache.Entry) {
	copyHeader(w.Header(), e.Header)
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

// writeOfflineJSON synthesizes the structured offline result for data
// requests instead of failing.
func (wk *Worker) writeOfflineJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	if err := json.NewEncoder(w).Encode(OfflineResponse{
		Offline: true,
		Message: "You are offline. Queued changes will sync when connection is restored.",
	}); err != nil {
		slog.Error("failed to encode offline response", "component", "proxy", "error", err)
	}
}

// serveOfflinePage writes the offline fallback content. This is the
// last-resort branch and never fails: the install invariant guarantees the
// page in the static partition, and an inline copy covers the pre-install
// window.
func (wk *Worker) serveOfflinePage(w http.ResponseWriter) {
	if entry, ok := wk.static().Get(http.MethodGet, wk.offlinePath); ok {
		wk.metrics.CacheHits.WithLabelValues(string(cache.KindStatic)).Inc()
		writeEntry(w, entry)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, offlineFallbackHTML)
}

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
