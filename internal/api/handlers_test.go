package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stridehq/tether/internal/cache"
	"github.com/stridehq/tether/internal/hub"
	"github.com/stridehq/tether/internal/metrics"
	"github.com/stridehq/tether/internal/notifier"
	"github.com/stridehq/tether/internal/orchestrator"
	"github.com/stridehq/tether/internal/proxy"
	"github.com/stridehq/tether/internal/store"
	"github.com/stridehq/tether/internal/types"
)

// acceptingGateway replays everything successfully.
type acceptingGateway struct{}

func (acceptingGateway) Replay(context.Context, types.QueuedMutation) error { return nil }

type testEnv struct {
	handler *Handler
	router  http.Handler
	store   *store.SQLiteStore
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "tether.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	h := hub.New()
	t.Cleanup(h.Close)

	wk, err := proxy.New(proxy.Config{
		Origin:   "http://app.local",
		Version:  "v1",
		Manifest: []string{"/offline.html"},
		SyncTag:  "tether-mutations",
	}, cache.New(), s, acceptingGateway{}, h, m)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	o := orchestrator.New(s, acceptingGateway{}, m)
	n := notifier.New(filepath.Join(dir, "worker.version"), "v1", h, s)

	handler := NewHandler(s, o, wk, n, apiKey, "v1")
	router := NewRouter(handler, h, m.Handler(), wk)

	return &testEnv{handler: handler, router: router, store: s}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func seedMutation(t *testing.T, s *store.SQLiteStore, id string, synced bool) {
	t.Helper()
	m := &types.QueuedMutation{
		ID:         id,
		RecordType: types.RecordWorkout,
		Payload:    []byte(`{}`),
		Synced:     synced,
	}
	if err := s.SaveMutation(context.Background(), m); err != nil {
		t.Fatalf("seed mutation: %v", err)
	}
}

func TestHealth_ReportsQueueCounts(t *testing.T) {
	// Given a store with one synced and one unsynced mutation
	env := newTestEnv(t, "")
	seedMutation(t, env.store, "workout_01", false)
	seedMutation(t, env.store, "post_01", true)

	// When health is requested
	w := env.do(t, http.MethodGet, "/_tether/healthz", "")

	// Then the counts and version are reported
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp types.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Version != "v1" {
		t.Errorf("Version = %q, want v1", resp.Version)
	}
	if resp.TotalItems != 2 || resp.UnsyncedItems != 1 {
		t.Errorf("counts = %d/%d, want 2/1", resp.TotalItems, resp.UnsyncedItems)
	}
}

func TestDiagnostics_UsesCamelCaseKeys(t *testing.T) {
	env := newTestEnv(t, "")
	seedMutation(t, env.store, "workout_01", false)

	w := env.do(t, http.MethodGet, "/_tether/diagnostics", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"totalItems":1`) || !strings.Contains(body, `"unsyncedItems":1`) {
		t.Errorf("body = %s, want totalItems/unsyncedItems keys", body)
	}
}

func TestEnqueue_StoresMutationWithTypedID(t *testing.T) {
	// Given an empty queue
	env := newTestEnv(t, "")

	// When a workout is enqueued
	w := env.do(t, http.MethodPost, "/_tether/queue/workout", `{"distance_km":5}`)

	// Then it is stored unsynced under a type-prefixed id
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.HasPrefix(resp["id"], "workout_") {
		t.Errorf("id = %q, want workout_ prefix", resp["id"])
	}

	unsynced, err := env.store.CountUnsynced(context.Background())
	if err != nil {
		t.Fatalf("counting unsynced: %v", err)
	}
	if unsynced != 1 {
		t.Errorf("unsynced = %d, want 1", unsynced)
	}
}

func TestEnqueue_RejectsUnknownTypeAndBadJSON(t *testing.T) {
	env := newTestEnv(t, "")

	if w := env.do(t, http.MethodPost, "/_tether/queue/selfie", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/_tether/queue/workout", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", w.Code)
	}
}

func TestTriggerSync_Returns202WithState(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/_tether/sync", "")

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["state"] == "" {
		t.Error("expected state in response")
	}
}

func TestPush_ValidMessage_ReturnsResolvedNotification(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/_tether/push", `{"type":"workout_reminder"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var n types.Notification
	if err := json.NewDecoder(w.Body).Decode(&n); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if n.Title != "Time to train" {
		t.Errorf("Title = %q, want catalog entry", n.Title)
	}
	if n.URL != "/workouts/today" {
		t.Errorf("URL = %q, want deep link", n.URL)
	}
}

func TestPush_SchemaViolation_Returns422(t *testing.T) {
	env := newTestEnv(t, "")

	// type must be a string
	w := env.do(t, http.MethodPost, "/_tether/push", `{"type":42}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestSyncEvent_RequiresTag(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/_tether/sync-event", `{}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSyncEvent_ReplaysQueuedMutations(t *testing.T) {
	// Given an unsynced mutation and the worker's own tag
	env := newTestEnv(t, "")
	seedMutation(t, env.store, "workout_01", false)

	// When the sync event fires
	w := env.do(t, http.MethodPost, "/_tether/sync-event", `{"tag":"tether-mutations"}`)

	// Then the queue drains through the gateway
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	unsynced, err := env.store.CountUnsynced(context.Background())
	if err != nil {
		t.Fatalf("counting unsynced: %v", err)
	}
	if unsynced != 0 {
		t.Errorf("unsynced = %d, want 0 after replay", unsynced)
	}
}

func TestUpdateStatus_NoUpdateWaiting(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/_tether/update", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp updateStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.UpdateWaiting {
		t.Error("UpdateWaiting = true, want false with no version file")
	}
}

func TestActivateUpdate_WithoutWaitingUpdate_Returns409(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/_tether/update/activate", "")

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestInstallPromptAndDismiss(t *testing.T) {
	env := newTestEnv(t, "")

	// When the install prompt is requested with no prior dismissal
	w := env.do(t, http.MethodPost, "/_tether/install/prompt", "")
	if w.Code != http.StatusOK {
		t.Fatalf("prompt status = %d, want 200", w.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp["raised"] {
		t.Error("raised = false, want true before any dismissal")
	}

	// When the user dismisses the prompt
	w = env.do(t, http.MethodPost, "/_tether/install/dismiss", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d, want 200", w.Code)
	}

	// Then the prompt stays quiet inside the suppression window
	w = env.do(t, http.MethodPost, "/_tether/install/prompt", "")
	if w.Code != http.StatusOK {
		t.Fatalf("prompt status = %d, want 200", w.Code)
	}
	resp = map[string]bool{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["raised"] {
		t.Error("raised = true, want false inside the dismissal window")
	}
}

func TestRouter_ProtectedRoutesRequireKeyWhenConfigured(t *testing.T) {
	env := newTestEnv(t, "admin-key")

	// Without a token the protected route is rejected
	w := env.do(t, http.MethodGet, "/_tether/diagnostics", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	// With the right token it passes
	w = env.do(t, http.MethodGet, "/_tether/diagnostics", "", "Authorization", "Bearer admin-key")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	// Health stays public
	w = env.do(t, http.MethodGet, "/_tether/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", w.Code)
	}
}

func TestRouter_MetricsExposed(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/_tether/metrics", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRouter_NonAdminPathsGoToWorker(t *testing.T) {
	// Given an offline upstream, a navigation outside /_tether reaches the
	// caching worker and gets the offline fallback page
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/feed", "", "Sec-Fetch-Mode", "navigate")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 pre-install fallback", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Content-Type = %q, want html fallback", ct)
	}
}
