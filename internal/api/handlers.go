package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stridehq/tether/internal/notifier"
	"github.com/stridehq/tether/internal/orchestrator"
	"github.com/stridehq/tether/internal/proxy"
	"github.com/stridehq/tether/internal/queue"
	"github.com/stridehq/tether/internal/store"
	"github.com/stridehq/tether/internal/types"
)

// Handler implements the admin surface under /_tether.
type Handler struct {
	store        store.Store
	queue        *queue.Queue
	orchestrator *orchestrator.Orchestrator
	worker       *proxy.Worker
	notifier     *notifier.Notifier
	apiKey       string
	version      string
}

// NewHandler creates a Handler wired to the sync components.
func NewHandler(s store.Store, o *orchestrator.Orchestrator, wk *proxy.Worker, n *notifier.Notifier, apiKey, version string) *Handler {
	return &Handler{
		store:        s,
		queue:        queue.New(s),
		orchestrator: o,
		worker:       wk,
		notifier:     n,
		apiKey:       apiKey,
		version:      version,
	}
}

// Health handles GET /_tether/healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	total, err := h.store.CountAll(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	unsynced, err := h.store.CountUnsynced(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	resp := types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		TotalItems:    total,
		UnsyncedItems: unsynced,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Diagnostics handles GET /_tether/diagnostics.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	total, err := h.store.CountAll(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	unsynced, err := h.store.CountUnsynced(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	resp := types.Diagnostics{
		TotalItems:    total,
		UnsyncedItems: unsynced,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Enqueue handles POST /_tether/queue/{recordType}: stores a mutation
// issued while offline for later replay.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	rt := types.RecordType(chi.URLParam(r, "recordType"))
	if !rt.Valid() {
		WriteProblem(w, r, http.StatusBadRequest, "Unknown record type")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if !json.Valid(payload) {
		WriteProblem(w, r, http.StatusBadRequest, "Payload must be valid JSON")
		return
	}

	id, err := h.queue.Save(r.Context(), rt, payload)
	if err != nil {
		slog.Error("enqueue failed", "record_type", rt, "error", err)
		MapStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// TriggerSync handles POST /_tether/sync. The drain runs asynchronously;
// the response only acknowledges the request.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.TriggerSync()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"state": h.orchestrator.State().String(),
	})
}

// Push handles POST /_tether/push: validates the message and relays the
// resolved notification to connected clients.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return
	}

	n, err := h.worker.HandlePush(body)
	if err != nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(n)
}

type syncEventRequest struct {
	Tag string `json:"tag"`
}

// SyncEvent handles POST /_tether/sync-event: replays queued mutations when
// the event carries the worker's sync tag.
func (h *Handler) SyncEvent(w http.ResponseWriter, r *http.Request) {
	var req syncEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Tag == "" {
		WriteProblem(w, r, http.StatusBadRequest, "tag is required")
		return
	}

	if err := h.worker.HandleSyncEvent(r.Context(), req.Tag); err != nil {
		slog.Error("sync event replay failed", "tag", req.Tag, "error", err)
		MapStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"tag": req.Tag, "status": "replayed"})
}

type updateStatusResponse struct {
	UpdateWaiting  bool   `json:"updateWaiting"`
	WaitingVersion string `json:"waitingVersion,omitempty"`
	Installable    bool   `json:"installable"`
}

// UpdateStatus handles GET /_tether/update.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	waiting, version := h.notifier.UpdateWaiting()

	resp := updateStatusResponse{
		UpdateWaiting:  waiting,
		WaitingVersion: version,
		Installable:    h.notifier.Installable(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ActivateUpdate handles POST /_tether/update/activate: tells clients to
// adopt the waiting version immediately.
func (h *Handler) ActivateUpdate(w http.ResponseWriter, r *http.Request) {
	waiting, version := h.notifier.UpdateWaiting()
	if !waiting {
		WriteProblem(w, r, http.StatusConflict, "No update is waiting")
		return
	}

	h.notifier.ActivateNow()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"activated": version})
}

// PromptInstall handles POST /_tether/install/prompt: raises the install
// signal unless a recent dismissal suppresses it.
func (h *Handler) PromptInstall(w http.ResponseWriter, r *http.Request) {
	raised, err := h.notifier.SignalInstallable(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"raised": raised})
}

// DismissInstall handles POST /_tether/install/dismiss: records the
// dismissal so the prompt stays quiet for the suppression window.
func (h *Handler) DismissInstall(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.DismissInstall(r.Context()); err != nil {
		MapStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "dismissed"})
}
