package rest

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/queue"
	"github.com/clintrovert/ticketsync/pkg/types"
)

// QueueInspector exposes the pending and abandoned workbook updates
type QueueInspector interface {
	Pending() []types.PendingUpdate
	DeadLetters() []types.PendingUpdate
}

// Drainer runs an unscheduled drain pass
type Drainer interface {
	DrainNow(ctx context.Context) (queue.DrainReport, error)
}

// Refresher reloads the lookup table from OpenProject
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Handler handles REST API requests
type Handler struct {
	queue     QueueInspector
	drainer   Drainer
	refresher Refresher
	logger    *zap.Logger
}

// NewHandler creates a new REST handler
func NewHandler(queue QueueInspector, drainer Drainer, refresher Refresher, logger *zap.Logger) *Handler {
	return &Handler{
		queue:     queue,
		drainer:   drainer,
		refresher: refresher,
		logger:    logger,
	}
}

// QueueResponse lists queue entries
type QueueResponse struct {
	Count   int                   `json:"count"`
	Entries []types.PendingUpdate `json:"entries"`
}

// DrainResponse is the outcome of a manual drain
type DrainResponse struct {
	Synced       int    `json:"synced"`
	Failed       int    `json:"failed"`
	DeadLettered int    `json:"dead_lettered"`
	Remaining    int    `json:"remaining"`
	Error        string `json:"error,omitempty"`
}

// ListQueue handles GET /queue
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	writeEntries(w, h.queue.Pending())
}

// ListDeadLetters handles GET /queue/dead-letters
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	writeEntries(w, h.queue.DeadLetters())
}

// DrainQueue handles POST /queue/drain
func (h *Handler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	report, err := h.drainer.DrainNow(r.Context())

	resp := DrainResponse{
		Synced:       report.Synced,
		Failed:       report.Failed,
		DeadLettered: report.DeadLettered,
		Remaining:    report.Remaining,
	}
	status := http.StatusOK
	if err != nil {
		h.logger.Error("manual drain failed", zap.Error(err))
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// RefreshLookup handles POST /lookup/refresh
func (h *Handler) RefreshLookup(w http.ResponseWriter, r *http.Request) {
	if err := h.refresher.Refresh(r.Context()); err != nil {
		h.logger.Error("manual lookup refresh failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers REST API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/queue", h.ListQueue)
	r.Get("/queue/dead-letters", h.ListDeadLetters)
	r.Post("/queue/drain", h.DrainQueue)
	r.Post("/lookup/refresh", h.RefreshLookup)
}

func writeEntries(w http.ResponseWriter, entries []types.PendingUpdate) {
	if entries == nil {
		entries = []types.PendingUpdate{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{Count: len(entries), Entries: entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
