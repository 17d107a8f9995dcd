package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/tether/internal/channel"
	"github.com/hyperengineering/tether/internal/types"
	"github.com/hyperengineering/tether/internal/validation"
)

// Queue is the action-queue surface the handlers need.
type Queue interface {
	Dispatch(ctx context.Context, req types.EnqueueActionRequest, online bool) (types.EnqueueActionResponse, error)
	List(ctx context.Context) ([]types.QueuedAction, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Drain(ctx context.Context) (types.DrainResult, error)
	OutOfSync() bool
}

// ChannelStatus exposes the real-time connection state.
type ChannelStatus interface {
	Snapshot() types.ConnectionSnapshot
}

// ReportSource exposes the report pipeline counters.
type ReportSource interface {
	Stats() types.ReportStats
}

// Connectivity exposes the current online state.
type Connectivity interface {
	IsOnline() bool
}

// LiveView exposes the channel-fed live state.
// Implemented by channel.LiveState.
type LiveView interface {
	Counters() map[string]int
	Notifications() []channel.Notification
}

// Handler implements the local API the UI layer talks to.
type Handler struct {
	queue    Queue
	channel  ChannelStatus
	reports  ReportSource
	detector Connectivity
	live     LiveView
	version  string
}

// NewHandler creates a new Handler.
func NewHandler(q Queue, ch ChannelStatus, rep ReportSource, det Connectivity, live LiveView, version string) *Handler {
	return &Handler{
		queue:    q,
		channel:  ch,
		reports:  rep,
		detector: det,
		live:     live,
		version:  version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// DispatchAction handles POST /api/v1/actions
func (h *Handler) DispatchAction(w http.ResponseWriter, r *http.Request) {
	var req types.EnqueueActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.ValidateEnqueueActionRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	resp, err := h.queue.Dispatch(r.Context(), req, h.detector.IsOnline())
	if err != nil {
		slog.Error("dispatch failed", "error", err, "target", req.Target)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

// ListQueue handles GET /api/v1/queue
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := h.queue.List(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if actions == nil {
		actions = []types.QueuedAction{}
	}
	writeJSON(w, types.QueueListResponse{Actions: actions, Total: len(actions)})
}

// ClearQueue handles DELETE /api/v1/queue
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DrainQueue handles POST /api/v1/queue/drain
func (h *Handler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.Drain(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// Live handles GET /api/v1/live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	notifications := h.live.Notifications()
	if notifications == nil {
		notifications = []channel.Notification{}
	}
	writeJSON(w, map[string]any{
		"counters":      h.live.Counters(),
		"notifications": notifications,
	})
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	queued, err := h.queue.Count(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, types.StatusResponse{
		Version:    h.version,
		Online:     h.detector.IsOnline(),
		OutOfSync:  h.queue.OutOfSync(),
		Queued:     queued,
		Connection: h.channel.Snapshot(),
		Reports:    h.reports.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
