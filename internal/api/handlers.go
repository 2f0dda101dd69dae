package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"aggregator/internal/domain/event"
	"aggregator/internal/usecase"
)

type publisher interface {
	Execute(ctx context.Context, events []*event.Event, atomic bool) (*usecase.PublishResult, error)
}

type eventLister interface {
	Execute(ctx context.Context, topic string, limit, offset int) ([]*event.Event, error)
}

type statsProvider interface {
	Execute(ctx context.Context) (*usecase.StatsDTO, error)
}

// storeAdmin covers the probe and the test/demo maintenance endpoints.
type storeAdmin interface {
	Ping(ctx context.Context) error
	DeleteByTopic(ctx context.Context, topic string) (int64, error)
	ResetCounters(ctx context.Context) error
}

type queueInfo interface {
	Size(ctx context.Context) (int64, error)
}

// RuntimeInfo is static deployment info surfaced by /queue/stats.
type RuntimeInfo struct {
	QueueType      string
	WorkerCount    int
	WorkersEnabled bool
}

type Handlers struct {
	publishUC publisher
	listUC    eventLister
	statsUC   statsProvider
	store     storeAdmin
	queue     queueInfo
	runtime   RuntimeInfo
}

func NewHandlers(publishUC publisher, listUC eventLister, statsUC statsProvider, store storeAdmin, queue queueInfo, runtime RuntimeInfo) *Handlers {
	return &Handlers{
		publishUC: publishUC,
		listUC:    listUC,
		statsUC:   statsUC,
		store:     store,
		queue:     queue,
		runtime:   runtime,
	}
}

type publishRequest struct {
	Events []*event.Event `json:"events"`
}

func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	atomic, _ := strconv.ParseBool(r.URL.Query().Get("atomic"))

	res, err := h.publishUC.Execute(r.Context(), req.Events, atomic)
	if err != nil {
		if errors.Is(err, event.ErrMalformed) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Batch aborts and queue failures surface to the caller.
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.listUC.Execute(r.Context(), topic, limit, offset)
	if err != nil {
		if errors.Is(err, event.ErrMalformed) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsUC.Execute(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type healthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Queue    bool   `json:"queue"`
}

// Health reports degraded dependencies without failing the request; store
// or queue unavailability is a health signal, not an error.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Database: true, Queue: true}

	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		resp.Database = false
	}
	if _, err := h.queue.Size(r.Context()); err != nil {
		slog.Error("queue health check failed", "error", err)
		resp.Queue = false
	}

	resp.Status = "healthy"
	if !resp.Database || !resp.Queue {
		resp.Status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, resp)
}

type queueStatsResponse struct {
	QueueSize      int64  `json:"queue_size"`
	QueueType      string `json:"queue_type"`
	WorkerCount    int    `json:"worker_count"`
	WorkersEnabled bool   `json:"workers_enabled"`
}

func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	size, err := h.queue.Size(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, queueStatsResponse{
		QueueSize:      size,
		QueueType:      h.runtime.QueueType,
		WorkerCount:    h.runtime.WorkerCount,
		WorkersEnabled: h.runtime.WorkersEnabled,
	})
}

// DeleteEvents clears stored events, optionally for one topic. Destructive;
// exists for tests and demos only, like the counters reset below.
func (h *Handlers) DeleteEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	deleted, err := h.store.DeleteByTopic(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	scope := topic
	if scope == "" {
		scope = "all"
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "topic": scope})
}

func (h *Handlers) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResetCounters(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
