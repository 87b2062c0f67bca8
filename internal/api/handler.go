package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-logistics/kestrel/internal/domain"
	"github.com/opensource-logistics/kestrel/internal/metrics"
	"github.com/opensource-logistics/kestrel/internal/repository"
	"github.com/opensource-logistics/kestrel/internal/rules"
	"github.com/opensource-logistics/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	metrics *metrics.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, metricsSvc *metrics.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		metrics: metricsSvc,
		version: version,
	}
}

// AuditShipment handles POST /audits/{shipmentID}.
func (h *Handler) AuditShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	shipmentID, err := strconv.ParseInt(chi.URLParam(r, "shipmentID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "shipment id must be an integer",
		})
		return
	}

	result, err := h.engine.AuditShipment(ctx, shipmentID)
	if err != nil {
		h.writeAuditError(w, shipmentID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// BatchRequest is the request body for POST /audits/batch. Either an
// explicit shipment list or "all" for a full sweep. With "async" the
// batch is queued on the event bus instead of running inline.
type BatchRequest struct {
	ShipmentIDs []int64 `json:"shipmentIds,omitempty"`
	All         bool    `json:"all,omitempty"`
	Async       bool    `json:"async,omitempty"`
}

// BatchResponse is the response for a synchronous batch audit.
type BatchResponse struct {
	Audited      int                 `json:"audited"`
	Failed       int                 `json:"failed"`
	TotalSavings float64             `json:"totalSavings"`
	Entries      []domain.BatchEntry `json:"entries"`
	DurationMs   int64               `json:"durationMs"`
}

// AuditBatch handles POST /audits/batch.
func (h *Handler) AuditBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !req.All && len(req.ShipmentIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "shipmentIds or all is required",
		})
		return
	}

	if req.Async {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}

		payload, _ := json.Marshal(worker.AuditRequest{
			ShipmentIDs: req.ShipmentIDs,
			All:         req.All,
			TraceID:     GetTraceID(ctx),
		})
		if err := h.bus.Publish(ctx, domain.TopicAuditRequested, payload); err != nil {
			slog.Error("failed to queue audit batch", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue batch",
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "queued",
			"traceId": GetTraceID(ctx),
		})
		return
	}

	var entries []domain.BatchEntry
	if req.All {
		var err error
		entries, err = h.engine.AuditAll(ctx)
		if err != nil {
			slog.Error("full audit sweep failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "audit sweep failed",
			})
			return
		}
	} else {
		entries = h.engine.AuditBatch(ctx, req.ShipmentIDs)
	}

	resp := BatchResponse{
		Entries:    entries,
		DurationMs: time.Since(start).Milliseconds(),
	}
	for _, entry := range entries {
		if entry.Error != "" {
			resp.Failed++
			continue
		}
		resp.Audited++
		resp.TotalSavings += entry.Result.TotalPotentialSavings
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetShipment handles GET /shipments/{id}.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	shipmentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "shipment id must be an integer",
		})
		return
	}

	rec, err := h.repo.GetShipmentRecord(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "shipment not found",
			})
			return
		}
		slog.Error("failed to load shipment", "id", shipmentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load shipment",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListExceptions handles GET /exceptions. With ?shipment_id=N it returns
// that shipment's full history; otherwise the most recent exceptions.
func (h *Handler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if raw := r.URL.Query().Get("shipment_id"); raw != "" {
		shipmentID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "shipment_id must be an integer",
			})
			return
		}

		exceptions, err := h.repo.ListExceptions(ctx, shipmentID)
		if err != nil {
			slog.Error("failed to list exceptions", "shipment_id", shipmentID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to list exceptions",
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"exceptions": exceptions,
			"count":      len(exceptions),
		})
		return
	}

	limit := queryInt(r, "limit", 100)
	listings, err := h.repo.RecentExceptions(ctx, limit)
	if err != nil {
		slog.Error("failed to list recent exceptions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list exceptions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exceptions": listings,
		"count":      len(listings),
	})
}

// GetMetrics handles GET /metrics.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(queryInt(r, "days", 30)) * 24 * time.Hour

	m, err := h.metrics.WindowMetrics(r.Context(), window)
	if err != nil {
		slog.Error("failed to compute metrics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute metrics",
		})
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// GetDashboard handles GET /dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(queryInt(r, "days", 30)) * 24 * time.Hour

	d, err := h.metrics.Dashboard(r.Context(), window)
	if err != nil {
		slog.Error("failed to build dashboard", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build dashboard",
		})
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// RecomputeSummaries handles POST /summaries/recompute.
func (h *Handler) RecomputeSummaries(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)

	summaries, err := h.metrics.RecomputeDailySummaries(r.Context(), days)
	if err != nil {
		slog.Error("failed to recompute summaries", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to recompute summaries",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summaries": summaries,
		"count":     len(summaries),
	})
}

// ListSummaries handles GET /summaries.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)

	summaries, err := h.metrics.ListDailySummaries(r.Context(), days)
	if err != nil {
		slog.Error("failed to list summaries", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list summaries",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summaries": summaries,
		"count":     len(summaries),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) writeAuditError(w http.ResponseWriter, shipmentID int64, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "shipment not found",
		})
	default:
		slog.Error("audit failed", "shipment_id", shipmentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "audit failed",
		})
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
