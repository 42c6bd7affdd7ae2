package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/services"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// StateSource is the published dashboard state. *refresh.Scheduler
// implements it.
type StateSource interface {
	Current() *models.DisplayState
	Subscribe() (<-chan *models.DisplayState, func())
	Trigger() bool
}

// HealthChecker probes a backing dependency such as the SQL source.
type HealthChecker func(ctx context.Context) error

// DashboardHandler handles the display API endpoints
type DashboardHandler struct {
	state     StateSource
	stats     *services.StatisticsService
	health    HealthChecker
	heartbeat time.Duration
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewDashboardHandler creates a new dashboard handler. health may be nil.
func NewDashboardHandler(
	state StateSource,
	stats *services.StatisticsService,
	health HealthChecker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *DashboardHandler {
	return &DashboardHandler{
		state:     state,
		stats:     stats,
		health:    health,
		heartbeat: 15 * time.Second,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
	Stale      bool        `json:"stale"`
}

// Point is one chart sample of a single field
type Point struct {
	Timestamp time.Time      `json:"timestamp"`
	Value     models.Measure `json:"value"`
}

// StatsResponse wraps the per-field summary with the state it came from
type StatsResponse struct {
	services.Summary
	Status    models.Status `json:"status"`
	Stale     bool          `json:"stale"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// GetDashboard handles GET /api/dashboard
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, h.state.Current(), http.StatusOK)
}

// GetReadings handles GET /api/readings
func (h *DashboardHandler) GetReadings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	limit := 500
	if pageStr := query.Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 5000 {
			limit = l
		}
	}

	// Pages past the addressable range are simply empty.
	offset := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}
	filter := services.ReadingsFilter{
		Limit:  limit,
		Offset: offset,
	}

	for _, bound := range []struct {
		param string
		dest  **time.Time
	}{
		{"start", &filter.StartTime},
		{"end", &filter.EndTime},
	} {
		raw := query.Get(bound.param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.metrics.RecordAPIError("bad_request", "/api/readings")
			h.sendError(w, fmt.Sprintf("invalid %s, expected RFC 3339 timestamp", bound.param), http.StatusBadRequest)
			return
		}
		*bound.dest = &ts
	}

	var selector models.Selector
	if field := query.Get("field"); field != "" {
		sel, ok := models.SelectorByName(field)
		if !ok {
			h.metrics.RecordAPIError("bad_request", "/api/readings")
			h.sendError(w, "invalid field, expected temperature, humidity, pressure or battery", http.StatusBadRequest)
			return
		}
		selector = sel
	}

	state := h.state.Current()
	readings, total := services.QueryReadings(state.Series, filter)

	var data interface{} = readings
	if selector != nil {
		points := make([]Point, len(readings))
		for i, reading := range readings {
			points[i] = Point{Timestamp: reading.Timestamp, Value: selector(reading)}
		}
		data = points
	}

	h.sendJSON(w, PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
		Stale:      state.Stale,
	}, http.StatusOK)
}

// GetStats handles GET /api/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	state := h.state.Current()
	h.sendJSON(w, StatsResponse{
		Summary:   h.stats.Summarize(r.Context(), state.Series),
		Status:    state.Status,
		Stale:     state.Stale,
		UpdatedAt: state.UpdatedAt,
	}, http.StatusOK)
}

// Refresh handles POST /api/refresh
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	queued := h.state.Trigger()
	h.logger.Info(r.Context(), "[API_REFRESH] Manual refresh requested", logging.Fields{
		"queued": queued,
	})
	h.sendJSON(w, map[string]bool{"queued": queued}, http.StatusAccepted)
}

// Events handles GET /api/events, streaming every published state as a
// server-sent event until the client goes away.
func (h *DashboardHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.metrics.RecordAPIError("streaming_unsupported", "/api/events")
		h.sendError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	states, unsubscribe := h.state.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug(ctx, "[API_EVENTS_OPEN] Event stream opened", logging.Fields{
		"remote_addr": r.RemoteAddr,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug(ctx, "[API_EVENTS_CLOSE] Event stream closed by client", logging.Fields{})
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case state, ok := <-states:
			if !ok {
				return
			}
			payload, err := json.Marshal(state)
			if err != nil {
				h.logger.Error(ctx, "[API_EVENTS_ERROR] Failed to encode state", logging.Fields{}, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: state\ndata: %s\n\n", state.CycleID, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HealthCheck handles GET /health
func (h *DashboardHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := h.state.Current()

	status := map[string]interface{}{
		"status":    "healthy",
		"dashboard": state.Status,
		"stale":     state.Stale,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !state.UpdatedAt.IsZero() {
		status["updated_at"] = state.UpdatedAt.UTC().Format(time.RFC3339)
	}

	code := http.StatusOK
	if h.health != nil {
		if err := h.health(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Dependency health check failed", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// sendJSON sends a JSON response
func (h *DashboardHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *DashboardHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// RegisterRoutes registers all dashboard API routes
func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/dashboard", h.GetDashboard).Methods("GET")
	router.HandleFunc("/api/readings", h.GetReadings).Methods("GET")
	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/api/refresh", h.Refresh).Methods("POST")
	router.HandleFunc("/api/events", h.Events).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
