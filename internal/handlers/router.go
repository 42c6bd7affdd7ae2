package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// RouterOptions configures the outer HTTP stack
type RouterOptions struct {
	AllowedOrigins []string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// AccessLog receives Apache combined log lines when set.
	AccessLog io.Writer
}

// NewRouter assembles the dashboard API, docs and metrics behind CORS and
// panic recovery.
func NewRouter(h *DashboardHandler, opts RouterOptions, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) http.Handler {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware, instrumentMiddleware(metricsCollector))

	h.RegisterRoutes(router)
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	var handler http.Handler = gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(origins),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		gorillahandlers.ExposedHeaders([]string{"X-Request-ID"}),
	)(router)

	if opts.AccessLog != nil {
		handler = gorillahandlers.CombinedLoggingHandler(opts.AccessLog, handler)
	}

	return gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(recoveryLogger{logger: logger, metrics: metricsCollector}),
		gorillahandlers.PrintRecoveryStack(false),
	)(handler)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func instrumentMiddleware(metricsCollector *metrics.Collector) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tmpl
				}
			}

			// CaptureMetrics keeps http.Flusher available for /api/events.
			m := httpsnoop.CaptureMetrics(next, w, r)

			metricsCollector.APIRequestDuration.WithLabelValues(endpoint).Observe(m.Duration.Seconds())
			metricsCollector.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(m.Code))
		})
	}
}

// recoveryLogger adapts the structured logger to gorilla's RecoveryHandler.
type recoveryLogger struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.metrics.RecordAPIError("panic", "")
	l.logger.Error(context.Background(), "[API_PANIC] Recovered from handler panic", logging.Fields{
		"panic": fmt.Sprint(v...),
	}, nil)
}
