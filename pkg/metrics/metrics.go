package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec
	ActiveSubscribers  prometheus.Gauge

	// Refresh Metrics
	RefreshCyclesTotal     *prometheus.CounterVec
	RefreshDuration        prometheus.Histogram
	RefreshTriggersSkipped prometheus.Counter
	LastSuccessTimestamp   prometheus.Gauge

	// Source Metrics
	FetchDuration     *prometheus.HistogramVec
	FetchErrorsTotal  *prometheus.CounterVec
	MQTTMessagesTotal *prometheus.CounterVec

	// Normalization Metrics
	RowsReceivedTotal prometheus.Counter
	RowsDroppedTotal  *prometheus.CounterVec
	SeriesLength      prometheus.Gauge

	// Statistics Metrics
	StatsCalculationDuration prometheus.Histogram

	// Import Metrics
	ImportRecordsTotal *prometheus.CounterVec
	ImportBatchSize    prometheus.Histogram
	ImportDuration     prometheus.Histogram

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
}

// NewCollector creates a collector registered with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		ActiveSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_subscribers",
				Help:      "Number of display state subscribers",
			},
		),

		RefreshCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_cycles_total",
				Help:      "Total number of refresh cycles by outcome",
			},
			[]string{"outcome"}, // "ok" or an error kind
		),

		RefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of a full fetch-decode-publish cycle in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),

		RefreshTriggersSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_triggers_skipped_total",
				Help:      "Timer or change triggers ignored because a cycle was already in flight",
			},
		),

		LastSuccessTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "refresh_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful refresh cycle",
			},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Duration of source batch fetches in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"source"},
		),

		FetchErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetch_errors_total",
				Help:      "Total number of failed source fetches by source and kind",
			},
			[]string{"source", "kind"},
		),

		MQTTMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mqtt_messages_total",
				Help:      "Telemetry messages received over MQTT by result",
			},
			[]string{"result"}, // "buffered", "invalid"
		),

		RowsReceivedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_received_total",
				Help:      "Total number of raw rows handed to the series builder",
			},
		),

		RowsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dropped_total",
				Help:      "Total number of raw rows excluded from a series by reason",
			},
			[]string{"reason"}, // "decode", "filter"
		),

		SeriesLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "series_length",
				Help:      "Number of readings in the currently published series",
			},
		),

		StatsCalculationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stats_calculation_duration_seconds",
				Help:      "Duration of extrema calculation in seconds",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
			},
		),

		ImportRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_records_total",
				Help:      "Total number of export rows processed by the importer by result",
			},
			[]string{"result"}, // "stored", "dropped"
		),

		ImportBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_batch_size",
				Help:      "Number of readings written per import transaction",
				Buckets:   []float64{10, 50, 100, 500, 1000, 5000},
			},
		),

		ImportDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_duration_seconds",
				Help:      "Duration of a full export import in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordRefresh counts a finished cycle. outcome is "ok" or an error kind.
func (c *Collector) RecordRefresh(outcome string, at time.Time) {
	c.RefreshCyclesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		c.LastSuccessTimestamp.Set(float64(at.Unix()))
	}
}

// RecordFetchError increments the fetch error counter
func (c *Collector) RecordFetchError(source, kind string) {
	c.FetchErrorsTotal.WithLabelValues(source, kind).Inc()
}

// RecordBuild records the row accounting of one series build
func (c *Collector) RecordBuild(received, dropped, filtered, kept int) {
	c.RowsReceivedTotal.Add(float64(received))
	c.RowsDroppedTotal.WithLabelValues("decode").Add(float64(dropped))
	c.RowsDroppedTotal.WithLabelValues("filter").Add(float64(filtered))
	c.SeriesLength.Set(float64(kept))
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
