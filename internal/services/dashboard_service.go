package services

import (
	"context"
	"fmt"
	"time"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/normalize"
	"sensor-dashboard/internal/source"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// DashboardService runs one refresh cycle: fetch, build, summarize.
type DashboardService struct {
	source  source.Adapter
	columns normalize.ColumnResolver
	filter  normalize.DateFilter
	stats   *StatisticsService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDashboardService creates a dashboard service. filter may be nil.
func NewDashboardService(
	src source.Adapter,
	columns normalize.ColumnResolver,
	filter normalize.DateFilter,
	stats *StatisticsService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *DashboardService {
	return &DashboardService{
		source:  src,
		columns: columns,
		filter:  filter,
		stats:   stats,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Cycle fetches one batch and turns it into a snapshot. The returned error
// keeps its type so models.Classify can tell transport, parse and empty
// failures apart.
func (s *DashboardService) Cycle(ctx context.Context) (models.Snapshot, error) {
	startTime := time.Now()

	rows, err := s.source.FetchBatch(ctx)
	if err != nil {
		s.logger.Warn(ctx, "[CYCLE_FETCH_ERROR] Source fetch failed", logging.Fields{
			"source": s.source.Name(),
			"kind":   string(models.Classify(err)),
			"error":  err.Error(),
			"stage":  "FETCH",
		})
		return models.Snapshot{}, fmt.Errorf("fetch from %s: %w", s.source.Name(), err)
	}
	if len(rows) == 0 {
		s.metrics.RecordBuild(0, 0, 0, 0)
		return models.Snapshot{}, &models.EmptyBatchError{}
	}

	cm := s.columns(rows[0])
	series, report, err := normalize.BuildWithReport(rows, cm, s.filter)
	s.metrics.RecordBuild(report.Received, report.Dropped, report.Filtered, report.Kept)

	if report.Dropped > 0 {
		fields := logging.Fields{
			"columns":  cm.Name,
			"received": report.Received,
			"dropped":  report.Dropped,
			"stage":    "BUILD",
		}
		if report.FirstError != nil {
			fields["first_error"] = report.FirstError.Error()
		}
		s.logger.Warn(ctx, "[CYCLE_ROWS_DROPPED] Rows failed to decode", fields)
	}
	if err != nil {
		return models.Snapshot{}, err
	}

	latest, _ := series.Latest()
	snap := models.Snapshot{
		Series:      series,
		Latest:      latest,
		Temperature: s.stats.TemperatureExtrema(series),
		Received:    report.Received,
		Dropped:     report.Dropped,
		Filtered:    report.Filtered,
	}

	s.logger.Debug(ctx, "[CYCLE_BUILT] Snapshot built", logging.Fields{
		"source":      s.source.Name(),
		"columns":     cm.Name,
		"readings":    len(series),
		"filtered":    report.Filtered,
		"latest":      latest.Timestamp.Format(time.RFC3339),
		"duration_ms": time.Since(startTime).Milliseconds(),
	})

	return snap, nil
}
