package services

import (
	"context"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// Extrema returns the largest and smallest values sel picks from series.
// Absent values are skipped; if every value is absent both sides are absent.
func Extrema(series models.Series, sel models.Selector) models.ExtremaSummary {
	var (
		max, min float64
		seen     bool
	)
	for _, reading := range series {
		v, ok := sel(reading).Get()
		if !ok {
			continue
		}
		if !seen {
			max, min, seen = v, v, true
			continue
		}
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	if !seen {
		return models.ExtremaSummary{Max: models.None(), Min: models.None()}
	}
	return models.ExtremaSummary{Max: models.Some(max), Min: models.Some(min)}
}

// Summary holds the extrema of every numeric field of a series.
type Summary struct {
	Count       int                   `json:"count"`
	Temperature models.ExtremaSummary `json:"temperature"`
	Humidity    models.ExtremaSummary `json:"humidity"`
	Pressure    models.ExtremaSummary `json:"pressure"`
	Battery     models.ExtremaSummary `json:"battery"`
}

// StatisticsService computes series statistics
type StatisticsService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StatisticsService {
	return &StatisticsService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// TemperatureExtrema is the high/low shown next to the current reading
func (s *StatisticsService) TemperatureExtrema(series models.Series) models.ExtremaSummary {
	timer := s.metrics.NewTimer(s.metrics.StatsCalculationDuration)
	defer timer.ObserveDuration()

	return Extrema(series, models.Temperature)
}

// Summarize computes extrema for every field
func (s *StatisticsService) Summarize(ctx context.Context, series models.Series) Summary {
	timer := s.metrics.NewTimer(s.metrics.StatsCalculationDuration)
	summary := Summary{
		Count:       len(series),
		Temperature: Extrema(series, models.Temperature),
		Humidity:    Extrema(series, models.Humidity),
		Pressure:    Extrema(series, models.Pressure),
		Battery:     Extrema(series, models.Battery),
	}
	duration := timer.ObserveDuration()

	s.logger.Debug(ctx, "[STATS_SUMMARY] Series summarized", logging.Fields{
		"readings":    summary.Count,
		"duration_us": duration.Microseconds(),
	})

	return summary
}
