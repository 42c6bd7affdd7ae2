package repository

import (
	"context"
	"fmt"
	"time"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/pkg/database"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// ReadingRepository stores readings in the table behind the SQL source.
// Numeric fields are written in the sensor's raw units (°C, %, Pa, mV).
type ReadingRepository interface {
	UpsertReadings(ctx context.Context, readings []models.Reading) error
	CountReadings(ctx context.Context) (int, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
}

// readingRepository implements ReadingRepository
type readingRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewReadingRepository creates a new reading repository
func NewReadingRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ReadingRepository {
	return &readingRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// UpsertReadings writes readings in a single transaction. A reading whose
// timestamp already exists replaces the stored values.
func (r *readingRepository) UpsertReadings(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.ImportBatchSize.Observe(float64(len(readings)))
		r.logger.Debug(ctx, "[REPO_BATCH_UPSERT] Batch upsert completed", logging.Fields{
			"count":       len(readings),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, r.db.Rebind(`
		INSERT INTO sensor_readings (
			timestamp, temperature_c, humidity_percent, pressure_pa, battery_voltage_mv
		)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (timestamp) DO UPDATE SET
			temperature_c = excluded.temperature_c,
			humidity_percent = excluded.humidity_percent,
			pressure_pa = excluded.pressure_pa,
			battery_voltage_mv = excluded.battery_voltage_mv
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		_, err := stmt.ExecContext(ctx,
			reading.Timestamp.UTC(),
			nullable(reading.TemperatureC),
			nullable(reading.HumidityPct),
			nullable(reading.PressureHpa),
			nullable(reading.BatteryV),
		)
		if err != nil {
			r.metrics.RecordDBError("upsert_error")
			return fmt.Errorf("failed to upsert reading at %s: %w", reading.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.ImportRecordsTotal.WithLabelValues("stored").Add(float64(len(readings)))

	return nil
}

// CountReadings returns the number of stored readings
func (r *readingRepository) CountReadings(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, "count_readings", &count, `SELECT COUNT(*) FROM sensor_readings`); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

// PruneBefore deletes readings older than cutoff
func (r *readingRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "prune_readings",
		r.db.Rebind(`DELETE FROM sensor_readings WHERE timestamp < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return deleted, nil
}

// HealthCheck performs a repository health check
func (r *readingRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func nullable(m models.Measure) interface{} {
	if v, ok := m.Get(); ok {
		return v
	}
	return nil
}
