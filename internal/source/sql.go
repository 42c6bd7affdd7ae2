package source

import (
	"context"
	"fmt"
	"regexp"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/pkg/database"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier reports whether name is a plain, optionally
// schema-qualified, SQL identifier.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// SQLSource reads rows from a table or server-side computed view of the
// remote tabular service, ordered by timestamp ascending.
type SQLSource struct {
	db      *database.DB
	query   string
	view    string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSQLSource creates a source over view. When limit is positive only the
// most recent limit rows are fetched, still returned oldest first.
func NewSQLSource(db *database.DB, view, orderBy string, limit int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*SQLSource, error) {
	if !ValidIdentifier(view) {
		return nil, fmt.Errorf("invalid view name %q", view)
	}
	if !ValidIdentifier(orderBy) {
		return nil, fmt.Errorf("invalid order column %q", orderBy)
	}

	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s ASC`, view, orderBy)
	if limit > 0 {
		query = fmt.Sprintf(
			`SELECT * FROM (SELECT * FROM %s ORDER BY %s DESC LIMIT %d) AS recent ORDER BY %s ASC`,
			view, orderBy, limit, orderBy,
		)
	}

	return &SQLSource{
		db:      db,
		query:   query,
		view:    view,
		logger:  logger,
		metrics: metricsCollector,
	}, nil
}

// Name identifies the source in logs and metrics
func (s *SQLSource) Name() string {
	return "sql"
}

// FetchBatch runs the snapshot query
func (s *SQLSource) FetchBatch(ctx context.Context) ([]models.RawRow, error) {
	timer := s.metrics.NewTimer(s.metrics.FetchDuration.WithLabelValues(s.Name()))
	defer timer.ObserveDuration()

	maps, err := s.db.QueryMaps(ctx, "fetch_readings", s.query)
	if err != nil {
		s.metrics.RecordFetchError(s.Name(), string(models.KindTransport))
		return nil, &models.TransportError{Source: s.db.Driver() + ":" + s.view, Err: err}
	}

	rows := make([]models.RawRow, len(maps))
	for i, m := range maps {
		rows[i] = models.RawRow(m)
	}

	s.logger.Debug(ctx, "[SOURCE_SQL] Rows fetched", logging.Fields{
		"view": s.view,
		"rows": len(rows),
	})

	return rows, nil
}
