package normalize

import (
	"time"

	"sensor-dashboard/internal/models"
)

// DateFilter keeps a reading when it returns true for its timestamp.
type DateFilter func(time.Time) bool

// SameDay keeps readings on the current calendar date in loc.
func SameDay(loc *time.Location, now func() time.Time) DateFilter {
	loc = orUTC(loc)
	return func(ts time.Time) bool {
		y1, m1, d1 := now().In(loc).Date()
		y2, m2, d2 := ts.In(loc).Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	}
}

// Within keeps readings no older than d relative to now. Readings stamped
// in the future are kept.
func Within(d time.Duration, now func() time.Time) DateFilter {
	return func(ts time.Time) bool {
		return !ts.Before(now().Add(-d))
	}
}

// BuildReport counts what happened to the rows of one batch.
type BuildReport struct {
	Received int
	Dropped  int
	Filtered int
	Kept     int
	// FirstError is the first structural failure, kept for operator logs.
	FirstError error
}

// Build decodes every row, drops structural failures, applies filter when
// non-nil and returns the readings in input order. An empty result is a
// *models.EmptyBatchError.
func Build(rows []models.RawRow, cm ColumnMap, filter DateFilter) (models.Series, error) {
	series, _, err := BuildWithReport(rows, cm, filter)
	return series, err
}

// BuildWithReport is Build that also reports drop counts.
func BuildWithReport(rows []models.RawRow, cm ColumnMap, filter DateFilter) (models.Series, BuildReport, error) {
	report := BuildReport{Received: len(rows)}
	series := make(models.Series, 0, len(rows))

	for _, row := range rows {
		reading, err := Decode(row, cm)
		if err != nil {
			report.Dropped++
			if report.FirstError == nil {
				report.FirstError = err
			}
			continue
		}
		if filter != nil && !filter(reading.Timestamp) {
			report.Filtered++
			continue
		}
		series = append(series, reading)
	}

	report.Kept = len(series)
	if len(series) == 0 {
		return nil, report, &models.EmptyBatchError{
			Received: report.Received,
			Dropped:  report.Dropped,
			Filtered: report.Filtered,
		}
	}
	return series, report, nil
}
