package services

import (
	"time"

	"sensor-dashboard/internal/models"
)

// ReadingsFilter narrows a series for the readings endpoint
type ReadingsFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// QueryReadings returns the page of series selected by filter together with
// the number of readings that matched before paging. Bounds are inclusive
// and order stays ascending. A negative offset counts as zero.
func QueryReadings(series models.Series, filter ReadingsFilter) (models.Series, int) {
	matched := make(models.Series, 0, len(series))
	for _, reading := range series {
		if filter.StartTime != nil && reading.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && reading.Timestamp.After(*filter.EndTime) {
			continue
		}
		matched = append(matched, reading)
	}

	total := len(matched)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Offset >= total {
		return models.Series{}, total
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total
}
