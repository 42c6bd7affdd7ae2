// Package source supplies raw row batches to the refresh pipeline.
package source

import (
	"context"

	"sensor-dashboard/internal/models"
)

// Adapter fetches the current snapshot of raw rows. Rows must already be in
// ascending timestamp order. Failures to reach the data are returned as
// *models.TransportError, undecodable payloads as *models.ParseError.
type Adapter interface {
	Name() string
	FetchBatch(ctx context.Context) ([]models.RawRow, error)
}

// Watcher is implemented by adapters that can signal that new data is
// available before the next scheduled refresh.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}
