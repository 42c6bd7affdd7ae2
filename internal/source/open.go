package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sensor-dashboard/internal/config"
	"sensor-dashboard/pkg/database"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// Handle carries what an opened adapter holds on to.
type Handle struct {
	// Close releases connections. It is never nil.
	Close func()
	// Health probes the backing store; nil when there is none.
	Health func(ctx context.Context) error
}

// Open builds the adapter selected by cfg. A SQL source is connected and
// pinged; an MQTT source starts connecting and keeps retrying in the
// background if the broker is not reachable within connectWait.
func Open(ctx context.Context, cfg *config.Config, connectWait time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (Adapter, Handle, error) {
	noop := Handle{Close: func() {}}

	switch cfg.Source.Kind {
	case config.SourceCSV:
		location := cfg.Source.CSVPath
		if cfg.Source.Endpoint != "" {
			location = cfg.Source.Endpoint
		}
		client := &http.Client{Timeout: cfg.Refresh.FetchTimeout}
		return NewCSVSource(location, client, logger, metricsCollector), noop, nil

	case config.SourceSQL:
		db, err := database.Open(ctx, cfg.DBConfig(), logger, metricsCollector)
		if err != nil {
			return nil, noop, err
		}
		src, err := NewSQLSource(db, cfg.Database.View, cfg.Database.OrderBy, cfg.Database.Limit, logger, metricsCollector)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return src, Handle{Close: func() { db.Close() }, Health: db.HealthCheck}, nil

	case config.SourceMQTT:
		src := NewMQTTSource(MQTTConfig{
			Broker:   cfg.Source.Endpoint,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.Source.Key,
			Capacity: cfg.MQTT.Buffer,
		}, logger, metricsCollector)

		connectCtx, cancel := context.WithTimeout(ctx, connectWait)
		defer cancel()
		if err := src.Connect(connectCtx); err != nil {
			logger.Warn(ctx, "[SOURCE_MQTT_PENDING] Broker not reachable yet", logging.Fields{
				"broker": cfg.Source.Endpoint,
				"error":  err.Error(),
			})
		}
		return src, Handle{Close: src.Close}, nil

	default:
		return nil, noop, fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
}
