package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/normalize"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// MQTTConfig configures the live telemetry source.
type MQTTConfig struct {
	Broker   string // tcp://host:1883
	ClientID string
	Topic    string
	Username string
	Password string
	// Capacity bounds the number of buffered rows; the oldest are evicted.
	Capacity int
}

type bufferedRow struct {
	at  time.Time
	row models.RawRow
}

// MQTTSource buffers telemetry messages published by the sensor and hands
// out the buffered window as a batch. Each JSON message is one raw row
// keyed like the remote table (timestamp, temperature_c, ...).
type MQTTSource struct {
	cfg     MQTTConfig
	client  mqtt.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	mu   sync.Mutex
	rows []bufferedRow

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTTSource creates an unconnected source. Call Connect before the
// first fetch.
func NewMQTTSource(cfg MQTTConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *MQTTSource {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1440
	}

	s := &MQTTSource{
		cfg:     cfg,
		logger:  logger,
		metrics: metricsCollector,
		rows:    make([]bufferedRow, 0, cfg.Capacity+1),
		stopCh:  make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Resubscribe on every (re)connect; clean sessions drop subscriptions.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info(context.Background(), "[MQTT_CONNECTED] Connected to broker", logging.Fields{
			"broker": cfg.Broker,
		})
		token := c.Subscribe(cfg.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			s.handleMessage(msg.Topic(), msg.Payload())
		})
		go func() {
			if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
				logger.Error(context.Background(), "[MQTT_SUBSCRIBE_ERROR] Subscribe failed", logging.Fields{
					"topic": cfg.Topic,
				}, token.Error())
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn(context.Background(), "[MQTT_CONNECTION_LOST] Connection lost", logging.Fields{
			"error": err.Error(),
		})
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Name identifies the source in logs and metrics
func (s *MQTTSource) Name() string {
	return "mqtt"
}

// Connect starts the connection attempt and waits for it while honoring
// ctx. With connect-retry enabled the client keeps trying in the
// background after ctx expires.
func (s *MQTTSource) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("mqtt source stopped")
	default:
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return fmt.Errorf("mqtt source stopped")
		default:
		}
	}
}

// handleMessage decodes one telemetry message into the buffer.
func (s *MQTTSource) handleMessage(topic string, payload []byte) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var row map[string]interface{}
	if err := dec.Decode(&row); err != nil {
		s.metrics.MQTTMessagesTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn(context.Background(), "[MQTT_INVALID] Failed to parse telemetry message", logging.Fields{
			"topic": topic,
			"size":  len(payload),
			"error": err.Error(),
		})
		return
	}
	reading, err := normalize.Decode(row, normalize.DetectColumns(row, normalize.RawUnits, time.UTC))
	if err != nil {
		s.metrics.MQTTMessagesTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn(context.Background(), "[MQTT_INVALID] Telemetry message without a usable timestamp", logging.Fields{
			"topic": topic,
			"error": err.Error(),
		})
		return
	}

	s.mu.Lock()
	s.insert(bufferedRow{at: reading.Timestamp, row: row})
	s.mu.Unlock()

	s.metrics.MQTTMessagesTotal.WithLabelValues("buffered").Inc()
}

// insert places b by timestamp, after any rows with the same instant, and
// evicts the oldest row once the buffer is over capacity. Redelivered or
// late messages therefore still land in order.
func (s *MQTTSource) insert(b bufferedRow) {
	i := sort.Search(len(s.rows), func(i int) bool { return s.rows[i].at.After(b.at) })
	s.rows = append(s.rows, bufferedRow{})
	copy(s.rows[i+1:], s.rows[i:])
	s.rows[i] = b

	if len(s.rows) > s.cfg.Capacity {
		copy(s.rows, s.rows[1:])
		s.rows = s.rows[:len(s.rows)-1]
	}
}

// FetchBatch returns a copy of the buffered window in ascending timestamp
// order. With
// no connection and nothing buffered the broker counts as unreachable.
func (s *MQTTSource) FetchBatch(ctx context.Context) ([]models.RawRow, error) {
	s.mu.Lock()
	rows := make([]models.RawRow, len(s.rows))
	for i, b := range s.rows {
		rows[i] = b.row
	}
	s.mu.Unlock()

	if len(rows) == 0 && (s.client == nil || !s.client.IsConnectionOpen()) {
		s.metrics.RecordFetchError(s.Name(), string(models.KindTransport))
		return nil, &models.TransportError{Source: s.cfg.Broker, Err: fmt.Errorf("not connected")}
	}

	return rows, nil
}

// Close unsubscribes and disconnects. Safe to call more than once.
func (s *MQTTSource) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.client.IsConnectionOpen() {
			s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(2 * time.Second)
		}
		s.client.Disconnect(250)
		s.logger.Info(context.Background(), "[MQTT_DISCONNECTED] Telemetry source closed", logging.Fields{})
	})
}
