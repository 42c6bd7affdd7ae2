package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver string
	// Endpoint is a postgres URL or key=value DSN, or a sqlite file path.
	Endpoint string
	// Credential is the postgres password. It is never logged.
	Credential      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MonitorInterval time.Duration
}

// DB wraps sqlx.DB with monitoring and metrics
type DB struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config

	stop      chan struct{}
	closeOnce sync.Once
	monitor   sync.WaitGroup
}

// DSN builds the driver connection string, injecting the credential.
func (c *Config) DSN() (string, error) {
	switch c.Driver {
	case DriverSQLite:
		return c.Endpoint, nil
	case DriverPostgres:
		if strings.Contains(c.Endpoint, "://") {
			u, err := url.Parse(c.Endpoint)
			if err != nil {
				return "", fmt.Errorf("invalid postgres endpoint: %w", err)
			}
			if c.Credential != "" {
				user := "postgres"
				if u.User != nil && u.User.Username() != "" {
					user = u.User.Username()
				}
				u.User = url.UserPassword(user, c.Credential)
			}
			return u.String(), nil
		}
		if c.Credential != "" {
			return fmt.Sprintf("%s password='%s'", c.Endpoint, credentialQuoter.Replace(c.Credential)), nil
		}
		return c.Endpoint, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", c.Driver)
	}
}

// credentialQuoter escapes a value for a single-quoted libpq keyword value.
var credentialQuoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// redactedEndpoint strips any password embedded in a URL endpoint.
func (c *Config) redactedEndpoint() string {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" {
		return c.Endpoint
	}
	return u.Redacted()
}

// Open opens and pings a database connection
func Open(ctx context.Context, cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(ctx, "[DB_INIT] Database connection established", logging.Fields{
		"driver":            cfg.Driver,
		"endpoint":          cfg.redactedEndpoint(),
		"credential_set":    cfg.Credential != "",
		"max_open_conns":    cfg.MaxOpenConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	d := &DB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
		stop:    make(chan struct{}),
	}

	if cfg.MonitorInterval > 0 {
		d.monitor.Add(1)
		go d.monitorConnectionPool(cfg.MonitorInterval)
	}

	return d, nil
}

// Close stops the pool monitor and closes the database connection
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stop)
		d.monitor.Wait()
		d.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
			"driver": d.config.Driver,
		})
		err = d.db.Close()
	})
	return err
}

// DB returns the underlying sqlx.DB instance
func (d *DB) DB() *sqlx.DB {
	return d.db
}

// Driver returns the configured driver name
func (d *DB) Driver() string {
	return d.config.Driver
}

// QueryMaps executes a query and scans every row into a column→value map.
// Byte slices are converted to strings so callers see plain scalars.
func (d *DB) QueryMaps(ctx context.Context, queryType, query string, args ...interface{}) ([]map[string]interface{}, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())

		d.logger.Debug(ctx, "[DB_QUERY] Query executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	rows, err := d.db.QueryxContext(ctx, query, args...)
	if err != nil {
		d.metrics.RecordDBError("query_error")
		d.logger.Error(ctx, "[DB_QUERY_ERROR] Query failed", logging.Fields{
			"query_type": queryType,
			"query":      query,
		}, err)
		return nil, err
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		m := make(map[string]interface{})
		if err := rows.MapScan(m); err != nil {
			d.metrics.RecordDBError("scan_error")
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		d.metrics.RecordDBError("rows_error")
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return out, nil
}

// ExecContext executes a command with context and metrics
func (d *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())

		d.logger.Debug(ctx, "[DB_EXEC] Command executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		d.metrics.RecordDBError("exec_error")
		d.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}

	return result, nil
}

// BeginTx starts a transaction
func (d *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return d.db.BeginTxx(ctx, nil)
}

// Rebind rewrites ? placeholders into the driver's bindvar style.
func (d *DB) Rebind(query string) string {
	return d.db.Rebind(query)
}

// GetContext executes a query that returns a single row
func (d *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(timer).Seconds())
	}()

	err := d.db.GetContext(ctx, dest, query, args...)
	if err != nil && err != sql.ErrNoRows {
		d.metrics.RecordDBError("get_error")
		d.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
		}, err)
	}

	return err
}

// monitorConnectionPool periodically updates connection pool metrics
func (d *DB) monitorConnectionPool(interval time.Duration) {
	defer d.monitor.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		stats := d.db.Stats()
		d.metrics.UpdateDBConnectionPool(stats.InUse, stats.Idle, stats.OpenConnections)

		if d.config.MaxOpenConns <= 0 {
			continue
		}
		utilization := float64(stats.InUse) / float64(d.config.MaxOpenConns)
		if utilization > 0.8 {
			d.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    d.config.MaxOpenConns,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (d *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
