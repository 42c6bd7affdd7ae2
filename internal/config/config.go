// Package config loads the dashboard settings from DASHBOARD_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/normalize"
	"sensor-dashboard/pkg/database"
	"sensor-dashboard/pkg/logging"
)

const envPrefix = "DASHBOARD_"

// Source kinds.
const (
	SourceCSV  = "csv"
	SourceSQL  = "sql"
	SourceMQTT = "mqtt"
)

// Column policies.
const (
	ColumnsExport = "export"
	ColumnsTable  = "table"
	ColumnsAuto   = "auto"
)

// Date filters.
const (
	FilterNone  = "none"
	FilterToday = "today"
	Filter24h   = "24h"
)

// Config holds all runtime settings
type Config struct {
	Server   ServerConfig
	Source   SourceConfig
	Database DatabaseConfig
	MQTT     MQTTConfig
	Refresh  RefreshConfig
	Display  DisplayConfig
	Logging  LoggingConfig

	invalid []string
}

// ServerConfig configures the HTTP display surface
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// SourceConfig selects and locates the raw data source. Endpoint and Key
// are the remote service URL and its access credential.
type SourceConfig struct {
	Kind     string
	Endpoint string
	Key      string
	CSVPath  string
	CSVWatch bool
}

// DatabaseConfig configures the SQL source
type DatabaseConfig struct {
	Driver          string
	View            string
	OrderBy         string
	Limit           int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MQTTConfig configures the live telemetry source
type MQTTConfig struct {
	Topic    string
	ClientID string
	Username string
	Buffer   int
}

// RefreshConfig configures the refresh scheduler
type RefreshConfig struct {
	Interval      time.Duration
	FetchTimeout  time.Duration
	RetainOnError bool
}

// DisplayConfig controls normalization and presentation
type DisplayConfig struct {
	Timezone        string
	Location        *time.Location
	DateFilter      string
	Columns         string
	PressureDivisor float64
	BatteryDivisor  float64
}

// LoggingConfig configures the operator log
type LoggingConfig struct {
	Level string
	Env   string
}

// LoadConfig reads the environment. It always returns a usable Config;
// malformed values fall back to their defaults and are reported in the
// returned error and again by Validate.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	l := &loader{cfg: cfg}

	cfg.Server = ServerConfig{
		Host:            l.str("HTTP_HOST", "0.0.0.0"),
		Port:            l.integer("HTTP_PORT", 8080),
		ReadTimeout:     l.duration("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    l.duration("HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:     l.duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AllowedOrigins:  l.list("ALLOWED_ORIGINS", []string{"*"}),
	}

	cfg.Source = SourceConfig{
		Kind:     strings.ToLower(l.str("SOURCE", SourceCSV)),
		Endpoint: l.str("SOURCE_URL", ""),
		Key:      l.str("SOURCE_KEY", ""),
		CSVPath:  l.str("CSV_PATH", "sensor_data.csv"),
		CSVWatch: l.boolean("CSV_WATCH", false),
	}

	cfg.Database = DatabaseConfig{
		Driver:          l.str("SOURCE_DRIVER", "postgres"),
		View:            l.str("SOURCE_VIEW", "sensor_readings_est"),
		OrderBy:         l.str("SOURCE_ORDER_BY", "timestamp"),
		Limit:           l.integer("SOURCE_LIMIT", 0),
		MaxOpenConns:    l.integer("DB_MAX_OPEN_CONNS", 5),
		MaxIdleConns:    l.integer("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: l.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}

	cfg.MQTT = MQTTConfig{
		Topic:    l.str("MQTT_TOPIC", "sensors/bonsai/readings"),
		ClientID: l.str("MQTT_CLIENT_ID", "sensor-dashboard"),
		Username: l.str("MQTT_USERNAME", ""),
		Buffer:   l.integer("MQTT_BUFFER", 1440),
	}

	cfg.Refresh = RefreshConfig{
		Interval:      l.duration("REFRESH_INTERVAL", 5*time.Second),
		FetchTimeout:  l.duration("FETCH_TIMEOUT", 4*time.Second),
		RetainOnError: l.boolean("RETAIN_ON_ERROR", true),
	}

	cfg.Display = DisplayConfig{
		Timezone:        l.str("TIMEZONE", "America/New_York"),
		DateFilter:      strings.ToLower(l.str("DATE_FILTER", FilterNone)),
		Columns:         strings.ToLower(l.str("COLUMNS", ColumnsAuto)),
		PressureDivisor: l.float("PRESSURE_DIVISOR", normalize.DefaultUnits.PressureDivisor),
		BatteryDivisor:  l.float("BATTERY_DIVISOR", normalize.DefaultUnits.BatteryDivisor),
	}
	loc, err := time.LoadLocation(cfg.Display.Timezone)
	if err != nil {
		l.invalid("TIMEZONE", err.Error())
		loc = time.UTC
	}
	cfg.Display.Location = loc

	cfg.Logging = LoggingConfig{
		Level: l.str("LOG_LEVEL", "info"),
		Env:   strings.ToLower(l.str("APP_ENV", "prod")),
	}

	if len(cfg.invalid) > 0 {
		return cfg, &models.ConfigurationError{Invalid: append([]string(nil), cfg.invalid...)}
	}
	return cfg, nil
}

// Validate reports every missing or invalid setting as a
// *models.ConfigurationError.
func (c *Config) Validate() error {
	missing := make([]string, 0)
	invalid := append([]string(nil), c.invalid...)

	switch c.Source.Kind {
	case SourceCSV:
		if c.Source.CSVPath == "" {
			missing = append(missing, envPrefix+"CSV_PATH")
		}
	case SourceSQL:
		if c.Source.Endpoint == "" {
			missing = append(missing, envPrefix+"SOURCE_URL")
		}
		switch c.Database.Driver {
		case "postgres":
			if c.Source.Key == "" {
				missing = append(missing, envPrefix+"SOURCE_KEY")
			}
		case "sqlite3":
		default:
			invalid = append(invalid, fmt.Sprintf("%sSOURCE_DRIVER=%q: want postgres or sqlite3", envPrefix, c.Database.Driver))
		}
		if c.Database.Limit < 0 {
			invalid = append(invalid, envPrefix+"SOURCE_LIMIT: must not be negative")
		}
	case SourceMQTT:
		if c.Source.Endpoint == "" {
			missing = append(missing, envPrefix+"SOURCE_URL")
		}
		if c.MQTT.Topic == "" {
			missing = append(missing, envPrefix+"MQTT_TOPIC")
		}
		if c.MQTT.Buffer <= 0 {
			invalid = append(invalid, envPrefix+"MQTT_BUFFER: must be positive")
		}
	default:
		invalid = append(invalid, fmt.Sprintf("%sSOURCE=%q: want csv, sql or mqtt", envPrefix, c.Source.Kind))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		invalid = append(invalid, envPrefix+"LOG_LEVEL: "+err.Error())
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		invalid = append(invalid, fmt.Sprintf("%sHTTP_PORT=%d: out of range", envPrefix, c.Server.Port))
	}
	if c.Refresh.Interval <= 0 {
		invalid = append(invalid, envPrefix+"REFRESH_INTERVAL: must be positive")
	}
	if c.Refresh.FetchTimeout <= 0 {
		invalid = append(invalid, envPrefix+"FETCH_TIMEOUT: must be positive")
	}
	if !normalize.ValidDivisor(c.Display.PressureDivisor) {
		invalid = append(invalid, envPrefix+"PRESSURE_DIVISOR: must be a finite positive number")
	}
	if !normalize.ValidDivisor(c.Display.BatteryDivisor) {
		invalid = append(invalid, envPrefix+"BATTERY_DIVISOR: must be a finite positive number")
	}

	switch c.Display.Columns {
	case ColumnsExport, ColumnsTable, ColumnsAuto:
	default:
		invalid = append(invalid, fmt.Sprintf("%sCOLUMNS=%q: want export, table or auto", envPrefix, c.Display.Columns))
	}
	switch c.Display.DateFilter {
	case FilterNone, FilterToday, Filter24h:
	default:
		invalid = append(invalid, fmt.Sprintf("%sDATE_FILTER=%q: want none, today or 24h", envPrefix, c.Display.DateFilter))
	}

	if len(missing) > 0 || len(invalid) > 0 {
		return &models.ConfigurationError{Missing: missing, Invalid: invalid}
	}
	return nil
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel returns the parsed log level, info when unset or malformed
func (c *Config) LogLevel() logging.LogLevel {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}

// DBConfig returns the connection settings shared by the SQL source, the
// importer and the migration tool.
func (c *Config) DBConfig() *database.Config {
	return &database.Config{
		Driver:          c.Database.Driver,
		Endpoint:        c.Source.Endpoint,
		Credential:      c.Source.Key,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: 5 * time.Minute,
		MonitorInterval: 30 * time.Second,
	}
}

// Units returns the configured unit divisors
func (c *Config) Units() normalize.Units {
	return normalize.Units{
		PressureDivisor: c.Display.PressureDivisor,
		BatteryDivisor:  c.Display.BatteryDivisor,
	}
}

// ColumnMap returns the column policy resolver for the configured source
func (c *Config) ColumnMap() normalize.ColumnResolver {
	switch c.Display.Columns {
	case ColumnsExport:
		return normalize.Fixed(normalize.ExportColumns(c.Units(), c.Display.Location))
	case ColumnsTable:
		return normalize.Fixed(normalize.TableColumns(c.Units(), c.Display.Location))
	default:
		return normalize.Auto(c.Units(), c.Display.Location)
	}
}

// DateFilter returns the configured reading filter, nil for none
func (c *Config) DateFilter(now func() time.Time) normalize.DateFilter {
	if now == nil {
		now = time.Now
	}
	switch c.Display.DateFilter {
	case FilterToday:
		return normalize.SameDay(c.Display.Location, now)
	case Filter24h:
		return normalize.Within(24*time.Hour, now)
	default:
		return nil
	}
}

// loader reads prefixed variables and records malformed ones.
type loader struct {
	cfg *Config
}

func (l *loader) invalid(key, reason string) {
	l.cfg.invalid = append(l.cfg.invalid, fmt.Sprintf("%s%s: %s", envPrefix, key, reason))
}

func (l *loader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (l *loader) str(key, def string) string {
	if v, ok := l.lookup(key); ok {
		return v
	}
	return def
}

func (l *loader) integer(key string, def int) int {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.invalid(key, fmt.Sprintf("%q is not an integer", v))
		return def
	}
	return n
}

func (l *loader) float(key string, def float64) float64 {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.invalid(key, fmt.Sprintf("%q is not a number", v))
		return def
	}
	return f
}

func (l *loader) boolean(key string, def bool) bool {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.invalid(key, fmt.Sprintf("%q is not a boolean", v))
		return def
	}
	return b
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.invalid(key, fmt.Sprintf("%q is not a duration", v))
		return def
	}
	return d
}

func (l *loader) list(key string, def []string) []string {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
