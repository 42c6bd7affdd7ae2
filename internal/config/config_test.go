package config

import (
	"errors"
	"testing"
	"time"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/normalize"
	"sensor-dashboard/pkg/logging"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantLoadErr bool
		checkValues func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			checkValues: func(t *testing.T, cfg *Config) {
				if cfg.Source.Kind != SourceCSV || cfg.Source.CSVPath != "sensor_data.csv" {
					t.Errorf("Source = %+v, want csv defaults", cfg.Source)
				}
				if cfg.Refresh.Interval != 5*time.Second || cfg.Refresh.FetchTimeout != 4*time.Second {
					t.Errorf("Refresh = %+v", cfg.Refresh)
				}
				if !cfg.Refresh.RetainOnError {
					t.Error("RetainOnError should default to true")
				}
				if cfg.Display.Location.String() != "America/New_York" {
					t.Errorf("Location = %v", cfg.Display.Location)
				}
				if cfg.Units() != normalize.DefaultUnits {
					t.Errorf("Units() = %+v, want defaults", cfg.Units())
				}
				if cfg.Address() != "0.0.0.0:8080" {
					t.Errorf("Address() = %q", cfg.Address())
				}
				if err := cfg.Validate(); err != nil {
					t.Errorf("Validate() err = %v", err)
				}
			},
		},
		{
			name: "overrides",
			env: map[string]string{
				"DASHBOARD_SOURCE":           "SQL",
				"DASHBOARD_SOURCE_URL":       "postgres://db.example.com/sensors",
				"DASHBOARD_SOURCE_KEY":       "secret",
				"DASHBOARD_REFRESH_INTERVAL": "30s",
				"DASHBOARD_PRESSURE_DIVISOR": "100",
				"DASHBOARD_RETAIN_ON_ERROR":  "false",
				"DASHBOARD_ALLOWED_ORIGINS":  "https://a.example, https://b.example",
				"DASHBOARD_TIMEZONE":         "UTC",
			},
			checkValues: func(t *testing.T, cfg *Config) {
				if cfg.Source.Kind != SourceSQL || cfg.Source.Key != "secret" {
					t.Errorf("Source = %+v", cfg.Source)
				}
				if cfg.Refresh.Interval != 30*time.Second || cfg.Refresh.RetainOnError {
					t.Errorf("Refresh = %+v", cfg.Refresh)
				}
				if cfg.Display.PressureDivisor != 100 {
					t.Errorf("PressureDivisor = %v, want 100", cfg.Display.PressureDivisor)
				}
				if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
					t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
				}
				if err := cfg.Validate(); err != nil {
					t.Errorf("Validate() err = %v", err)
				}
			},
		},
		{
			name: "malformed values fall back and are reported",
			env: map[string]string{
				"DASHBOARD_HTTP_PORT":        "eighty",
				"DASHBOARD_REFRESH_INTERVAL": "soon",
				"DASHBOARD_TIMEZONE":         "Mars/Olympus",
			},
			wantLoadErr: true,
			checkValues: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 8080 || cfg.Refresh.Interval != 5*time.Second {
					t.Errorf("defaults not applied: port=%d interval=%v", cfg.Server.Port, cfg.Refresh.Interval)
				}
				if cfg.Display.Location != time.UTC {
					t.Errorf("Location = %v, want UTC fallback", cfg.Display.Location)
				}
				var cfgErr *models.ConfigurationError
				if err := cfg.Validate(); !errors.As(err, &cfgErr) || len(cfgErr.Invalid) != 3 {
					t.Errorf("Validate() err = %v, want 3 invalid", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			if (err != nil) != tt.wantLoadErr {
				t.Fatalf("LoadConfig() err = %v, wantLoadErr %v", err, tt.wantLoadErr)
			}
			if cfg == nil {
				t.Fatal("LoadConfig() returned nil config")
			}
			tt.checkValues(t, cfg)
		})
	}
}

func TestValidate_MissingRemoteSettings(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantMissing []string
	}{
		{
			name:        "postgres needs endpoint and key",
			env:         map[string]string{"DASHBOARD_SOURCE": "sql"},
			wantMissing: []string{"DASHBOARD_SOURCE_URL", "DASHBOARD_SOURCE_KEY"},
		},
		{
			name:        "postgres with endpoint only",
			env:         map[string]string{"DASHBOARD_SOURCE": "sql", "DASHBOARD_SOURCE_URL": "postgres://x/y"},
			wantMissing: []string{"DASHBOARD_SOURCE_KEY"},
		},
		{
			name:        "sqlite needs no key",
			env:         map[string]string{"DASHBOARD_SOURCE": "sql", "DASHBOARD_SOURCE_DRIVER": "sqlite3", "DASHBOARD_SOURCE_URL": "readings.db"},
			wantMissing: nil,
		},
		{
			name:        "mqtt needs broker",
			env:         map[string]string{"DASHBOARD_SOURCE": "mqtt"},
			wantMissing: []string{"DASHBOARD_SOURCE_URL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig() err = %v", err)
			}

			err = cfg.Validate()
			if tt.wantMissing == nil {
				if err != nil {
					t.Errorf("Validate() err = %v, want nil", err)
				}
				return
			}
			if models.Classify(err) != models.KindConfiguration {
				t.Fatalf("Classify(Validate()) = %q, want configuration", models.Classify(err))
			}
			var cfgErr *models.ConfigurationError
			errors.As(err, &cfgErr)
			if len(cfgErr.Missing) != len(tt.wantMissing) {
				t.Fatalf("Missing = %v, want %v", cfgErr.Missing, tt.wantMissing)
			}
			for i, want := range tt.wantMissing {
				if cfgErr.Missing[i] != want {
					t.Errorf("Missing[%d] = %q, want %q", i, cfgErr.Missing[i], want)
				}
			}
		})
	}
}

func TestValidate_RejectsUnknownEnums(t *testing.T) {
	t.Setenv("DASHBOARD_SOURCE", "ftp")
	t.Setenv("DASHBOARD_COLUMNS", "fancy")
	t.Setenv("DASHBOARD_DATE_FILTER", "week")
	t.Setenv("DASHBOARD_BATTERY_DIVISOR", "0")

	cfg, _ := LoadConfig()
	var cfgErr *models.ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || len(cfgErr.Invalid) != 4 {
		t.Errorf("Validate() err = %v, want 4 invalid", err)
	}
}

func TestValidate_RejectsNonFiniteDivisors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"infinite pressure", "DASHBOARD_PRESSURE_DIVISOR", "Inf"},
		{"NaN pressure", "DASHBOARD_PRESSURE_DIVISOR", "NaN"},
		{"negative infinite battery", "DASHBOARD_BATTERY_DIVISOR", "-Inf"},
		{"NaN battery", "DASHBOARD_BATTERY_DIVISOR", "nan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, _ := LoadConfig()
			var cfgErr *models.ConfigurationError
			if err := cfg.Validate(); !errors.As(err, &cfgErr) || len(cfgErr.Invalid) != 1 {
				t.Fatalf("Validate() err = %v, want 1 invalid", err)
			}

			// Decoding with the rejected units must not panic or pass raw
			// pascals through as hectopascals.
			row := models.RawRow{
				normalize.ExportTimestamp: "2025-02-16 13:00:00",
				normalize.ExportPressure:  "101325",
				normalize.ExportBattery:   "3700",
			}
			r, err := normalize.Decode(row, cfg.ColumnMap()(row))
			if err != nil {
				t.Fatalf("Decode() err = %v", err)
			}
			if tt.key == "DASHBOARD_PRESSURE_DIVISOR" && r.PressureHpa.Valid() {
				t.Errorf("PressureHpa = %v, want absent", r.PressureHpa)
			}
			if tt.key == "DASHBOARD_BATTERY_DIVISOR" && r.BatteryV.Valid() {
				t.Errorf("BatteryV = %v, want absent", r.BatteryV)
			}
		})
	}
}

func TestColumnMapAndDateFilter(t *testing.T) {
	t.Setenv("DASHBOARD_TIMEZONE", "America/New_York")
	t.Setenv("DASHBOARD_COLUMNS", "table")
	t.Setenv("DASHBOARD_DATE_FILTER", "today")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() err = %v", err)
	}

	// Even a row with export headers resolves to the fixed table policy.
	cm := cfg.ColumnMap()(models.RawRow{normalize.ExportTemperature: "1"})
	if cm.Name != "table" {
		t.Errorf("ColumnMap().Name = %q, want table", cm.Name)
	}

	// 01:00 UTC on Feb 17 is still Feb 16 in New York.
	now := func() time.Time { return time.Date(2025, 2, 17, 1, 0, 0, 0, time.UTC) }
	filter := cfg.DateFilter(now)
	if filter == nil {
		t.Fatal("DateFilter() = nil for today")
	}
	if !filter(time.Date(2025, 2, 16, 15, 0, 0, 0, time.UTC)) {
		t.Error("reading from the same New York day was filtered out")
	}
	if filter(time.Date(2025, 2, 17, 6, 0, 0, 0, time.UTC)) {
		t.Error("reading from the next New York day was kept")
	}

	t.Setenv("DASHBOARD_DATE_FILTER", "none")
	t.Setenv("DASHBOARD_COLUMNS", "auto")
	cfg, _ = LoadConfig()
	if cfg.DateFilter(now) != nil {
		t.Error("DateFilter() != nil for none")
	}
	if cm := cfg.ColumnMap()(models.RawRow{normalize.ExportTemperature: "1"}); cm.Name != "export" {
		t.Errorf("auto ColumnMap().Name = %q, want export", cm.Name)
	}
}

func TestLogLevelAndDBConfig(t *testing.T) {
	t.Setenv("DASHBOARD_LOG_LEVEL", "warning")
	t.Setenv("DASHBOARD_SOURCE", "sql")
	t.Setenv("DASHBOARD_SOURCE_URL", "postgres://dash@db:5432/sensors")
	t.Setenv("DASHBOARD_SOURCE_KEY", "s3cret")
	t.Setenv("DASHBOARD_DB_MAX_OPEN_CONNS", "9")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() err = %v", err)
	}
	if got := cfg.LogLevel(); got != logging.WarnLevel {
		t.Errorf("LogLevel() = %v, want WarnLevel", got)
	}

	db := cfg.DBConfig()
	if db.Driver != "postgres" || db.Endpoint != "postgres://dash@db:5432/sensors" || db.Credential != "s3cret" {
		t.Errorf("DBConfig() = %+v", db)
	}
	if db.MaxOpenConns != 9 || db.MaxIdleConns != 2 {
		t.Errorf("DBConfig() pool = %d/%d, want 9/2", db.MaxOpenConns, db.MaxIdleConns)
	}

	t.Setenv("DASHBOARD_LOG_LEVEL", "chatty")
	cfg, _ = LoadConfig()
	if got := cfg.LogLevel(); got != logging.InfoLevel {
		t.Errorf("LogLevel() = %v, want InfoLevel fallback", got)
	}
	var cfgErr *models.ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || len(cfgErr.Invalid) != 1 {
		t.Errorf("Validate() err = %v, want 1 invalid", err)
	}
}
