package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/normalize"
	"sensor-dashboard/internal/repository"
	"sensor-dashboard/pkg/database"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

type fakeSource struct {
	rows []models.RawRow
	err  error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchBatch(ctx context.Context) ([]models.RawRow, error) {
	return f.rows, f.err
}

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	logger := logging.New(logging.Options{Service: "test", Level: logging.ErrorLevel, Output: io.Discard})
	return logger, metrics.NewCollector("test", prometheus.NewRegistry())
}

func temps(values ...interface{}) models.Series {
	series := make(models.Series, len(values))
	base := time.Date(2025, 2, 16, 18, 0, 0, 0, time.UTC)
	for i, v := range values {
		series[i].Timestamp = base.Add(time.Duration(i) * 5 * time.Minute)
		if f, ok := v.(float64); ok {
			series[i].TemperatureC = models.Some(f)
		}
	}
	return series
}

func wantExtrema(t *testing.T, got models.ExtremaSummary, max, min float64) {
	t.Helper()
	if v, ok := got.Max.Get(); !ok || v != max {
		t.Errorf("Max = %v, want %v", got.Max, max)
	}
	if v, ok := got.Min.Get(); !ok || v != min {
		t.Errorf("Min = %v, want %v", got.Min, min)
	}
}

func TestExtrema(t *testing.T) {
	tests := []struct {
		name        string
		series      models.Series
		checkValues func(*testing.T, models.ExtremaSummary)
	}{
		{
			name:   "absent values are skipped",
			series: temps(10.0, nil, 22.5, 5.0),
			checkValues: func(t *testing.T, got models.ExtremaSummary) {
				wantExtrema(t, got, 22.5, 5)
			},
		},
		{
			name:   "single value",
			series: temps(18.2),
			checkValues: func(t *testing.T, got models.ExtremaSummary) {
				wantExtrema(t, got, 18.2, 18.2)
			},
		},
		{
			name:   "all absent",
			series: temps(nil, nil),
			checkValues: func(t *testing.T, got models.ExtremaSummary) {
				if got.Max.Valid() || got.Min.Valid() {
					t.Errorf("Extrema = %+v, want both absent", got)
				}
			},
		},
		{
			name:   "empty series",
			series: models.Series{},
			checkValues: func(t *testing.T, got models.ExtremaSummary) {
				if got.Max.Valid() || got.Min.Valid() {
					t.Errorf("Extrema = %+v, want both absent", got)
				}
			},
		},
		{
			name:   "negative values",
			series: temps(-3.5, -10.0, 0.0),
			checkValues: func(t *testing.T, got models.ExtremaSummary) {
				wantExtrema(t, got, 0, -10)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.checkValues(t, Extrema(tt.series, models.Temperature))
		})
	}
}

func TestStatisticsService_Summarize(t *testing.T) {
	logger, m := testDeps()
	series := temps(18.2, 19.5)
	series[0].BatteryV = models.Some(3.7)

	summary := NewStatisticsService(logger, m).Summarize(context.Background(), series)
	if summary.Count != 2 {
		t.Errorf("Count = %d, want 2", summary.Count)
	}
	wantExtrema(t, summary.Temperature, 19.5, 18.2)
	wantExtrema(t, summary.Battery, 3.7, 3.7)
	if summary.Humidity.Max.Valid() {
		t.Error("Humidity should be absent")
	}
}

func exportRows(temps ...string) []models.RawRow {
	rows := make([]models.RawRow, len(temps))
	base := time.Date(2025, 2, 16, 13, 0, 0, 0, time.UTC)
	for i, temp := range temps {
		rows[i] = models.RawRow{
			normalize.ExportTimestamp:   base.Add(time.Duration(i) * 5 * time.Minute).Format("2006-01-02 15:04:05"),
			normalize.ExportTemperature: temp,
			normalize.ExportPressure:    "101325",
			normalize.ExportBattery:     "3700",
		}
	}
	return rows
}

func TestDashboardService_Cycle(t *testing.T) {
	tests := []struct {
		name        string
		source      *fakeSource
		filter      normalize.DateFilter
		wantKind    models.ErrorKind
		checkValues func(*testing.T, models.Snapshot, *metrics.Collector)
	}{
		{
			name:   "three readings",
			source: &fakeSource{rows: exportRows("18.2", "19.5", "17.8")},
			checkValues: func(t *testing.T, snap models.Snapshot, m *metrics.Collector) {
				if len(snap.Series) != 3 {
					t.Fatalf("len(Series) = %d, want 3", len(snap.Series))
				}
				if v, _ := snap.Latest.TemperatureC.Get(); v != 17.8 {
					t.Errorf("Latest.TemperatureC = %v, want 17.8", snap.Latest.TemperatureC)
				}
				if v, _ := snap.Latest.PressureHpa.Get(); v != 101.3 {
					t.Errorf("Latest.PressureHpa = %v, want 101.3", snap.Latest.PressureHpa)
				}
				if v, _ := snap.Latest.BatteryV.Get(); v != 3.7 {
					t.Errorf("Latest.BatteryV = %v, want 3.7", snap.Latest.BatteryV)
				}
				wantExtrema(t, snap.Temperature, 19.5, 17.8)
				if got := testutil.ToFloat64(m.SeriesLength); got != 3 {
					t.Errorf("SeriesLength = %v, want 3", got)
				}
			},
		},
		{
			name: "undecodable rows are counted",
			source: &fakeSource{rows: append(exportRows("18.2"), models.RawRow{
				normalize.ExportTimestamp: "garbage", normalize.ExportTemperature: "1",
			})},
			checkValues: func(t *testing.T, snap models.Snapshot, m *metrics.Collector) {
				if snap.Received != 2 || snap.Dropped != 1 {
					t.Errorf("Received/Dropped = %d/%d, want 2/1", snap.Received, snap.Dropped)
				}
				if got := testutil.ToFloat64(m.RowsDroppedTotal.WithLabelValues("decode")); got != 1 {
					t.Errorf("rows_dropped_total{decode} = %v, want 1", got)
				}
			},
		},
		{
			name:     "transport failure keeps its kind",
			source:   &fakeSource{err: &models.TransportError{Source: "x", Err: errors.New("connection refused")}},
			wantKind: models.KindTransport,
		},
		{
			name:     "parse failure keeps its kind",
			source:   &fakeSource{err: &models.ParseError{Source: "x", Line: 3, Err: errors.New("bad quote")}},
			wantKind: models.KindParse,
		},
		{
			name:     "no rows",
			source:   &fakeSource{rows: []models.RawRow{}},
			wantKind: models.KindEmpty,
		},
		{
			name:     "filter removes everything",
			source:   &fakeSource{rows: exportRows("18.2")},
			filter:   func(time.Time) bool { return false },
			wantKind: models.KindEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, m := testDeps()
			svc := NewDashboardService(
				tt.source,
				normalize.Auto(normalize.DefaultUnits, time.UTC),
				tt.filter,
				NewStatisticsService(logger, m),
				logger, m,
			)

			snap, err := svc.Cycle(context.Background())
			if tt.wantKind != "" {
				if got := models.Classify(err); got != tt.wantKind {
					t.Fatalf("Classify(err) = %q, want %q (err = %v)", got, tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cycle() err = %v", err)
			}
			tt.checkValues(t, snap, m)
		})
	}
}

func TestQueryReadings(t *testing.T) {
	series := temps(1.0, 2.0, 3.0, 4.0, 5.0)
	start := series[1].Timestamp
	end := series[3].Timestamp

	tests := []struct {
		name      string
		filter    ReadingsFilter
		wantTotal int
		wantFirst float64
		wantLen   int
	}{
		{name: "no filter", filter: ReadingsFilter{}, wantTotal: 5, wantFirst: 1, wantLen: 5},
		{name: "inclusive window", filter: ReadingsFilter{StartTime: &start, EndTime: &end}, wantTotal: 3, wantFirst: 2, wantLen: 3},
		{name: "paged", filter: ReadingsFilter{Limit: 2, Offset: 1}, wantTotal: 5, wantFirst: 2, wantLen: 2},
		{name: "offset past end", filter: ReadingsFilter{Offset: 10}, wantTotal: 5, wantLen: 0},
		{name: "negative offset starts at the beginning", filter: ReadingsFilter{Limit: 2, Offset: -4}, wantTotal: 5, wantFirst: 1, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, total := QueryReadings(series, tt.filter)
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(page) != tt.wantLen {
				t.Fatalf("len(page) = %d, want %d", len(page), tt.wantLen)
			}
			if tt.wantLen > 0 {
				if v, _ := page[0].TemperatureC.Get(); v != tt.wantFirst {
					t.Errorf("page[0] = %v, want %v", v, tt.wantFirst)
				}
			}
		})
	}
}

const schema = `
CREATE TABLE sensor_readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL UNIQUE,
	temperature_c REAL,
	humidity_percent REAL,
	pressure_pa REAL,
	battery_voltage_mv REAL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

func TestImportService_ImportDirectory(t *testing.T) {
	logger, m := testDeps()
	ctx := context.Background()

	db, err := database.Open(ctx, &database.Config{
		Driver:       database.DriverSQLite,
		Endpoint:     "file:importsvc?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, logger, m)
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "schema", schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	dir := t.TempDir()
	export := "Timestamp,Temperature (°C),Relative Humidity (%),Barometric Pressure (Pa),Battery Voltage (mV)\n" +
		"2025-02-16 13:00:00,18.2,40.1,101325,3700\n" +
		"2025-02-16 13:05:00,19.5,41.0,101300,3695\n" +
		"bogus,1,1,1,1\n" +
		"2025-02-16 13:10:00,17.8,,101290,3690\n"
	if err := os.WriteFile(filepath.Join(dir, "day1.csv"), []byte(export), 0o644); err != nil {
		t.Fatal(err)
	}
	// Re-importing the same readings updates rather than duplicates.
	if err := os.WriteFile(filepath.Join(dir, "day1-copy.csv"), []byte(export), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.csv"), []byte("Timestamp\n\"unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := repository.NewReadingRepository(db, logger, m)
	svc := NewImportService(repo, time.UTC, logger, m)

	result, err := svc.ImportDirectory(ctx, dir, 2)
	if err != nil {
		t.Fatalf("ImportDirectory() err = %v", err)
	}
	if result.TotalFiles != 3 {
		t.Errorf("TotalFiles = %d, want 3", result.TotalFiles)
	}
	if result.StoredRecords != 6 || result.DroppedRecords != 2 {
		t.Errorf("Stored/Dropped = %d/%d, want 6/2", result.StoredRecords, result.DroppedRecords)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want one failed file", result.Errors)
	}

	count, err := repo.CountReadings(ctx)
	if err != nil {
		t.Fatalf("CountReadings() err = %v", err)
	}
	if count != 3 {
		t.Errorf("CountReadings() = %d, want 3", count)
	}

	var pressure float64
	if err := db.GetContext(ctx, "check", &pressure, `SELECT pressure_pa FROM sensor_readings ORDER BY timestamp LIMIT 1`); err != nil {
		t.Fatal(err)
	}
	if pressure != 101325 {
		t.Errorf("stored pressure_pa = %v, want raw 101325", pressure)
	}

	pruned, err := repo.PruneBefore(ctx, time.Date(2025, 2, 16, 13, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PruneBefore() err = %v", err)
	}
	if pruned != 1 {
		t.Errorf("PruneBefore() = %d, want 1", pruned)
	}

	if _, err := svc.ImportDirectory(ctx, t.TempDir(), 10); err == nil {
		t.Error("ImportDirectory(empty dir) err = nil, want error")
	}
}
