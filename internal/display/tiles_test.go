package display

import (
	"errors"
	"strings"
	"testing"
	"time"

	"sensor-dashboard/internal/models"
)

func TestTiles(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	at := time.Date(2025, 2, 16, 18, 10, 0, 0, time.UTC)
	snap := models.Snapshot{
		Latest: models.Reading{
			Timestamp:    at,
			TemperatureC: models.Some(17.8),
			HumidityPct:  models.Some(41.25),
			BatteryV:     models.Some(3.7),
		},
		Temperature: models.ExtremaSummary{Max: models.Some(19.5), Min: models.Some(17.8)},
	}

	tests := []struct {
		name        string
		state       *models.DisplayState
		checkValues func(*testing.T, []Tile)
	}{
		{
			name:  "loading has no tiles",
			state: models.LoadingState(),
			checkValues: func(t *testing.T, tiles []Tile) {
				if tiles != nil {
					t.Errorf("tiles = %v, want nil", tiles)
				}
			},
		},
		{
			name:  "current reading",
			state: models.SuccessState(snap, "c1", at),
			checkValues: func(t *testing.T, tiles []Tile) {
				want := map[string]string{
					"Temperature": "17.8 °C",
					"Humidity":    "41.25 %",
					"Pressure":    "N/A",
					"Battery":     "3.7 V",
					"High":        "19.5 °C",
					"Low":         "17.8 °C",
					"Time":        "Feb 16 13:10:00 EST",
				}
				if len(tiles) != len(want) {
					t.Fatalf("got %d tiles, want %d", len(tiles), len(want))
				}
				for _, tile := range tiles {
					if tile.Value != want[tile.Label] {
						t.Errorf("%s = %q, want %q", tile.Label, tile.Value, want[tile.Label])
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.checkValues(t, Tiles(tt.state, ny))
		})
	}
}

func TestRender(t *testing.T) {
	at := time.Date(2025, 2, 16, 18, 10, 0, 0, time.UTC)
	ok := models.SuccessState(models.Snapshot{
		Series: models.Series{{Timestamp: at}},
		Latest: models.Reading{Timestamp: at, TemperatureC: models.Some(17.8)},
	}, "c1", at)

	out := Render(ok, time.UTC, 80)
	for _, want := range []string{"1 readings", "Temperature", "17.8 °C", "N/A"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}

	failed := models.ErrorState(&models.EmptyBatchError{}, ok, true, "c2", at)
	out = Render(failed, time.UTC, 40)
	if !strings.Contains(out, models.UserMessage(models.KindEmpty)) {
		t.Errorf("render missing error message:\n%s", out)
	}
	if !strings.Contains(out, "last good data") {
		t.Errorf("render missing stale marker:\n%s", out)
	}

	out = Render(models.ErrorState(errors.New("boom"), nil, true, "c3", at), time.UTC, 80)
	if strings.Contains(out, "boom") {
		t.Errorf("raw error leaked into render:\n%s", out)
	}
}
