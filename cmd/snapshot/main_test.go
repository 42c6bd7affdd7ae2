package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const exportCSV = "Timestamp,Temperature (°C),Relative Humidity (%),Barometric Pressure (Pa),Battery Voltage (mV)\n" +
	"2025-02-16 13:00:00,18.2,40.1,101325,3700\n" +
	"2025-02-16 13:05:00,19.5,41.0,101300,3690\n"

func TestRun(t *testing.T) {
	tests := []struct {
		name        string
		env         func(t *testing.T) map[string]string
		args        []string
		wantCode    int
		checkValues func(*testing.T, string)
	}{
		{
			name: "csv export renders as json",
			env: func(t *testing.T) map[string]string {
				path := filepath.Join(t.TempDir(), "export.csv")
				if err := os.WriteFile(path, []byte(exportCSV), 0o644); err != nil {
					t.Fatal(err)
				}
				return map[string]string{"DASHBOARD_SOURCE": "csv", "DASHBOARD_CSV_PATH": path}
			},
			args:     []string{"-json"},
			wantCode: 0,
			checkValues: func(t *testing.T, out string) {
				var state map[string]interface{}
				if err := json.Unmarshal([]byte(out), &state); err != nil {
					t.Fatalf("stdout is not json: %v\n%s", err, out)
				}
				if state["status"] != "ok" {
					t.Errorf("status = %v, want ok", state["status"])
				}
				if series := state["series"].([]interface{}); len(series) != 2 {
					t.Errorf("len(series) = %d, want 2", len(series))
				}
			},
		},
		{
			name: "csv export renders tiles and counts",
			env: func(t *testing.T) map[string]string {
				path := filepath.Join(t.TempDir(), "export.csv")
				if err := os.WriteFile(path, []byte(exportCSV), 0o644); err != nil {
					t.Fatal(err)
				}
				return map[string]string{"DASHBOARD_SOURCE": "csv", "DASHBOARD_CSV_PATH": path}
			},
			wantCode: 0,
			checkValues: func(t *testing.T, out string) {
				for _, want := range []string{"Temperature", "101.3 hPa", "kept=2"} {
					if !strings.Contains(out, want) {
						t.Errorf("output missing %q:\n%s", want, out)
					}
				}
			},
		},
		{
			name: "configuration error exits non-zero",
			env: func(t *testing.T) map[string]string {
				return map[string]string{"DASHBOARD_SOURCE": "ftp"}
			},
			args:     []string{"-json"},
			wantCode: 1,
			checkValues: func(t *testing.T, out string) {
				if !strings.Contains(out, `"kind": "configuration"`) {
					t.Errorf("output missing configuration kind:\n%s", out)
				}
			},
		},
		{
			name: "opened sql source failing its cycle exits non-zero",
			env: func(t *testing.T) map[string]string {
				return map[string]string{
					"DASHBOARD_SOURCE":        "sql",
					"DASHBOARD_SOURCE_DRIVER": "sqlite3",
					"DASHBOARD_SOURCE_URL":    "file:" + filepath.Join(t.TempDir(), "empty.db"),
					"DASHBOARD_SOURCE_VIEW":   "missing_view",
				}
			},
			args:     []string{"-json"},
			wantCode: 1,
			checkValues: func(t *testing.T, out string) {
				if !strings.Contains(out, `"status": "error"`) {
					t.Errorf("output missing error status:\n%s", out)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env(t) {
				t.Setenv(k, v)
			}

			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("run() = %d, want %d\nstdout: %s\nstderr: %s", code, tt.wantCode, stdout.String(), stderr.String())
			}
			if tt.checkValues != nil {
				tt.checkValues(t, stdout.String())
			}
		})
	}
}
