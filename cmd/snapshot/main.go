package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"sensor-dashboard/internal/config"
	"sensor-dashboard/internal/display"
	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/services"
	"sensor-dashboard/internal/source"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// snapshot runs a single refresh cycle against the configured source and
// prints the dashboard tiles, or the display state as JSON.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup finishes before
// main exits.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	flags.SetOutput(stderr)
	width := flags.Int("width", 80, "Terminal width used to lay out tiles")
	asJSON := flags.Bool("json", false, "Print the display state as JSON instead of tiles")
	verbose := flags.Bool("v", false, "Write operator logs to stderr")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, loadErr := config.LoadConfig()
	cfgErr := cfg.Validate()
	if cfgErr == nil {
		cfgErr = loadErr
	}

	var logOutput io.Writer = io.Discard
	if *verbose {
		logOutput = stderr
	}
	logger := logging.New(logging.Options{
		Service: "sensor-snapshot",
		Version: "1.0.0",
		Level:   cfg.LogLevel(),
		Env:     "dev",
		Output:  logOutput,
	})

	cycleID := uuid.NewString()
	ctx := logging.WithCycleID(context.Background(), cycleID)
	metricsCollector := metrics.NewCollector("sensor_snapshot", prometheus.NewRegistry())

	var (
		snap     models.Snapshot
		cycleErr = cfgErr
	)
	if cycleErr == nil {
		src, handle, err := source.Open(ctx, cfg, cfg.Refresh.FetchTimeout, logger, metricsCollector)
		if err != nil {
			cycleErr = &models.TransportError{Source: cfg.Source.Kind, Err: err}
		} else {
			defer handle.Close()

			svc := services.NewDashboardService(
				src,
				cfg.ColumnMap(),
				cfg.DateFilter(time.Now),
				services.NewStatisticsService(logger, metricsCollector),
				logger,
				metricsCollector,
			)

			fetchCtx, cancel := context.WithTimeout(ctx, cfg.Refresh.FetchTimeout)
			snap, cycleErr = svc.Cycle(fetchCtx)
			cancel()
		}
	}

	now := time.Now()
	state := models.SuccessState(snap, cycleID, now)
	if cycleErr != nil {
		logger.Error(ctx, "[SNAPSHOT_ERROR] Cycle failed", logging.Fields{
			"kind": string(models.Classify(cycleErr)),
		}, cycleErr)
		state = models.ErrorState(cycleErr, nil, false, cycleID, now)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(state); err != nil {
			fmt.Fprintf(stderr, "Failed to encode state: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintln(stdout, display.Render(state, cfg.Display.Location, *width))
		if cycleErr == nil {
			fmt.Fprintln(stdout, strings.Join([]string{
				fmt.Sprintf("source=%s", cfg.Source.Kind),
				fmt.Sprintf("received=%d", snap.Received),
				fmt.Sprintf("dropped=%d", snap.Dropped),
				fmt.Sprintf("filtered=%d", snap.Filtered),
				fmt.Sprintf("kept=%d", len(snap.Series)),
			}, "  "))
		}
	}

	if cycleErr != nil {
		return 1
	}
	return 0
}
