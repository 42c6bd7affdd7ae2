package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sensor-dashboard/internal/config"
	"sensor-dashboard/internal/repository"
	"sensor-dashboard/internal/services"
	"sensor-dashboard/pkg/database"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

func main() {
	dataDir := flag.String("data-dir", "", "Directory of *.csv sensor exports (alternative to file arguments)")
	batchSize := flag.Int("batch-size", 500, "Number of readings written per transaction")
	prune := flag.Duration("prune", 0, "After importing, delete readings older than this (e.g. 720h); 0 keeps everything")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Source.Endpoint == "" {
		fmt.Fprintln(os.Stderr, "DASHBOARD_SOURCE_URL must point at the readings database")
		os.Exit(1)
	}

	files := flag.Args()
	if *dataDir == "" && len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingester [-data-dir DIR | FILE...] [-batch-size N] [-prune DURATION]")
		os.Exit(2)
	}

	logger := logging.New(logging.Options{
		Service: "sensor-ingester",
		Version: "1.0.0",
		Level:   cfg.LogLevel(),
		Env:     cfg.Logging.Env,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[INGESTER_START] Starting sensor export import", logging.Fields{
		"version":    "1.0.0",
		"data_dir":   *dataDir,
		"files":      len(files),
		"batch_size": *batchSize,
		"driver":     cfg.Database.Driver,
	})

	metricsCollector := metrics.NewCollector("sensor_ingester", prometheus.DefaultRegisterer)

	db, err := database.Open(ctx, cfg.DBConfig(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	readingRepo := repository.NewReadingRepository(db, logger, metricsCollector)
	importService := services.NewImportService(readingRepo, cfg.Display.Location, logger, metricsCollector)

	var result *services.ImportResult
	if *dataDir != "" {
		result, err = importService.ImportDirectory(ctx, *dataDir, *batchSize)
	} else {
		result, err = importService.ImportFiles(ctx, files, *batchSize)
	}
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Import failed", logging.Fields{}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("IMPORT COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:      %d\n", result.TotalFiles)
	fmt.Printf("Total Records:    %d\n", result.TotalRecords)
	fmt.Printf("Stored Records:   %d\n", result.StoredRecords)
	fmt.Printf("Dropped Records:  %d\n", result.DroppedRecords)
	fmt.Printf("Duration:         %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i == 10 {
				fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
				break
			}
			fmt.Printf("  - %s\n", errMsg)
		}
	}

	if *prune > 0 {
		cutoff := time.Now().Add(-*prune)
		deleted, err := readingRepo.PruneBefore(ctx, cutoff)
		if err != nil {
			logger.Error(ctx, "[PRUNE_ERROR] Failed to prune old readings", logging.Fields{}, err)
		} else {
			fmt.Printf("Pruned Records:   %d (before %s)\n", deleted, cutoff.Format(time.RFC3339))
		}
	}

	if total, err := readingRepo.CountReadings(ctx); err == nil {
		fmt.Printf("Table Size:       %d\n", total)
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Import finished", logging.Fields{
		"total_records":    result.TotalRecords,
		"stored_records":   result.StoredRecords,
		"dropped_records":  result.DroppedRecords,
		"failed_files":     len(result.Errors),
		"duration_seconds": result.Duration.Seconds(),
	})

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}
