package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sensor-dashboard/internal/config"
	"sensor-dashboard/pkg/database"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	dir := flag.String("dir", "migrations", "Directory holding one migration folder per driver")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q: want up or down\n", *direction)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Service: "sensor-migrate",
		Version: "1.0.0",
		Level:   cfg.LogLevel(),
		Env:     cfg.Logging.Env,
	})
	metricsCollector := metrics.NewCollector("sensor_migrate", prometheus.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbConfig := cfg.DBConfig()
	dbConfig.MonitorInterval = 0

	db, err := database.Open(ctx, dbConfig, logger, metricsCollector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	migrationFile := filepath.Join(*dir, db.Driver(), fmt.Sprintf("001_create_schema.%s.sql", *direction))
	content, err := os.ReadFile(migrationFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migration file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running migration: %s\n", migrationFile)

	if _, err := db.ExecContext(ctx, "migrate_"+*direction, string(content)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
