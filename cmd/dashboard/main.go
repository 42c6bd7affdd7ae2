package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sensor-dashboard/internal/config"
	"sensor-dashboard/internal/handlers"
	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/refresh"
	"sensor-dashboard/internal/services"
	"sensor-dashboard/internal/source"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration. Errors are kept and published as the display
	// state so the dashboard can tell users what is missing.
	cfg, loadErr := config.LoadConfig()
	cfgErr := cfg.Validate()
	if cfgErr == nil {
		cfgErr = loadErr
	}

	logger := logging.New(logging.Options{
		Service: "sensor-dashboard",
		Version: version,
		Level:   cfg.LogLevel(),
		Env:     cfg.Logging.Env,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[STARTUP] Starting sensor dashboard", logging.Fields{
		"version":  version,
		"source":   cfg.Source.Kind,
		"address":  cfg.Address(),
		"interval": cfg.Refresh.Interval.String(),
		"timezone": cfg.Display.Timezone,
	})

	metricsCollector := metrics.NewCollector("sensor_dashboard", prometheus.DefaultRegisterer)
	statsService := services.NewStatisticsService(logger, metricsCollector)

	var (
		cycler  refresh.Cycler
		health  handlers.HealthChecker
		watcher source.Watcher
		cleanup []func()
	)

	if cfgErr != nil {
		logger.Error(ctx, "[STARTUP_CONFIG_ERROR] Configuration incomplete, serving error state", logging.Fields{}, cfgErr)
		cycler = refresh.CycleFunc(func(context.Context) (models.Snapshot, error) {
			return models.Snapshot{}, cfgErr
		})
	} else {
		src, handle, err := source.Open(ctx, cfg, 10*time.Second, logger, metricsCollector)
		if err != nil {
			// Unreachable sources are reported per cycle, not fatal.
			logger.Error(ctx, "[STARTUP_SOURCE_ERROR] Failed to open data source", logging.Fields{
				"source": cfg.Source.Kind,
			}, err)
			transportErr := &models.TransportError{Source: cfg.Source.Kind, Err: err}
			cycler = refresh.CycleFunc(func(context.Context) (models.Snapshot, error) {
				return models.Snapshot{}, transportErr
			})
		} else {
			cleanup = append(cleanup, handle.Close)
			health = handle.Health
			if w, ok := src.(source.Watcher); ok && cfg.Source.CSVWatch {
				watcher = w
			}
			cycler = services.NewDashboardService(
				src,
				cfg.ColumnMap(),
				cfg.DateFilter(time.Now),
				statsService,
				logger,
				metricsCollector,
			)
		}
	}

	scheduler := refresh.New(cycler, refresh.Options{
		Interval:      cfg.Refresh.Interval,
		FetchTimeout:  cfg.Refresh.FetchTimeout,
		RetainOnError: cfg.Refresh.RetainOnError,
	}, logger, metricsCollector)
	scheduler.Start(ctx)

	if watcher != nil {
		go func() {
			if err := watcher.Watch(ctx, func() { scheduler.Trigger() }); err != nil {
				logger.Error(ctx, "[SOURCE_WATCH_ERROR] Export watcher stopped", logging.Fields{}, err)
			}
		}()
	}

	dashboardHandler := handlers.NewDashboardHandler(scheduler, statsService, health, logger, metricsCollector)

	var accessLog io.Writer
	if cfg.Logging.Env == "dev" {
		accessLog = os.Stdout
	}
	router := handlers.NewRouter(dashboardHandler, handlers.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AccessLog:      accessLog,
	}, logger, metricsCollector)

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
	}

	logger.Info(context.Background(), "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop refreshing first so open event streams see their channel close.
	scheduler.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}

	logger.Info(context.Background(), "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
