package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/normalize"
	"sensor-dashboard/internal/repository"
	"sensor-dashboard/internal/source"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// ImportService loads sensor exports into the readings table
type ImportService struct {
	repo     repository.ReadingRepository
	location *time.Location
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// ImportResult contains import statistics
type ImportResult struct {
	TotalFiles     int
	TotalRecords   int
	StoredRecords  int
	DroppedRecords int
	Duration       time.Duration
	Errors         []string
}

// FileImportResult contains per-file import statistics
type FileImportResult struct {
	TotalRecords   int
	StoredRecords  int
	DroppedRecords int
}

// NewImportService creates an import service. loc is the zone of
// timestamps in the exports that carry no offset.
func NewImportService(repo repository.ReadingRepository, loc *time.Location, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ImportService {
	return &ImportService{
		repo:     repo,
		location: loc,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ImportDirectory imports every *.csv export in dataDir
func (s *ImportService) ImportDirectory(ctx context.Context, dataDir string, batchSize int) (*ImportResult, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no export files found in %s", dataDir)
	}
	return s.ImportFiles(ctx, files, batchSize)
}

// ImportFiles imports each export in turn. A failing file is recorded in
// the result and does not stop the others.
func (s *ImportService) ImportFiles(ctx context.Context, files []string, batchSize int) (*ImportResult, error) {
	startTime := time.Now()
	if batchSize <= 0 {
		batchSize = 500
	}

	s.logger.Info(ctx, "[IMPORT_START] Starting export import", logging.Fields{
		"file_count": len(files),
		"batch_size": batchSize,
		"stage":      "INITIALIZATION",
	})

	result := &ImportResult{
		TotalFiles: len(files),
		Errors:     make([]string, 0),
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fileResult, err := s.importFile(ctx, path, batchSize)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to import %s: %v", path, err))
			s.logger.Error(ctx, "[IMPORT_FILE_ERROR] File import failed", logging.Fields{
				"file_path": path,
				"stage":     "FILE_PROCESSING",
			}, err)
			continue
		}

		result.TotalRecords += fileResult.TotalRecords
		result.StoredRecords += fileResult.StoredRecords
		result.DroppedRecords += fileResult.DroppedRecords

		s.logger.Info(ctx, "[IMPORT_FILE_SUCCESS] File imported", logging.Fields{
			"file_path":       path,
			"total_records":   fileResult.TotalRecords,
			"stored_records":  fileResult.StoredRecords,
			"dropped_records": fileResult.DroppedRecords,
			"stage":           "FILE_COMPLETE",
		})
	}

	result.Duration = time.Since(startTime)
	s.metrics.ImportDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[IMPORT_COMPLETE] Export import completed", logging.Fields{
		"total_files":      result.TotalFiles,
		"total_records":    result.TotalRecords,
		"stored_records":   result.StoredRecords,
		"dropped_records":  result.DroppedRecords,
		"duration_seconds": result.Duration.Seconds(),
		"error_count":      len(result.Errors),
		"stage":            "COMPLETE",
	})

	return result, nil
}

// importFile decodes one export in raw units and upserts it in batches
func (s *ImportService) importFile(ctx context.Context, path string, batchSize int) (*FileImportResult, error) {
	rows, err := source.NewCSVSource(path, nil, s.logger, s.metrics).FetchBatch(ctx)
	if err != nil {
		return nil, err
	}

	fileLogger := s.logger.WithFields(logging.Fields{"file_path": path})

	result := &FileImportResult{TotalRecords: len(rows)}
	if len(rows) == 0 {
		fileLogger.Warn(ctx, "[IMPORT_FILE_EMPTY] Export has no rows", logging.Fields{})
		return result, nil
	}

	cm := normalize.DetectColumns(rows[0], normalize.RawUnits, s.location)
	series, report, err := normalize.BuildWithReport(rows, cm, nil)
	result.DroppedRecords = report.Dropped
	s.metrics.ImportRecordsTotal.WithLabelValues("dropped").Add(float64(report.Dropped))
	if report.Dropped > 0 {
		fields := logging.Fields{
			"columns": cm.Name,
			"dropped": report.Dropped,
			"stage":   "PARSING",
		}
		if report.FirstError != nil {
			fields["first_error"] = report.FirstError.Error()
		}
		fileLogger.Warn(ctx, "[IMPORT_ROWS_DROPPED] Rows without a usable timestamp skipped", fields)
	}
	if models.Classify(err) == models.KindEmpty {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(series); start += batchSize {
		end := start + batchSize
		if end > len(series) {
			end = len(series)
		}
		if err := s.repo.UpsertReadings(ctx, []models.Reading(series[start:end])); err != nil {
			return nil, fmt.Errorf("failed to store batch: %w", err)
		}
		result.StoredRecords += end - start
	}

	return result, nil
}
