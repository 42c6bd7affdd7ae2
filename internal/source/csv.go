package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// CSVSource reads a delimited-text export whose first line holds the column
// headers. Location is a local path or an http(s) URL.
type CSVSource struct {
	location string
	client   *http.Client
	comma    rune
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewCSVSource creates a CSV source. client is used for URL locations; its
// Timeout bounds each fetch.
func NewCSVSource(location string, client *http.Client, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CSVSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CSVSource{
		location: location,
		client:   client,
		comma:    ',',
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Name identifies the source in logs and metrics
func (s *CSVSource) Name() string {
	return "csv"
}

func (s *CSVSource) isRemote() bool {
	return strings.HasPrefix(s.location, "http://") || strings.HasPrefix(s.location, "https://")
}

// FetchBatch reads and parses the whole export
func (s *CSVSource) FetchBatch(ctx context.Context) ([]models.RawRow, error) {
	timer := s.metrics.NewTimer(s.metrics.FetchDuration.WithLabelValues(s.Name()))
	defer timer.ObserveDuration()

	body, err := s.open(ctx)
	if err != nil {
		s.metrics.RecordFetchError(s.Name(), string(models.KindTransport))
		return nil, &models.TransportError{Source: s.location, Err: err}
	}
	defer body.Close()

	rows, err := ParseCSV(body, s.location, s.comma)
	if err != nil {
		s.metrics.RecordFetchError(s.Name(), string(models.Classify(err)))
		return nil, err
	}

	s.logger.Debug(ctx, "[SOURCE_CSV] Export parsed", logging.Fields{
		"location": s.location,
		"rows":     len(rows),
	})

	return rows, nil
}

func (s *CSVSource) open(ctx context.Context) (io.ReadCloser, error) {
	if !s.isRemote() {
		return os.Open(s.location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// ParseCSV parses a header-keyed export. Blank lines and lines whose fields
// are all empty are skipped; short lines leave the missing columns absent.
// An input with no header yields zero rows, not an error.
func ParseCSV(r io.Reader, sourceName string, comma rune) ([]models.RawRow, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []models.RawRow{}, nil
	}
	if err != nil {
		return nil, csvParseError(sourceName, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	rows := make([]models.RawRow, 0, 64)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvParseError(sourceName, err)
		}
		if blank(record) {
			continue
		}

		row := make(models.RawRow, len(header))
		for i, key := range header {
			if i >= len(record) || key == "" {
				continue
			}
			row[key] = record[i]
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func csvParseError(sourceName string, err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &models.ParseError{Source: sourceName, Line: perr.Line, Err: perr.Err}
	}
	return &models.ParseError{Source: sourceName, Err: err}
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Watch calls onChange whenever the export file is written, created or
// renamed into place. It watches the parent directory so atomic
// replace-by-rename is seen. Watch blocks until ctx is done.
func (s *CSVSource) Watch(ctx context.Context, onChange func()) error {
	if s.isRemote() {
		return fmt.Errorf("cannot watch remote export %s", s.location)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(s.location)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	s.logger.Info(ctx, "[SOURCE_WATCH] Watching export for changes", logging.Fields{
		"path": abs,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				s.logger.Debug(ctx, "[SOURCE_WATCH] Export changed", logging.Fields{
					"op": event.Op.String(),
				})
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn(ctx, "[SOURCE_WATCH_ERROR] Watcher error", logging.Fields{
				"error": err.Error(),
			})
		}
	}
}
