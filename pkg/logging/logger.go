package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// levelFatal sits above slog.LevelError so handlers still print it.
const levelFatal = slog.Level(12)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return levelFatal
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level %q (allowed: debug, info, warn, error)", s)
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

// Options configures a StructuredLogger.
type Options struct {
	Service string
	Version string
	Level   LogLevel
	// Env "dev" selects colored human output, anything else JSON.
	Env    string
	Output io.Writer
}

// StructuredLogger is the operator-facing log channel. It writes JSON
// records in production and tinted text in development.
type StructuredLogger struct {
	opts    Options
	level   *slog.LevelVar
	handler slog.Handler
}

// New creates a logger from options.
func New(opts Options) *StructuredLogger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	l := &StructuredLogger{opts: opts, level: new(slog.LevelVar)}
	l.level.Set(opts.Level.slogLevel())
	l.handler = l.buildHandler(opts.Output)
	return l
}

func (l *StructuredLogger) buildHandler(w io.Writer) slog.Handler {
	hostname, _ := os.Hostname()

	var h slog.Handler
	if l.opts.Env == "dev" {
		h = tint.NewHandler(w, &tint.Options{
			Level:      l.level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return h.WithAttrs([]slog.Attr{slog.String("service", l.opts.Service)})
	}

	h = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     l.level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= levelFatal {
					return slog.String(slog.LevelKey, FatalLevel.String())
				}
			}
			return a
		},
	})
	return h.WithAttrs([]slog.Attr{
		slog.String("service", l.opts.Service),
		slog.String("version", l.opts.Version),
		slog.String("hostname", hostname),
	})
}

// Debug logs a debug message with structured fields
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelDebug, message, fields, nil)
}

// Info logs an info message with structured fields
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelInfo, message, fields, nil)
}

// Warn logs a warning message with structured fields
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelWarn, message, fields, nil)
}

// Error logs an error message with structured fields and error details
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, slog.LevelError, message, fields, err)
}

// Fatal logs a fatal message with a stack trace and exits the program
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	merged := Fields{"stack_trace": captureStackTrace()}
	for k, v := range fields {
		merged[k] = v
	}
	l.log(ctx, levelFatal, message, merged, err)
	os.Exit(1)
}

// log builds the record itself so the source location points at the
// caller of Info/Error rather than at this file.
func (l *StructuredLogger) log(ctx context.Context, level slog.Level, message string, fields Fields, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	h := l.handler

	if !h.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now().UTC(), level, message, pcs[0])

	if id := CycleID(ctx); id != "" {
		record.AddAttrs(slog.String("cycle_id", id))
	}
	if id := RequestID(ctx); id != "" {
		record.AddAttrs(slog.String("request_id", id))
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make([]any, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, fields[k]))
		}
		record.AddAttrs(slog.Group("fields", attrs...))
	}

	if err != nil {
		record.AddAttrs(slog.String("error", err.Error()))
	}

	if handleErr := h.Handle(ctx, record); handleErr != nil {
		fmt.Fprintf(os.Stderr, "%s [%s] %s: %v (log handler failed: %v)\n",
			record.Time.Format(time.RFC3339), level, message, fields, handleErr)
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// WithFields creates a new logger with additional fields
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{
		logger: l,
		fields: fields,
	}
}

// ContextLogger wraps StructuredLogger with additional context fields
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

// Debug logs a debug message with context fields
func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, slog.LevelDebug, message, c.mergeFields(fields), nil)
}

// Info logs an info message with context fields
func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, slog.LevelInfo, message, c.mergeFields(fields), nil)
}

// Warn logs a warning message with context fields
func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, slog.LevelWarn, message, c.mergeFields(fields), nil)
}

// Error logs an error message with context fields
func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.log(ctx, slog.LevelError, message, c.mergeFields(fields), err)
}

// mergeFields merges context fields with provided fields
func (c *ContextLogger) mergeFields(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
