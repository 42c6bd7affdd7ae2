package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures of a refresh cycle for user messaging.
type ErrorKind string

const (
	KindTransport     ErrorKind = "transport"
	KindParse         ErrorKind = "parse"
	KindEmpty         ErrorKind = "empty"
	KindConfiguration ErrorKind = "configuration"
	KindUnknown       ErrorKind = "unknown"
)

// DecodeError reports why a single raw row could not become a Reading.
// It never escapes the series builder; the row is dropped.
type DecodeError struct {
	Field   string
	Value   string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Message)
}

// IsTransient returns false as a malformed row stays malformed
func (e *DecodeError) IsTransient() bool {
	return false
}

// TransportError means the source could not be reached or answered with a
// non-success status.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("source %s unreachable: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient returns true; the next scheduled cycle may succeed
func (e *TransportError) IsTransient() bool {
	return true
}

// ParseError means the fetched payload was not tabular data at all.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("source %s: line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) IsTransient() bool {
	return false
}

// EmptyBatchError means no usable readings survived decoding and filtering.
type EmptyBatchError struct {
	Received int
	Dropped  int
	Filtered int
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("no usable readings (received=%d dropped=%d filtered=%d)", e.Received, e.Dropped, e.Filtered)
}

func (e *EmptyBatchError) IsTransient() bool {
	return true
}

// ConfigurationError lists required settings that are missing or invalid.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, "; "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) IsTransient() bool {
	return false
}

// Classify maps an error returned by a refresh cycle onto its kind.
func Classify(err error) ErrorKind {
	var (
		transportErr *TransportError
		parseErr     *ParseError
		emptyErr     *EmptyBatchError
		configErr    *ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &configErr):
		return KindConfiguration
	case errors.As(err, &emptyErr):
		return KindEmpty
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindUnknown
	}
}

// UserMessage returns the display text for an error kind. Raw error details
// are never shown to dashboard users; they go to the operator log.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindTransport:
		return "Failed to load sensor data. The data source could not be reached."
	case KindParse:
		return "Sensor data could not be read. The export is not formatted correctly."
	case KindEmpty:
		return "No sensor readings available. The data source is empty or not formatted correctly."
	case KindConfiguration:
		return "The dashboard is not configured. Set the data source endpoint and key and restart."
	default:
		return "Failed to refresh sensor data."
	}
}
