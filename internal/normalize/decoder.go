// Package normalize turns heterogeneous raw rows into a uniform series of
// readings.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sensor-dashboard/internal/models"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is in the year 5138.
const epochMillisThreshold = 1e11

// Decode converts one raw row into a Reading. Numeric fields that are
// missing or unparseable become absent. A missing or unparseable timestamp
// is a structural failure reported as *models.DecodeError.
func Decode(row models.RawRow, cm ColumnMap) (models.Reading, error) {
	raw, key, ok := row.Lookup(cm.Timestamp.Keys...)
	if !ok {
		return models.Reading{}, &models.DecodeError{
			Field:   "timestamp",
			Value:   "",
			Message: fmt.Sprintf("missing, expected one of %s", strings.Join(cm.Timestamp.Keys, ", ")),
		}
	}

	ts, err := parseTimestamp(raw, cm.Timestamp)
	if err != nil {
		return models.Reading{}, &models.DecodeError{
			Field:   key,
			Value:   fmt.Sprint(raw),
			Message: err.Error(),
		}
	}

	return models.Reading{
		Timestamp:    ts,
		TemperatureC: decodeNumeric(row, cm.Temperature),
		HumidityPct:  decodeNumeric(row, cm.Humidity),
		PressureHpa:  decodeNumeric(row, cm.Pressure),
		BatteryV:     decodeNumeric(row, cm.Battery),
	}, nil
}

func decodeNumeric(row models.RawRow, col NumericColumn) models.Measure {
	raw, _, ok := row.Lookup(col.Keys...)
	if !ok {
		return models.None()
	}
	v, ok := toFloat(raw)
	if !ok {
		return models.None()
	}
	return col.Conversion.Apply(v)
}

// toFloat accepts the scalar types produced by the CSV, SQL and MQTT
// adapters. It never returns a non-finite value with ok set.
func toFloat(raw any) (float64, bool) {
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case float32:
		v = float64(t)
	case int:
		v = float64(t)
	case int32:
		v = float64(t)
	case int64:
		v = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case []byte:
		return toFloat(string(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseTimestamp(raw any, col TimestampColumn) (time.Time, error) {
	loc := orUTC(col.Location)

	switch t := raw.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		return t, nil
	case []byte:
		return parseTimestamp(string(t), col)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty")
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		for _, layout := range col.Layouts {
			if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
				return ts, nil
			}
		}
		if isDigits(s) {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return fromEpoch(float64(n)), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp format")
	default:
		v, ok := toFloat(raw)
		if !ok || v <= 0 {
			return time.Time{}, fmt.Errorf("unsupported timestamp value %T", raw)
		}
		return fromEpoch(v), nil
	}
}

func fromEpoch(v float64) time.Time {
	if v >= epochMillisThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
