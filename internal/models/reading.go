package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// RawRow is one record as delivered by a source adapter, keyed by whatever
// column names that source revision uses. Values are strings, numbers or nil.
type RawRow map[string]any

// Lookup returns the first non-nil value stored under any of keys.
func (r RawRow) Lookup(keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// Measure is an optional sensor value. The zero value is absent.
// NaN and infinities can never be stored in a Measure.
type Measure struct {
	value float64
	ok    bool
}

// Some returns a present Measure, or an absent one if v is not finite.
func Some(v float64) Measure {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Measure{}
	}
	return Measure{value: v, ok: true}
}

// None returns an absent Measure.
func None() Measure {
	return Measure{}
}

// Get returns the value and whether it is present.
func (m Measure) Get() (float64, bool) {
	return m.value, m.ok
}

// Valid reports whether the measure carries a value.
func (m Measure) Valid() bool {
	return m.ok
}

// String renders the value for display tiles; absent values render as "N/A".
func (m Measure) String() string {
	if !m.ok {
		return "N/A"
	}
	return strconv.FormatFloat(m.value, 'f', -1, 64)
}

// MarshalJSON encodes absent values as null.
func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.ok {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

// UnmarshalJSON accepts a number or null.
func (m *Measure) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Measure{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Some(v)
	return nil
}

// Reading is one normalized sensor observation. Every field is always
// present; individual measures may be absent.
type Reading struct {
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC Measure   `json:"temperature_c"`
	HumidityPct  Measure   `json:"humidity_pct"`
	PressureHpa  Measure   `json:"pressure_hpa"`
	BatteryV     Measure   `json:"battery_v"`
}

// HasMeasurements reports whether at least one numeric field is present.
func (r Reading) HasMeasurements() bool {
	return r.TemperatureC.Valid() || r.HumidityPct.Valid() || r.PressureHpa.Valid() || r.BatteryV.Valid()
}

// Series is a chronologically ascending sequence of readings from one fetch.
type Series []Reading

// Latest returns the last reading of the series.
func (s Series) Latest() (Reading, bool) {
	if len(s) == 0 {
		return Reading{}, false
	}
	return s[len(s)-1], true
}

// Selector picks one numeric field out of a reading.
type Selector func(Reading) Measure

// Field selectors used by the statistics aggregator and the chart endpoints.
var (
	Temperature Selector = func(r Reading) Measure { return r.TemperatureC }
	Humidity    Selector = func(r Reading) Measure { return r.HumidityPct }
	Pressure    Selector = func(r Reading) Measure { return r.PressureHpa }
	Battery     Selector = func(r Reading) Measure { return r.BatteryV }
)

// SelectorByName resolves the selectors exposed over the API.
func SelectorByName(name string) (Selector, bool) {
	switch name {
	case "temperature", "temperature_c":
		return Temperature, true
	case "humidity", "humidity_pct":
		return Humidity, true
	case "pressure", "pressure_hpa":
		return Pressure, true
	case "battery", "battery_v":
		return Battery, true
	default:
		return nil, false
	}
}

// ExtremaSummary holds the maximum and minimum of one field across a series.
type ExtremaSummary struct {
	Max Measure `json:"max"`
	Min Measure `json:"min"`
}

// Snapshot is the product of one successful refresh cycle.
type Snapshot struct {
	Series      Series         `json:"series"`
	Latest      Reading        `json:"latest"`
	Temperature ExtremaSummary `json:"temperature"`
	Received    int            `json:"received"`
	Dropped     int            `json:"dropped"`
	Filtered    int            `json:"filtered"`
}
