package normalize

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"sensor-dashboard/internal/models"
)

// Rounding precision applied at decode time, in decimal places.
const (
	TemperaturePlaces = 1
	HumidityPlaces    = 2
	PressurePlaces    = 1
	BatteryPlaces     = 3
)

// Conversion turns a raw number into display units: value / Divisor,
// rounded half away from zero to Places decimals.
type Conversion struct {
	Divisor float64
	Places  int32
}

// Apply converts v. Non-finite input, or a divisor that is not a finite
// positive number, yields an absent measure.
func (c Conversion) Apply(v float64) models.Measure {
	if !models.Some(v).Valid() || !ValidDivisor(c.Divisor) {
		return models.None()
	}
	d := decimal.NewFromFloat(v)
	if c.Divisor != 1 {
		d = d.Div(decimal.NewFromFloat(c.Divisor))
	}
	f, _ := d.Round(c.Places).Float64()
	return models.Some(f)
}

// NumericColumn names the raw keys a field may appear under and how to
// convert it. Keys are tried in order.
type NumericColumn struct {
	Keys       []string
	Conversion Conversion
}

// TimestampColumn names the raw keys of the timestamp and how to read it.
// Strings are tried as RFC 3339 instants first, then against Layouts in
// Location. Numbers are epoch seconds, or milliseconds when large.
type TimestampColumn struct {
	Keys     []string
	Layouts  []string
	Location *time.Location
}

// ColumnMap is the unit/format policy table for one source revision.
type ColumnMap struct {
	Name        string
	Timestamp   TimestampColumn
	Temperature NumericColumn
	Humidity    NumericColumn
	Pressure    NumericColumn
	Battery     NumericColumn
}

// Units holds the raw-unit divisors whose correct value depends on the
// sensor firmware. Pressure arrives in Pa, battery in mV.
type Units struct {
	PressureDivisor float64
	BatteryDivisor  float64
}

// ValidDivisor reports whether d is a finite positive number.
func ValidDivisor(d float64) bool {
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

// DefaultUnits divides both pressure and battery by 1000.
var DefaultUnits = Units{PressureDivisor: 1000, BatteryDivisor: 1000}

// RawUnits keeps pressure in Pa and battery in mV. The importer decodes with
// it so stored rows match what the logger wrote.
var RawUnits = Units{PressureDivisor: 1, BatteryDivisor: 1}

// Layouts accepted for pre-rendered, zone-less timestamps.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02_15:04:05",
	"1/2/2006, 3:04:05 PM",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// Export column names, as written by the logger's delimited-text export.
const (
	ExportTimestamp   = "Timestamp"
	ExportTemperature = "Temperature (°C)"
	ExportHumidity    = "Relative Humidity (%)"
	ExportPressure    = "Barometric Pressure (Pa)"
	ExportBattery     = "Battery Voltage (mV)"
)

// Table column names, as stored by the remote tabular service.
const (
	TableTimestamp    = "timestamp"
	TableTimestampEST = "timestamp_est"
	TableTemperature  = "temperature_c"
	TableHumidity     = "humidity_percent"
	TablePressure     = "pressure_pa"
	TableBattery      = "battery_voltage_mv"
)

// ExportColumns returns the policy for human-readable header exports.
func ExportColumns(u Units, loc *time.Location) ColumnMap {
	return ColumnMap{
		Name: "export",
		Timestamp: TimestampColumn{
			Keys:     []string{ExportTimestamp, TableTimestamp},
			Layouts:  localLayouts,
			Location: orUTC(loc),
		},
		Temperature: NumericColumn{Keys: []string{ExportTemperature}, Conversion: Conversion{Divisor: 1, Places: TemperaturePlaces}},
		Humidity:    NumericColumn{Keys: []string{ExportHumidity}, Conversion: Conversion{Divisor: 1, Places: HumidityPlaces}},
		Pressure:    NumericColumn{Keys: []string{ExportPressure}, Conversion: Conversion{Divisor: u.PressureDivisor, Places: PressurePlaces}},
		Battery:     NumericColumn{Keys: []string{ExportBattery}, Conversion: Conversion{Divisor: u.BatteryDivisor, Places: BatteryPlaces}},
	}
}

// TableColumns returns the policy for machine-keyed rows from the remote
// service or its computed view.
func TableColumns(u Units, loc *time.Location) ColumnMap {
	return ColumnMap{
		Name: "table",
		Timestamp: TimestampColumn{
			Keys:     []string{TableTimestamp, TableTimestampEST},
			Layouts:  localLayouts,
			Location: orUTC(loc),
		},
		Temperature: NumericColumn{Keys: []string{TableTemperature}, Conversion: Conversion{Divisor: 1, Places: TemperaturePlaces}},
		Humidity:    NumericColumn{Keys: []string{TableHumidity}, Conversion: Conversion{Divisor: 1, Places: HumidityPlaces}},
		Pressure:    NumericColumn{Keys: []string{TablePressure}, Conversion: Conversion{Divisor: u.PressureDivisor, Places: PressurePlaces}},
		Battery:     NumericColumn{Keys: []string{TableBattery}, Conversion: Conversion{Divisor: u.BatteryDivisor, Places: BatteryPlaces}},
	}
}

// DetectColumns picks the export or table policy from the keys of a sample
// row. Rows carrying any human-readable header select the export policy.
func DetectColumns(sample models.RawRow, u Units, loc *time.Location) ColumnMap {
	for _, k := range []string{ExportTimestamp, ExportTemperature, ExportHumidity, ExportPressure, ExportBattery} {
		if _, ok := sample[k]; ok {
			return ExportColumns(u, loc)
		}
	}
	return TableColumns(u, loc)
}

// ColumnResolver chooses the column policy for a batch from its first row.
type ColumnResolver func(sample models.RawRow) ColumnMap

// Fixed always resolves to cm.
func Fixed(cm ColumnMap) ColumnResolver {
	return func(models.RawRow) ColumnMap { return cm }
}

// Auto resolves with DetectColumns.
func Auto(u Units, loc *time.Location) ColumnResolver {
	return func(sample models.RawRow) ColumnMap { return DetectColumns(sample, u, loc) }
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
