// Package display turns a published DisplayState into the labeled
// single-value tiles of the dashboard and renders them for terminals.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"sensor-dashboard/internal/models"
)

// Tile is one labeled value. Absent measures show as "N/A".
type Tile struct {
	Label string
	Value string
}

func withUnit(m models.Measure, unit string) string {
	if !m.Valid() {
		return m.String()
	}
	return m.String() + " " + unit
}

// Tiles lists the current-reading tiles for state: temperature, humidity,
// pressure, battery, high, low and the reading time in loc. It returns nil
// while no reading has been published.
func Tiles(state *models.DisplayState, loc *time.Location) []Tile {
	if state == nil || state.Latest == nil {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	latest := state.Latest
	return []Tile{
		{Label: "Temperature", Value: withUnit(latest.TemperatureC, "°C")},
		{Label: "Humidity", Value: withUnit(latest.HumidityPct, "%")},
		{Label: "Pressure", Value: withUnit(latest.PressureHpa, "hPa")},
		{Label: "Battery", Value: withUnit(latest.BatteryV, "V")},
		{Label: "High", Value: withUnit(state.Temperature.Max, "°C")},
		{Label: "Low", Value: withUnit(state.Temperature.Min, "°C")},
		{Label: "Time", Value: latest.Timestamp.In(loc).Format("Jan 2 15:04:05 MST")},
	}
}

var (
	colorBorder = lipgloss.Color("62")
	colorLabel  = lipgloss.Color("243")
	colorValue  = lipgloss.Color("252")
	colorOk     = lipgloss.Color("78")
	colorStale  = lipgloss.Color("220")
	colorError  = lipgloss.Color("196")

	tileStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			Width(22)
	labelStyle = lipgloss.NewStyle().Foreground(colorLabel)
	valueStyle = lipgloss.NewStyle().Foreground(colorValue).Bold(true)
)

// Render draws the tiles of state, wrapping rows to width columns, under a
// status line. Error states show the user message; retained data is marked
// stale.
func Render(state *models.DisplayState, loc *time.Location, width int) string {
	if state == nil {
		state = models.LoadingState()
	}

	sections := []string{statusLine(state)}

	tiles := Tiles(state, loc)
	if len(tiles) > 0 {
		perRow := width / lipgloss.Width(tileStyle.Render(""))
		if perRow < 1 {
			perRow = 1
		}
		var row []string
		for i, t := range tiles {
			row = append(row, tileStyle.Render(
				lipgloss.JoinVertical(lipgloss.Left, labelStyle.Render(t.Label), valueStyle.Render(t.Value)),
			))
			if len(row) == perRow || i == len(tiles)-1 {
				sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, row...))
				row = nil
			}
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func statusLine(state *models.DisplayState) string {
	switch state.Status {
	case models.StatusOK:
		return lipgloss.NewStyle().Foreground(colorOk).Render(
			fmt.Sprintf("● %d readings", len(state.Series)))
	case models.StatusError:
		var b strings.Builder
		msg := "Failed to refresh sensor data."
		if state.Error != nil {
			msg = state.Error.Message
		}
		b.WriteString(lipgloss.NewStyle().Foreground(colorError).Render("● " + msg))
		if state.Stale {
			b.WriteString(lipgloss.NewStyle().Foreground(colorStale).Render("  (showing last good data)"))
		}
		return b.String()
	default:
		return lipgloss.NewStyle().Foreground(colorLabel).Render("● loading")
	}
}
