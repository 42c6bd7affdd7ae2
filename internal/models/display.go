package models

import "time"

// Status is the lifecycle stage of the published display state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// DisplayError is the user-facing half of a failed cycle.
type DisplayError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// DisplayState is what observers of the dashboard see. It is replaced as a
// whole on every cycle and never mutated after publication.
//
// When Status is StatusError and Stale is true, Latest, Temperature and
// Series still describe the last successful cycle.
type DisplayState struct {
	Status      Status         `json:"status"`
	Latest      *Reading       `json:"latest,omitempty"`
	Temperature ExtremaSummary `json:"temperature"`
	Series      Series         `json:"series"`
	Error       *DisplayError  `json:"error,omitempty"`
	Stale       bool           `json:"stale"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CycleID     string         `json:"cycle_id,omitempty"`
}

// LoadingState is the state published before the first cycle completes.
func LoadingState() *DisplayState {
	return &DisplayState{Status: StatusLoading, Series: Series{}}
}

// SuccessState builds the state for a successful cycle.
func SuccessState(snap Snapshot, cycleID string, at time.Time) *DisplayState {
	latest := snap.Latest
	return &DisplayState{
		Status:      StatusOK,
		Latest:      &latest,
		Temperature: snap.Temperature,
		Series:      snap.Series,
		UpdatedAt:   at,
		CycleID:     cycleID,
	}
}

// ErrorState builds the state for a failed cycle. If prev holds data and
// retain is set, that data stays visible and is marked stale.
func ErrorState(err error, prev *DisplayState, retain bool, cycleID string, at time.Time) *DisplayState {
	kind := Classify(err)
	next := &DisplayState{
		Status:    StatusError,
		Series:    Series{},
		Error:     &DisplayError{Kind: kind, Message: UserMessage(kind)},
		UpdatedAt: at,
		CycleID:   cycleID,
	}
	if retain && prev != nil && prev.Latest != nil {
		next.Latest = prev.Latest
		next.Temperature = prev.Temperature
		next.Series = prev.Series
		next.Stale = true
	}
	return next
}
