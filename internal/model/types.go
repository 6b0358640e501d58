package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle state of an analysis task.
// Transitions are strictly forward: queued -> processing -> completed|failed.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a task in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisKind selects the change-detection formula.
type AnalysisKind string

const (
	KindNDVI    AnalysisKind = "ndvi"
	KindNDWI    AnalysisKind = "ndwi"
	KindImagery AnalysisKind = "imagery"
)

// BoundingBox is a WGS84 box, ordered west, south, east, north on the wire.
type BoundingBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.West, b.South, b.East, b.North})
}

func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var coords []float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	if len(coords) != 4 {
		return fmt.Errorf("bbox must have exactly 4 elements, got %d", len(coords))
	}
	b.West, b.South, b.East, b.North = coords[0], coords[1], coords[2], coords[3]
	return nil
}

// AnalysisRequest is the submitted job description. Dates are YYYY-MM-DD;
// equal dates select single-image mode.
type AnalysisRequest struct {
	BBox     BoundingBox  `json:"bbox"`
	FromDate string       `json:"from_date"`
	ToDate   string       `json:"to_date"`
	Kind     AnalysisKind `json:"analysis_kind"`
}

const dateLayout = "2006-01-02"

// Validate checks request shape synchronously, before any task exists.
// All violations come back as kind=validation.
func (r AnalysisRequest) Validate() error {
	b := r.BBox
	if b.West < -180 || b.East > 180 || b.South < -90 || b.North > 90 {
		return NewError(KindValidation, "bbox out of range: [%v, %v, %v, %v]", b.West, b.South, b.East, b.North)
	}
	if b.West >= b.East || b.South >= b.North {
		return NewError(KindValidation, "bbox must satisfy west<east and south<north")
	}
	from, err := time.Parse(dateLayout, r.FromDate)
	if err != nil {
		return NewError(KindValidation, "from_date %q is not a valid YYYY-MM-DD date", r.FromDate)
	}
	to, err := time.Parse(dateLayout, r.ToDate)
	if err != nil {
		return NewError(KindValidation, "to_date %q is not a valid YYYY-MM-DD date", r.ToDate)
	}
	if to.Before(from) {
		return NewError(KindValidation, "to_date must not be before from_date")
	}
	switch r.Kind {
	case KindNDVI, KindNDWI, KindImagery:
	default:
		return NewError(KindValidation, "unknown analysis_kind %q", r.Kind)
	}
	return nil
}

// SingleImage reports whether the request covers only one acquisition date.
func (r AnalysisRequest) SingleImage() bool {
	return r.FromDate == r.ToDate
}

// Result is the completed analysis payload. Index means are pointers so the
// imagery kind (summary only) can omit them entirely.
type Result struct {
	FromDate         string   `json:"from_date"`
	ToDate           string   `json:"to_date"`
	Kind             string   `json:"analysis_kind"`
	FromValue        *float64 `json:"from_value,omitempty"`
	ToValue          *float64 `json:"to_value,omitempty"`
	ChangePercentage *float64 `json:"change_percentage,omitempty"`
	ImageFrom        string   `json:"image_from,omitempty"`
	ImageTo          string   `json:"image_to,omitempty"`
	Summary          string   `json:"summary,omitempty"`
}

// Task is the tracked lifecycle record for one submitted analysis.
// Result is set only when Status=completed, Err only when Status=failed;
// both are immutable once set.
type Task struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	Request    AnalysisRequest `json:"request"`
	Result     *Result         `json:"result,omitempty"`
	Err        *Error          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
