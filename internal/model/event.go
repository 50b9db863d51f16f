package model

import "time"

// ProgressEvent reports how far a run has advanced through a step.
type ProgressEvent struct {
	Step       string    `json:"step"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message"`
	JobID      string    `json:"job_id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Category classifies a reported error.
type Category string

const (
	CategoryProvider   Category = "provider_error"
	CategoryResearch   Category = "research_error"
	CategoryProcessing Category = "processing_error"
	CategorySystem     Category = "system_error"
)

// Severity ranks a reported error.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ErrorEvent is the structured record published for every reported error.
type ErrorEvent struct {
	ErrorID      string         `json:"error_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Category     Category       `json:"category"`
	Severity     Severity       `json:"severity"`
	Component    string         `json:"component"`
	Message      string         `json:"message"`
	Context      map[string]any `json:"context,omitempty"`
	RetryAllowed bool           `json:"retry_allowed"`
	UserMessage  string         `json:"user_message"`
}

// Clone returns a copy that shares no mutable state with e.
func (e ErrorEvent) Clone() ErrorEvent {
	e.Context = CloneMap(e.Context)
	return e
}
