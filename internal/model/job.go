package model

import "time"

// JobStatus is the lifecycle state of a run.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRecord tracks one run from start to completion.
type JobRecord struct {
	JobID     string     `json:"job_id"`
	SubjectID string     `json:"subject_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Status    JobStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
}

// Duration returns the elapsed run time, measured to now for active jobs.
func (j JobRecord) Duration() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// RunRequest asks for a report on a subject.
type RunRequest struct {
	Subject  string `json:"subject"`
	FastMode bool   `json:"fast_mode"`
}

// RunResult is returned to the caller when a run finishes. A system error
// result carries only Error and SubjectID.
type RunResult struct {
	JobID           string   `json:"job_id,omitempty"`
	SubjectID       string   `json:"subject_id"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	ReportPath      *string  `json:"report_path,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// Failed reports whether the run ended in a system error.
func (r RunResult) Failed() bool {
	return r.Error != ""
}
