package monitoring

import (
	"time"

	"github.com/sells-group/coin-research/internal/model"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal       int     `json:"runs_total"`
	RunsCompleted   int     `json:"runs_completed"`
	RunsFailed      int     `json:"runs_failed"`
	RunsActive      int     `json:"runs_active"`
	RunsWithErrors  int     `json:"runs_with_errors"`
	RunFailRate     float64 `json:"run_fail_rate"`
	AvgDurationSecs float64 `json:"avg_duration_secs"`
	ReportsWritten  int     `json:"reports_written"`

	// Error events (within lookback window).
	ProviderErrors   int            `json:"provider_errors"`
	CriticalErrors   int            `json:"critical_errors"`
	ErrorsByCategory map[string]int `json:"errors_by_category"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobSource exposes run history. *jobs.Registry satisfies it.
type JobSource interface {
	Active() []model.JobRecord
	Completed(limit int) []model.JobRecord
}

// ErrorSource exposes recently reported errors. *events.ErrorReporter
// satisfies it.
type ErrorSource interface {
	Recent(n int) []model.ErrorEvent
}

// Collector gathers metrics from the job registry and error reporter.
type Collector struct {
	jobs    JobSource
	errors  ErrorSource
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector. errs may be nil.
func NewCollector(jobs JobSource, errs ErrorSource) *Collector {
	return &Collector{jobs: jobs, errors: errs, nowFunc: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(lookbackHours int) *MetricsSnapshot {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		ErrorsByCategory: map[string]int{},
		LookbackHours:    lookbackHours,
		CollectedAt:      now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	if c.jobs != nil {
		snap.RunsActive = len(c.jobs.Active())

		var totalSecs float64
		var timed int
		for _, job := range c.jobs.Completed(0) {
			if job.StartTime.Before(cutoff) {
				continue
			}
			switch job.Status {
			case model.JobCompleted:
				snap.RunsCompleted++
			case model.JobFailed:
				snap.RunsFailed++
			}
			if res := job.Result; res != nil {
				if len(res.Errors) > 0 || res.Failed() {
					snap.RunsWithErrors++
				}
				if res.ReportPath != nil {
					snap.ReportsWritten++
				}
				totalSecs += res.DurationSeconds
				timed++
			}
		}
		snap.RunsTotal = snap.RunsCompleted + snap.RunsFailed + snap.RunsActive
		if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
			snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
		}
		if timed > 0 {
			snap.AvgDurationSecs = totalSecs / float64(timed)
		}
	}

	if c.errors != nil {
		for _, ev := range c.errors.Recent(0) {
			if ev.Timestamp.Before(cutoff) {
				continue
			}
			snap.ErrorsByCategory[string(ev.Category)]++
			if ev.Category == model.CategoryProvider {
				snap.ProviderErrors++
			}
			if ev.Severity == model.SeverityCritical {
				snap.CriticalErrors++
			}
		}
	}

	return snap
}
