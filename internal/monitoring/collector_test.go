package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/model"
)

type fakeJobs struct {
	active   []model.JobRecord
	finished []model.JobRecord
}

func (f *fakeJobs) Active() []model.JobRecord { return f.active }
func (f *fakeJobs) Completed(_ int) []model.JobRecord { return f.finished }

func finishedJob(status model.JobStatus, started time.Time, secs float64, report bool, errs ...string) model.JobRecord {
	res := &model.RunResult{DurationSeconds: secs, Errors: errs}
	if report {
		path := "/docs/x/report.md"
		res.ReportPath = &path
	}
	return model.JobRecord{JobID: "j", Status: status, StartTime: started, Result: res}
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeJobs{
		active: []model.JobRecord{{JobID: "running", Status: model.JobRunning, StartTime: now}},
		finished: []model.JobRecord{
			finishedJob(model.JobCompleted, now.Add(-time.Hour), 30, true),
			finishedJob(model.JobCompleted, now.Add(-2*time.Hour), 50, true, "writer: Governance: overloaded"),
			finishedJob(model.JobFailed, now.Add(-3*time.Hour), 10, false, "publisher: read-only"),
			finishedJob(model.JobFailed, now.Add(-48*time.Hour), 99, false),
		},
	}

	reporter := events.NewErrorReporter(nil, 0)
	reporter.Report(errors.New("timeout"), model.CategoryProvider, "provider.coingecko", nil)
	reporter.Report(errors.New("timeout"), model.CategoryProvider, "provider.defillama", nil)
	reporter.Report(errors.New("no stages"), model.CategorySystem, "runner", nil)

	c := NewCollector(src, reporter)
	c.nowFunc = func() time.Time { return now }
	snap := c.Collect(24)

	assert.Equal(t, 2, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsActive)
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsWithErrors)
	assert.Equal(t, 2, snap.ReportsWritten)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 1e-9)
	assert.InDelta(t, 30.0, snap.AvgDurationSecs, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)

	// Reporter timestamps come from the wall clock.
	snap = NewCollector(src, reporter).Collect(24 * 365 * 100)
	assert.Equal(t, 2, snap.ProviderErrors)
	assert.Equal(t, 1, snap.CriticalErrors)
	assert.Equal(t, map[string]int{"provider_error": 2, "system_error": 1}, snap.ErrorsByCategory)
}

func TestCollector_Empty(t *testing.T) {
	snap := NewCollector(nil, nil).Collect(24)
	require.NotNil(t, snap)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Empty(t, snap.ErrorsByCategory)
}
