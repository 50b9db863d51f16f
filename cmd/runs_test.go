package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coin-research/internal/config"
	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/store"
)

func finished(id, subject string, status model.JobStatus, start time.Time, dur time.Duration, errs ...string) model.JobRecord {
	end := start.Add(dur)
	path := "docs/" + subject + "/report.md"
	return model.JobRecord{
		JobID:     id,
		SubjectID: subject,
		Status:    status,
		StartTime: start,
		EndTime:   &end,
		Result: &model.RunResult{
			JobID:           id,
			SubjectID:       subject,
			DurationSeconds: dur.Seconds(),
			ReportPath:      &path,
			Errors:          errs,
		},
	}
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	jobs := []model.JobRecord{
		finished("abc12345-6789-0000-0000-000000000000", "Ondo Finance", model.JobCompleted, now, 2*time.Minute, "researcher: provider defillama: protocol not found"),
		finished("def12345-6789-0000-0000-000000000000", "A Very Long Project Name That Overflows", model.JobFailed, now.Add(-time.Hour), 30*time.Second),
	}

	var buf bytes.Buffer
	formatRunsList(&buf, jobs)

	output := buf.String()
	assert.Contains(t, output, "SUBJECT")
	assert.Contains(t, output, "Ondo Finance")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "A Very Long Project Name Th...")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "2m0s")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	jobs := []model.JobRecord{
		finished("1", "BTC", model.JobCompleted, now, 2*time.Minute),
		finished("2", "ETH", model.JobCompleted, now.Add(5*time.Minute), 3*time.Minute, "writer: Governance: overloaded"),
		finished("3", "SOL", model.JobFailed, now.Add(10*time.Minute), 150*time.Second),
		{JobID: "4", SubjectID: "ADA", Status: model.JobRunning, StartTime: now.Add(20 * time.Minute)},
		finished("5", "OLD", model.JobCompleted, now.Add(-72*time.Hour), time.Hour),
	}

	stats := computeRunStats(jobs, now.Add(-24*time.Hour))
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.WithErrors)
	assert.Equal(t, 3, stats.WithReports)
	// (120s + 180s + 150s) / 3
	assert.InDelta(t, 150.0, stats.AvgDurSecs, 0.1)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Completed:")
	assert.Contains(t, output, "Running:")
	assert.Contains(t, output, "With stage errors:")
	assert.Contains(t, output, "150.0s")

	assert.Equal(t, 5, computeRunStats(jobs, time.Time{}).Total)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestOpenStore_RequiresDriver(t *testing.T) {
	cfg = &config.Config{}
	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestRunsListCmd_SQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "runs.db")
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: dsn}}

	st, err := store.Open(ctx, cfg.Store)
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.SaveJob(ctx, finished("job-btc-0001", "BTC", model.JobCompleted, now, time.Minute)))
	require.NoError(t, st.SaveJob(ctx, finished("job-eth-0001", "ETH", model.JobFailed, now.Add(time.Second), time.Minute)))
	require.NoError(t, st.Close())

	var out bytes.Buffer
	runsListCmd.SetOut(&out)
	runsListCmd.SetContext(ctx)
	t.Cleanup(func() {
		runsListCmd.SetOut(nil)
		_ = runsListCmd.Flags().Set("status", "")
	})
	require.NoError(t, runsListCmd.Flags().Set("status", "failed"))

	require.NoError(t, runsListCmd.RunE(runsListCmd, nil))
	assert.Contains(t, out.String(), "ETH")
	assert.NotContains(t, out.String(), "BTC")

	out.Reset()
	runsShowCmd.SetOut(&out)
	runsShowCmd.SetContext(ctx)
	t.Cleanup(func() { runsShowCmd.SetOut(nil) })
	require.NoError(t, runsShowCmd.RunE(runsShowCmd, []string{"job-btc-0001"}))
	assert.Contains(t, out.String(), `"job_id": "job-btc-0001"`)
	assert.Contains(t, out.String(), `"status": "completed"`)

	err = runsShowCmd.RunE(runsShowCmd, []string{"missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
