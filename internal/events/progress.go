package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/model"
)

// Summary describes a finished job's progress.
type Summary struct {
	JobID             string        `json:"job_id"`
	Duration          time.Duration `json:"duration"`
	StepsCompleted    int           `json:"steps_completed"`
	TotalSteps        int           `json:"total_steps"`
	CompletionPercent float64       `json:"completion_percentage"`
}

type jobProgress struct {
	start      time.Time
	totalSteps int
	completed  map[string]bool
	last       model.ProgressEvent
}

// ProgressTracker publishes progress events and keeps per-job step
// accounting. A step counts as completed once it reports 100%.
type ProgressTracker struct {
	hub     *Hub[model.ProgressEvent]
	nowFunc func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobProgress
}

// NewProgressTracker creates a tracker publishing to hub.
func NewProgressTracker(hub *Hub[model.ProgressEvent]) *ProgressTracker {
	return &ProgressTracker{hub: hub, nowFunc: time.Now, jobs: make(map[string]*jobProgress)}
}

// Hub returns the hub progress events are published on.
func (t *ProgressTracker) Hub() *Hub[model.ProgressEvent] { return t.hub }

// StartTracking begins accounting for jobID.
func (t *ProgressTracker) StartTracking(jobID string, totalSteps int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = &jobProgress{
		start:      t.nowFunc(),
		totalSteps: totalSteps,
		completed:  make(map[string]bool),
	}
}

// Update publishes a progress event. Percentages are clamped to 0..100.
// Updates for untracked jobs are still published.
func (t *ProgressTracker) Update(step string, percentage int, message, jobID, subjectID string) model.ProgressEvent {
	percentage = max(0, min(100, percentage))
	ev := model.ProgressEvent{
		Step:       step,
		Percentage: percentage,
		Message:    message,
		JobID:      jobID,
		SubjectID:  subjectID,
		Timestamp:  t.nowFunc().UTC(),
	}

	t.mu.Lock()
	if jp, ok := t.jobs[jobID]; ok {
		jp.last = ev
		if percentage == 100 {
			jp.completed[step] = true
		}
	}
	t.mu.Unlock()

	zap.L().Debug("progress",
		zap.String("job_id", jobID),
		zap.String("step", step),
		zap.Int("percentage", percentage),
		zap.String("message", message),
	)
	if t.hub != nil {
		t.hub.Publish(ev)
	}
	return ev
}

// Last returns the most recent event for jobID.
func (t *ProgressTracker) Last(jobID string) (model.ProgressEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	jp, ok := t.jobs[jobID]
	if !ok || jp.last.Step == "" {
		return model.ProgressEvent{}, false
	}
	return jp.last, true
}

// Complete stops tracking jobID and summarizes it.
func (t *ProgressTracker) Complete(jobID string) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	jp, ok := t.jobs[jobID]
	if !ok {
		return Summary{JobID: jobID}
	}
	delete(t.jobs, jobID)

	s := Summary{
		JobID:          jobID,
		Duration:       t.nowFunc().Sub(jp.start),
		StepsCompleted: len(jp.completed),
		TotalSteps:     jp.totalSteps,
	}
	if jp.totalSteps > 0 {
		s.CompletionPercent = float64(s.StepsCompleted) / float64(jp.totalSteps) * 100
	}
	return s
}
