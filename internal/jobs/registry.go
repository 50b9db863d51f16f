// Package jobs tracks active and recently completed pipeline runs.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/store"
)

// DefaultHistoryLimit bounds the number of finished jobs kept in memory.
const DefaultHistoryLimit = 50

// Registry is the in-memory job table. Finished jobs beyond the history
// limit are evicted oldest first. When a store is attached every change is
// persisted best effort.
type Registry struct {
	limit   int
	st      store.JobStore
	nowFunc func() time.Time

	mu       sync.RWMutex
	active   map[string]*model.JobRecord
	finished []*model.JobRecord // oldest first
}

// NewRegistry creates a registry keeping at most historyLimit finished
// jobs. st may be nil.
func NewRegistry(historyLimit int, st store.JobStore) *Registry {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Registry{
		limit:   historyLimit,
		st:      st,
		nowFunc: time.Now,
		active:  make(map[string]*model.JobRecord),
	}
}

// Start records a new running job.
func (r *Registry) Start(ctx context.Context, jobID, subjectID string) model.JobRecord {
	job := &model.JobRecord{
		JobID:     jobID,
		SubjectID: subjectID,
		StartTime: r.nowFunc().UTC(),
		Status:    model.JobRunning,
	}
	r.mu.Lock()
	r.active[jobID] = job
	snapshot := *job
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return snapshot
}

// Complete marks jobID completed with result.
func (r *Registry) Complete(ctx context.Context, jobID string, result model.RunResult) error {
	return r.finish(ctx, jobID, model.JobCompleted, result)
}

// Fail marks jobID failed with result.
func (r *Registry) Fail(ctx context.Context, jobID string, result model.RunResult) error {
	return r.finish(ctx, jobID, model.JobFailed, result)
}

func (r *Registry) finish(ctx context.Context, jobID string, status model.JobStatus, result model.RunResult) error {
	r.mu.Lock()
	job, ok := r.active[jobID]
	if !ok {
		r.mu.Unlock()
		return eris.Errorf("jobs: no active job %s", jobID)
	}
	delete(r.active, jobID)

	end := r.nowFunc().UTC()
	res := result
	res.Errors = append([]string(nil), result.Errors...)
	job.EndTime = &end
	job.Status = status
	job.Result = &res

	r.finished = append(r.finished, job)
	if over := len(r.finished) - r.limit; over > 0 {
		r.finished = append([]*model.JobRecord(nil), r.finished[over:]...)
	}
	snapshot := copyJob(job)
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return nil
}

// Get returns the job with jobID, active or finished.
func (r *Registry) Get(jobID string) (model.JobRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if job, ok := r.active[jobID]; ok {
		return copyJob(job), true
	}
	for i := len(r.finished) - 1; i >= 0; i-- {
		if r.finished[i].JobID == jobID {
			return copyJob(r.finished[i]), true
		}
	}
	return model.JobRecord{}, false
}

// SubjectFor returns the subject a job was started for.
func (r *Registry) SubjectFor(jobID string) (string, bool) {
	job, ok := r.Get(jobID)
	if !ok || job.SubjectID == "" {
		return "", false
	}
	return job.SubjectID, true
}

// Active returns running jobs, oldest first.
func (r *Registry) Active() []model.JobRecord {
	r.mu.RLock()
	out := make([]model.JobRecord, 0, len(r.active))
	for _, job := range r.active {
		out = append(out, copyJob(job))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Completed returns up to limit finished jobs, most recent first. limit <=
// 0 returns all retained jobs.
func (r *Registry) Completed(limit int) []model.JobRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.finished) {
		limit = len(r.finished)
	}
	out := make([]model.JobRecord, 0, limit)
	for i := len(r.finished) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyJob(r.finished[i]))
	}
	return out
}

func (r *Registry) persist(ctx context.Context, job model.JobRecord) {
	if r.st == nil {
		return
	}
	if err := r.st.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		zap.L().Warn("jobs: persist failed",
			zap.String("job_id", job.JobID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}
}

func copyJob(j *model.JobRecord) model.JobRecord {
	out := *j
	if j.EndTime != nil {
		t := *j.EndTime
		out.EndTime = &t
	}
	if j.Result != nil {
		res := *j.Result
		res.Errors = append([]string(nil), j.Result.Errors...)
		out.Result = &res
	}
	return out
}
