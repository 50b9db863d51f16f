// Package pipeline runs the ordered report stages for a subject and tracks
// each run from request to result.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/jobs"
	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/pkg/anthropic"
)

// RunnerDeps are the collaborators a Runner needs. Tracker and Reporter
// are optional.
type RunnerDeps struct {
	Executor *Executor
	Registry *jobs.Registry
	Tracker  *events.ProgressTracker
	Reporter *events.ErrorReporter
	LLM      anthropic.Completer
}

// Runner turns run requests into executed pipelines.
type Runner struct {
	deps    RunnerDeps
	newID   func() string
	nowFunc func() time.Time
	wg      sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(deps RunnerDeps) *Runner {
	return &Runner{deps: deps, newID: uuid.NewString, nowFunc: time.Now}
}

// Execute runs the pipeline for req and blocks until it completes. Invalid
// requests and missing collaborators produce a result carrying only Error;
// no stage runs in that case.
func (r *Runner) Execute(ctx context.Context, req model.RunRequest) model.RunResult {
	subject, err := r.validate(req)
	if err != nil {
		return r.systemError(err, subject)
	}
	jobID := r.begin(ctx, subject)
	return r.run(ctx, jobID, subject, req.FastMode)
}

// Submit validates req, registers the job and runs it in the background.
// The run is detached from ctx's cancellation. Wait blocks until every
// submitted run has finished.
func (r *Runner) Submit(ctx context.Context, req model.RunRequest) (string, error) {
	subject, err := r.validate(req)
	if err != nil {
		res := r.systemError(err, subject)
		return "", eris.New(res.Error)
	}
	jobID := r.begin(ctx, subject)

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(runCtx, jobID, subject, req.FastMode)
	}()
	return jobID, nil
}

// Wait blocks until all submitted runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) validate(req model.RunRequest) (string, error) {
	subject := strings.TrimSpace(req.Subject)
	switch {
	case subject == "":
		return subject, eris.New("subject is required")
	case r.deps.Executor == nil || len(r.deps.Executor.Stages()) == 0:
		return subject, eris.New("no pipeline stages configured")
	case r.deps.LLM == nil:
		return subject, eris.New("language model not configured")
	case r.deps.Registry == nil:
		return subject, eris.New("job registry not configured")
	}
	return subject, nil
}

func (r *Runner) begin(ctx context.Context, subject string) string {
	jobID := r.newID()
	r.deps.Registry.Start(ctx, jobID, subject)
	if r.deps.Tracker != nil {
		r.deps.Tracker.StartTracking(jobID, len(r.deps.Executor.Stages()))
	}
	return jobID
}

func (r *Runner) run(ctx context.Context, jobID, subject string, fast bool) model.RunResult {
	log := zap.L().With(zap.String("job_id", jobID), zap.String("subject", subject))
	log.Info("runner: run started", zap.Bool("fast_mode", fast))

	state := model.NewState(subject, jobID)
	state.FastMode = fast

	start := r.nowFunc()
	final := r.deps.Executor.Run(ctx, subject, state)

	result := model.RunResult{
		JobID:           jobID,
		SubjectID:       final.SubjectID,
		DurationSeconds: r.nowFunc().Sub(start).Seconds(),
		Errors:          append([]string{}, final.Errors...),
	}
	if final.FinalReport != "" {
		path := final.FinalReport
		result.ReportPath = &path
	}

	finish := r.deps.Registry.Complete
	if ctx.Err() != nil {
		finish = r.deps.Registry.Fail
	}
	if err := finish(ctx, jobID, result); err != nil {
		log.Warn("runner: job not finished in registry", zap.Error(err))
	}

	if r.deps.Tracker != nil {
		summary := r.deps.Tracker.Complete(jobID)
		log.Info("runner: run complete",
			zap.Float64("duration_secs", result.DurationSeconds),
			zap.Int("steps_completed", summary.StepsCompleted),
			zap.Float64("completion_pct", summary.CompletionPercent),
			zap.Int("errors", len(result.Errors)),
		)
	}
	return result
}

func (r *Runner) systemError(err error, subject string) model.RunResult {
	if r.deps.Reporter != nil {
		r.deps.Reporter.Report(err, model.CategorySystem, "runner", map[string]any{"subject_id": subject})
	} else {
		zap.L().Error("runner: system error", zap.String("subject", subject), zap.Error(err))
	}
	return model.RunResult{SubjectID: subject, Error: err.Error()}
}
