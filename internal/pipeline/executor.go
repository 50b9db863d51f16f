package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/model"
)

// StageFunc transforms the run state. It receives a private copy and
// returns the next state.
type StageFunc func(ctx context.Context, state *model.PipelineState) (*model.PipelineState, error)

// Stage is one named step of the pipeline.
type Stage struct {
	Name string
	Step string // label shown in progress events
	Fn   StageFunc
}

// SubjectLookup recovers the subject of a run from its job id.
// *jobs.Registry satisfies it.
type SubjectLookup interface {
	SubjectFor(jobID string) (string, bool)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTracker publishes stage progress through t.
func WithTracker(t *events.ProgressTracker) ExecutorOption {
	return func(e *Executor) { e.tracker = t }
}

// WithReporter reports stage failures through r.
func WithReporter(r *events.ErrorReporter) ExecutorOption {
	return func(e *Executor) { e.reporter = r }
}

// WithSubjectLookup sets where a lost subject id is recovered from.
func WithSubjectLookup(l SubjectLookup) ExecutorOption {
	return func(e *Executor) { e.subjects = l }
}

// WithStageTimeout bounds each stage's wall-clock time. Zero disables the
// deadline.
func WithStageTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.stageTimeout = d }
}

// Executor runs stages in order over a run's state. A failing stage never
// aborts the run: its error is recorded and the next stage receives the
// state from before the failure.
type Executor struct {
	stages       []Stage
	tracker      *events.ProgressTracker
	reporter     *events.ErrorReporter
	subjects     SubjectLookup
	stageTimeout time.Duration
}

// NewExecutor creates an executor over stages.
func NewExecutor(stages []Stage, opts ...ExecutorOption) *Executor {
	e := &Executor{stages: append([]Stage(nil), stages...)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Stages returns the configured stages in run order.
func (e *Executor) Stages() []Stage {
	return append([]Stage(nil), e.stages...)
}

// Run executes every stage and returns the final state. It always
// completes; failures are recorded in the state's Errors. Once ctx is done
// the remaining stages are recorded as skipped.
func (e *Executor) Run(ctx context.Context, subjectID string, initial *model.PipelineState) *model.PipelineState {
	state := initial.Clone()
	if state == nil {
		state = model.NewState(subjectID, "")
	}
	if state.SubjectID == "" {
		state.SubjectID = subjectID
	}
	ensureMaps(state)

	log := zap.L().With(zap.String("job_id", state.JobID))
	log.Info("pipeline: starting", zap.String("subject", state.SubjectID), zap.Int("stages", len(e.stages)))
	start := time.Now()

	for _, st := range e.stages {
		if err := ctx.Err(); err != nil {
			state.AddError(fmt.Sprintf("%s: skipped: %v", st.Name, err))
			log.Warn("pipeline: stage skipped", zap.String("stage", st.Name), zap.Error(err))
			continue
		}
		state = e.runStage(ctx, st, state)
	}

	log.Info("pipeline: complete",
		zap.String("subject", state.SubjectID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("errors", len(state.Errors)),
	)
	return state
}

func (e *Executor) runStage(ctx context.Context, st Stage, state *model.PipelineState) *model.PipelineState {
	if state.SubjectID == "" {
		state.SubjectID = e.recoverSubject(state.JobID)
	}
	subject := state.SubjectID
	log := zap.L().With(zap.String("stage", st.Name), zap.String("subject", subject), zap.String("job_id", state.JobID))

	e.progress(st.Step, 0, fmt.Sprintf("Starting %s for %s", st.Name, subject), state)

	work := state.Clone()
	start := time.Now()
	out, err := e.invoke(ctx, st, work)
	elapsed := time.Since(start)

	if err != nil {
		log.Error("pipeline: stage failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		e.reportFailure(err, st, state)
		state.AddError(fmt.Sprintf("%s: %v", st.Name, err))
		state.Progress = fmt.Sprintf("%s failed: %v", st.Step, err)
		e.progress(st.Step, 100, state.Progress, state)
		return state
	}

	if out == nil {
		log.Warn("pipeline: stage returned no state")
		out = work
	}
	if out.SubjectID != subject {
		log.Warn("pipeline: stage altered subject id, restoring", zap.String("got", out.SubjectID))
		out.SubjectID = subject
	}
	out.JobID = state.JobID
	ensureMaps(out)

	out.Progress = fmt.Sprintf("Completed %s in %.2fs", st.Name, elapsed.Seconds())
	log.Info("pipeline: stage complete", zap.Duration("elapsed", elapsed))
	e.progress(st.Step, 100, out.Progress, out)
	return out
}

type stageResult struct {
	state *model.PipelineState
	err   error
}

// invoke runs the stage under its deadline. A stage that ignores its
// context is abandoned once the deadline passes; it only ever holds its own
// copy of the state.
func (e *Executor) invoke(ctx context.Context, st Stage, work *model.PipelineState) (*model.PipelineState, error) {
	if st.Fn == nil {
		return nil, eris.New("stage has no function")
	}
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}

	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult{err: eris.Errorf("panic: %v", r)}
			}
		}()
		out, err := st.Fn(ctx, work)
		done <- stageResult{state: out, err: err}
	}()

	var res stageResult
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case res = <-done:
		default:
			res = stageResult{err: ctx.Err()}
		}
	}
	if res.err != nil && ctx.Err() != nil {
		if e.stageTimeout > 0 && eris.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, eris.Errorf("timed out after %s", e.stageTimeout)
		}
		return nil, eris.Wrap(ctx.Err(), "interrupted")
	}
	return res.state, res.err
}

func (e *Executor) recoverSubject(jobID string) string {
	if e.subjects != nil && jobID != "" {
		if subject, ok := e.subjects.SubjectFor(jobID); ok {
			zap.L().Warn("pipeline: recovered subject id from job registry",
				zap.String("job_id", jobID), zap.String("subject", subject))
			return subject
		}
	}
	zap.L().Warn("pipeline: subject id missing, using sentinel", zap.String("job_id", jobID))
	return model.UnknownSubject
}

func (e *Executor) progress(step string, pct int, msg string, state *model.PipelineState) {
	if e.tracker == nil {
		return
	}
	e.tracker.Update(step, pct, msg, state.JobID, state.SubjectID)
}

func (e *Executor) reportFailure(err error, st Stage, state *model.PipelineState) {
	if e.reporter == nil {
		return
	}
	e.reporter.Report(err, model.CategoryProcessing, "stage."+st.Name, map[string]any{
		"subject_id": state.SubjectID,
		"job_id":     state.JobID,
		"step":       st.Step,
	})
}

func ensureMaps(s *model.PipelineState) {
	if s.Data == nil {
		s.Data = model.CanonicalDataMap{}
	}
	if s.ProviderData == nil {
		s.ProviderData = map[string]map[string]any{}
	}
	if s.ResearchData == nil {
		s.ResearchData = map[string]any{}
	}
	if s.Research == nil {
		s.Research = map[string]string{}
	}
	if s.Visualizations == nil {
		s.Visualizations = map[string]model.Visualization{}
	}
	if s.Extra == nil {
		s.Extra = map[string]any{}
	}
}
