package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/jobs"
	"github.com/sells-group/coin-research/internal/model"
)

func setDraft(text string) StageFunc {
	return func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
		s.Draft = text
		return s, nil
	}
}

func TestExecutor_WriterFailureScenario(t *testing.T) {
	tracker, reporter, got := newEventCapture()

	var seenByNext *model.PipelineState
	stages := []Stage{
		{Name: "researcher", Step: "Research", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			s.Data.Set("current_price", 1.23)
			s.Research["Overview"] = "summary"
			return s, nil
		}},
		{Name: "writer", Step: "Writing", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			s.Draft = "half written"
			s.Data.Set("market_cap", 500.0)
			s.Research["Overview"] = "clobbered"
			return s, errors.New("model overloaded")
		}},
		{Name: "visualization", Step: "Visualization", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			seenByNext = s.Clone()
			return s, nil
		}},
	}

	exec := NewExecutor(stages, WithTracker(tracker), WithReporter(reporter))
	final := exec.Run(context.Background(), "X", model.NewState("X", "job-1"))

	require.Len(t, final.Errors, 1)
	assert.Contains(t, final.Errors[0], "writer")
	assert.Equal(t, "writer: model overloaded", final.Errors[0])
	assert.Equal(t, "X", final.SubjectID)

	require.NotNil(t, seenByNext)
	assert.Empty(t, seenByNext.Draft)
	assert.False(t, seenByNext.Data.Has("market_cap"))
	assert.Equal(t, "summary", seenByNext.Research["Overview"])
	assert.Equal(t, 1.23, seenByNext.Data["current_price"])

	errs := got.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.CategoryProcessing, errs[0].Category)
	assert.Equal(t, "stage.writer", errs[0].Component)
	assert.Equal(t, "X", errs[0].Context["subject_id"])

	progress := got.Progress()
	require.Len(t, progress, 6)
	for i, st := range stages {
		start, end := progress[2*i], progress[2*i+1]
		assert.Equal(t, st.Step, start.Step)
		assert.Equal(t, 0, start.Percentage)
		assert.Equal(t, 100, end.Percentage)
		assert.Equal(t, "job-1", end.JobID)
		assert.Equal(t, "X", end.SubjectID)
	}
	assert.Contains(t, progress[3].Message, "model overloaded")
	assert.True(t, strings.HasPrefix(progress[5].Message, "Completed visualization in "))
}

func TestExecutor_ErrorsGrowByOnePerFailure(t *testing.T) {
	fail := func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
		s.AddError("should never be kept")
		return s, errors.New("boom")
	}
	stages := []Stage{
		{Name: "a", Fn: fail},
		{Name: "b", Fn: setDraft("b")},
		{Name: "c", Fn: fail},
		{Name: "d", Fn: func(context.Context, *model.PipelineState) (*model.PipelineState, error) { panic("kaboom") }},
	}

	initial := model.NewState("ETH", "job-1")
	initial.AddError("pre-existing")
	final := NewExecutor(stages).Run(context.Background(), "ETH", initial)

	assert.Equal(t, []string{"pre-existing", "a: boom", "c: boom", "d: panic: kaboom"}, final.Errors)
	assert.Equal(t, "b", final.Draft)
	assert.Equal(t, "ETH", final.SubjectID)
	assert.Equal(t, []string{"pre-existing"}, initial.Errors, "caller's state is never mutated")
}

func TestExecutor_StageCannotLeakMutations(t *testing.T) {
	var before, after *model.PipelineState
	stages := []Stage{
		{Name: "seed", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			s.ProviderData["coingecko"] = map[string]any{"current_price": 2.0, "chains": []string{"Ethereum"}}
			s.Visualizations["price"] = model.Visualization{Type: "line_chart", Fields: []string{"price_history"}}
			before = s.Clone()
			return s, nil
		}},
		{Name: "mutate", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			s.ProviderData["coingecko"]["current_price"] = 99.0
			s.ProviderData["coingecko"]["chains"].([]string)[0] = "Solana"
			s.Visualizations["price"].Fields[0] = "mutated"
			return nil, errors.New("failed after mutating")
		}},
		{Name: "observe", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			after = s.Clone()
			return s, nil
		}},
	}

	NewExecutor(stages).Run(context.Background(), "SOL", model.NewState("SOL", "job-1"))

	require.NotNil(t, before)
	require.NotNil(t, after)
	ignoreVolatile := cmp.FilterPath(func(p cmp.Path) bool {
		name := p.Last().String()
		return name == ".Errors" || name == ".Progress"
	}, cmp.Ignore())
	if diff := cmp.Diff(before, after, ignoreVolatile); diff != "" {
		t.Errorf("state leaked from failed stage (-before +after):\n%s", diff)
	}
}

func TestExecutor_RepairsSubject(t *testing.T) {
	stages := []Stage{
		{Name: "clear", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			s.SubjectID = ""
			return s, nil
		}},
		{Name: "rename", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			s.SubjectID = "Something Else"
			return s, nil
		}},
		{Name: "replace", Fn: func(context.Context, *model.PipelineState) (*model.PipelineState, error) {
			return &model.PipelineState{Draft: "fresh"}, nil
		}},
		{Name: "check", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			if s.SubjectID != "BTC" {
				return nil, errors.New("subject not repaired: " + s.SubjectID)
			}
			s.Extra["checked"] = true
			return s, nil
		}},
	}

	final := NewExecutor(stages).Run(context.Background(), "BTC", model.NewState("BTC", "job-1"))

	assert.Empty(t, final.Errors)
	assert.Equal(t, "BTC", final.SubjectID)
	assert.Equal(t, "job-1", final.JobID)
	assert.Equal(t, "fresh", final.Draft)
	assert.Equal(t, true, final.Extra["checked"])
}

func TestExecutor_RecoversSubjectFromRegistry(t *testing.T) {
	reg := jobs.NewRegistry(0, nil)
	reg.Start(context.Background(), "job-7", "ADA")

	var seen string
	stages := []Stage{{Name: "look", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
		seen = s.SubjectID
		return s, nil
	}}}

	final := NewExecutor(stages, WithSubjectLookup(reg)).Run(context.Background(), "", &model.PipelineState{JobID: "job-7"})
	assert.Equal(t, "ADA", seen)
	assert.Equal(t, "ADA", final.SubjectID)

	final = NewExecutor(stages).Run(context.Background(), "", &model.PipelineState{JobID: "job-8"})
	assert.Equal(t, model.UnknownSubject, final.SubjectID)
}

func TestExecutor_NilStateKeepsWorkingCopy(t *testing.T) {
	stages := []Stage{
		{Name: "nil", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			s.Draft = "kept"
			return nil, nil
		}},
		{Name: "missing"},
	}

	final := NewExecutor(stages).Run(context.Background(), "BTC", nil)

	assert.Equal(t, "kept", final.Draft)
	assert.Equal(t, "BTC", final.SubjectID)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, "missing: stage has no function", final.Errors[0])
}

func TestExecutor_StageTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stages := []Stage{
		{Name: "cooperative", Fn: func(ctx context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		{Name: "stubborn", Fn: func(_ context.Context, s *model.PipelineState) (*model.PipelineState, error) {
			<-release
			return s, nil
		}},
		{Name: "after", Fn: setDraft("ran")},
	}

	final := NewExecutor(stages, WithStageTimeout(20*time.Millisecond)).
		Run(context.Background(), "BTC", model.NewState("BTC", "job-1"))

	require.Len(t, final.Errors, 2)
	assert.Equal(t, "cooperative: timed out after 20ms", final.Errors[0])
	assert.Equal(t, "stubborn: timed out after 20ms", final.Errors[1])
	assert.Equal(t, "ran", final.Draft)
}

func TestExecutor_CancellationSkipsRemainingStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub[model.ProgressEvent]("progress")
	hub.Subscribe(func(ev model.ProgressEvent) {
		if ev.Step == "First" && ev.Percentage == 100 {
			cancel()
		}
	})

	stages := []Stage{
		{Name: "first", Step: "First", Fn: setDraft("first")},
		{Name: "second", Step: "Second", Fn: setDraft("second")},
		{Name: "third", Step: "Third", Fn: setDraft("third")},
	}

	final := NewExecutor(stages, WithTracker(events.NewProgressTracker(hub))).
		Run(ctx, "BTC", model.NewState("BTC", "job-1"))

	assert.Equal(t, "first", final.Draft)
	assert.Equal(t, []string{
		"second: skipped: context canceled",
		"third: skipped: context canceled",
	}, final.Errors)
}

func TestExecutor_StagesCopy(t *testing.T) {
	exec := NewExecutor([]Stage{{Name: "a"}})
	got := exec.Stages()
	got[0].Name = "changed"
	assert.Equal(t, "a", exec.Stages()[0].Name)
}
