package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/reconcile"
	"github.com/sells-group/coin-research/internal/report"
)

// --- Gatherer ---

type mockGatherer struct {
	mock.Mock
}

func (m *mockGatherer) Gather(ctx context.Context, subjectID string, opts reconcile.GatherOptions) *reconcile.Result {
	args := m.Called(ctx, subjectID, opts)
	return args.Get(0).(*reconcile.Result)
}

// --- Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, state *model.PipelineState) (string, error) {
	args := m.Called(ctx, state)
	return args.String(0), args.Error(1)
}

// --- Renderer ---

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(ctx context.Context, subject string, chart report.ChartSpec, values map[string]any) (string, error) {
	args := m.Called(ctx, subject, chart, values)
	return args.String(0), args.Error(1)
}

// --- Event capture ---

type captured struct {
	mu       sync.Mutex
	progress []model.ProgressEvent
	errors   []model.ErrorEvent
}

func (c *captured) Progress() []model.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ProgressEvent(nil), c.progress...)
}

func (c *captured) Errors() []model.ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ErrorEvent(nil), c.errors...)
}

// newEventCapture wires a tracker and reporter whose events are recorded.
func newEventCapture() (*events.ProgressTracker, *events.ErrorReporter, *captured) {
	c := &captured{}
	progressHub := events.NewHub[model.ProgressEvent]("progress")
	progressHub.Subscribe(func(ev model.ProgressEvent) {
		c.mu.Lock()
		c.progress = append(c.progress, ev)
		c.mu.Unlock()
	})
	errorHub := events.NewHub[model.ErrorEvent]("errors")
	errorHub.Subscribe(func(ev model.ErrorEvent) {
		c.mu.Lock()
		c.errors = append(c.errors, ev)
		c.mu.Unlock()
	})
	return events.NewProgressTracker(progressHub), events.NewErrorReporter(errorHub, 0), c
}

// promptIs matches completion prompts by their opening words.
func promptIs(prefix string) any {
	return mock.MatchedBy(func(p string) bool { return strings.HasPrefix(p, prefix) })
}
