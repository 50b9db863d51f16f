package events

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/coin-research/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHub_SyncOrderAndUnsubscribe(t *testing.T) {
	h := NewHub[int]("test")
	defer h.Close()

	var got []string
	a := h.Subscribe(func(v int) { got = append(got, "a") })
	h.Subscribe(func(v int) { got = append(got, "b") })

	h.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)

	assert.True(t, h.Unsubscribe(a))
	assert.False(t, h.Unsubscribe(a))
	h.Publish(2)
	assert.Equal(t, []string{"a", "b", "b"}, got)
	assert.Equal(t, 1, h.Len())
}

func TestHub_PanicIsolated(t *testing.T) {
	h := NewHub[string]("test")
	defer h.Close()

	var received []string
	h.Subscribe(func(string) { panic("subscriber bug") })
	h.Subscribe(func(v string) { received = append(received, v) })

	assert.NotPanics(t, func() { h.Publish("hello") })
	assert.Equal(t, []string{"hello"}, received)
}

func TestHub_AsyncDeliveredBeforeCloseReturns(t *testing.T) {
	h := NewHub[int]("test")

	var sum atomic.Int64
	for i := 0; i < 3; i++ {
		h.SubscribeAsync(func(v int) {
			time.Sleep(5 * time.Millisecond)
			sum.Add(int64(v))
		})
	}
	h.SubscribeAsync(func(int) { panic("async bug") })

	h.Publish(2)
	h.Publish(5)
	h.Close()

	assert.Equal(t, int64(21), sum.Load())
}

func TestHub_PublishAfterCloseIsNoop(t *testing.T) {
	h := NewHub[int]("test")
	calls := 0
	h.Subscribe(func(int) { calls++ })
	h.Close()

	h.Publish(1)
	assert.Zero(t, calls)
	assert.Zero(t, h.Len())
}

func TestHub_ConcurrentPublish(t *testing.T) {
	h := NewHub[int]("test")
	defer h.Close()

	var count atomic.Int64
	h.Subscribe(func(int) { count.Add(1) })
	h.SubscribeAsync(func(int) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			h.Publish(v)
		}(i)
	}
	wg.Wait()
	h.Close()

	assert.Equal(t, int64(100), count.Load())
}

type tags struct{ m map[string]int }

func (t tags) Clone() tags {
	out := tags{m: make(map[string]int, len(t.m))}
	for k, v := range t.m {
		out.m[k] = v
	}
	return out
}

func TestHub_ClonerDeliveredPerSubscriber(t *testing.T) {
	h := NewHub[tags]("test")
	defer h.Close()

	var second map[string]int
	h.Subscribe(func(v tags) { v.m["a"] = 99 })
	h.Subscribe(func(v tags) { second = v.m })

	orig := tags{m: map[string]int{"a": 1}}
	h.Publish(orig)

	assert.Equal(t, map[string]int{"a": 1}, second)
	assert.Equal(t, map[string]int{"a": 1}, orig.m)
}

func TestProgressTracker(t *testing.T) {
	hub := NewHub[model.ProgressEvent]("progress")
	defer hub.Close()

	var events []model.ProgressEvent
	hub.Subscribe(func(ev model.ProgressEvent) { events = append(events, ev) })

	tr := NewProgressTracker(hub)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := start
	tr.nowFunc = func() time.Time { return now }

	tr.StartTracking("job-1", 4)
	tr.Update("Research", 0, "Starting researcher for BTC", "job-1", "BTC")
	tr.Update("Research", 100, "Completed researcher", "job-1", "BTC")
	tr.Update("Writing", 150, "Completed writer", "job-1", "BTC")
	tr.Update("Review", -5, "Starting reviewer", "job-1", "BTC")
	now = start.Add(90 * time.Second)

	last, ok := tr.Last("job-1")
	require.True(t, ok)
	assert.Equal(t, "Review", last.Step)
	assert.Equal(t, 0, last.Percentage)

	require.Len(t, events, 4)
	assert.Equal(t, 100, events[2].Percentage)
	assert.Equal(t, "BTC", events[0].SubjectID)

	s := tr.Complete("job-1")
	assert.Equal(t, 2, s.StepsCompleted)
	assert.Equal(t, 4, s.TotalSteps)
	assert.InDelta(t, 50.0, s.CompletionPercent, 0.001)
	assert.Equal(t, 90*time.Second, s.Duration)

	_, ok = tr.Last("job-1")
	assert.False(t, ok)
	assert.Equal(t, Summary{JobID: "unknown"}, tr.Complete("unknown"))
}

func TestErrorReporter_CategoryTable(t *testing.T) {
	tests := []struct {
		category model.Category
		severity model.Severity
		retry    bool
		user     string
	}{
		{model.CategoryProvider, model.SeverityWarning, true, "Data source connection issue. Using fallback data."},
		{model.CategoryResearch, model.SeverityWarning, true, "Research retrieval issue. Using available information."},
		{model.CategoryProcessing, model.SeverityError, true, "Error processing report data. Please try again."},
		{model.CategorySystem, model.SeverityCritical, false, "System error occurred. Our team has been notified."},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			r := NewErrorReporter(nil, 0)
			ev := r.Report(errors.New("boom"), tt.category, "comp", nil)
			assert.Equal(t, tt.category, ev.Category)
			assert.Equal(t, tt.severity, ev.Severity)
			assert.Equal(t, tt.retry, ev.RetryAllowed)
			assert.Equal(t, tt.user, ev.UserMessage)
			assert.Equal(t, "boom", ev.Message)
		})
	}
}

func TestErrorReporter_UnknownCategoryIsSystem(t *testing.T) {
	r := NewErrorReporter(nil, 0)
	ev := r.Report(errors.New("x"), model.Category("weird"), "comp", nil)
	assert.Equal(t, model.CategorySystem, ev.Category)
	assert.Equal(t, model.SeverityCritical, ev.Severity)
	assert.False(t, ev.RetryAllowed)
}

func TestErrorReporter_IDAndContextCopy(t *testing.T) {
	hub := NewHub[model.ErrorEvent]("errors")
	defer hub.Close()
	var published []model.ErrorEvent
	hub.Subscribe(func(ev model.ErrorEvent) { published = append(published, ev) })

	r := NewErrorReporter(hub, 0)
	r.nowFunc = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	ctx := map[string]any{"subject_id": "BTC"}
	ev := r.Report(errors.New("timeout"), model.CategoryProvider, "provider.coingecko", ctx)
	ctx["subject_id"] = "ETH"

	assert.True(t, strings.HasPrefix(ev.ErrorID, "err_20260304050607_"), ev.ErrorID)
	assert.Len(t, ev.ErrorID, len("err_20260304050607_")+8)
	assert.Equal(t, "BTC", ev.Context["subject_id"])
	require.Len(t, published, 1)
	assert.Equal(t, ev.ErrorID, published[0].ErrorID)
}

func TestErrorReporter_SubscriberCannotAlterEvent(t *testing.T) {
	hub := NewHub[model.ErrorEvent]("errors")
	var seen sync.Map
	hub.Subscribe(func(ev model.ErrorEvent) { ev.Context["tampered"] = true })
	hub.Subscribe(func(ev model.ErrorEvent) { seen.Store("sync", ev.Context) })
	hub.SubscribeAsync(func(ev model.ErrorEvent) {
		ev.Context["async"] = true
		seen.Store("async", len(ev.Context))
	})

	r := NewErrorReporter(hub, 0)
	ev := r.Report(errors.New("rate limited"), model.CategoryProvider, "provider.coingecko", map[string]any{"a": 1})
	hub.Close()

	assert.Equal(t, map[string]any{"a": 1}, ev.Context)
	assert.Equal(t, map[string]any{"a": 1}, r.Recent(1)[0].Context)
	syncCtx, ok := seen.Load("sync")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1}, syncCtx)
	asyncLen, ok := seen.Load("async")
	require.True(t, ok)
	assert.Equal(t, 2, asyncLen)

	r.Recent(1)[0].Context["caller"] = true
	assert.Equal(t, map[string]any{"a": 1}, r.ByComponent("provider.coingecko")[0].Context)
}

func TestErrorReporter_Queries(t *testing.T) {
	r := NewErrorReporter(nil, 3)
	first := r.Report(errors.New("1"), model.CategoryProvider, "provider.cmc", nil)
	r.Report(errors.New("2"), model.CategoryResearch, "stage.researcher", nil)
	r.Report(errors.New("3"), model.CategoryProvider, "provider.cmc", nil)
	last := r.Report(errors.New("4"), model.CategorySystem, "runner", nil)

	recent := r.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "4", recent[0].Message)
	assert.Equal(t, "2", recent[2].Message)
	assert.Len(t, r.Recent(1), 1)

	assert.Len(t, r.ByComponent("provider.cmc"), 1, "oldest evicted")
	assert.Len(t, r.ByCategory(model.CategoryResearch), 1)

	assert.False(t, r.CanRetry(last.ErrorID))
	assert.False(t, r.CanRetry(first.ErrorID), "evicted ids are unknown")
	assert.Equal(t, "System error occurred. Our team has been notified.", r.UserMessage("missing"))
	assert.Equal(t, last.UserMessage, r.UserMessage(last.ErrorID))
}
