package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/model"
)

type categoryPolicy struct {
	severity    model.Severity
	retry       bool
	userMessage string
}

var categoryPolicies = map[model.Category]categoryPolicy{
	model.CategoryProvider: {
		severity:    model.SeverityWarning,
		retry:       true,
		userMessage: "Data source connection issue. Using fallback data.",
	},
	model.CategoryResearch: {
		severity:    model.SeverityWarning,
		retry:       true,
		userMessage: "Research retrieval issue. Using available information.",
	},
	model.CategoryProcessing: {
		severity:    model.SeverityError,
		retry:       true,
		userMessage: "Error processing report data. Please try again.",
	},
	model.CategorySystem: {
		severity:    model.SeverityCritical,
		retry:       false,
		userMessage: "System error occurred. Our team has been notified.",
	},
}

const defaultRecentLimit = 200

// ErrorReporter turns failures into ErrorEvents, publishes them and keeps
// a bounded list of recent events for the status endpoint.
type ErrorReporter struct {
	hub     *Hub[model.ErrorEvent]
	limit   int
	nowFunc func() time.Time

	mu     sync.RWMutex
	recent []model.ErrorEvent
}

// NewErrorReporter creates a reporter publishing to hub and retaining at
// most limit events. A non-positive limit uses the default.
func NewErrorReporter(hub *Hub[model.ErrorEvent], limit int) *ErrorReporter {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return &ErrorReporter{hub: hub, limit: limit, nowFunc: time.Now}
}

// Hub returns the hub error events are published on.
func (r *ErrorReporter) Hub() *Hub[model.ErrorEvent] { return r.hub }

// Report records err. Unknown categories are reported as system errors.
// ctx is copied so callers may reuse their map. The retained event, each
// subscriber and the caller all get separate copies.
func (r *ErrorReporter) Report(err error, category model.Category, component string, ctx map[string]any) model.ErrorEvent {
	policy, ok := categoryPolicies[category]
	if !ok {
		category = model.CategorySystem
		policy = categoryPolicies[model.CategorySystem]
	}

	now := r.nowFunc().UTC()
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	ev := model.ErrorEvent{
		ErrorID:      newErrorID(now),
		Timestamp:    now,
		Category:     category,
		Severity:     policy.severity,
		Component:    component,
		Message:      msg,
		Context:      model.CloneMap(ctx),
		RetryAllowed: policy.retry,
		UserMessage:  policy.userMessage,
	}

	fields := []zap.Field{
		zap.String("error_id", ev.ErrorID),
		zap.String("category", string(category)),
		zap.String("component", component),
		zap.String("message", msg),
	}
	switch policy.severity {
	case model.SeverityCritical, model.SeverityError:
		zap.L().Error("error reported", fields...)
	default:
		zap.L().Warn("error reported", fields...)
	}

	r.mu.Lock()
	r.recent = append(r.recent, ev.Clone())
	if len(r.recent) > r.limit {
		r.recent = append([]model.ErrorEvent(nil), r.recent[len(r.recent)-r.limit:]...)
	}
	r.mu.Unlock()

	if r.hub != nil {
		r.hub.Publish(ev)
	}
	return ev.Clone()
}

func newErrorID(now time.Time) string {
	return "err_" + now.Format("20060102150405") + "_" + uuid.NewString()[:8]
}

// Recent returns up to n most recent events, newest first. n <= 0 returns
// all retained events.
func (r *ErrorReporter) Recent(n int) []model.ErrorEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.recent) {
		n = len(r.recent)
	}
	out := make([]model.ErrorEvent, 0, n)
	for i := len(r.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.recent[i].Clone())
	}
	return out
}

// ByComponent returns retained events from component, oldest first.
func (r *ErrorReporter) ByComponent(component string) []model.ErrorEvent {
	return r.filter(func(ev model.ErrorEvent) bool { return ev.Component == component })
}

// ByCategory returns retained events in category, oldest first.
func (r *ErrorReporter) ByCategory(category model.Category) []model.ErrorEvent {
	return r.filter(func(ev model.ErrorEvent) bool { return ev.Category == category })
}

func (r *ErrorReporter) filter(keep func(model.ErrorEvent) bool) []model.ErrorEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.ErrorEvent
	for _, ev := range r.recent {
		if keep(ev) {
			out = append(out, ev.Clone())
		}
	}
	return out
}

func (r *ErrorReporter) find(id string) (model.ErrorEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ev := range r.recent {
		if ev.ErrorID == id {
			return ev.Clone(), true
		}
	}
	return model.ErrorEvent{}, false
}

// UserMessage returns the user-facing message for a retained error.
func (r *ErrorReporter) UserMessage(id string) string {
	if ev, ok := r.find(id); ok {
		return ev.UserMessage
	}
	return categoryPolicies[model.CategorySystem].userMessage
}

// CanRetry reports whether a retained error allows a retry. Unknown ids
// do not.
func (r *ErrorReporter) CanRetry(id string) bool {
	ev, ok := r.find(id)
	return ok && ev.RetryAllowed
}
