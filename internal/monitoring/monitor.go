package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Monitor evaluates run health on an interval. Each alert type is sent
// once when it starts firing and again only after it has cleared.
type Monitor struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	mu     sync.Mutex
	firing map[AlertType]bool
}

// NewMonitor creates a monitor over collector and alerter.
func NewMonitor(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Monitor {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Monitor{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("monitoring: started",
		zap.Duration("interval", m.interval),
		zap.Int("lookback_hours", m.lookback),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check takes one snapshot and sends the alerts that were not already
// firing. It returns the alerts it sent or tried to send.
func (m *Monitor) Check(ctx context.Context) []Alert {
	snap := m.collector.Collect(m.lookback)
	raised := m.transition(m.alerter.Evaluate(snap))
	if len(raised) == 0 {
		zap.L().Debug("monitoring: no new alerts",
			zap.Int("runs", snap.RunsTotal),
			zap.Float64("fail_rate", snap.RunFailRate),
			zap.Int("provider_errors", snap.ProviderErrors),
		)
		return nil
	}

	sent := m.alerter.SendAlerts(ctx, raised)
	zap.L().Info("monitoring: alerts raised",
		zap.Int("raised", len(raised)),
		zap.Int("sent", sent),
	)
	return raised
}

// Firing returns the alert types active after the last check.
func (m *Monitor) Firing() []AlertType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AlertType, 0, len(m.firing))
	for t := range m.firing {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Monitor) transition(current []Alert) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := make(map[AlertType]bool, len(current))
	var raised []Alert
	for _, a := range current {
		now[a.Type] = true
		if !m.firing[a.Type] {
			raised = append(raised, a)
		}
	}
	for t := range m.firing {
		if !now[t] {
			zap.L().Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	m.firing = now
	return raised
}
