package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/config"
	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertProviderErrors AlertType = "provider_errors"
	AlertCriticalError  AlertType = "critical_error"
)

// minFinishedRuns is the sample size below which the failure rate is not
// evaluated.
const minFinishedRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsCompleted + snap.RunsFailed
	if finished >= minFinishedRuns && a.cfg.FailureRateThreshold > 0 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ProviderErrorThreshold > 0 && snap.ProviderErrors > a.cfg.ProviderErrorThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertProviderErrors,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d provider errors in last %dh exceed threshold %d",
				snap.ProviderErrors, snap.LookbackHours, a.cfg.ProviderErrorThreshold,
			),
			Details: map[string]any{
				"provider_errors": snap.ProviderErrors,
				"threshold":       a.cfg.ProviderErrorThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// CriticalAlert builds the alert sent for a single critical error event.
func CriticalAlert(ev model.ErrorEvent) Alert {
	details := map[string]any{
		"error_id":  ev.ErrorID,
		"category":  string(ev.Category),
		"component": ev.Component,
	}
	for k, v := range ev.Context {
		details[k] = v
	}
	return Alert{
		Type:      AlertCriticalError,
		Severity:  "critical",
		Message:   fmt.Sprintf("%s: %s", ev.Component, ev.Message),
		Details:   details,
		Timestamp: ev.Timestamp,
	}
}

// Watch forwards every critical error published on hub to the webhook.
// It returns the subscription id.
func (a *Alerter) Watch(hub *events.Hub[model.ErrorEvent]) int {
	return hub.SubscribeAsync(func(ev model.ErrorEvent) {
		if ev.Severity != model.SeverityCritical {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.client.Timeout)
		defer cancel()
		a.SendAlerts(ctx, []Alert{CriticalAlert(ev)})
	})
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
