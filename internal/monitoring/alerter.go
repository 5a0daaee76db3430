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

	"github.com/keo-sports/stage-engine/internal/config"
	"github.com/keo-sports/stage-engine/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPublishFailureRate AlertType = "publish_failure_rate"
	AlertFinalizeBacklog    AlertType = "finalize_backlog"
	AlertFinalizerOpen      AlertType = "finalizer_circuit_open"
)

// minFinishedRuns is the sample size below which the failure rate is not
// alerted on.
const minFinishedRuns = 5

// Alert is one breached threshold, as posted to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and returns an alert when it fires.
type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool)

var rules = []rule{failureRateRule, backlogRule, breakerRule}

// Alerter evaluates snapshots against the configured thresholds and posts
// the resulting alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts raised by snap, in rule order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, r := range rules {
		if alert, ok := r(a.cfg, snap); ok {
			alert.Timestamp = now
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func failureRateRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	failed := snap.RunsFailed + snap.RunsFinalizeFailed
	finished := snap.RunsConfirmed + failed
	if finished < minFinishedRuns || snap.FailRate <= cfg.FailureRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertPublishFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Publish failure rate %.1f%% over the last %dh is above %.1f%% (%d of %d runs)",
			snap.FailRate*100, snap.LookbackHours, cfg.FailureRateThreshold*100, failed, finished),
		Details: map[string]any{
			"failure_rate":    snap.FailRate,
			"threshold":       cfg.FailureRateThreshold,
			"failed":          snap.RunsFailed,
			"finalize_failed": snap.RunsFinalizeFailed,
			"finished":        finished,
		},
	}, true
}

func backlogRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	if cfg.QueueDepthThreshold <= 0 || snap.QueueDepth < cfg.QueueDepthThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertFinalizeBacklog,
		Severity: "high",
		Message:  fmt.Sprintf("%d finalizer call(s) waiting for replay (threshold %d)", snap.QueueDepth, cfg.QueueDepthThreshold),
		Details: map[string]any{
			"queue_depth": snap.QueueDepth,
			"threshold":   cfg.QueueDepthThreshold,
		},
	}, true
}

func breakerRule(_ config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	if snap.BreakerState != resilience.CircuitOpen.String() {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertFinalizerOpen,
		Severity: "medium",
		Message:  "Finalizer circuit is open; stage publishes are being queued",
		Details:  map[string]any{"queue_depth": snap.QueueDepth},
	}, true
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Nothing is sent without a webhook URL.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)))
		if err := a.post(ctx, alert); err != nil {
			log.Error("monitoring: failed to send alert", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert sent", zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
