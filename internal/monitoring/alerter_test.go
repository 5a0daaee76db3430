package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keo-sports/stage-engine/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.2,
		QueueDepthThreshold:  10,
	})

	snap := &MetricsSnapshot{
		RunsConfirmed: 9,
		RunsFailed:    1,
		FailRate:      0.1,
		QueueDepth:    2,
		BreakerState:  "closed",
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.2})

	snap := &MetricsSnapshot{
		RunsConfirmed:      3,
		RunsFailed:         1,
		RunsFinalizeFailed: 2,
		FailRate:           0.5,
		LookbackHours:      24,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPublishFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")
	assert.Equal(t, 6, alerts[0].Details["finished"])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1})

	snap := &MetricsSnapshot{RunsFailed: 2, FailRate: 1.0}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FinalizeBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{QueueDepthThreshold: 5})

	alerts := a.Evaluate(&MetricsSnapshot{QueueDepth: 5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFinalizeBacklog, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "5 finalizer call(s)")
}

func TestAlerter_Evaluate_ZeroQueueThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{QueueDepthThreshold: 0})

	assert.Empty(t, a.Evaluate(&MetricsSnapshot{QueueDepth: 500}))
}

func TestAlerter_Evaluate_BreakerOpen(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{QueueDepthThreshold: 10, FailureRateThreshold: 0.2})

	snap := &MetricsSnapshot{
		RunsConfirmed: 1,
		RunsFailed:    5,
		FailRate:      5.0 / 6.0,
		QueueDepth:    12,
		BreakerState:  "open",
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertPublishFailureRate])
	assert.True(t, types[AlertFinalizeBacklog])
	assert.True(t, types[AlertFinalizerOpen])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertPublishFailureRate, Severity: "high", Message: "rate"},
		{Type: AlertFinalizeBacklog, Severity: "high", Message: "backlog"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFinalizeBacklog, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFinalizerOpen, Message: "test"}})
	assert.Equal(t, 0, sent)
}
