// Package monitoring watches the publish journal and the finalize retry
// queue, alerts a webhook when thresholds are breached, and drains due
// finalizer replays in the background.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of publish health.
type MetricsSnapshot struct {
	// Publish runs created within the lookback window.
	RunsTotal          int     `json:"runs_total"`
	RunsStage          int     `json:"runs_stage"`
	RunsSegments       int     `json:"runs_segments"`
	RunsConfirmed      int     `json:"runs_confirmed"`
	RunsFailed         int     `json:"runs_failed"`
	RunsFinalizeFailed int     `json:"runs_finalize_failed"`
	RunsInFlight       int     `json:"runs_in_flight"`
	FailRate           float64 `json:"fail_rate"`
	AvgDurationSecs    float64 `json:"avg_duration_secs"`

	// Finalize retry queue depth and breaker state at collection time.
	QueueDepth   int    `json:"queue_depth"`
	BreakerState string `json:"breaker_state,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunSource is the part of the store the collector reads.
type RunSource interface {
	ListPublishRuns(ctx context.Context, filter store.RunFilter) ([]model.PublishRun, error)
	CountFinalizeRetries(ctx context.Context) (int, error)
}

// BreakerStater reports the finalizer circuit state.
type BreakerStater interface {
	BreakerState() resilience.CircuitState
}

// Collector gathers metrics from the store and the finalizer breaker.
type Collector struct {
	store   RunSource
	breaker BreakerStater
}

// NewCollector creates a collector. breaker may be nil.
func NewCollector(st RunSource, breaker BreakerStater) *Collector {
	return &Collector{store: st, breaker: breaker}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: int(lookback.Hours()),
		CollectedAt:   now,
	}

	runs, err := c.store.ListPublishRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list publish runs")
	}
	SummarizeRuns(snap, runs, now.Add(-lookback))

	depth, err := c.store.CountFinalizeRetries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count finalize retries")
	}
	snap.QueueDepth = depth

	if c.breaker != nil {
		snap.BreakerState = c.breaker.BreakerState().String()
	}
	return snap, nil
}

// SummarizeRuns adds the runs created after cutoff to snap.
func SummarizeRuns(snap *MetricsSnapshot, runs []model.PublishRun, cutoff time.Time) {
	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Kind {
		case model.PublishKindStage:
			snap.RunsStage++
		case model.PublishKindSegments:
			snap.RunsSegments++
		}

		switch r.Status {
		case model.PublishRunConfirmed:
			snap.RunsConfirmed++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
		case model.PublishRunFailed:
			snap.RunsFailed++
		case model.PublishRunFinalizeFailed:
			snap.RunsFinalizeFailed++
		default:
			snap.RunsInFlight++
		}
	}

	finished := snap.RunsConfirmed + snap.RunsFailed + snap.RunsFinalizeFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed+snap.RunsFinalizeFailed) / float64(finished)
	}
	if durCount > 0 {
		snap.AvgDurationSecs = totalDur.Seconds() / float64(durCount)
	}
}
