// Package publish is the only mutating path of the engine. It moves a
// reviewer batch from pending to official, journals each run, and hands
// stage batches to the external finalizer exactly once.
package publish

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/internal/store"
	"github.com/keo-sports/stage-engine/pkg/finalizer"
)

var (
	// ErrValidation marks a request rejected before any write.
	ErrValidation = eris.New("publish: invalid request")

	// ErrFinalize marks a publish whose rows were written but whose
	// finalizer call failed. The call is queued for replay.
	ErrFinalize = eris.New("publish: finalizer failed")
)

// DefaultMaxQueueRetries bounds replays of a queued finalizer call.
const DefaultMaxQueueRetries = 5

// Options configures a Workflow. Zero values select defaults.
type Options struct {
	Scales          classification.ScaleTable
	Retry           resilience.RetryConfig
	Breaker         resilience.CircuitBreakerConfig
	MaxQueueRetries int
}

// Workflow publishes stage and segment results.
type Workflow struct {
	store     store.Store
	finalizer finalizer.Client
	scales    classification.ScaleTable
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker

	maxQueueRetries int
	now             func() time.Time
}

// New creates a Workflow. A nil finalizer skips the finalize step, which is
// only meant for local databases.
func New(st store.Store, fin finalizer.Client, opts Options) *Workflow {
	if len(opts.Scales.Categories()) == 0 {
		opts.Scales = classification.DefaultScaleTable()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Breaker.OnStateChange == nil {
		opts.Breaker.OnStateChange = resilience.StateLogger("finalizer")
	}
	if opts.MaxQueueRetries <= 0 {
		opts.MaxQueueRetries = DefaultMaxQueueRetries
	}
	return &Workflow{
		store:           st,
		finalizer:       fin,
		scales:          opts.Scales,
		retry:           opts.Retry,
		breaker:         resilience.NewCircuitBreaker(opts.Breaker),
		maxQueueRetries: opts.MaxQueueRetries,
		now:             time.Now,
	}
}

// BreakerState exposes the finalizer circuit state for health reporting.
func (w *Workflow) BreakerState() resilience.CircuitState {
	return w.breaker.State()
}

// finalize sends req through the circuit breaker with transient retries.
func (w *Workflow) finalize(ctx context.Context, req finalizer.Request) error {
	if w.finalizer == nil {
		zap.L().Warn("publish: no finalizer configured, skipping finalize",
			zap.String("stage_id", req.StageID))
		return nil
	}

	cfg := w.retry
	cfg.OnRetry = resilience.RetryLogger("finalize", zap.String("stage_id", req.StageID))

	return w.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, cfg, func(ctx context.Context) error {
			return w.finalizer.Finalize(ctx, req)
		})
	})
}

// startRun journals a new run in the writing state.
func (w *Workflow) startRun(ctx context.Context, kind model.PublishKind, stageID, segmentID string, rows int) (*model.PublishRun, error) {
	run := &model.PublishRun{
		Kind:      kind,
		StageID:   stageID,
		SegmentID: segmentID,
		Status:    model.PublishRunWriting,
		RowCount:  rows,
	}
	if err := w.store.CreatePublishRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "publish: create run")
	}
	return run, nil
}

// markRun moves a run forward. Journal failures are logged, not returned:
// by the time they happen the result rows are already written.
func (w *Workflow) markRun(ctx context.Context, run *model.PublishRun, status model.PublishRunStatus, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := w.store.UpdatePublishRun(ctx, run.ID, status, msg); err != nil {
		zap.L().Error("publish: update run",
			zap.String("run_id", run.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	run.Status, run.Error = status, msg
}
