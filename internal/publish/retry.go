package publish

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/pkg/finalizer"
)

// RetrySummary counts what one drain of the finalize queue did.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// RetryFinalize replays up to limit due finalizer calls, each rebuilt from
// the stage's current rows. A success removes the queue entry and confirms
// its publish run; a failure pushes the entry back with a longer delay until
// its retries are spent. Draining stops early while the finalizer circuit
// is open.
func (w *Workflow) RetryFinalize(ctx context.Context, limit int) (RetrySummary, error) {
	var sum RetrySummary

	entries, err := w.store.DueFinalizeRetries(ctx, limit)
	if err != nil {
		return sum, eris.Wrap(err, "publish: load due finalize retries")
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return sum, eris.Wrap(ctx.Err(), "publish: retry drain cancelled")
		}
		log := zap.L().With(zap.String("retry_id", e.ID), zap.String("run_id", e.RunID),
			zap.String("stage_id", e.StageID), zap.Int("retry_count", e.RetryCount))

		var req finalizer.Request
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			log.Error("publish: dropping unreadable finalize payload", zap.Error(err))
			w.dropRetry(ctx, e, model.PublishRunFailed, eris.Wrap(err, "publish: decode queued payload"))
			sum.Failed++
			continue
		}

		req, err := w.currentRequest(ctx, req)
		if err != nil {
			return sum, err
		}
		if len(req.Results) == 0 {
			log.Warn("publish: queued finalize has no stored results left")
			w.dropRetry(ctx, e, model.PublishRunFailed, eris.New("publish: queued results no longer stored"))
			sum.Failed++
			continue
		}

		sum.Attempted++
		ferr := w.finalize(ctx, req)
		if ferr == nil {
			if err := w.store.RemoveFinalizeRetry(ctx, e.ID); err != nil {
				log.Error("publish: remove finalize retry", zap.Error(err))
			}
			w.markRun(ctx, &model.PublishRun{ID: e.RunID}, model.PublishRunConfirmed, nil)
			sum.Succeeded++
			log.Info("publish: queued finalize succeeded")
			continue
		}

		sum.Failed++
		if eris.Is(ferr, resilience.ErrCircuitOpen) {
			log.Warn("publish: finalizer circuit open, stopping drain")
			return sum, nil
		}

		next := e
		next.RetryCount++
		if !next.CanRetry() {
			sum.Exhausted++
			log.Error("publish: finalize retries exhausted", zap.Error(ferr))
			w.markRun(ctx, &model.PublishRun{ID: e.RunID}, model.PublishRunFinalizeFailed,
				eris.Wrapf(ferr, "retries exhausted after %d attempts", next.RetryCount))
		} else {
			log.Warn("publish: queued finalize failed again", zap.Error(ferr))
		}
		nextAt := w.now().UTC().Add(next.NextRetryDelay())
		if err := w.store.IncrementFinalizeRetry(ctx, e.ID, nextAt, ferr.Error()); err != nil {
			log.Error("publish: increment finalize retry", zap.Error(err))
		}
	}
	return sum, nil
}

// currentRequest rebuilds a queued call from the stage's stored rows, so a
// replay sends the latest official values. Results that are no longer
// stored are left out.
func (w *Workflow) currentRequest(ctx context.Context, queued finalizer.Request) (finalizer.Request, error) {
	rows, err := w.store.ListStageResults(ctx, queued.StageID)
	if err != nil {
		return queued, eris.Wrapf(err, "publish: reload stage %s for retry", queued.StageID)
	}
	byID := make(map[string]model.StageResult, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	current := make([]model.StageResult, 0, len(queued.Results))
	for _, r := range queued.Results {
		if row, ok := byID[r.ResultID]; ok {
			current = append(current, row)
		}
	}
	return finalizeRequest(queued.StageID, current), nil
}

func (w *Workflow) dropRetry(ctx context.Context, e resilience.FinalizeRetry, status model.PublishRunStatus, cause error) {
	if err := w.store.RemoveFinalizeRetry(ctx, e.ID); err != nil {
		zap.L().Error("publish: remove finalize retry", zap.String("retry_id", e.ID), zap.Error(err))
	}
	w.markRun(ctx, &model.PublishRun{ID: e.RunID}, status, cause)
}
