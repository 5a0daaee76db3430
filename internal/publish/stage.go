package publish

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/internal/store"
	"github.com/keo-sports/stage-engine/pkg/finalizer"
)

// Entry is one reviewer-entered stage result. ResultID is optional; when
// set it must name the existing row of the same stage and user.
type Entry struct {
	ResultID            string             `json:"result_id,omitempty"`
	UserID              string             `json:"user_id"`
	OfficialTimeSeconds int                `json:"official_time_seconds"`
	MountainPoints      int                `json:"mountain_points"`
	Status              model.ResultStatus `json:"status,omitempty"`
}

// StageRequest publishes a batch of results for one stage.
type StageRequest struct {
	StageID string  `json:"stage_id"`
	Entries []Entry `json:"entries"`
}

// StageOutcome reports what a stage publish wrote.
type StageOutcome struct {
	RunID     string              `json:"run_id"`
	StageID   string              `json:"stage_id"`
	Created   int                 `json:"created"`
	Updated   int                 `json:"updated"`
	Results   []model.StageResult `json:"results"`
	Finalized bool                `json:"finalized"`
}

// PublishStage validates req, upserts every entry atomically, then calls
// the finalizer once with the full written batch. When the finalizer fails
// the rows stay official, the call is queued for replay and the outcome is
// returned together with an ErrFinalize error.
func (w *Workflow) PublishStage(ctx context.Context, req StageRequest) (*StageOutcome, error) {
	log := zap.L().With(zap.String("stage_id", req.StageID), zap.Int("entries", len(req.Entries)))

	if req.StageID == "" {
		return nil, eris.Wrap(ErrValidation, "stage id is required")
	}
	if _, err := w.store.GetStage(ctx, req.StageID); err != nil {
		return nil, eris.Wrap(err, "publish: get stage")
	}
	existing, err := w.store.ListStageResults(ctx, req.StageID)
	if err != nil {
		return nil, eris.Wrap(err, "publish: list stage results")
	}

	rows, created, err := stageRows(req, existing)
	if err != nil {
		return nil, err
	}

	run, err := w.startRun(ctx, model.PublishKindStage, req.StageID, "", len(rows))
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("publish: writing stage results", zap.Int("created", created))

	stored, err := w.store.ApplyStagePublish(ctx, req.StageID, rows)
	if err != nil {
		w.markRun(ctx, run, model.PublishRunFailed, err)
		return nil, eris.Wrapf(err, "publish: write stage %s", req.StageID)
	}
	w.markRun(ctx, run, model.PublishRunWritten, nil)

	out := &StageOutcome{
		RunID:   run.ID,
		StageID: req.StageID,
		Created: created,
		Updated: len(rows) - created,
		Results: stored,
	}

	freq := finalizeRequest(req.StageID, stored)
	if err := w.finalize(ctx, freq); err != nil {
		log.Error("publish: finalize failed, queued for retry", zap.Error(err))
		w.supersedeQueued(ctx, freq)
		w.queueFinalize(ctx, run, freq, err)
		w.markRun(ctx, run, model.PublishRunFinalizeFailed, err)
		return out, eris.Wrapf(ErrFinalize, "stage %s: %v", req.StageID, err)
	}

	w.markRun(ctx, run, model.PublishRunConfirmed, nil)
	out.Finalized = true
	if n := w.supersedeQueued(ctx, freq); n > 0 {
		log.Info("publish: dropped superseded finalize retries", zap.Int("count", n))
	}
	log.Info("publish: stage results official", zap.Int("updated", out.Updated))
	return out, nil
}

// stageRows checks every entry and resolves it to an upsert row. It also
// returns how many rows will be created.
func stageRows(req StageRequest, existing []model.StageResult) ([]store.StagePublishRow, int, error) {
	if len(req.Entries) == 0 {
		return nil, 0, eris.Wrap(ErrValidation, "no entries to publish")
	}

	byUser := make(map[string]model.StageResult, len(existing))
	for _, r := range existing {
		byUser[r.UserID] = r
	}

	seen := make(map[string]bool, len(req.Entries))
	rows := make([]store.StagePublishRow, 0, len(req.Entries))
	created := 0
	for i, e := range req.Entries {
		status := e.Status
		if status == "" {
			status = model.ResultStatusOfficial
		}
		switch {
		case e.UserID == "":
			return nil, 0, eris.Wrapf(ErrValidation, "entry %d: user id is required", i+1)
		case seen[e.UserID]:
			return nil, 0, eris.Wrapf(ErrValidation, "entry %d: duplicate user %s", i+1, e.UserID)
		case e.OfficialTimeSeconds <= 0:
			return nil, 0, eris.Wrapf(ErrValidation, "entry %d: official time must be positive", i+1)
		case e.MountainPoints < 0:
			return nil, 0, eris.Wrapf(ErrValidation, "entry %d: mountain points must not be negative", i+1)
		case status != model.ResultStatusOfficial && status != model.ResultStatusDQ:
			return nil, 0, eris.Wrapf(ErrValidation, "entry %d: status %q cannot be published", i+1, status)
		}
		seen[e.UserID] = true

		row := store.StagePublishRow{
			UserID:                 e.UserID,
			ElapsedTimeSeconds:     e.OfficialTimeSeconds,
			MountainPoints:         e.MountainPoints,
			OfficialTimeSeconds:    e.OfficialTimeSeconds,
			OfficialMountainPoints: e.MountainPoints,
			Status:                 status,
		}
		if cur, ok := byUser[e.UserID]; ok {
			if e.ResultID != "" && e.ResultID != cur.ID {
				return nil, 0, eris.Wrapf(ErrValidation, "entry %d: result %s does not belong to user %s", i+1, e.ResultID, e.UserID)
			}
			row.ID = cur.ID
		} else {
			if e.ResultID != "" {
				return nil, 0, eris.Wrapf(ErrValidation, "entry %d: result %s not found in stage", i+1, e.ResultID)
			}
			row.ID = uuid.New().String()
			created++
		}
		rows = append(rows, row)
	}
	return rows, created, nil
}

func finalizeRequest(stageID string, stored []model.StageResult) finalizer.Request {
	req := finalizer.Request{StageID: stageID, Results: make([]finalizer.ResultPayload, len(stored))}
	for i, r := range stored {
		req.Results[i] = finalizer.ResultPayload{
			ResultID:            r.ID,
			OfficialTimeSeconds: r.TimeSeconds(),
			MountainPoints:      r.Points(),
			Status:              string(r.Status),
		}
	}
	return req
}

// queueFinalize persists a failed finalizer call for RetryFinalize.
func (w *Workflow) queueFinalize(ctx context.Context, run *model.PublishRun, req finalizer.Request, cause error) {
	payload, err := json.Marshal(req)
	if err != nil {
		zap.L().Error("publish: marshal finalize request", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	now := w.now().UTC()
	entry := resilience.FinalizeRetry{
		RunID:        run.ID,
		StageID:      req.StageID,
		Payload:      payload,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		MaxRetries:   w.maxQueueRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	entry.NextRetryAt = now.Add(entry.NextRetryDelay())
	if err := w.store.EnqueueFinalizeRetry(ctx, entry); err != nil {
		zap.L().Error("publish: enqueue finalize retry", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// supersedeQueued removes the queued finalizer calls of req's stage whose
// results are all part of req, and returns how many it removed. Calls that
// also carry other results stay queued. Unreadable payloads are left for
// RetryFinalize to drop.
func (w *Workflow) supersedeQueued(ctx context.Context, req finalizer.Request) int {
	log := zap.L().With(zap.String("stage_id", req.StageID))

	queued, err := w.store.StageFinalizeRetries(ctx, req.StageID)
	if err != nil {
		log.Error("publish: list queued finalize retries", zap.Error(err))
		return 0
	}

	covered := make(map[string]bool, len(req.Results))
	for _, r := range req.Results {
		covered[r.ResultID] = true
	}

	removed := 0
	for _, e := range queued {
		var old finalizer.Request
		if err := json.Unmarshal(e.Payload, &old); err != nil {
			continue
		}
		if !slices.ContainsFunc(old.Results, func(r finalizer.ResultPayload) bool { return !covered[r.ResultID] }) {
			if err := w.store.RemoveFinalizeRetry(ctx, e.ID); err != nil {
				log.Error("publish: remove superseded finalize retry", zap.String("retry_id", e.ID), zap.Error(err))
				continue
			}
			log.Debug("publish: finalize retry superseded", zap.String("retry_id", e.ID), zap.String("run_id", e.RunID))
			removed++
		}
	}
	return removed
}
