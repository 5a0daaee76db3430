package publish

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/store"
)

// SegmentRequest publishes the KOM results of a stage. An empty SegmentID
// publishes every segment of the stage.
type SegmentRequest struct {
	StageID   string `json:"stage_id"`
	SegmentID string `json:"segment_id,omitempty"`
}

// SegmentOutcome reports the rankings a segment publish wrote.
type SegmentOutcome struct {
	RunID   string                        `json:"run_id"`
	StageID string                        `json:"stage_id"`
	Rows    int                           `json:"rows"`
	Boards  []classification.SegmentBoard `json:"boards"`
}

// PublishSegments re-ranks every result of the selected segments by
// elapsed time, assigns points from the resolved scale and marks the rows
// official in one atomic write. Manually edited positions are discarded.
func (w *Workflow) PublishSegments(ctx context.Context, req SegmentRequest) (*SegmentOutcome, error) {
	log := zap.L().With(zap.String("stage_id", req.StageID), zap.String("segment_id", req.SegmentID))

	if req.StageID == "" {
		return nil, eris.Wrap(ErrValidation, "stage id is required")
	}
	if _, err := w.store.GetStage(ctx, req.StageID); err != nil {
		return nil, eris.Wrap(err, "publish: get stage")
	}

	segments, err := w.store.ListSegments(ctx, req.StageID)
	if err != nil {
		return nil, eris.Wrap(err, "publish: list segments")
	}
	segments, err = selectSegments(segments, req)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(segments))
	for i, s := range segments {
		ids[i] = s.ID
	}
	results, err := w.store.ListSegmentResults(ctx, ids...)
	if err != nil {
		return nil, eris.Wrap(err, "publish: list segment results")
	}

	var rows []store.SegmentPublishRow
	boards := make([]classification.SegmentBoard, 0, len(segments))
	for _, seg := range segments {
		ranked := classification.RankSegment(seg, results, w.scales)
		for i := range ranked {
			ranked[i].Status = model.ResultStatusOfficial
			rows = append(rows, store.SegmentPublishRow{
				ID:           ranked[i].ID,
				Position:     *ranked[i].Position,
				PointsEarned: *ranked[i].PointsEarned,
				Status:       model.ResultStatusOfficial,
			})
		}
		boards = append(boards, classification.SegmentBoard{
			Segment: seg,
			Scale:   w.scales.Resolve(seg),
			Results: ranked,
		})
	}
	if len(rows) == 0 {
		return nil, eris.Wrap(ErrValidation, "no segment results to publish")
	}

	run, err := w.startRun(ctx, model.PublishKindSegments, req.StageID, req.SegmentID, len(rows))
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", run.ID))

	n, err := w.store.ApplySegmentPublish(ctx, rows)
	if err != nil {
		w.markRun(ctx, run, model.PublishRunFailed, err)
		return nil, eris.Wrapf(err, "publish: write segments of stage %s", req.StageID)
	}
	w.markRun(ctx, run, model.PublishRunConfirmed, nil)
	log.Info("publish: segment results official", zap.Int("rows", n), zap.Int("segments", len(segments)))

	return &SegmentOutcome{RunID: run.ID, StageID: req.StageID, Rows: n, Boards: boards}, nil
}

func selectSegments(segments []model.Segment, req SegmentRequest) ([]model.Segment, error) {
	if req.SegmentID == "" {
		if len(segments) == 0 {
			return nil, eris.Wrapf(ErrValidation, "stage %s has no segments", req.StageID)
		}
		return segments, nil
	}
	for _, s := range segments {
		if s.ID == req.SegmentID {
			return []model.Segment{s}, nil
		}
	}
	return nil, eris.Wrapf(store.ErrNotFound, "segment %s in stage %s", req.SegmentID, req.StageID)
}
