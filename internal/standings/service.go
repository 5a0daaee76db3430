// Package standings serves the read side of the engine: stage lists with
// derived status, ranked stage results, the General and Mountain
// classifications and the segment review board. Every call reads fresh
// rows; nothing is cached.
package standings

import (
	"cmp"
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/store"
)

// ErrSocialEvent is returned for events that carry no stages or
// classifications.
var ErrSocialEvent = eris.New("standings: event has no classifications")

// Service reads standings through a Store.
type Service struct {
	store  store.Store
	scales classification.ScaleTable
}

// New creates a Service. A zero ScaleTable selects the defaults.
func New(st store.Store, scales classification.ScaleTable) *Service {
	if len(scales.Categories()) == 0 {
		scales = classification.DefaultScaleTable()
	}
	return &Service{store: st, scales: scales}
}

// StageRow is a stage with its derived review state.
type StageRow struct {
	model.Stage
	Summary classification.StageSummary `json:"summary"`
}

// RankedResult is a stage result with its elapsed-time rank and rider name.
type RankedResult struct {
	model.StageResult
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

// StageResultsView is the result list of one stage.
type StageResultsView struct {
	Stage   model.Stage                 `json:"stage"`
	Summary classification.StageSummary `json:"summary"`
	Results []RankedResult              `json:"results"`
}

// GCRow is a GC standing with display fields.
type GCRow struct {
	classification.GCStanding
	Name  string `json:"name"`
	Total string `json:"total"`
	Gap   string `json:"gap"`
}

// GCView is the General Classification of an event.
type GCView struct {
	EventID   string        `json:"event_id"`
	Stages    []model.Stage `json:"stages"`
	Standings []GCRow       `json:"standings"`
}

// KOMRow is a KOM standing with the rider name.
type KOMRow struct {
	classification.KOMStanding
	Name string `json:"name"`
}

// KOMView is the Mountain Classification of an event.
type KOMView struct {
	EventID   string   `json:"event_id"`
	Segments  int      `json:"segments"`
	Standings []KOMRow `json:"standings"`
}

// BoardView is the segment review board of one stage.
type BoardView struct {
	Stage  model.Stage                   `json:"stage"`
	Boards []classification.SegmentBoard `json:"boards"`
	Names  map[string]string             `json:"names"`
}

// EventStages lists the stages of an event in stage order with their
// derived status and counts.
func (s *Service) EventStages(ctx context.Context, eventID string) ([]StageRow, error) {
	var stages []model.Stage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.checkEvent(gctx, eventID) })
	g.Go(func() error {
		var err error
		stages, err = s.store.ListStages(gctx, eventID)
		return eris.Wrap(err, "standings: list stages")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := s.store.ListStageResults(ctx, stageIDs(stages)...)
	if err != nil {
		return nil, eris.Wrap(err, "standings: list stage results")
	}

	summaries := classification.SummarizeStages(stages, results)
	byID := make(map[string]model.Stage, len(stages))
	for _, st := range stages {
		byID[st.ID] = st
	}
	rows := make([]StageRow, len(summaries))
	for i, sum := range summaries {
		rows[i] = StageRow{Stage: byID[sum.StageID], Summary: sum}
	}
	return rows, nil
}

// StageResults returns a stage's results ranked by elapsed time.
func (s *Service) StageResults(ctx context.Context, stageID string) (*StageResultsView, error) {
	var (
		stage   *model.Stage
		results []model.StageResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stage, err = s.store.GetStage(gctx, stageID)
		return eris.Wrap(err, "standings: get stage")
	})
	g.Go(func() error {
		var err error
		results, err = s.store.ListStageResults(gctx, stageID)
		return eris.Wrap(err, "standings: list stage results")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b model.StageResult) int {
		if c := cmp.Compare(a.ElapsedTimeSeconds, b.ElapsedTimeSeconds); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	users := make([]string, len(results))
	for i, r := range results {
		users[i] = r.UserID
	}
	names, err := s.names(ctx, users)
	if err != nil {
		return nil, err
	}

	view := &StageResultsView{
		Stage:   *stage,
		Summary: classification.DeriveStageStatus(results),
		Results: make([]RankedResult, len(results)),
	}
	view.Summary.StageID = stage.ID
	for i, r := range results {
		view.Results[i] = RankedResult{StageResult: r, Rank: i + 1, Name: names[r.UserID]}
	}
	return view, nil
}

// GeneralClassification builds the GC of an event, registered
// participants without results included.
func (s *Service) GeneralClassification(ctx context.Context, eventID string) (*GCView, error) {
	var (
		stages       []model.Stage
		participants []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.checkEvent(gctx, eventID) })
	g.Go(func() error {
		var err error
		stages, err = s.store.ListStages(gctx, eventID)
		return eris.Wrap(err, "standings: list stages")
	})
	g.Go(func() error {
		var err error
		participants, err = s.store.ListParticipants(gctx, eventID)
		return eris.Wrap(err, "standings: list participants")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := s.store.ListStageResults(ctx, stageIDs(stages)...)
	if err != nil {
		return nil, eris.Wrap(err, "standings: list stage results")
	}

	gc := classification.BuildGC(stages, results, participants)
	users := make([]string, len(gc))
	for i, st := range gc {
		users[i] = st.UserID
	}
	names, err := s.names(ctx, users)
	if err != nil {
		return nil, err
	}

	view := &GCView{EventID: eventID, Stages: stages, Standings: make([]GCRow, len(gc))}
	slices.SortStableFunc(view.Stages, func(a, b model.Stage) int {
		if c := cmp.Compare(a.StageOrder, b.StageOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for i, st := range gc {
		view.Standings[i] = GCRow{
			GCStanding: st,
			Name:       names[st.UserID],
			Total:      classification.FormatTotal(st),
			Gap:        classification.FormatGap(st),
		}
	}
	return view, nil
}

// KOMClassification builds the Mountain Classification of an event.
func (s *Service) KOMClassification(ctx context.Context, eventID string) (*KOMView, error) {
	var segments []model.Segment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.checkEvent(gctx, eventID) })
	g.Go(func() error {
		var err error
		segments, err = s.store.ListEventSegments(gctx, eventID)
		return eris.Wrap(err, "standings: list event segments")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := s.store.ListSegmentResults(ctx, segmentIDs(segments)...)
	if err != nil {
		return nil, eris.Wrap(err, "standings: list segment results")
	}

	kom := classification.BuildKOM(segments, results)
	users := make([]string, len(kom))
	for i, st := range kom {
		users[i] = st.UserID
	}
	names, err := s.names(ctx, users)
	if err != nil {
		return nil, err
	}

	view := &KOMView{EventID: eventID, Segments: len(segments), Standings: make([]KOMRow, len(kom))}
	for i, st := range kom {
		view.Standings[i] = KOMRow{KOMStanding: st, Name: names[st.UserID]}
	}
	return view, nil
}

// StageSegmentBoard returns every segment of a stage with its results in
// finish order. Pending rows carry provisional positions and points.
func (s *Service) StageSegmentBoard(ctx context.Context, stageID string) (*BoardView, error) {
	var (
		stage    *model.Stage
		segments []model.Segment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stage, err = s.store.GetStage(gctx, stageID)
		return eris.Wrap(err, "standings: get stage")
	})
	g.Go(func() error {
		var err error
		segments, err = s.store.ListSegments(gctx, stageID)
		return eris.Wrap(err, "standings: list segments")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := s.store.ListSegmentResults(ctx, segmentIDs(segments)...)
	if err != nil {
		return nil, eris.Wrap(err, "standings: list segment results")
	}

	users := make([]string, len(results))
	for i, r := range results {
		users[i] = r.UserID
	}
	names, err := s.names(ctx, users)
	if err != nil {
		return nil, err
	}

	return &BoardView{
		Stage:  *stage,
		Boards: classification.GroupBySegment(segments, results, s.scales),
		Names:  names,
	}, nil
}

func (s *Service) checkEvent(ctx context.Context, eventID string) error {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return eris.Wrap(err, "standings: get event")
	}
	if !ev.HasClassifications() {
		return eris.Wrapf(ErrSocialEvent, "event %s", eventID)
	}
	return nil
}

// names resolves display names, falling back to "Unknown" for users
// without a profile.
func (s *Service) names(ctx context.Context, users []string) (map[string]string, error) {
	users = slices.Compact(slices.Sorted(slices.Values(users)))
	profiles, err := s.store.GetProfiles(ctx, users...)
	if err != nil {
		return nil, eris.Wrap(err, "standings: get profiles")
	}
	names := make(map[string]string, len(users))
	for _, id := range users {
		names[id] = profiles[id].DisplayName()
	}
	return names, nil
}

func stageIDs(stages []model.Stage) []string {
	ids := make([]string, len(stages))
	for i, st := range stages {
		ids[i] = st.ID
	}
	return ids
}

func segmentIDs(segments []model.Segment) []string {
	ids := make([]string, len(segments))
	for i, seg := range segments {
		ids[i] = seg.ID
	}
	return ids
}
