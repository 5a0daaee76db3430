package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/keo-sports/stage-engine/internal/publish"
	"github.com/keo-sports/stage-engine/internal/standings"
)

type mockStandings struct {
	mock.Mock
}

func (m *mockStandings) EventStages(ctx context.Context, eventID string) ([]standings.StageRow, error) {
	args := m.Called(ctx, eventID)
	rows, _ := args.Get(0).([]standings.StageRow)
	return rows, args.Error(1)
}

func (m *mockStandings) StageResults(ctx context.Context, stageID string) (*standings.StageResultsView, error) {
	args := m.Called(ctx, stageID)
	v, _ := args.Get(0).(*standings.StageResultsView)
	return v, args.Error(1)
}

func (m *mockStandings) GeneralClassification(ctx context.Context, eventID string) (*standings.GCView, error) {
	args := m.Called(ctx, eventID)
	v, _ := args.Get(0).(*standings.GCView)
	return v, args.Error(1)
}

func (m *mockStandings) KOMClassification(ctx context.Context, eventID string) (*standings.KOMView, error) {
	args := m.Called(ctx, eventID)
	v, _ := args.Get(0).(*standings.KOMView)
	return v, args.Error(1)
}

func (m *mockStandings) StageSegmentBoard(ctx context.Context, stageID string) (*standings.BoardView, error) {
	args := m.Called(ctx, stageID)
	v, _ := args.Get(0).(*standings.BoardView)
	return v, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishStage(ctx context.Context, req publish.StageRequest) (*publish.StageOutcome, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*publish.StageOutcome)
	return out, args.Error(1)
}

func (m *mockPublisher) PublishSegments(ctx context.Context, req publish.SegmentRequest) (*publish.SegmentOutcome, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*publish.SegmentOutcome)
	return out, args.Error(1)
}

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
