package publish

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/internal/store"
	"github.com/keo-sports/stage-engine/pkg/finalizer"
)

// --- Finalizer Mock ---

type mockFinalizer struct {
	mock.Mock
}

func (m *mockFinalizer) Finalize(ctx context.Context, req finalizer.Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// --- Store helpers ---

// failingStore fails the publish writes of an otherwise real store.
type failingStore struct {
	*store.SQLiteStore
}

func (f failingStore) ApplyStagePublish(context.Context, string, []store.StagePublishRow) ([]model.StageResult, error) {
	return nil, eris.New("sqlite: disk I/O error")
}

func (f failingStore) ApplySegmentPublish(context.Context, []store.SegmentPublishRow) (int, error) {
	return 0, eris.New("sqlite: disk I/O error")
}

func raceFixture() store.Fixture {
	return store.Fixture{
		Events: []model.Event{{ID: "ev1", Name: "Volta", Mode: model.EventModeCompetitive}},
		Stages: []model.Stage{
			{ID: "st1", EventID: "ev1", Name: "Stage 1", StageOrder: 1},
			{ID: "st2", EventID: "ev1", Name: "Stage 2", StageOrder: 2},
		},
		Segments: []model.Segment{
			{ID: "seg1", StageID: "st1", Name: "Serra", Category: model.CategoryCat4, SegmentOrder: 1},
			{ID: "seg2", StageID: "st1", Name: "Torre", Category: model.CategoryHC, PointsScale: []int{9, 1}, SegmentOrder: 2},
		},
		StageResults: []model.StageResult{
			{ID: "r1", StageID: "st1", UserID: "A", ElapsedTimeSeconds: 3700},
			{ID: "r2", StageID: "st1", UserID: "B", ElapsedTimeSeconds: 3600},
		},
		SegmentResults: []model.SegmentResult{
			{ID: "e1", SegmentID: "seg1", StageID: "st1", UserID: "A", ElapsedTimeSeconds: 100},
			{ID: "e2", SegmentID: "seg1", StageID: "st1", UserID: "B", ElapsedTimeSeconds: 90},
			{ID: "e3", SegmentID: "seg1", StageID: "st1", UserID: "C", ElapsedTimeSeconds: 95},
			{ID: "e4", SegmentID: "seg2", StageID: "st1", UserID: "A", ElapsedTimeSeconds: 300},
		},
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "publish.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Load(ctx, raceFixture()))
	return st
}

func testOptions() Options {
	return Options{
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	}
}
