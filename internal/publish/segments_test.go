package publish

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/store"
)

func TestPublishSegments_RanksByElapsedTime(t *testing.T) {
	st := newTestStore(t)
	fin := &mockFinalizer{}
	w := New(st, fin, testOptions())

	out, err := w.PublishSegments(context.Background(), SegmentRequest{StageID: "st1", SegmentID: "seg1"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Rows)
	require.Len(t, out.Boards, 1)
	assert.Equal(t, []int{5, 3, 2, 1}, out.Boards[0].Scale)
	fin.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything)

	results, err := st.ListSegmentResults(context.Background(), "seg1")
	require.NoError(t, err)
	got := map[string][2]int{}
	for _, r := range results {
		assert.Equal(t, model.ResultStatusOfficial, r.Status)
		got[r.UserID] = [2]int{*r.Position, *r.PointsEarned}
	}
	assert.Equal(t, map[string][2]int{
		"B": {1, 5},
		"C": {2, 3},
		"A": {3, 2},
	}, got)

	other, err := st.ListSegmentResults(context.Background(), "seg2")
	require.NoError(t, err)
	assert.Nil(t, other[0].Position, "other segments untouched")

	run, err := st.GetPublishRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.PublishKindSegments, run.Kind)
	assert.Equal(t, model.PublishRunConfirmed, run.Status)
}

func TestPublishSegments_AllSegmentsUseAuthoredScale(t *testing.T) {
	st := newTestStore(t)
	w := New(st, nil, testOptions())

	out, err := w.PublishSegments(context.Background(), SegmentRequest{StageID: "st1"})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Rows)
	require.Len(t, out.Boards, 2)
	assert.Equal(t, "seg2", out.Boards[1].Segment.ID)
	assert.Equal(t, 9, *out.Boards[1].Results[0].PointsEarned)
}

func TestPublishSegments_DiscardsManualPositions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.ApplySegmentPublish(ctx, []store.SegmentPublishRow{
		{ID: "e1", Position: 1, PointsEarned: 5, Status: model.ResultStatusPending},
	})
	require.NoError(t, err)

	_, err = New(st, nil, testOptions()).PublishSegments(ctx, SegmentRequest{StageID: "st1", SegmentID: "seg1"})
	require.NoError(t, err)

	results, err := st.ListSegmentResults(ctx, "seg1")
	require.NoError(t, err)
	for _, r := range results {
		if r.ID == "e1" {
			assert.Equal(t, 3, *r.Position)
			assert.Equal(t, 2, *r.PointsEarned)
		}
	}
}

func TestPublishSegments_Errors(t *testing.T) {
	st := newTestStore(t)
	w := New(st, nil, testOptions())
	ctx := context.Background()

	_, err := w.PublishSegments(ctx, SegmentRequest{})
	assert.True(t, eris.Is(err, ErrValidation))

	_, err = w.PublishSegments(ctx, SegmentRequest{StageID: "st1", SegmentID: "nope"})
	assert.True(t, eris.Is(err, store.ErrNotFound))

	_, err = w.PublishSegments(ctx, SegmentRequest{StageID: "st2"})
	assert.True(t, eris.Is(err, ErrValidation), "stage without segments")

	_, err = w.PublishSegments(ctx, SegmentRequest{StageID: "missing"})
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestPublishSegments_WriteFailureMarksRunFailed(t *testing.T) {
	st := newTestStore(t)

	_, err := New(failingStore{st}, nil, testOptions()).
		PublishSegments(context.Background(), SegmentRequest{StageID: "st1"})
	require.Error(t, err)

	runs, err := st.ListPublishRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.PublishRunFailed, runs[0].Status)

	results, err := st.ListSegmentResults(context.Background(), "seg1")
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, model.ResultStatusPending, r.Status)
	}
}
