package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/internal/store"
	"github.com/keo-sports/stage-engine/pkg/finalizer"
)

// queueFailedPublish publishes with a failing finalizer and a clock in the
// past so the queued retry is already due.
func queueFailedPublish(t *testing.T, w *Workflow, fin *mockFinalizer) string {
	t.Helper()
	fin.On("Finalize", mock.Anything, mock.Anything).Return(errors.New("finalizer: rejected: busy")).Once()

	w.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	out, err := w.PublishStage(context.Background(), StageRequest{
		StageID: "st1",
		Entries: []Entry{{UserID: "A", OfficialTimeSeconds: 3650}},
	})
	require.Error(t, err)
	w.now = time.Now
	return out.RunID
}

func TestRetryFinalize_SuccessConfirmsRun(t *testing.T) {
	st := newTestStore(t)
	fin := &mockFinalizer{}
	w := New(st, fin, testOptions())
	runID := queueFailedPublish(t, w, fin)

	fin.On("Finalize", mock.Anything, mock.Anything).Return(nil).Once()
	sum, err := w.RetryFinalize(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Attempted: 1, Succeeded: 1}, sum)

	count, err := st.CountFinalizeRetries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	run, err := st.GetPublishRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.PublishRunConfirmed, run.Status)
	fin.AssertExpectations(t)
}

func TestRetryFinalize_FailureBacksOff(t *testing.T) {
	st := newTestStore(t)
	fin := &mockFinalizer{}
	w := New(st, fin, testOptions())
	queueFailedPublish(t, w, fin)

	fin.On("Finalize", mock.Anything, mock.Anything).Return(errors.New("finalizer: rejected: still busy")).Once()
	sum, err := w.RetryFinalize(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Attempted: 1, Failed: 1}, sum)

	due, err := st.DueFinalizeRetries(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "pushed into the future")

	count, err := st.CountFinalizeRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRetryFinalize_Exhausted(t *testing.T) {
	st := newTestStore(t)
	fin := &mockFinalizer{}
	opts := testOptions()
	opts.MaxQueueRetries = 1
	w := New(st, fin, opts)
	runID := queueFailedPublish(t, w, fin)

	fin.On("Finalize", mock.Anything, mock.Anything).Return(errors.New("finalizer: rejected: gone")).Once()
	sum, err := w.RetryFinalize(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Exhausted)

	run, err := st.GetPublishRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.PublishRunFinalizeFailed, run.Status)
	assert.Contains(t, run.Error, "retries exhausted")

	count, err := st.CountFinalizeRetries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "exhausted entries are not backlog")

	queued, err := st.StageFinalizeRetries(context.Background(), "st1")
	require.NoError(t, err)
	assert.Len(t, queued, 1, "kept as a dead letter")
}

func TestRetryFinalize_RepublishSupersedesQueuedCall(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fin := &mockFinalizer{}
	w := New(st, fin, testOptions())
	staleRun := queueFailedPublish(t, w, fin)

	var sent []finalizer.Request
	fin.On("Finalize", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = append(sent, args.Get(1).(finalizer.Request))
	}).Return(nil)

	out, err := w.PublishStage(ctx, StageRequest{
		StageID: "st1",
		Entries: []Entry{{UserID: "A", OfficialTimeSeconds: 3500}},
	})
	require.NoError(t, err)
	assert.True(t, out.Finalized)

	count, err := st.CountFinalizeRetries(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "covered call removed from the queue")

	sum, err := w.RetryFinalize(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{}, sum)

	rows, err := st.ListStageResults(ctx, "st1")
	require.NoError(t, err)
	stored := make(map[string]int, len(rows))
	for _, r := range rows {
		stored[r.ID] = r.TimeSeconds()
	}
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	require.Len(t, last.Results, 1)
	assert.Equal(t, 3500, last.Results[0].OfficialTimeSeconds)
	assert.Equal(t, stored[last.Results[0].ResultID], last.Results[0].OfficialTimeSeconds)

	run, err := st.GetPublishRun(ctx, staleRun)
	require.NoError(t, err)
	assert.Equal(t, model.PublishRunFinalizeFailed, run.Status)
}

func TestRetryFinalize_ReplaysCurrentRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fin := &mockFinalizer{}
	w := New(st, fin, testOptions())
	queueFailedPublish(t, w, fin)

	_, err := st.ApplyStagePublish(ctx, "st1", []store.StagePublishRow{{
		ID: "r1", UserID: "A", ElapsedTimeSeconds: 3400, OfficialTimeSeconds: 3400,
		Status: model.ResultStatusOfficial,
	}})
	require.NoError(t, err)

	fin.On("Finalize", mock.Anything, mock.MatchedBy(func(req finalizer.Request) bool {
		return len(req.Results) == 1 && req.Results[0].ResultID == "r1" && req.Results[0].OfficialTimeSeconds == 3400
	})).Return(nil).Once()

	sum, err := w.RetryFinalize(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Attempted: 1, Succeeded: 1}, sum)
	fin.AssertExpectations(t)
}

func TestPublishStage_RequeueKeepsOneCallPerResultSet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fin := &mockFinalizer{}
	w := New(st, fin, testOptions())
	queueFailedPublish(t, w, fin)

	fin.On("Finalize", mock.Anything, mock.Anything).Return(errors.New("finalizer: rejected: busy")).Twice()

	_, err := w.PublishStage(ctx, StageRequest{
		StageID: "st1",
		Entries: []Entry{{UserID: "B", OfficialTimeSeconds: 3550}},
	})
	require.True(t, eris.Is(err, ErrFinalize))
	queued, err := st.StageFinalizeRetries(ctx, "st1")
	require.NoError(t, err)
	assert.Len(t, queued, 2, "disjoint batches are both kept")

	_, err = w.PublishStage(ctx, StageRequest{
		StageID: "st1",
		Entries: []Entry{
			{UserID: "A", OfficialTimeSeconds: 3640},
			{UserID: "B", OfficialTimeSeconds: 3540},
		},
	})
	require.True(t, eris.Is(err, ErrFinalize))
	queued, err = st.StageFinalizeRetries(ctx, "st1")
	require.NoError(t, err)
	require.Len(t, queued, 1, "a batch covering both replaces them")

	var req finalizer.Request
	require.NoError(t, json.Unmarshal(queued[0].Payload, &req))
	assert.Len(t, req.Results, 2)
}

func TestRetryFinalize_StopsWhileCircuitOpen(t *testing.T) {
	st := newTestStore(t)
	fin := &mockFinalizer{}
	opts := testOptions()
	opts.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}
	w := New(st, fin, opts)
	queueFailedPublish(t, w, fin)
	assert.Equal(t, resilience.CircuitOpen, w.BreakerState())

	sum, err := w.RetryFinalize(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Attempted: 1, Failed: 1}, sum)
	fin.AssertNumberOfCalls(t, "Finalize", 1)

	due, err := st.DueFinalizeRetries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Zero(t, due[0].RetryCount, "open circuit does not spend a retry")
}

func TestRetryFinalize_DropsUnreadablePayload(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := &model.PublishRun{Kind: model.PublishKindStage, StageID: "st1", Status: model.PublishRunFinalizeFailed}
	require.NoError(t, st.CreatePublishRun(ctx, run))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, st.EnqueueFinalizeRetry(ctx, resilience.FinalizeRetry{
		RunID: run.ID, StageID: "st1", Payload: []byte(`not json`), MaxRetries: 3,
		NextRetryAt: past, CreatedAt: past, LastFailedAt: past,
	}))

	sum, err := New(st, &mockFinalizer{}, testOptions()).RetryFinalize(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Failed: 1}, sum)

	count, err := st.CountFinalizeRetries(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := st.GetPublishRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PublishRunFailed, got.Status)
}

func TestRetryFinalize_EmptyQueue(t *testing.T) {
	sum, err := New(newTestStore(t), &mockFinalizer{}, testOptions()).RetryFinalize(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{}, sum)

	runs, err := newTestStore(t).ListPublishRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
