package monitoring

import (
	"context"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/publish"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/internal/store"
)

type mockStore struct {
	runs       []model.PublishRun
	queueDepth int
	listErr    error
	countErr   error
}

func (m *mockStore) ListPublishRuns(_ context.Context, filter store.RunFilter) ([]model.PublishRun, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.PublishRun
	for _, r := range m.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) CountFinalizeRetries(context.Context) (int, error) {
	return m.queueDepth, m.countErr
}

type fixedBreaker resilience.CircuitState

func (b fixedBreaker) BreakerState() resilience.CircuitState { return resilience.CircuitState(b) }

type mockDrainer struct {
	calls   []int
	summary publish.RetrySummary
	err     error
}

func (m *mockDrainer) RetryFinalize(_ context.Context, limit int) (publish.RetrySummary, error) {
	m.calls = append(m.calls, limit)
	return m.summary, m.err
}
