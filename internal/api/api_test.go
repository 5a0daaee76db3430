package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/publish"
	"github.com/keo-sports/stage-engine/internal/standings"
	"github.com/keo-sports/stage-engine/internal/store"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, role string, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "reviewer-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

type fixture struct {
	standings *mockStandings
	publisher *mockPublisher
	pinger    *mockPinger
	handler   http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		standings: &mockStandings{},
		publisher: &mockPublisher{},
		pinger:    &mockPinger{},
	}
	f.handler = NewRouter(Deps{
		Standings: f.standings,
		Publisher: f.publisher,
		Health:    f.pinger,
	}, Options{JWTSecret: testSecret, CORSOrigins: []string{"https://tour.example"}})
	return f
}

func do(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newFixture()
		f.pinger.On("Ping", mock.Anything).Return(nil)

		w := do(f.handler, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
	})

	t.Run("store down", func(t *testing.T) {
		f := newFixture()
		f.pinger.On("Ping", mock.Anything).Return(eris.New("connection refused"))

		w := do(f.handler, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestReadRoutes(t *testing.T) {
	f := newFixture()
	f.standings.On("EventStages", mock.Anything, "ev1").Return([]standings.StageRow{
		{Stage: model.Stage{ID: "st1"}, Summary: classification.StageSummary{StageID: "st1", Status: model.StageStatusPending}},
	}, nil)
	f.standings.On("GeneralClassification", mock.Anything, "ev1").Return(&standings.GCView{EventID: "ev1"}, nil)
	f.standings.On("KOMClassification", mock.Anything, "ev1").Return(&standings.KOMView{EventID: "ev1", Segments: 2}, nil)
	f.standings.On("StageResults", mock.Anything, "st1").Return(&standings.StageResultsView{Stage: model.Stage{ID: "st1"}}, nil)
	f.standings.On("StageSegmentBoard", mock.Anything, "st1").Return(&standings.BoardView{Stage: model.Stage{ID: "st1"}}, nil)

	tests := []struct {
		path string
		key  string
		want any
	}{
		{"/events/ev1/stages", "event_id", "ev1"},
		{"/events/ev1/gc", "event_id", "ev1"},
		{"/events/ev1/kom", "segments", float64(2)},
		{"/stages/st1/results", "stage", map[string]any{"id": "st1", "event_id": "", "name": "", "stage_order": float64(0), "date": "0001-01-01T00:00:00Z"}},
		{"/stages/st1/segments", "boards", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(f.handler, http.MethodGet, tt.path, "", nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			body := decode[map[string]any](t, w)
			assert.Equal(t, tt.want, body[tt.key])
		})
	}
	f.standings.AssertExpectations(t)
}

func TestReadRoutes_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", eris.Wrap(store.ErrNotFound, "standings: get stage"), http.StatusNotFound},
		{"social event", standings.ErrSocialEvent, http.StatusNotFound},
		{"validation", eris.Wrap(publish.ErrValidation, "bad"), http.StatusBadRequest},
		{"internal", eris.New("postgres: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.standings.On("GeneralClassification", mock.Anything, "ev1").Return(nil, tt.err)

			w := do(f.handler, http.MethodGet, "/events/ev1/gc", "", nil)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", decode[errorBody](t, w).Error)
			}
		})
	}
}

func TestPublishStage_Auth(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "other", RoleReviewer, time.Hour), http.StatusUnauthorized},
		{"expired", signToken(t, testSecret, RoleReviewer, -time.Minute), http.StatusUnauthorized},
		{"rider role", signToken(t, testSecret, "rider", time.Hour), http.StatusForbidden},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := do(f.handler, http.MethodPost, "/stages/st1/publish", tt.token, publishStageBody{})
			assert.Equal(t, tt.want, w.Code)
			f.publisher.AssertNotCalled(t, "PublishStage", mock.Anything, mock.Anything)
		})
	}
}

func TestPublishStage_NoSecretConfigured(t *testing.T) {
	h := NewRouter(Deps{Publisher: &mockPublisher{}}, Options{})
	w := do(h, http.MethodPost, "/stages/st1/publish", "anything", publishStageBody{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPublishStage(t *testing.T) {
	f := newFixture()
	want := publish.StageRequest{
		StageID: "st1",
		Entries: []publish.Entry{
			{UserID: "A", OfficialTimeSeconds: 3725, MountainPoints: 5, Status: model.ResultStatusOfficial},
			{UserID: "B", ResultID: "r2", OfficialTimeSeconds: 3600},
		},
	}
	f.publisher.On("PublishStage", mock.Anything, want).
		Return(&publish.StageOutcome{RunID: "run1", StageID: "st1", Created: 1, Updated: 1, Finalized: true}, nil)

	body := publishStageBody{Entries: []entryBody{
		{UserID: "A", OfficialTime: "01:02:05", MountainPoints: 5, Status: model.ResultStatusOfficial},
		{UserID: "B", ResultID: "r2", OfficialTimeSeconds: 3600},
	}}
	w := do(f.handler, http.MethodPost, "/stages/st1/publish", signToken(t, testSecret, RoleAdmin, time.Hour), body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[publish.StageOutcome](t, w)
	assert.Equal(t, "run1", out.RunID)
	assert.True(t, out.Finalized)
	f.publisher.AssertExpectations(t)
}

func TestPublishStage_BadClock(t *testing.T) {
	f := newFixture()
	body := publishStageBody{Entries: []entryBody{{UserID: "A", OfficialTime: "1:75:00"}}}
	w := do(f.handler, http.MethodPost, "/stages/st1/publish", signToken(t, testSecret, RoleReviewer, time.Hour), body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Error, "entry 1")
	f.publisher.AssertNotCalled(t, "PublishStage", mock.Anything, mock.Anything)
}

func TestPublishStage_InvalidBody(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/stages/st1/publish", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, RoleReviewer, time.Hour))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishStage_ErrorMapping(t *testing.T) {
	token := signToken(t, testSecret, RoleReviewer, time.Hour)

	t.Run("validation", func(t *testing.T) {
		f := newFixture()
		f.publisher.On("PublishStage", mock.Anything, mock.Anything).
			Return(nil, eris.Wrap(publish.ErrValidation, "duplicate user A"))
		w := do(f.handler, http.MethodPost, "/stages/st1/publish", token, publishStageBody{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[errorBody](t, w).Error, "duplicate user A")
	})

	t.Run("unknown stage", func(t *testing.T) {
		f := newFixture()
		f.publisher.On("PublishStage", mock.Anything, mock.Anything).
			Return(nil, eris.Wrap(store.ErrNotFound, "publish: get stage"))
		w := do(f.handler, http.MethodPost, "/stages/nope/publish", token, publishStageBody{})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("finalize failure returns written rows", func(t *testing.T) {
		f := newFixture()
		out := &publish.StageOutcome{
			RunID:   "run1",
			StageID: "st1",
			Results: []model.StageResult{{ID: "r1", StageID: "st1", UserID: "A", Status: model.ResultStatusOfficial}},
		}
		f.publisher.On("PublishStage", mock.Anything, mock.Anything).
			Return(out, eris.Wrap(publish.ErrFinalize, "finalizer: status 503"))

		w := do(f.handler, http.MethodPost, "/stages/st1/publish", token, publishStageBody{})
		require.Equal(t, http.StatusBadGateway, w.Code)

		var body struct {
			Error   string               `json:"error"`
			Outcome publish.StageOutcome `json:"outcome"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Contains(t, body.Error, "status 503")
		require.Len(t, body.Outcome.Results, 1)
		assert.Equal(t, "r1", body.Outcome.Results[0].ID)
	})
}

func TestPublishSegments(t *testing.T) {
	token := signToken(t, testSecret, RoleReviewer, time.Hour)

	t.Run("single segment", func(t *testing.T) {
		f := newFixture()
		f.publisher.On("PublishSegments", mock.Anything, publish.SegmentRequest{StageID: "st1", SegmentID: "seg1"}).
			Return(&publish.SegmentOutcome{RunID: "run2", StageID: "st1", Rows: 3}, nil)

		w := do(f.handler, http.MethodPost, "/stages/st1/segments/publish", token, publishSegmentsBody{SegmentID: "seg1"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 3, decode[publish.SegmentOutcome](t, w).Rows)
	})

	t.Run("empty body publishes every segment", func(t *testing.T) {
		f := newFixture()
		f.publisher.On("PublishSegments", mock.Anything, publish.SegmentRequest{StageID: "st1"}).
			Return(&publish.SegmentOutcome{RunID: "run3", StageID: "st1"}, nil)

		w := do(f.handler, http.MethodPost, "/stages/st1/segments/publish", token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		f.publisher.AssertExpectations(t)
	})

	t.Run("requires reviewer", func(t *testing.T) {
		f := newFixture()
		w := do(f.handler, http.MethodPost, "/stages/st1/segments/publish", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodOptions, "/stages/st1/publish", nil)
	req.Header.Set("Origin", "https://tour.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, "https://tour.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBearerFromHeader(t *testing.T) {
	assert.Equal(t, "abc", bearerFromHeader("Bearer abc"))
	assert.Equal(t, "abc", bearerFromHeader("bearer abc"))
	assert.Empty(t, bearerFromHeader("Basic abc"))
	assert.Empty(t, bearerFromHeader("abc"))
}

// End to end against a real SQLite store: publish through the API, then
// read the GC back.
func TestRouter_SQLitePublishThenGC(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Load(ctx, store.Fixture{
		Events: []model.Event{{ID: "ev1", Name: "Volta", Mode: model.EventModeCompetitive}},
		Stages: []model.Stage{{ID: "st1", EventID: "ev1", Name: "Stage 1", StageOrder: 1}},
		StageResults: []model.StageResult{
			{ID: "r1", StageID: "st1", UserID: "A", ElapsedTimeSeconds: 3700},
			{ID: "r2", StageID: "st1", UserID: "B", ElapsedTimeSeconds: 3600},
		},
		Participants: []store.Participant{{EventID: "ev1", UserID: "A"}, {EventID: "ev1", UserID: "B"}, {EventID: "ev1", UserID: "C"}},
		Profiles:     []model.Profile{{ID: "A", FullName: "Ana"}, {ID: "B", FullName: "Ben"}},
	}))

	h := NewRouter(Deps{
		Standings: standings.New(st, classification.ScaleTable{}),
		Publisher: publish.New(st, nil, publish.Options{}),
		Health:    st,
	}, Options{JWTSecret: testSecret})

	body := publishStageBody{Entries: []entryBody{
		{UserID: "A", OfficialTime: "01:00:00", Status: model.ResultStatusOfficial},
		{UserID: "B", OfficialTimeSeconds: 3660, Status: model.ResultStatusOfficial},
	}}
	w := do(h, http.MethodPost, "/stages/st1/publish", signToken(t, testSecret, RoleReviewer, time.Hour), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(h, http.MethodGet, "/events/ev1/gc", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	gc := decode[standings.GCView](t, w)
	require.Len(t, gc.Standings, 3)
	assert.Equal(t, "C", gc.Standings[0].UserID)
	assert.Equal(t, classification.NotStarted, gc.Standings[0].Total)
	assert.Equal(t, "Ana", gc.Standings[1].Name)
	assert.Equal(t, "01:00:00", gc.Standings[1].Total)
	assert.Equal(t, "+01:01:00", gc.Standings[2].Gap)

	w = do(h, http.MethodGet, "/events/nope/gc", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
