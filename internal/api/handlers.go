package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/publish"
	"github.com/keo-sports/stage-engine/internal/standings"
	"github.com/keo-sports/stage-engine/internal/store"
)

type handlers struct {
	deps Deps
}

// entryBody is one row of a publish request. OfficialTime (HH:MM:SS) is
// used when OfficialTimeSeconds is zero.
type entryBody struct {
	ResultID            string             `json:"result_id"`
	UserID              string             `json:"user_id"`
	OfficialTime        string             `json:"official_time"`
	OfficialTimeSeconds int                `json:"official_time_seconds"`
	MountainPoints      int                `json:"mountain_points"`
	Status              model.ResultStatus `json:"status"`
}

type publishStageBody struct {
	Entries []entryBody `json:"entries"`
}

type publishSegmentsBody struct {
	SegmentID string `json:"segment_id"`
}

type errorBody struct {
	Error   string `json:"error"`
	Outcome any    `json:"outcome,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health.Ping(r.Context()); err != nil {
			zap.L().Warn("health: store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) eventStages(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	rows, err := h.deps.Standings.EventStages(r.Context(), eventID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_id": eventID, "stages": rows})
}

func (h *handlers) generalClassification(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Standings.GeneralClassification(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) komClassification(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Standings.KOMClassification(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) stageResults(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Standings.StageResults(r.Context(), chi.URLParam(r, "stageID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) segmentBoard(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Standings.StageSegmentBoard(r.Context(), chi.URLParam(r, "stageID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) publishStage(w http.ResponseWriter, r *http.Request) {
	var body publishStageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := publish.StageRequest{StageID: chi.URLParam(r, "stageID")}
	for i, e := range body.Entries {
		secs := e.OfficialTimeSeconds
		if secs == 0 && e.OfficialTime != "" {
			var err error
			if secs, err = classification.ParseClock(e.OfficialTime); err != nil {
				writeError(w, http.StatusBadRequest, eris.Wrapf(err, "entry %d", i+1).Error())
				return
			}
		}
		req.Entries = append(req.Entries, publish.Entry{
			ResultID:            e.ResultID,
			UserID:              e.UserID,
			OfficialTimeSeconds: secs,
			MountainPoints:      e.MountainPoints,
			Status:              e.Status,
		})
	}

	if c, ok := ClaimsFrom(r.Context()); ok {
		zap.L().Info("api: publish stage",
			zap.String("stage_id", req.StageID),
			zap.String("reviewer", c.Subject),
			zap.Int("entries", len(req.Entries)),
		)
	}

	out, err := h.deps.Publisher.PublishStage(r.Context(), req)
	if err != nil {
		if eris.Is(err, publish.ErrFinalize) && out != nil {
			writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Outcome: out})
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) publishSegments(w http.ResponseWriter, r *http.Request) {
	var body publishSegmentsBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	out, err := h.deps.Publisher.PublishSegments(r.Context(), publish.SegmentRequest{
		StageID:   chi.URLParam(r, "stageID"),
		SegmentID: body.SegmentID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case eris.Is(err, publish.ErrValidation), eris.Is(err, classification.ErrInvalidClock):
		return http.StatusBadRequest
	case eris.Is(err, store.ErrNotFound), eris.Is(err, standings.ErrSocialEvent):
		return http.StatusNotFound
	case eris.Is(err, publish.ErrFinalize):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
