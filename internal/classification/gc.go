package classification

import (
	"cmp"
	"slices"

	"github.com/keo-sports/stage-engine/internal/model"
)

// GCStageTime is one per-stage column of a GC standing.
type GCStageTime struct {
	StageID     string             `json:"stage_id"`
	StageName   string             `json:"stage_name"`
	StageOrder  int                `json:"stage_order"`
	HasResult   bool               `json:"has_result"`
	TimeSeconds int                `json:"time_seconds"`
	Status      model.ResultStatus `json:"status,omitempty"`
}

// GCStanding is a user's General Classification line.
type GCStanding struct {
	UserID           string        `json:"user_id"`
	Stages           []GCStageTime `json:"stages"`
	TotalTimeSeconds int           `json:"total_time_seconds"`
	StagesCompleted  int           `json:"stages_completed"`
	StagesOfficial   int           `json:"stages_official"`
	Rank             int           `json:"rank"`
	GapSeconds       *int          `json:"gap_seconds"`
}

// NotStarted reports whether the user has no official time yet. A zero
// total is the not-started sentinel.
func (s GCStanding) NotStarted() bool {
	return s.TotalTimeSeconds == 0
}

// BuildGC folds the stage results of an event into the General
// Classification.
//
// Each user gets one column per stage in stage order; a column shows
// official_time_seconds when set and elapsed_time_seconds otherwise. Only
// official results add to the total, so pending and dq times are shown but
// never counted. Users are ranked by ascending total with ties broken by
// user id. Participants without any result are included with a zero total.
func BuildGC(stages []model.Stage, results []model.StageResult, participants []string) []GCStanding {
	ordered := sortStages(stages)
	column := make(map[string]int, len(ordered))
	for i, st := range ordered {
		column[st.ID] = i
	}

	byUser := make(map[string]*GCStanding)
	standing := func(userID string) *GCStanding {
		s, ok := byUser[userID]
		if !ok {
			s = &GCStanding{UserID: userID, Stages: make([]GCStageTime, len(ordered))}
			for i, st := range ordered {
				s.Stages[i] = GCStageTime{StageID: st.ID, StageName: st.Name, StageOrder: st.StageOrder}
			}
			byUser[userID] = s
		}
		return s
	}

	for _, userID := range participants {
		standing(userID)
	}
	for _, r := range results {
		idx, ok := column[r.StageID]
		if !ok {
			continue
		}
		col := &standing(r.UserID).Stages[idx]
		col.HasResult = true
		col.TimeSeconds = r.TimeSeconds()
		col.Status = r.Status
	}

	out := make([]GCStanding, 0, len(byUser))
	for _, s := range byUser {
		for _, col := range s.Stages {
			if !col.HasResult {
				continue
			}
			s.StagesCompleted++
			if col.Status == model.ResultStatusOfficial {
				s.StagesOfficial++
				s.TotalTimeSeconds += col.TimeSeconds
			}
		}
		out = append(out, *s)
	}

	slices.SortFunc(out, func(a, b GCStanding) int {
		if c := cmp.Compare(a.TotalTimeSeconds, b.TotalTimeSeconds); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	for i := range out {
		out[i].Rank = i + 1
		if i == 0 {
			continue
		}
		gap := out[i].TotalTimeSeconds - out[0].TotalTimeSeconds
		out[i].GapSeconds = &gap
	}
	return out
}

// FormatTotal renders the GC total, or an em-dash for users who have not
// started.
func FormatTotal(s GCStanding) string {
	if s.NotStarted() {
		return NotStarted
	}
	return FormatClock(s.TotalTimeSeconds)
}

// FormatGap renders the gap to the leader as +HH:MM:SS. The leader has no
// gap and users who have not started show an em-dash rather than +00:00:00.
func FormatGap(s GCStanding) string {
	if s.NotStarted() {
		return NotStarted
	}
	if s.GapSeconds == nil {
		return ""
	}
	return "+" + FormatClock(*s.GapSeconds)
}

// FormatStageTime renders one stage column, "-" when the user has no result.
func FormatStageTime(t GCStageTime) string {
	if !t.HasResult {
		return "-"
	}
	return FormatClock(t.TimeSeconds)
}
