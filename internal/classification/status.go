package classification

import (
	"cmp"
	"slices"

	"github.com/keo-sports/stage-engine/internal/model"
)

// StageSummary is the derived review state of one stage.
type StageSummary struct {
	StageID  string            `json:"stage_id"`
	Status   model.StageStatus `json:"status"`
	Total    int               `json:"results_count"`
	Official int               `json:"official_count"`
	Pending  int               `json:"pending_count"`
	DQ       int               `json:"dq_count"`
}

// DeriveStageStatus folds a stage's results into its review state:
// pending with no results, official when every result is official, mixed
// otherwise.
func DeriveStageStatus(results []model.StageResult) StageSummary {
	var s StageSummary
	for _, r := range results {
		s.add(r.Status)
	}
	s.Status = statusFromCounts(s.Total, s.Official)
	return s
}

// SummarizeStages derives one summary per stage, in stage order. Results
// for stages outside the list are ignored.
func SummarizeStages(stages []model.Stage, results []model.StageResult) []StageSummary {
	ordered := sortStages(stages)

	byStage := make(map[string]*StageSummary, len(ordered))
	out := make([]StageSummary, len(ordered))
	for i, st := range ordered {
		out[i].StageID = st.ID
		byStage[st.ID] = &out[i]
	}
	for _, r := range results {
		if s, ok := byStage[r.StageID]; ok {
			s.add(r.Status)
		}
	}
	for i := range out {
		out[i].Status = statusFromCounts(out[i].Total, out[i].Official)
	}
	return out
}

func (s *StageSummary) add(status model.ResultStatus) {
	s.Total++
	switch status {
	case model.ResultStatusOfficial:
		s.Official++
	case model.ResultStatusDQ:
		s.DQ++
	default:
		s.Pending++
	}
}

func statusFromCounts(total, official int) model.StageStatus {
	switch {
	case total == 0:
		return model.StageStatusPending
	case official == total:
		return model.StageStatusOfficial
	default:
		return model.StageStatusMixed
	}
}

// sortStages returns a copy ordered by stage_order, then id.
func sortStages(stages []model.Stage) []model.Stage {
	ordered := slices.Clone(stages)
	slices.SortStableFunc(ordered, func(a, b model.Stage) int {
		if a.StageOrder != b.StageOrder {
			return a.StageOrder - b.StageOrder
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ordered
}
