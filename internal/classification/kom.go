package classification

import (
	"cmp"
	"slices"

	"github.com/keo-sports/stage-engine/internal/model"
)

// KOMStanding is a user's Mountain Classification line.
type KOMStanding struct {
	UserID            string `json:"user_id"`
	TotalPoints       int    `json:"total_points"`
	SegmentsCompleted int    `json:"segments_completed"`
	Rank              int    `json:"rank"`
}

// SegmentBoard is a segment with its results in finish order.
type SegmentBoard struct {
	Segment model.Segment         `json:"segment"`
	Scale   []int                 `json:"points_scale"`
	Results []model.SegmentResult `json:"results"`
}

// RankSegment orders a segment's results by ascending elapsed time and
// assigns 1-based positions and the points of the resolved scale. Ties are
// broken by user id, then result id, so repeated runs give identical
// positions. A user is ranked once, on their fastest effort. Results
// belonging to other segments are dropped and the input is not modified.
func RankSegment(seg model.Segment, results []model.SegmentResult, scales ScaleTable) []model.SegmentResult {
	scale := scales.Resolve(seg)

	efforts := make([]model.SegmentResult, 0, len(results))
	for _, r := range results {
		if r.SegmentID == seg.ID {
			efforts = append(efforts, r)
		}
	}
	slices.SortFunc(efforts, compareEfforts)

	ranked := efforts[:0]
	seen := make(map[string]bool, len(efforts))
	for _, r := range efforts {
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		ranked = append(ranked, r)
	}

	for i := range ranked {
		pos := i + 1
		pts := PointsForPosition(pos, scale)
		ranked[i].Position = &pos
		ranked[i].PointsEarned = &pts
	}
	return ranked
}

// GroupBySegment builds the review board of a stage: every segment in
// segment order with provisionally ranked results. Points already stored on
// a result are kept; missing points are filled from the scale.
func GroupBySegment(segments []model.Segment, results []model.SegmentResult, scales ScaleTable) []SegmentBoard {
	ordered := slices.Clone(segments)
	slices.SortStableFunc(ordered, func(a, b model.Segment) int {
		if c := cmp.Compare(a.SegmentOrder, b.SegmentOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	stored := make(map[string]*int, len(results))
	for _, r := range results {
		if r.PointsEarned != nil {
			stored[r.ID] = r.PointsEarned
		}
	}

	boards := make([]SegmentBoard, 0, len(ordered))
	for _, seg := range ordered {
		ranked := RankSegment(seg, results, scales)
		for i := range ranked {
			if pts, ok := stored[ranked[i].ID]; ok {
				v := *pts
				ranked[i].PointsEarned = &v
			}
		}
		boards = append(boards, SegmentBoard{Segment: seg, Scale: scales.Resolve(seg), Results: ranked})
	}
	return boards
}

// BuildKOM folds segment results into the Mountain Classification. Only
// official results add points; SegmentsCompleted counts the distinct
// segments where the user has an official result. Results of segments
// outside the list are ignored. Users are ranked by descending points with
// ties broken by user id.
func BuildKOM(segments []model.Segment, results []model.SegmentResult) []KOMStanding {
	known := make(map[string]bool, len(segments))
	for _, seg := range segments {
		known[seg.ID] = true
	}

	byUser := make(map[string]*KOMStanding)
	completed := make(map[string]map[string]bool)
	for _, r := range results {
		if !known[r.SegmentID] {
			continue
		}
		s, ok := byUser[r.UserID]
		if !ok {
			s = &KOMStanding{UserID: r.UserID}
			byUser[r.UserID] = s
			completed[r.UserID] = make(map[string]bool)
		}
		if !r.IsOfficial() {
			continue
		}
		s.TotalPoints += r.Points()
		completed[r.UserID][r.SegmentID] = true
	}

	out := make([]KOMStanding, 0, len(byUser))
	for userID, s := range byUser {
		s.SegmentsCompleted = len(completed[userID])
		out = append(out, *s)
	}

	slices.SortFunc(out, func(a, b KOMStanding) int {
		if c := cmp.Compare(b.TotalPoints, a.TotalPoints); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func compareEfforts(a, b model.SegmentResult) int {
	if c := cmp.Compare(a.ElapsedTimeSeconds, b.ElapsedTimeSeconds); c != 0 {
		return c
	}
	if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
