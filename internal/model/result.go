package model

import "slices"

// ResultStatus is the review state of a stage or segment result.
type ResultStatus string

const (
	ResultStatusPending  ResultStatus = "pending"
	ResultStatusOfficial ResultStatus = "official"
	ResultStatusDQ       ResultStatus = "dq"
)

// Valid reports whether s is a known result status.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusPending, ResultStatusOfficial, ResultStatusDQ:
		return true
	}
	return false
}

// StageStatus is the aggregate review state of a stage. It is derived from
// the stage's results on every read and never stored.
type StageStatus string

const (
	StageStatusPending  StageStatus = "pending"
	StageStatusOfficial StageStatus = "official"
	StageStatusMixed    StageStatus = "mixed"
)

// StageResult is a per (stage, user) timing record (stage_results row).
type StageResult struct {
	ID                     string       `json:"id"`
	StageID                string       `json:"stage_id"`
	UserID                 string       `json:"user_id"`
	ElapsedTimeSeconds     int          `json:"elapsed_time_seconds"`
	OfficialTimeSeconds    *int         `json:"official_time_seconds"`
	MountainPoints         int          `json:"mountain_points"`
	OfficialMountainPoints *int         `json:"official_mountain_points"`
	Status                 ResultStatus `json:"status"`
	StravaActivityID       *string      `json:"strava_activity_id"`
}

// TimeSeconds returns the displayed time: the official time when set,
// otherwise the synced elapsed time.
func (r StageResult) TimeSeconds() int {
	if r.OfficialTimeSeconds != nil {
		return *r.OfficialTimeSeconds
	}
	return r.ElapsedTimeSeconds
}

// Points returns the official mountain points when set, otherwise the
// legacy synced value.
func (r StageResult) Points() int {
	if r.OfficialMountainPoints != nil {
		return *r.OfficialMountainPoints
	}
	return r.MountainPoints
}

// IsOfficial reports whether the result counts toward standings.
func (r StageResult) IsOfficial() bool {
	return r.Status == ResultStatusOfficial
}

// SegmentCategory is the climb difficulty of a segment.
type SegmentCategory string

const (
	CategoryHC   SegmentCategory = "hc"
	CategoryCat1 SegmentCategory = "cat1"
	CategoryCat2 SegmentCategory = "cat2"
	CategoryCat3 SegmentCategory = "cat3"
	CategoryCat4 SegmentCategory = "cat4"
)

// Categories lists every category from hardest to easiest.
var Categories = []SegmentCategory{CategoryHC, CategoryCat1, CategoryCat2, CategoryCat3, CategoryCat4}

// Valid reports whether c is a known category.
func (c SegmentCategory) Valid() bool {
	return slices.Contains(Categories, c)
}

// Label returns the human-readable category name.
func (c SegmentCategory) Label() string {
	switch c {
	case CategoryHC:
		return "HC (Hors Catégorie)"
	case CategoryCat1:
		return "Category 1"
	case CategoryCat2:
		return "Category 2"
	case CategoryCat3:
		return "Category 3"
	case CategoryCat4:
		return "Category 4"
	default:
		return string(c)
	}
}

// Segment is a KOM climb attached to a stage (stage_segments row).
type Segment struct {
	ID              string          `json:"id"`
	StageID         string          `json:"stage_id"`
	Name            string          `json:"name"`
	StravaSegmentID string          `json:"strava_segment_id"`
	DistanceMeters  *float64        `json:"distance_meters,omitempty"`
	AvgGradePercent *float64        `json:"avg_grade_percent,omitempty"`
	Category        SegmentCategory `json:"category"`
	PointsScale     []int           `json:"points_scale"`
	SegmentOrder    int             `json:"segment_order"`
}

// SegmentResult is a per (segment, user) timing record (segment_results row).
// Position and PointsEarned are assigned at publish time.
type SegmentResult struct {
	ID                 string       `json:"id"`
	SegmentID          string       `json:"segment_id"`
	StageID            string       `json:"stage_id"`
	UserID             string       `json:"user_id"`
	ElapsedTimeSeconds int          `json:"elapsed_time_seconds"`
	Position           *int         `json:"position"`
	PointsEarned       *int         `json:"points_earned"`
	Status             ResultStatus `json:"status"`
	StravaEffortID     *string      `json:"strava_effort_id"`
}

// Points returns the earned points, 0 when not yet assigned.
func (r SegmentResult) Points() int {
	if r.PointsEarned == nil {
		return 0
	}
	return *r.PointsEarned
}

// IsOfficial reports whether the result counts toward the KOM classification.
func (r SegmentResult) IsOfficial() bool {
	return r.Status == ResultStatusOfficial
}
