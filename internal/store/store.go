// Package store persists events, stages, segments and their results, plus
// the publish journal and the finalize retry queue.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing publish runs.
type RunFilter struct {
	StageID string                 `json:"stage_id,omitempty"`
	Status  model.PublishRunStatus `json:"status,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
}

// StagePublishRow is one stage result as written by a publish. ID and
// ElapsedTimeSeconds/MountainPoints are only used when the (stage, user)
// row does not exist yet.
type StagePublishRow struct {
	ID                     string
	UserID                 string
	ElapsedTimeSeconds     int
	MountainPoints         int
	OfficialTimeSeconds    int
	OfficialMountainPoints int
	Status                 model.ResultStatus
}

// SegmentPublishRow is the ranking written to an existing segment result.
type SegmentPublishRow struct {
	ID           string
	Position     int
	PointsEarned int
	Status       model.ResultStatus
}

// Fixture is a bulk load of reference rows, used to seed local databases.
type Fixture struct {
	Events         []model.Event         `json:"events"`
	Stages         []model.Stage         `json:"stages"`
	Segments       []model.Segment       `json:"segments"`
	StageResults   []model.StageResult   `json:"stage_results"`
	SegmentResults []model.SegmentResult `json:"segment_results"`
	Participants   []Participant         `json:"participants"`
	Profiles       []model.Profile       `json:"profiles"`
}

// Participant registers a user to an event.
type Participant struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

// Store defines the persistence interface of the stage engine.
type Store interface {
	// Reads
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	GetStage(ctx context.Context, stageID string) (*model.Stage, error)
	ListStages(ctx context.Context, eventID string) ([]model.Stage, error)
	ListStageResults(ctx context.Context, stageIDs ...string) ([]model.StageResult, error)
	ListSegments(ctx context.Context, stageID string) ([]model.Segment, error)
	ListEventSegments(ctx context.Context, eventID string) ([]model.Segment, error)
	ListSegmentResults(ctx context.Context, segmentIDs ...string) ([]model.SegmentResult, error)
	ListParticipants(ctx context.Context, eventID string) ([]string, error)
	GetProfiles(ctx context.Context, userIDs ...string) (map[string]model.Profile, error)

	// Publish writes; each call is atomic.
	ApplyStagePublish(ctx context.Context, stageID string, rows []StagePublishRow) ([]model.StageResult, error)
	ApplySegmentPublish(ctx context.Context, rows []SegmentPublishRow) (int, error)

	// Publish journal
	CreatePublishRun(ctx context.Context, run *model.PublishRun) error
	UpdatePublishRun(ctx context.Context, runID string, status model.PublishRunStatus, errMsg string) error
	GetPublishRun(ctx context.Context, runID string) (*model.PublishRun, error)
	ListPublishRuns(ctx context.Context, filter RunFilter) ([]model.PublishRun, error)

	// Finalize retry queue
	EnqueueFinalizeRetry(ctx context.Context, entry resilience.FinalizeRetry) error
	DueFinalizeRetries(ctx context.Context, limit int) ([]resilience.FinalizeRetry, error)
	StageFinalizeRetries(ctx context.Context, stageID string) ([]resilience.FinalizeRetry, error)
	IncrementFinalizeRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveFinalizeRetry(ctx context.Context, id string) error
	// CountFinalizeRetries counts entries that still have retries left.
	CountFinalizeRetries(ctx context.Context) (int, error)

	// Seeding
	Load(ctx context.Context, f Fixture) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
