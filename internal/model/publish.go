package model

import "time"

// PublishKind names which result table a publish run wrote to.
type PublishKind string

const (
	PublishKindStage    PublishKind = "stage"
	PublishKindSegments PublishKind = "segments"
)

// PublishRunStatus tracks a publish run through the write and finalize steps.
type PublishRunStatus string

const (
	PublishRunWriting        PublishRunStatus = "writing"
	PublishRunWritten        PublishRunStatus = "written"
	PublishRunConfirmed      PublishRunStatus = "confirmed"
	PublishRunFailed         PublishRunStatus = "failed"
	PublishRunFinalizeFailed PublishRunStatus = "finalize_failed"
)

// Terminal reports whether no further step is expected for the run.
func (s PublishRunStatus) Terminal() bool {
	return s == PublishRunConfirmed || s == PublishRunFailed
}

// PublishRun is the journal entry of one publish call. A run reaches
// confirmed only after every row was written and, for stage publishes, the
// finalizer accepted the batch.
type PublishRun struct {
	ID        string           `json:"id"`
	Kind      PublishKind      `json:"kind"`
	StageID   string           `json:"stage_id"`
	SegmentID string           `json:"segment_id,omitempty"`
	Status    PublishRunStatus `json:"status"`
	RowCount  int              `json:"row_count"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
