package resilience

import (
	"encoding/json"
	"time"
)

// FinalizeRetry is a finalizer call that failed after its stage results
// were written. It is persisted and replayed later so the results and the
// downstream state converge.
type FinalizeRetry struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	StageID      string          `json:"stage_id"`
	Payload      json.RawMessage `json:"payload"`
	Error        string          `json:"error"`
	ErrorType    string          `json:"error_type"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	CreatedAt    time.Time       `json:"created_at"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// CanRetry reports whether the entry has attempts left.
func (e *FinalizeRetry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextRetryDelay returns the wait before the entry's next replay: one
// minute doubled per previous retry, capped at one hour.
func (e *FinalizeRetry) NextRetryDelay() time.Duration {
	delay := time.Minute
	for i := 0; i < e.RetryCount && delay < time.Hour; i++ {
		delay *= 2
	}
	return min(delay, time.Hour)
}
