package model

import "time"

// StatusEvent is the ephemeral per-run status broadcast. It is never
// persisted beyond the bounded-TTL backfill cache entry (one per run,
// last-write-wins).
type StatusEvent struct {
	RunID        string    `json:"run_id"`
	Status       RunStatus `json:"status"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func NewStatusEvent(runID string, status RunStatus, message string) StatusEvent {
	return StatusEvent{
		RunID:     runID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
