package model

import "time"

type JobKind string

const (
	JobKindExecute JobKind = "execute"
	JobKindPoll    JobKind = "poll"
)

// JobMessage is the immutable snapshot carried through the job queue.
// The run ID doubles as the idempotency key for execute messages, so a
// duplicate submission collapses into a single in-flight execution.
type JobMessage struct {
	Kind          JobKind       `json:"kind"`
	RunID         string        `json:"run_id"`
	Identity      Identity      `json:"identity"`
	SQLEncrypted  string        `json:"sql_encrypted,omitempty"`
	ColumnHints   []ColumnHint  `json:"column_hints,omitempty"`
	Handles       EngineHandles `json:"handles,omitempty"`
	PollCount     int           `json:"poll_count,omitempty"`
	PollStartedAt time.Time     `json:"poll_started_at,omitempty"`
}

// ColumnHint carries optional caller-provided column metadata forwarded to
// the engine on submission.
type ColumnHint struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}
