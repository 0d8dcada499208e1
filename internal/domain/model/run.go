package model

import (
	"time"
)

type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusReady    RunStatus = "ready"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// TerminalStatuses lists the absorbing states: once a run reaches one of
// these no further transition is permitted.
var TerminalStatuses = []RunStatus{RunStatusReady, RunStatusFailed, RunStatusCanceled}

func (s RunStatus) Terminal() bool {
	return s == RunStatusReady || s == RunStatusFailed || s == RunStatusCanceled
}

const MaxSnippetNameLen = 100

// EngineHandles are the remote engine's references for an in-flight
// execution: the async task, the query definition it was created from,
// and the temporary output table holding results.
type EngineHandles struct {
	TaskID      string
	QueryID     string
	OutputTable string
}

func (h EngineHandles) Empty() bool {
	return h.TaskID == "" && h.QueryID == "" && h.OutputTable == ""
}

// Run is one submitted SQL execution attempt and its lifecycle record.
// ErrorMessage is stored encrypted; decryption happens at read time.
type Run struct {
	ID           string
	Identity     Identity
	SnippetName  string
	SQLHash      string
	Status       RunStatus
	ErrorMessage string
	Handles      EngineHandles
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func NewRun(id string, identity Identity, snippetName, sqlHash string) *Run {
	if len(snippetName) > MaxSnippetNameLen {
		snippetName = snippetName[:MaxSnippetNameLen]
	}
	return &Run{
		ID:          id,
		Identity:    identity,
		SnippetName: snippetName,
		SQLHash:     sqlHash,
		Status:      RunStatusQueued,
		CreatedAt:   time.Now(),
	}
}
