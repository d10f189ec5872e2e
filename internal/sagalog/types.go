// Package sagalog is the durable record of every step the coordinator
// observes, keyed by correlation id.
package sagalog

import "time"

// Status is the lifecycle state of a saga.
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	}
	return false
}

// Saga is one process instance. Context captures the identifiers needed for
// compensation as events arrive.
type Saga struct {
	CorrelationID string            `json:"correlation_id"`
	Status        Status            `json:"status"`
	CurrentStep   int               `json:"current_step"`
	Context       map[string]string `json:"context"`
	Retries       int               `json:"retries"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// LogEntry is one observed step in one saga. (CorrelationID, StepIndex,
// EventKind) is unique; duplicates are dropped.
type LogEntry struct {
	EntryID       string    `json:"entry_id"`
	CorrelationID string    `json:"correlation_id"`
	StepIndex     int       `json:"step_index"`
	EventKind     string    `json:"event_kind"`
	Payload       []byte    `json:"payload"`
	RecordedAt    time.Time `json:"recorded_at"`
}
