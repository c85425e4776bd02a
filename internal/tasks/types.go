package tasks

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("task not found")
	ErrNotRunning    = errors.New("task is not running")
	ErrClaimMismatch = errors.New("task claimed by different worker")
	ErrTerminal      = errors.New("cannot cancel terminal task")
	ErrNotTerminal   = errors.New("only terminal tasks can be deleted")
	ErrInvalidInput  = errors.New("invalid task input")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Statuses lists every task status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusRunning,
	StatusRetryScheduled,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

// Terminal reports whether no further transition is possible except deletion.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Task is a persisted job record.
type Task struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Payload        map[string]any `json:"payload"`
	TraceID        string         `json:"trace_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Priority       int            `json:"priority"`
	Status         Status         `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ClaimedBy      string         `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	HeartbeatAt    *time.Time     `json:"heartbeat_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
}

// EnqueueInput contains fields needed to enqueue a task. A nil Priority
// means the default priority; a zero MaxAttempts means the default.
type EnqueueInput struct {
	Name           string
	Payload        map[string]any
	Priority       *int
	MaxAttempts    int
	ScheduledAt    time.Time
	IdempotencyKey string
	TraceID        string
	AgentID        string
}

// Query filters tasks when listing.
type Query struct {
	Status  Status
	AgentID string
	Limit   int
}
