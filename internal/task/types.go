// Package task implements the task-execution control plane: the task
// lifecycle state machine, the runner-dispatch registry, the
// persistence-backed task store, the concurrent monitoring/timeout
// subsystem, the variable-resolution engine, and the two concrete runners.
package task

import (
	"encoding/json"
	"time"
)

// Status is a task's position in the lifecycle state machine (spec.md §3).
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusSubmitted   Status = "SUBMITTED"
	StatusValidating  Status = "VALIDATING"
	StatusPreparing   Status = "PREPARING"
	StatusBuilding    Status = "BUILDING"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelling  Status = "CANCELLING"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether s is one of the three terminal states. No
// transition is permitted out of a terminal state except permanent delete.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Document is a loosely-typed JSON-shaped payload, used at the edges (the
// submitted configuration, error/result/execution/progress details) before
// the core normalizes a submission into a typed per-variant task struct.
type Document map[string]any

// Task is the primary durable entity (spec.md §3).
type Task struct {
	TaskID      string   `json:"task_id"`
	TaskType    string   `json:"task_type"`
	TaskName    string   `json:"task_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Priority    int      `json:"priority"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	Status Status `json:"status"`

	SubmittedConfigs Document `json:"submitted_configs"`

	ErrorInfo          Document `json:"error_info,omitempty"`
	ResultSummary      Document `json:"result_summary,omitempty"`
	ExecutionDetails   Document `json:"execution_details,omitempty"`
	ProgressDetails    Document `json:"progress_details,omitempty"`
	NotificationConfig Document `json:"notification_config,omitempty"`

	Active bool `json:"active"`
}

// TaskTimeoutSeconds reads the optional task_timeout_seconds field out of
// the submitted configuration document.
func (t *Task) TaskTimeoutSeconds() (int, bool) {
	return docInt(t.SubmittedConfigs, "task_timeout_seconds")
}

// ConnectionTimeoutSeconds reads the SQL-runner per-statement poll ceiling.
func (t *Task) ConnectionTimeoutSeconds() (int, bool) {
	return docInt(t.SubmittedConfigs, "connection_timeout_seconds")
}

func docInt(d Document, key string) (int, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// Expired reports whether the task has outlived its expires_at deadline.
func (t *Task) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// HasEnded reports whether the task is terminal or has expired.
func (t *Task) HasEnded(now time.Time) bool {
	return t.Status.Terminal() || t.Expired(now)
}

// Clone returns a deep-enough copy for safe handoff across goroutines
// (monitor loop vs. store vs. CLI responses all read a snapshot).
func (t *Task) Clone() *Task {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	c.SubmittedConfigs = cloneDoc(t.SubmittedConfigs)
	c.ErrorInfo = cloneDoc(t.ErrorInfo)
	c.ResultSummary = cloneDoc(t.ResultSummary)
	c.ExecutionDetails = cloneDoc(t.ExecutionDetails)
	c.ProgressDetails = cloneDoc(t.ProgressDetails)
	c.NotificationConfig = cloneDoc(t.NotificationConfig)
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		c.FinishedAt = &v
	}
	if t.ExpiresAt != nil {
		v := *t.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}

func cloneDoc(d Document) Document {
	if d == nil {
		return nil
	}
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// TaskEvent is an immutable journal entry for every create and status
// transition, ordered by Timestamp (spec.md §3).
type TaskEvent struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"task_id"`
	EventType        string    `json:"event_type"`
	PreviousStatus   Status    `json:"previous_status,omitempty"`
	NewStatus        Status    `json:"new_status,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Actor            string    `json:"actor,omitempty"`
	EventData        Document  `json:"event_data,omitempty"`
}

const (
	EventCreated      = "CREATED"
	EventStatusChange = "STATUS_CHANGE"
)

// LogLevel is one of the four levels a LogEntry may carry.
type LogLevel string

const (
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// LogEntry is one line of a per-task append-only log (spec.md §3).
type LogEntry struct {
	Timestamp int64    `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

// Variable is a stored, encrypted key/value referenced as ${NAME} in
// payload strings (spec.md §3).
type Variable struct {
	Name           string    `json:"name"`
	EncryptedValue string    `json:"encrypted_value"`
	Description    string    `json:"description,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
