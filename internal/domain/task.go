package domain

import "time"

// Run statuses recorded for tasks.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// TaskStatus is the last known state of a configured task.
type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	LastRunAt  time.Time `json:"lastRunAt"`
	LastStatus string    `json:"lastStatus"` // "success" | "error" | "running" | ""
	LastError  string    `json:"lastError"`
}

// TaskRun is a historical record of one task execution.
type TaskRun struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"taskId"`
	Operator    string         `json:"operator"`
	Trigger     string         `json:"trigger"` // "manual" | "schedule" | "file_watch" | "mcp"
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
	Status      string         `json:"status"`
	RowsRead    int            `json:"rowsRead"`
	RowsWritten int            `json:"rowsWritten"`
	Tables      map[string]int `json:"tables,omitempty"` // rows written per table
	Error       string         `json:"error,omitempty"`
}

// Duration reports how long the run took.
func (r *TaskRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TaskRunStore persists task status and run history.
type TaskRunStore interface {
	SetStatus(taskID, status, errMsg string) error
	GetStatus(taskID string) (*TaskStatus, error)
	CreateRun(run *TaskRun) error
	ListRuns(taskID string, limit int) ([]TaskRun, error)
}
