package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"saasloader/internal/domain"
)

// TaskStore implements domain.TaskRunStore.
type TaskStore struct {
	db  *DB
	now func() time.Time
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db, now: time.Now}
}

// ── Status ─────────────────────────────────────────────────

func (s *TaskStore) SetStatus(taskID, status, errMsg string) error {
	_, err := s.db.conn.Exec(
		`INSERT INTO task_status (task_id, last_run_at, last_status, last_error) VALUES (?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET last_run_at=excluded.last_run_at,
		 last_status=excluded.last_status, last_error=excluded.last_error`,
		taskID, s.now().UTC(), status, errMsg,
	)
	return err
}

// GetStatus returns an empty status for a task that never ran.
func (s *TaskStore) GetStatus(taskID string) (*domain.TaskStatus, error) {
	st := &domain.TaskStatus{TaskID: taskID}
	var lastRun sql.NullTime
	err := s.db.conn.QueryRow(
		`SELECT last_run_at, last_status, last_error FROM task_status WHERE task_id = ?`, taskID,
	).Scan(&lastRun, &st.LastStatus, &st.LastError)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", taskID, err)
	}
	st.LastRunAt = lastRun.Time
	return st, nil
}

// ── Run Logs ───────────────────────────────────────────────

func (s *TaskStore) CreateRun(run *domain.TaskRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	tables, _ := json.Marshal(run.Tables)
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO task_runs (id, task_id, operator, trigger, started_at, finished_at, status,
		 rows_read, rows_written, error, tables_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.Operator, run.Trigger, run.StartedAt.UTC(), finished, run.Status,
		run.RowsRead, run.RowsWritten, run.Error, string(tables),
	)
	return err
}

// ListRuns returns the most recent runs of a task, newest first. An empty
// taskID lists runs of every task.
func (s *TaskStore) ListRuns(taskID string, limit int) ([]domain.TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, task_id, operator, trigger, started_at, finished_at, status,
		 rows_read, rows_written, error, tables_json FROM task_runs`
	args := []any{}
	if taskID != "" {
		q += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.TaskRun
	for rows.Next() {
		var r domain.TaskRun
		var finished sql.NullTime
		var tables string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Operator, &r.Trigger, &r.StartedAt, &finished, &r.Status,
			&r.RowsRead, &r.RowsWritten, &r.Error, &tables); err != nil {
			return nil, err
		}
		r.FinishedAt = finished.Time
		json.Unmarshal([]byte(tables), &r.Tables)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
