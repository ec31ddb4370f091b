package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantfleet/ashare/pkg/models"
)

// ErrDuplicateTaskName rejects a second task with the same name.
var ErrDuplicateTaskName = errors.New("store: task name already exists")

const taskCols = `id, name, cron_expression, task_type, target_agent_ids, trading_day_only, status, config, created_at, updated_at`

// CreateTask inserts a scheduled task.
func (s *Store) CreateTask(ctx context.Context, t *models.SystemTask) error {
	targets, err := json.Marshal(t.TargetAgentIDs)
	if err != nil {
		return err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO system_tasks (id, name, cron_expression, task_type, target_agent_ids, trading_day_only, status, config, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, t.ID, t.Name, t.CronExpression, string(t.TaskType), string(targets), boolToInt(t.TradingDayOnly),
		string(t.Status), string(config), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: system_tasks.name") {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskName, t.Name)
	}
	return err
}

// TaskByID returns one task.
func (s *Store) TaskByID(ctx context.Context, id string) (*models.SystemTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM system_tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	return t, nil
}

// ListTasks returns every task, oldest first.
func (s *Store) ListTasks(ctx context.Context) ([]*models.SystemTask, error) {
	return s.queryTasks(ctx, `SELECT `+taskCols+` FROM system_tasks ORDER BY created_at`)
}

// ListActiveTasks returns tasks that should be registered with the cron
// runner.
func (s *Store) ListActiveTasks(ctx context.Context) ([]*models.SystemTask, error) {
	return s.queryTasks(ctx, `SELECT `+taskCols+` FROM system_tasks WHERE status='active' ORDER BY created_at`)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*models.SystemTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SystemTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask rewrites a task definition.
func (s *Store) UpdateTask(ctx context.Context, t *models.SystemTask) error {
	targets, err := json.Marshal(t.TargetAgentIDs)
	if err != nil {
		return err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
UPDATE system_tasks
SET name=?, cron_expression=?, task_type=?, target_agent_ids=?, trading_day_only=?, status=?, config=?, updated_at=?
WHERE id=?
`, t.Name, t.CronExpression, string(t.TaskType), string(targets), boolToInt(t.TradingDayOnly),
		string(t.Status), string(config), fmtTime(t.UpdatedAt), t.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: system_tasks.name") {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskName, t.Name)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "task", t.ID)
	}
	return nil
}

// DeleteTask removes the task; its run logs survive with task_id NULL.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM system_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "task", id)
	}
	return nil
}

func scanTask(row rowScanner) (*models.SystemTask, error) {
	var (
		t              models.SystemTask
		targets        string
		tradingDayOnly int
		config         string
		created        string
		updated        string
	)
	err := row.Scan(&t.ID, &t.Name, &t.CronExpression, (*string)(&t.TaskType), &targets,
		&tradingDayOnly, (*string)(&t.Status), &config, &created, &updated)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(targets), &t.TargetAgentIDs)
	t.TradingDayOnly = tradingDayOnly != 0
	_ = json.Unmarshal([]byte(config), &t.Config)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// ── Run Logs ──

// StartTaskRun inserts a running run row and returns its id.
func (s *Store) StartTaskRun(ctx context.Context, run *models.TaskRunLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO task_run_logs (task_id, task_name, trigger_source, started_at, status, skip_reason, error_message, agent_results)
VALUES (?,?,?,?,?,?,?,?)
`, run.TaskID, run.TaskName, run.Trigger, fmtTime(run.StartedAt), string(run.Status),
		run.SkipReason, run.ErrorMessage, "[]")
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// FinishTaskRun completes a run row with its outcome and per-agent
// results.
func (s *Store) FinishTaskRun(ctx context.Context, run *models.TaskRunLog) error {
	results, err := json.Marshal(run.AgentResults)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE task_run_logs
SET completed_at=?, status=?, skip_reason=?, error_message=?, agent_results=?
WHERE id=?
`, fmtTimePtr(run.CompletedAt), string(run.Status), run.SkipReason, run.ErrorMessage, string(results), run.ID)
	return err
}

// TaskRuns pages a task's run history, newest first.
func (s *Store) TaskRuns(ctx context.Context, taskID string, page, perPage int) ([]*models.TaskRunLog, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, task_name, trigger_source, started_at, completed_at, status, skip_reason, error_message, agent_results
FROM task_run_logs
WHERE task_id=?
ORDER BY started_at DESC
LIMIT ? OFFSET ?
`, taskID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TaskRunLog
	for rows.Next() {
		run, err := scanTaskRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanTaskRun(row rowScanner) (*models.TaskRunLog, error) {
	var (
		run       models.TaskRunLog
		taskID    sql.NullString
		started   string
		completed sql.NullString
		results   string
	)
	err := row.Scan(&run.ID, &taskID, &run.TaskName, &run.Trigger, &started, &completed,
		(*string)(&run.Status), &run.SkipReason, &run.ErrorMessage, &results)
	if err != nil {
		return nil, err
	}
	run.TaskID = nullToPtr(taskID)
	run.StartedAt = parseTime(started)
	if completed.Valid {
		t := parseTime(completed.String)
		run.CompletedAt = &t
	}
	_ = json.Unmarshal([]byte(results), &run.AgentResults)
	return &run, nil
}

// TaskStatsByID aggregates a task's run history.
func (s *Store) TaskStatsByID(ctx context.Context, taskID string) (*models.TaskStats, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status='success' THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN status='skipped' THEN 1 ELSE 0 END), 0),
       MAX(started_at)
FROM task_run_logs
WHERE task_id=?
`, taskID)

	stats := &models.TaskStats{TaskID: taskID}
	var lastRun sql.NullString
	if err := row.Scan(&stats.TotalRuns, &stats.SuccessCount, &stats.FailCount, &stats.SkipCount, &lastRun); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := parseTime(lastRun.String)
		stats.LastRunAt = &t

		statusRow := s.db.QueryRowContext(ctx, `
SELECT status FROM task_run_logs WHERE task_id=? ORDER BY started_at DESC LIMIT 1
`, taskID)
		var status string
		if err := statusRow.Scan(&status); err == nil {
			stats.LastStatus = status
		}
	}
	return stats, nil
}
