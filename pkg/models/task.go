package models

import "time"

// TaskType identifies what a scheduled task does when it fires.
type TaskType string

const (
	TaskAgentDecision TaskType = "agent_decision"
	TaskQuoteSync     TaskType = "quote_sync"
	TaskMarketRefresh TaskType = "market_refresh"
)

// TaskStatus is the scheduling state of a task. Paused tasks keep their
// definition but stop firing.
type TaskStatus string

const (
	TaskActive TaskStatus = "active"
	TaskPaused TaskStatus = "paused"
)

// TaskRunStatus is the outcome of one task run, or of one agent within a
// run.
type TaskRunStatus string

const (
	RunRunning TaskRunStatus = "running"
	RunSuccess TaskRunStatus = "success"
	RunFailed  TaskRunStatus = "failed"
	RunSkipped TaskRunStatus = "skipped"
)

// TaskConfig carries per-task execution knobs. Zero values fall back to
// scheduler defaults.
type TaskConfig struct {
	MaxRetries    int `json:"max_retries,omitempty"`
	RetryDelaySec int `json:"retry_delay_sec,omitempty"`
	TimeoutSec    int `json:"timeout_sec,omitempty"`
}

// TargetAll is the sentinel agent list meaning "every active agent".
const TargetAll = "all"

// Trigger sources recorded on task runs.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// SystemTask is a cron-driven job. TargetAgentIDs is either ["all"] or an
// explicit agent id list; TradingDayOnly gates the run on the A-share
// trading window.
type SystemTask struct {
	ID             string     `json:"task_id"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	TaskType       TaskType   `json:"task_type"`
	TargetAgentIDs []string   `json:"agent_ids"`
	TradingDayOnly bool       `json:"trading_day_only"`
	Status         TaskStatus `json:"status"`
	Config         TaskConfig `json:"config"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TargetsAll reports whether the task fans out to every active agent.
func (t *SystemTask) TargetsAll() bool {
	return len(t.TargetAgentIDs) == 1 && t.TargetAgentIDs[0] == TargetAll
}

// AgentRunResult is the per-agent record inside a task run.
type AgentRunResult struct {
	AgentID      string        `json:"agent_id"`
	Status       TaskRunStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	DurationMS   int64         `json:"duration_ms"`
	Retries      int           `json:"retries,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// TaskRunLog is the per-execution record of a task. TaskID is nulled when
// the owning task is deleted; run history outlives the task.
type TaskRunLog struct {
	ID           int64            `json:"id"`
	TaskID       *string          `json:"task_id,omitempty"`
	TaskName     string           `json:"task_name,omitempty"`
	Trigger      string           `json:"trigger,omitempty"` // cron or manual
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Status       TaskRunStatus    `json:"status"`
	SkipReason   string           `json:"skip_reason,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	AgentResults []AgentRunResult `json:"agent_results,omitempty"`
}

// TaskStats aggregates run history for one task.
type TaskStats struct {
	TaskID       string     `json:"task_id"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailCount    int        `json:"fail_count"`
	SkipCount    int        `json:"skip_count"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
}
