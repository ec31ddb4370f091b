// Package scheduler owns the cron-driven task engine: task definitions,
// their registration with the cron runtime, and the execution of each
// fire against the agent and market services.
//
// All cron expressions are evaluated in CST. A task row is the source
// of truth; the in-memory cron entry is a disposable projection that is
// rebuilt from the store on startup and after every mutation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/quantfleet/ashare/internal/agent"
	"github.com/quantfleet/ashare/internal/market"
	"github.com/quantfleet/ashare/internal/rules"
	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

var (
	// ErrTaskNameRequired rejects task creation without a name.
	ErrTaskNameRequired = errors.New("task name is required")

	// ErrTaskNotFound is returned for operations on unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnknownTaskType rejects task types the executor cannot run.
	ErrUnknownTaskType = errors.New("unknown task type")
)

// Defaults applied when neither the task config nor the scheduler
// config overrides them.
const (
	defaultWorkers      = 5
	defaultMaxRetries   = 3
	defaultRetryDelay   = 60 * time.Second
	defaultAgentTimeout = 120 * time.Second
)

// AgentRunner executes one decision cycle; satisfied by agent.Service.
type AgentRunner interface {
	RunCycle(ctx context.Context, agentID string) (*agent.CycleResult, error)
}

// MarketSyncer backs the quote_sync and market_refresh task types;
// satisfied by market.Service.
type MarketSyncer interface {
	SyncQuotes(ctx context.Context, codes []string, days int) (*market.SyncResult, error)
	RefreshMarket(ctx context.Context) (*market.SyncResult, error)
}

// Config wires a Scheduler. Store and Agents are required; Market may
// be nil when no sync tasks are defined.
type Config struct {
	Store    *store.Store
	Agents   AgentRunner
	Market   MarketSyncer
	Notifier agent.Notifier
	Logger   *logrus.Logger

	// Workers caps concurrent agent cycles within one task run.
	Workers int

	// MaxRetries and RetryDelay drive cron-fire retry policy; manual
	// triggers never retry.
	MaxRetries int
	RetryDelay time.Duration

	// AgentTimeout bounds each agent cycle, LLM call included.
	AgentTimeout time.Duration

	// Clock supplies run timestamps, CST. Defaults to wall clock.
	Clock func() time.Time

	// Gate decides whether a trading_day_only task may run now and
	// names the skip reason when not. Defaults to the A-share window.
	Gate func(time.Time) (bool, string)
}

// Scheduler manages task definitions and runs them on their cron
// schedules.
type Scheduler struct {
	store    *store.Store
	agents   AgentRunner
	market   MarketSyncer
	notifier agent.Notifier
	log      *logrus.Logger
	cron     *cron.Cron
	clock    func() time.Time
	gate     func(time.Time) (bool, string)

	workers      int
	maxRetries   int
	retryDelay   time.Duration
	agentTimeout time.Duration

	mu       sync.Mutex
	entries  map[string]cron.EntryID // task id -> cron entry
	inflight map[string]bool         // agent id -> cycle running
}

// New builds a Scheduler from cfg. Call Start to load persisted tasks
// and begin firing.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.NowCST
	}
	if cfg.Gate == nil {
		cfg.Gate = rules.TradingWindowGate
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = defaultAgentTimeout
	}
	return &Scheduler{
		store:        cfg.Store,
		agents:       cfg.Agents,
		market:       cfg.Market,
		notifier:     cfg.Notifier,
		log:          cfg.Logger,
		cron:         cron.New(cron.WithLocation(utils.CST)),
		clock:        cfg.Clock,
		gate:         cfg.Gate,
		workers:      cfg.Workers,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		agentTimeout: cfg.AgentTimeout,
		entries:      make(map[string]cron.EntryID),
		inflight:     make(map[string]bool),
	}
}

// Start loads every active task from the store, registers it and
// starts the cron runtime. Fires missed while the process was down are
// not replayed.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.store.ListActiveTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := s.register(t); err != nil {
			// A row with a bad expression must not block startup.
			s.log.WithError(err).WithField("task", t.Name).Warn("skipping unschedulable task")
		}
	}
	s.cron.Start()
	s.log.WithField("tasks", len(s.entries)).Info("scheduler started")
	return nil
}

// Stop halts future fires and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register adds the task to the cron runtime. Caller holds no locks.
func (s *Scheduler) register(t *models.SystemTask) error {
	if err := ValidateCron(t.CronExpression); err != nil {
		return err
	}
	taskID := t.ID
	entryID, err := s.cron.AddFunc(t.CronExpression, func() { s.fire(taskID) })
	if err != nil {
		return err
	}
	s.mu.Lock()
	if old, ok := s.entries[taskID]; ok {
		s.cron.Remove(old)
	}
	s.entries[taskID] = entryID
	s.mu.Unlock()
	return nil
}

// unregister drops the task's cron entry if one exists.
func (s *Scheduler) unregister(taskID string) {
	s.mu.Lock()
	if id, ok := s.entries[taskID]; ok {
		s.cron.Remove(id)
		delete(s.entries, taskID)
	}
	s.mu.Unlock()
}

// nextRun returns the task's next fire time, nil when unregistered.
func (s *Scheduler) nextRun(taskID string) *time.Time {
	s.mu.Lock()
	id, ok := s.entries[taskID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// fire handles one cron tick: reload the task so a stale closure can
// never run a mutated or paused definition, then execute.
func (s *Scheduler) fire(taskID string) {
	ctx := context.Background()
	t, err := s.store.TaskByID(ctx, taskID)
	if err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Warn("cron fired for unloadable task")
		s.unregister(taskID)
		return
	}
	if t.Status != models.TaskActive {
		return
	}
	s.execute(ctx, t, models.TriggerCron)
}

func (s *Scheduler) publish(event string, payload any) {
	if s.notifier != nil {
		s.notifier.Publish(event, payload)
	}
}

// ════════════════════════════════════════════════════════════════════
// Task CRUD
// ════════════════════════════════════════════════════════════════════

// TaskParams are the caller-supplied fields for a new task.
type TaskParams struct {
	Name           string
	CronExpression string
	TaskType       models.TaskType
	TargetAgentIDs []string
	TradingDayOnly bool
	Config         models.TaskConfig
}

// CreateTask validates, persists and registers a new task. The target
// list defaults to ["all"]; the task starts active.
func (s *Scheduler) CreateTask(ctx context.Context, p TaskParams) (*models.SystemTask, error) {
	if p.Name == "" {
		return nil, ErrTaskNameRequired
	}
	if err := ValidateCron(p.CronExpression); err != nil {
		return nil, err
	}
	if p.TaskType == "" {
		p.TaskType = models.TaskAgentDecision
	}
	switch p.TaskType {
	case models.TaskAgentDecision, models.TaskQuoteSync, models.TaskMarketRefresh:
	default:
		return nil, ErrUnknownTaskType
	}
	if len(p.TargetAgentIDs) == 0 {
		p.TargetAgentIDs = []string{models.TargetAll}
	}

	now := s.clock()
	t := &models.SystemTask{
		ID:             uuid.NewString(),
		Name:           p.Name,
		CronExpression: p.CronExpression,
		TaskType:       p.TaskType,
		TargetAgentIDs: p.TargetAgentIDs,
		TradingDayOnly: p.TradingDayOnly,
		Status:         models.TaskActive,
		Config:         p.Config,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	if err := s.register(t); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"task": t.Name, "cron": t.CronExpression, "type": t.TaskType,
	}).Info("task created")
	return t, nil
}

// UpdateTaskParams carries a partial task update; nil fields are left
// untouched. Status moves through Pause and Resume instead.
type UpdateTaskParams struct {
	Name           *string
	CronExpression *string
	TaskType       *models.TaskType
	TargetAgentIDs []string
	TradingDayOnly *bool
	Config         *models.TaskConfig
}

// UpdateTask applies p and reschedules the task when its expression
// changed.
func (s *Scheduler) UpdateTask(ctx context.Context, id string, p UpdateTaskParams) (*models.SystemTask, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	reschedule := false
	if p.Name != nil && *p.Name != "" {
		t.Name = *p.Name
	}
	if p.CronExpression != nil && *p.CronExpression != t.CronExpression {
		if err := ValidateCron(*p.CronExpression); err != nil {
			return nil, err
		}
		t.CronExpression = *p.CronExpression
		reschedule = true
	}
	if p.TaskType != nil {
		switch *p.TaskType {
		case models.TaskAgentDecision, models.TaskQuoteSync, models.TaskMarketRefresh:
			t.TaskType = *p.TaskType
		default:
			return nil, ErrUnknownTaskType
		}
	}
	if p.TargetAgentIDs != nil {
		t.TargetAgentIDs = p.TargetAgentIDs
	}
	if p.TradingDayOnly != nil {
		t.TradingDayOnly = *p.TradingDayOnly
	}
	if p.Config != nil {
		t.Config = *p.Config
	}

	t.UpdatedAt = s.clock()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	if reschedule && t.Status == models.TaskActive {
		if err := s.register(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetTask loads one task.
func (s *Scheduler) GetTask(ctx context.Context, id string) (*models.SystemTask, error) {
	t, err := s.store.TaskByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// ListTasks returns all tasks.
func (s *Scheduler) ListTasks(ctx context.Context) ([]*models.SystemTask, error) {
	return s.store.ListTasks(ctx)
}

// DeleteTask unregisters and removes the task. Its run history is kept
// with a nulled task reference.
func (s *Scheduler) DeleteTask(ctx context.Context, id string) error {
	s.unregister(id)
	err := s.store.DeleteTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrTaskNotFound
	}
	return err
}

// PauseTask suppresses future fires. A run already in flight finishes.
func (s *Scheduler) PauseTask(ctx context.Context, id string) (*models.SystemTask, error) {
	return s.setStatus(ctx, id, models.TaskPaused)
}

// ResumeTask reactivates the task and recomputes its next fire time
// from now.
func (s *Scheduler) ResumeTask(ctx context.Context, id string) (*models.SystemTask, error) {
	return s.setStatus(ctx, id, models.TaskActive)
}

func (s *Scheduler) setStatus(ctx context.Context, id string, status models.TaskStatus) (*models.SystemTask, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	t.Status = status
	t.UpdatedAt = s.clock()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	if status == models.TaskActive {
		if err := s.register(t); err != nil {
			return nil, err
		}
	} else {
		s.unregister(t.ID)
	}
	return t, nil
}

// Trigger runs the task once, immediately and synchronously. Manual
// runs are never retried; the trading-day gate still applies.
func (s *Scheduler) Trigger(ctx context.Context, id string) (*models.TaskRunLog, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, t, models.TriggerManual), nil
}

// Runs pages through the task's run history, newest first.
func (s *Scheduler) Runs(ctx context.Context, taskID string, page, perPage int) ([]*models.TaskRunLog, error) {
	return s.store.TaskRuns(ctx, taskID, page, perPage)
}

// Stats aggregates the task's run history and annotates the next fire
// time from the live cron entry.
func (s *Scheduler) Stats(ctx context.Context, taskID string) (*models.TaskStats, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	stats, err := s.store.TaskStatsByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	stats.NextRunAt = s.nextRun(taskID)
	return stats, nil
}
