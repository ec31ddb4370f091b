package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quantfleet/ashare/pkg/models"
)

// EventTaskRun is published after every finished run.
const EventTaskRun = "task_run"

// EventQuoteUpdate is published after a successful quote sync.
const EventQuoteUpdate = "quote_update"

// execute performs one run of the task and returns its completed log.
// The run row is written in the running state first so a crash leaves a
// visible stuck run instead of silence.
func (s *Scheduler) execute(ctx context.Context, t *models.SystemTask, trigger string) *models.TaskRunLog {
	started := s.clock()
	run := &models.TaskRunLog{
		TaskID:    &t.ID,
		TaskName:  t.Name,
		Trigger:   trigger,
		StartedAt: started,
		Status:    models.RunRunning,
	}
	runID, err := s.store.StartTaskRun(ctx, run)
	if err != nil {
		s.log.WithError(err).WithField("task", t.Name).Error("record task run start")
	}
	run.ID = runID

	rlog := s.log.WithFields(logrus.Fields{"task": t.Name, "trigger": trigger, "run_id": runID})
	rlog.Info("task run started")

	if t.TradingDayOnly {
		if ok, reason := s.gate(started); !ok {
			run.Status = models.RunSkipped
			run.SkipReason = reason
			s.finish(ctx, run, rlog)
			return run
		}
	}

	switch t.TaskType {
	case models.TaskAgentDecision:
		s.runAgents(ctx, t, trigger, run)
	case models.TaskQuoteSync:
		s.runQuoteSync(ctx, run)
	case models.TaskMarketRefresh:
		s.runMarketRefresh(ctx, run)
	default:
		run.Status = models.RunFailed
		run.ErrorMessage = fmt.Sprintf("unknown task type %q", t.TaskType)
	}

	s.finish(ctx, run, rlog)
	return run
}

// finish stamps the terminal state, persists it and notifies listeners.
func (s *Scheduler) finish(ctx context.Context, run *models.TaskRunLog, rlog *logrus.Entry) {
	done := s.clock()
	run.CompletedAt = &done
	if err := s.store.FinishTaskRun(ctx, run); err != nil {
		rlog.WithError(err).Error("record task run outcome")
	}
	s.publish(EventTaskRun, run)

	fields := logrus.Fields{"status": run.Status, "took": done.Sub(run.StartedAt).Round(time.Millisecond).String()}
	if run.SkipReason != "" {
		fields["skip_reason"] = run.SkipReason
	}
	if run.ErrorMessage != "" {
		fields["error"] = run.ErrorMessage
	}
	rlog.WithFields(fields).Info("task run finished")
}

// ════════════════════════════════════════════════════════════════════
// Agent fan-out
// ════════════════════════════════════════════════════════════════════

// runAgents resolves the target list and runs one decision cycle per
// agent through the worker pool. The run succeeds when every agent that
// actually ran succeeded.
func (s *Scheduler) runAgents(ctx context.Context, t *models.SystemTask, trigger string, run *models.TaskRunLog) {
	ids, err := s.resolveTargets(ctx, t)
	if err != nil {
		run.Status = models.RunFailed
		run.ErrorMessage = fmt.Sprintf("resolve targets: %v", err)
		return
	}
	if len(ids) == 0 {
		run.Status = models.RunSuccess
		run.ErrorMessage = "no active agents to run"
		return
	}

	results := make([]models.AgentRunResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.runAgent(ctx, t, trigger, id)
			return nil
		})
	}
	_ = g.Wait()

	run.AgentResults = results
	failed := 0
	for _, r := range results {
		if r.Status == models.RunFailed {
			failed++
		}
	}
	if failed > 0 {
		run.Status = models.RunFailed
		run.ErrorMessage = fmt.Sprintf("%d of %d agents failed", failed, len(results))
	} else {
		run.Status = models.RunSuccess
	}
}

// resolveTargets expands ["all"] into the live active-agent set. An
// explicit list is taken as-is; unknown or inactive entries surface as
// per-agent skips when they run.
func (s *Scheduler) resolveTargets(ctx context.Context, t *models.SystemTask) ([]string, error) {
	if !t.TargetsAll() {
		return t.TargetAgentIDs, nil
	}
	agents, err := s.store.ListActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	sort.Strings(ids)
	return ids, nil
}

// runAgent executes one agent's cycle with the task's retry policy.
// Cron fires retry transient failures; manual triggers run exactly
// once. An agent already mid-cycle is skipped rather than queued.
func (s *Scheduler) runAgent(ctx context.Context, t *models.SystemTask, trigger, agentID string) models.AgentRunResult {
	res := models.AgentRunResult{AgentID: agentID, StartedAt: s.clock()}

	if !s.acquire(agentID) {
		res.Status = models.RunSkipped
		res.ErrorMessage = "cycle already running"
		res.CompletedAt = s.clock()
		return res
	}
	defer s.release(agentID)

	maxRetries := t.Config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.maxRetries
	}
	if trigger == models.TriggerManual {
		maxRetries = 0
	}
	delay := s.retryDelay
	if t.Config.RetryDelaySec > 0 {
		delay = time.Duration(t.Config.RetryDelaySec) * time.Second
	}
	timeout := s.agentTimeout
	if t.Config.TimeoutSec > 0 {
		timeout = time.Duration(t.Config.TimeoutSec) * time.Second
	}

	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, timeout)
		_, err := s.agents.RunCycle(actx, agentID)
		cancel()

		if err == nil {
			res.Status = models.RunSuccess
			break
		}

		// A missing or inactive agent will not heal by retrying.
		var derr *models.DomainError
		if errors.As(err, &derr) &&
			(derr.Code == models.CodeAgentNotFound || derr.Code == models.CodeAgentInactive) {
			res.Status = models.RunSkipped
			res.ErrorMessage = derr.Message
			break
		}

		if attempt >= maxRetries || ctx.Err() != nil {
			res.Status = models.RunFailed
			res.ErrorMessage = err.Error()
			break
		}

		res.Retries++
		s.log.WithError(err).WithFields(logrus.Fields{
			"agent_id": agentID, "attempt": attempt + 1, "max": maxRetries,
		}).Warn("agent cycle failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	res.CompletedAt = s.clock()
	res.DurationMS = res.CompletedAt.Sub(res.StartedAt).Milliseconds()
	return res
}

// acquire marks the agent as mid-cycle; false when already marked.
func (s *Scheduler) acquire(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[agentID] {
		return false
	}
	s.inflight[agentID] = true
	return true
}

func (s *Scheduler) release(agentID string) {
	s.mu.Lock()
	delete(s.inflight, agentID)
	s.mu.Unlock()
}

// ════════════════════════════════════════════════════════════════════
// Market task types
// ════════════════════════════════════════════════════════════════════

func (s *Scheduler) runQuoteSync(ctx context.Context, run *models.TaskRunLog) {
	if s.market == nil {
		run.Status = models.RunFailed
		run.ErrorMessage = "market service not configured"
		return
	}
	sr, err := s.market.SyncQuotes(ctx, nil, 0)
	if err != nil {
		run.Status = models.RunFailed
		run.ErrorMessage = err.Error()
		return
	}
	run.Status = models.RunSuccess
	if sr != nil {
		s.publish(EventQuoteUpdate, sr)
	}
}

func (s *Scheduler) runMarketRefresh(ctx context.Context, run *models.TaskRunLog) {
	if s.market == nil {
		run.Status = models.RunFailed
		run.ErrorMessage = "market service not configured"
		return
	}
	sr, err := s.market.RefreshMarket(ctx)
	if err != nil {
		run.Status = models.RunFailed
		run.ErrorMessage = err.Error()
		return
	}
	run.Status = models.RunSuccess
	if sr != nil {
		s.publish(EventQuoteUpdate, sr)
	}
}
