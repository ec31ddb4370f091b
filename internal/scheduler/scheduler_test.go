package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/agent"
	"github.com/quantfleet/ashare/internal/market"
	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAgent(t *testing.T, st *store.Store, id string, status models.AgentStatus) {
	t.Helper()
	ag := &models.Agent{
		ID: id, Name: id, InitialCash: decimal.RequireFromString("20000.00"),
		ProviderID: "prov-1", ScheduleType: models.ScheduleDaily, Status: status,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := st.CreateAgent(context.Background(), ag); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
}

// fakeRunner counts cycles and fails or blocks on demand.
type fakeRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	errFor   map[string]error
	err      error
	started  chan string
	release  chan struct{}
	inflight int
	peak     int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(map[string]int), errFor: make(map[string]error)}
}

func (f *fakeRunner) RunCycle(ctx context.Context, agentID string) (*agent.CycleResult, error) {
	f.mu.Lock()
	f.calls[agentID]++
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- agentID
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	err := f.err
	if e, ok := f.errFor[agentID]; ok {
		err = e
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &agent.CycleResult{AgentID: agentID, Status: models.DecisionNoTrade}, nil
}

func (f *fakeRunner) callCount(agentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[agentID]
}

func (f *fakeRunner) maxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// fakeSyncer records market sync invocations.
type fakeSyncer struct {
	synced    int
	refreshed int
	err       error
}

func (f *fakeSyncer) SyncQuotes(context.Context, []string, int) (*market.SyncResult, error) {
	f.synced++
	if f.err != nil {
		return nil, f.err
	}
	return &market.SyncResult{Synced: 3}, nil
}

func (f *fakeSyncer) RefreshMarket(context.Context) (*market.SyncResult, error) {
	f.refreshed++
	if f.err != nil {
		return nil, f.err
	}
	return &market.SyncResult{Synced: 1}, nil
}

// recordingNotifier captures published events in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Publish(event string, _ any) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestSched(t *testing.T, st *store.Store, runner AgentRunner, opts ...func(*Config)) *Scheduler {
	t.Helper()
	cfg := Config{
		Store:        st,
		Agents:       runner,
		RetryDelay:   time.Millisecond,
		AgentTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return New(cfg)
}

func mustCreateTask(t *testing.T, s *Scheduler, p TaskParams) *models.SystemTask {
	t.Helper()
	task, err := s.CreateTask(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

// ════════════════════════════════════════════════════════════════════
// Cron expressions
// ════════════════════════════════════════════════════════════════════

func TestValidateCron(t *testing.T) {
	valid := []string{"0 10 * * 1-5", "*/15 9-15 * * *", "30 9,13 * * *", "@daily"}
	for _, expr := range valid {
		if err := ValidateCron(expr); err != nil {
			t.Errorf("ValidateCron(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{"", "not cron", "61 * * * *", "* * * * * *", "0 25 * * *"}
	for _, expr := range invalid {
		if err := ValidateCron(expr); !errors.Is(err, ErrInvalidCron) {
			t.Errorf("ValidateCron(%q) = %v, want ErrInvalidCron", expr, err)
		}
	}
}

func TestNextRunTimeCST(t *testing.T) {
	// Tuesday 2024-06-04 09:00 CST.
	from := time.Date(2024, 6, 4, 9, 0, 0, 0, utils.CST)

	next, err := NextRunTime("0 10 * * 1-5", from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := time.Date(2024, 6, 4, 10, 0, 0, 0, utils.CST)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Friday 10:00 rolls over the weekend to Monday.
	friday := time.Date(2024, 6, 7, 10, 0, 0, 0, utils.CST)
	next, _ = NextRunTime("0 10 * * 1-5", friday)
	if next.Weekday() != time.Monday {
		t.Fatalf("next after Friday fire = %v", next)
	}

	times, err := NextRunTimes("0 10 * * 1-5", from, 3)
	if err != nil || len(times) != 3 {
		t.Fatalf("NextRunTimes = %v, %v", times, err)
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			t.Fatalf("fire times not ascending: %v", times)
		}
	}
}

func TestDescribeCron(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"30 9 * * 1-5", "at 09:30, on Monday through Friday"},
		{"0 9,13 * * *", "at 09:00 and 13:00"},
		{"*/15 * * * *", "every 15 minutes"},
		{"* * * * *", "every minute"},
		{"0 * * * *", "at minute 0 of every hour"},
		{"0 10 1 * *", "at 10:00, on day 1 of the month"},
		{"0 10 * * 1,3,5", "at 10:00, on Monday, Wednesday, Friday"},
		{"@daily", "daily"},
	}
	for _, tc := range cases {
		got, err := DescribeCron(tc.expr)
		if err != nil {
			t.Errorf("DescribeCron(%q) error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DescribeCron(%q) = %q, want %q", tc.expr, got, tc.want)
		}
	}

	if _, err := DescribeCron("not cron"); !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("err = %v, want ErrInvalidCron", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Task CRUD
// ════════════════════════════════════════════════════════════════════

func TestCreateTaskValidation(t *testing.T) {
	st := testStore(t)
	s := newTestSched(t, st, newFakeRunner())
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, TaskParams{CronExpression: "0 10 * * *"}); !errors.Is(err, ErrTaskNameRequired) {
		t.Fatalf("err = %v, want ErrTaskNameRequired", err)
	}
	if _, err := s.CreateTask(ctx, TaskParams{Name: "bad", CronExpression: "nope"}); !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("err = %v, want ErrInvalidCron", err)
	}
	if _, err := s.CreateTask(ctx, TaskParams{Name: "bad", CronExpression: "0 10 * * *", TaskType: "mystery"}); !errors.Is(err, ErrUnknownTaskType) {
		t.Fatalf("err = %v, want ErrUnknownTaskType", err)
	}

	task := mustCreateTask(t, s, TaskParams{Name: "morning", CronExpression: "0 10 * * 1-5"})
	if !task.TargetsAll() || task.Status != models.TaskActive || task.TaskType != models.TaskAgentDecision {
		t.Fatalf("defaults not applied: %+v", task)
	}
	if _, ok := s.entries[task.ID]; !ok {
		t.Fatal("created task not registered with cron")
	}

	if _, err := s.CreateTask(ctx, TaskParams{Name: "morning", CronExpression: "0 11 * * *"}); !errors.Is(err, store.ErrDuplicateTaskName) {
		t.Fatalf("err = %v, want ErrDuplicateTaskName", err)
	}
}

func TestUpdateTaskReschedules(t *testing.T) {
	st := testStore(t)
	s := newTestSched(t, st, newFakeRunner())
	ctx := context.Background()
	task := mustCreateTask(t, s, TaskParams{Name: "morning", CronExpression: "0 10 * * 1-5"})
	before := s.entries[task.ID]

	expr := "30 14 * * 1-5"
	got, err := s.UpdateTask(ctx, task.ID, UpdateTaskParams{CronExpression: &expr})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.CronExpression != expr {
		t.Fatalf("expression = %q", got.CronExpression)
	}
	if s.entries[task.ID] == before {
		t.Fatal("cron entry not replaced after expression change")
	}

	bad := "junk"
	if _, err := s.UpdateTask(ctx, task.ID, UpdateTaskParams{CronExpression: &bad}); !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("err = %v, want ErrInvalidCron", err)
	}

	if _, err := s.UpdateTask(ctx, "ghost", UpdateTaskParams{}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestPauseResumeDelete(t *testing.T) {
	st := testStore(t)
	s := newTestSched(t, st, newFakeRunner())
	ctx := context.Background()
	task := mustCreateTask(t, s, TaskParams{Name: "morning", CronExpression: "0 10 * * 1-5"})

	if _, err := s.PauseTask(ctx, task.ID); err != nil {
		t.Fatalf("PauseTask: %v", err)
	}
	if _, ok := s.entries[task.ID]; ok {
		t.Fatal("paused task still registered")
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != models.TaskPaused {
		t.Fatalf("status = %s", got.Status)
	}

	if _, err := s.ResumeTask(ctx, task.ID); err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	if _, ok := s.entries[task.ID]; !ok {
		t.Fatal("resumed task not re-registered")
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, ok := s.entries[task.ID]; ok {
		t.Fatal("deleted task still registered")
	}
	if _, err := s.GetTask(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestStartRecoversActiveTasks(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	// First scheduler instance defines the tasks.
	s1 := newTestSched(t, st, newFakeRunner())
	active := mustCreateTask(t, s1, TaskParams{Name: "active", CronExpression: "0 10 * * 1-5"})
	paused := mustCreateTask(t, s1, TaskParams{Name: "paused", CronExpression: "0 11 * * 1-5"})
	if _, err := s1.PauseTask(ctx, paused.ID); err != nil {
		t.Fatalf("PauseTask: %v", err)
	}

	// A task row with a broken expression must not block startup.
	broken := &models.SystemTask{
		ID: "broken", Name: "broken", CronExpression: "not a cron",
		TaskType: models.TaskAgentDecision, TargetAgentIDs: []string{models.TargetAll},
		Status: models.TaskActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := st.CreateTask(ctx, broken); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Cold start: a fresh instance over the same store.
	s2 := newTestSched(t, st, newFakeRunner())
	if err := s2.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s2.Stop(context.Background()) })

	if _, ok := s2.entries[active.ID]; !ok {
		t.Fatal("active task not recovered")
	}
	if _, ok := s2.entries[paused.ID]; ok {
		t.Fatal("paused task recovered")
	}
	if _, ok := s2.entries[broken.ID]; ok {
		t.Fatal("unschedulable task registered")
	}
}

// ════════════════════════════════════════════════════════════════════
// Execution
// ════════════════════════════════════════════════════════════════════

func TestTriggerRunsAllActiveAgents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1", models.AgentActive)
	seedAgent(t, st, "agent-2", models.AgentActive)
	seedAgent(t, st, "agent-3", models.AgentPaused)

	runner := newFakeRunner()
	notif := &recordingNotifier{}
	s := newTestSched(t, st, runner, func(c *Config) { c.Notifier = notif })
	task := mustCreateTask(t, s, TaskParams{Name: "all-agents", CronExpression: "0 10 * * 1-5"})

	run, err := s.Trigger(ctx, task.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if run.Status != models.RunSuccess || run.Trigger != models.TriggerManual {
		t.Fatalf("run = %+v", run)
	}
	if len(run.AgentResults) != 2 {
		t.Fatalf("agent results = %d, want 2 (paused agent excluded)", len(run.AgentResults))
	}
	for _, r := range run.AgentResults {
		if r.Status != models.RunSuccess {
			t.Fatalf("agent %s = %+v", r.AgentID, r)
		}
	}
	if runner.callCount("agent-3") != 0 {
		t.Fatal("paused agent was run")
	}
	if !notif.has(EventTaskRun) {
		t.Fatal("task_run event not published")
	}

	// The run row is durable and terminal.
	runs, _ := st.TaskRuns(ctx, task.ID, 1, 10)
	if len(runs) != 1 || runs[0].Status != models.RunSuccess || runs[0].CompletedAt == nil {
		t.Fatalf("stored runs = %+v", runs)
	}
}

func TestTriggerExplicitTargetsSkipMissing(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1", models.AgentActive)

	runner := newFakeRunner()
	runner.errFor["ghost"] = models.NewDomainError(models.CodeAgentNotFound, "agent ghost not found")
	s := newTestSched(t, st, runner)
	task := mustCreateTask(t, s, TaskParams{
		Name: "explicit", CronExpression: "0 10 * * 1-5",
		TargetAgentIDs: []string{"agent-1", "ghost"},
	})

	run, err := s.Trigger(ctx, task.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	// A skipped agent does not fail the run.
	if run.Status != models.RunSuccess {
		t.Fatalf("run status = %s", run.Status)
	}

	byID := make(map[string]models.TaskRunStatus)
	for _, r := range run.AgentResults {
		byID[r.AgentID] = r.Status
	}
	if byID["agent-1"] != models.RunSuccess || byID["ghost"] != models.RunSkipped {
		t.Fatalf("results = %+v", run.AgentResults)
	}
	if runner.callCount("ghost") != 1 {
		t.Fatal("missing agent should be attempted exactly once, never retried")
	}
}

func TestFanOutBoundedByWorkerPool(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		seedAgent(t, st, fmt.Sprintf("agent-%02d", i), models.AgentActive)
	}

	runner := newFakeRunner()
	runner.started = make(chan string, 10)
	runner.release = make(chan struct{})
	s := newTestSched(t, st, runner, func(c *Config) { c.Workers = 3 })
	task := mustCreateTask(t, s, TaskParams{Name: "bounded", CronExpression: "0 10 * * 1-5"})

	done := make(chan *models.TaskRunLog, 1)
	go func() {
		run, _ := s.Trigger(ctx, task.ID)
		done <- run
	}()

	// The pool admits exactly Workers cycles, then stalls until released.
	for i := 0; i < 3; i++ {
		<-runner.started
	}
	select {
	case id := <-runner.started:
		t.Fatalf("agent %s started beyond the worker limit", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	run := <-done
	if run.Status != models.RunSuccess {
		t.Fatalf("run status = %s", run.Status)
	}
	if len(run.AgentResults) != 10 {
		t.Fatalf("agent results = %d, want 10", len(run.AgentResults))
	}
	if got := runner.maxInflight(); got > 3 {
		t.Fatalf("peak concurrent cycles = %d, want at most 3", got)
	}
}

func TestTradingDayGateSkipsRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1", models.AgentActive)

	runner := newFakeRunner()
	s := newTestSched(t, st, runner, func(c *Config) {
		c.Gate = func(time.Time) (bool, string) { return false, "weekend" }
	})
	task := mustCreateTask(t, s, TaskParams{
		Name: "gated", CronExpression: "0 10 * * *", TradingDayOnly: true,
	})

	run, err := s.Trigger(ctx, task.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if run.Status != models.RunSkipped || run.SkipReason != "weekend" {
		t.Fatalf("run = %+v", run)
	}
	if len(run.AgentResults) != 0 || runner.callCount("agent-1") != 0 {
		t.Fatal("agents invoked despite the gate")
	}
}

func TestCronFireRetriesManualDoesNot(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1", models.AgentActive)

	runner := newFakeRunner()
	runner.err = fmt.Errorf("llm timeout")
	s := newTestSched(t, st, runner)
	task := mustCreateTask(t, s, TaskParams{
		Name: "retrying", CronExpression: "0 10 * * 1-5",
		Config: models.TaskConfig{MaxRetries: 2},
	})

	// Cron-initiated failures retry up to the configured budget.
	run := s.execute(ctx, task, models.TriggerCron)
	if run.Status != models.RunFailed {
		t.Fatalf("run status = %s", run.Status)
	}
	if got := runner.callCount("agent-1"); got != 3 {
		t.Fatalf("attempts = %d, want 3 (1 + 2 retries)", got)
	}
	if run.AgentResults[0].Retries != 2 {
		t.Fatalf("recorded retries = %d", run.AgentResults[0].Retries)
	}

	// Manual triggers run exactly once.
	if _, err := s.Trigger(ctx, task.ID); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if got := runner.callCount("agent-1"); got != 4 {
		t.Fatalf("attempts after manual = %d, want 4", got)
	}
}

func TestInflightAgentSkipped(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1", models.AgentActive)

	runner := newFakeRunner()
	runner.started = make(chan string, 1)
	runner.release = make(chan struct{})
	s := newTestSched(t, st, runner)
	task := mustCreateTask(t, s, TaskParams{Name: "overlap", CronExpression: "0 10 * * 1-5"})

	firstDone := make(chan *models.TaskRunLog, 1)
	go func() {
		run, _ := s.Trigger(ctx, task.ID)
		firstDone <- run
	}()
	<-runner.started // agent-1 is now mid-cycle

	second, err := s.Trigger(ctx, task.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(second.AgentResults) != 1 || second.AgentResults[0].Status != models.RunSkipped {
		t.Fatalf("overlapping run = %+v", second.AgentResults)
	}

	close(runner.release)
	first := <-firstDone
	if first.Status != models.RunSuccess {
		t.Fatalf("first run = %+v", first)
	}

	// The guard is released once the cycle ends.
	runner.started = nil
	runner.release = nil
	third, _ := s.Trigger(ctx, task.ID)
	if third.AgentResults[0].Status != models.RunSuccess {
		t.Fatalf("third run = %+v", third.AgentResults)
	}
}

func TestQuoteSyncAndRefreshTasks(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	syncer := &fakeSyncer{}
	notif := &recordingNotifier{}
	s := newTestSched(t, st, newFakeRunner(), func(c *Config) {
		c.Market = syncer
		c.Notifier = notif
	})

	syncTask := mustCreateTask(t, s, TaskParams{
		Name: "nightly-sync", CronExpression: "0 18 * * 1-5", TaskType: models.TaskQuoteSync,
	})
	run, err := s.Trigger(ctx, syncTask.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if run.Status != models.RunSuccess || syncer.synced != 1 {
		t.Fatalf("sync run = %+v, synced = %d", run, syncer.synced)
	}
	if !notif.has(EventQuoteUpdate) {
		t.Fatal("quote_update event not published")
	}

	refreshTask := mustCreateTask(t, s, TaskParams{
		Name: "intraday-refresh", CronExpression: "*/5 9-15 * * 1-5", TaskType: models.TaskMarketRefresh,
	})
	run, err = s.Trigger(ctx, refreshTask.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if run.Status != models.RunSuccess || syncer.refreshed != 1 {
		t.Fatalf("refresh run = %+v, refreshed = %d", run, syncer.refreshed)
	}

	// A failing sync marks the run failed.
	syncer.err = fmt.Errorf("upstream down")
	run, _ = s.Trigger(ctx, syncTask.ID)
	if run.Status != models.RunFailed || run.ErrorMessage == "" {
		t.Fatalf("failed sync run = %+v", run)
	}
}

func TestStatsIncludesRunHistory(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1", models.AgentActive)

	runner := newFakeRunner()
	s := newTestSched(t, st, runner)
	task := mustCreateTask(t, s, TaskParams{Name: "stats", CronExpression: "0 10 * * 1-5"})

	if _, err := s.Trigger(ctx, task.ID); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	runner.err = fmt.Errorf("boom")
	if _, err := s.Trigger(ctx, task.ID); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	stats, err := s.Stats(ctx, task.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRuns != 2 || stats.SuccessCount != 1 || stats.FailCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.LastStatus != string(models.RunFailed) {
		t.Fatalf("last status = %s", stats.LastStatus)
	}

	if _, err := s.Stats(ctx, "ghost"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}
