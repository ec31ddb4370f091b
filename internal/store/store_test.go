package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAgent(id string) *models.Agent {
	now := time.Now()
	return &models.Agent{
		ID:           id,
		Name:         "agent " + id,
		InitialCash:  dec("20000.00"),
		ProviderID:   "prov-1",
		ModelName:    "test-model",
		ScheduleType: models.ScheduleDaily,
		Status:       models.AgentActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ════════════════════════════════════════════════════════════════════
// Agents & Portfolios
// ════════════════════════════════════════════════════════════════════

func TestCreateAgentSeedsPortfolio(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, testAgent("a1")); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	pf, err := s.PortfolioByAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("PortfolioByAgent: %v", err)
	}
	if !pf.Cash.Equal(dec("20000.00")) {
		t.Fatalf("seeded cash = %s", pf.Cash)
	}
	if len(pf.Positions) != 0 {
		t.Fatalf("new portfolio has positions: %v", pf.Positions)
	}
}

func TestAgentLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testAgent("a1")
	if err := s.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	a.Name = "renamed"
	a.Status = models.AgentPaused
	if err := s.UpdateAgent(ctx, a); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}

	got, err := s.AgentByID(ctx, "a1")
	if err != nil {
		t.Fatalf("AgentByID: %v", err)
	}
	if got.Name != "renamed" || got.Status != models.AgentPaused {
		t.Fatalf("after update: %+v", got)
	}
	if !got.InitialCash.Equal(dec("20000.00")) {
		t.Fatalf("initial cash round-trip: %s", got.InitialCash)
	}

	// Paused agents list but are not active.
	active, _ := s.ListActiveAgents(ctx)
	if len(active) != 0 {
		t.Fatalf("paused agent counted active: %d", len(active))
	}

	if err := s.SoftDeleteAgent(ctx, "a1"); err != nil {
		t.Fatalf("SoftDeleteAgent: %v", err)
	}
	all, _ := s.ListAgents(ctx)
	if len(all) != 0 {
		t.Fatalf("deleted agent still listed: %d", len(all))
	}
	// Row survives for history lookups.
	if _, err := s.AgentByID(ctx, "a1"); err != nil {
		t.Fatalf("soft-deleted agent should load: %v", err)
	}
}

func TestAgentNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.AgentByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPortfolioRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateAgent(ctx, testAgent("a1"))

	buyDate := time.Date(2024, 6, 3, 10, 0, 0, 0, utils.CST)
	pf := &models.Portfolio{
		AgentID: "a1",
		Cash:    dec("8994.98"),
		Positions: []models.Position{
			{StockCode: "600000", Shares: 1000, AvgCost: dec("10.500"), BuyDate: buyDate},
			{StockCode: "300750", Shares: 200, AvgCost: dec("180.250"), BuyDate: buyDate},
		},
	}
	if err := s.SavePortfolio(ctx, pf); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}

	got, err := s.PortfolioByAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("PortfolioByAgent: %v", err)
	}
	if !got.Cash.Equal(dec("8994.98")) {
		t.Fatalf("cash: %s", got.Cash)
	}
	if len(got.Positions) != 2 {
		t.Fatalf("positions: %d", len(got.Positions))
	}
	p := got.Position("600000")
	if p == nil || p.Shares != 1000 || !p.AvgCost.Equal(dec("10.500")) {
		t.Fatalf("position 600000: %+v", p)
	}
	if utils.FormatDateCST(p.BuyDate) != "2024-06-03" {
		t.Fatalf("buy date: %s", p.BuyDate)
	}
}

// ════════════════════════════════════════════════════════════════════
// Orders, Transactions & Atomicity
// ════════════════════════════════════════════════════════════════════

func strptr(s string) *string { return &s }
func i64ptr(n int64) *int64   { return &n }

func TestSaveOrderResultAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateAgent(ctx, testAgent("a1"))

	price := dec("10.000")
	now := time.Now()
	ord := &models.Order{
		ID:        "ord-1",
		AgentID:   "a1",
		Side:      models.Buy,
		StockCode: strptr("600000"),
		Quantity:  i64ptr(100),
		Price:     &price,
		Status:    models.OrderFilled,
		CreatedAt: now,
	}
	txn := &models.Transaction{
		ID:        "tx-1",
		OrderID:   "ord-1",
		AgentID:   "a1",
		StockCode: "600000",
		Side:      models.Buy,
		Quantity:  100,
		Price:     price,
		Fees: models.TradingFees{
			Commission:  dec("5.00"),
			StampTax:    dec("0"),
			TransferFee: dec("0.02"),
		},
		ExecutedAt: now,
	}
	pf := &models.Portfolio{
		AgentID: "a1",
		Cash:    dec("18994.98"),
		Positions: []models.Position{
			{StockCode: "600000", Shares: 100, AvgCost: dec("10.050"), BuyDate: now},
		},
	}

	if err := s.SaveOrderResult(ctx, ord, txn, pf); err != nil {
		t.Fatalf("SaveOrderResult: %v", err)
	}

	gotOrd, err := s.OrderByID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("OrderByID: %v", err)
	}
	if gotOrd.Status != models.OrderFilled || *gotOrd.StockCode != "600000" {
		t.Fatalf("order: %+v", gotOrd)
	}
	if gotOrd.Price == nil || !gotOrd.Price.Equal(price) {
		t.Fatalf("order price: %v", gotOrd.Price)
	}

	txns, _ := s.TransactionsByAgent(ctx, "a1", 1, 10)
	if len(txns) != 1 {
		t.Fatalf("transactions: %d", len(txns))
	}
	if !txns[0].Fees.Total().Equal(dec("5.02")) {
		t.Fatalf("fees: %s", txns[0].Fees.Total())
	}

	gotPf, _ := s.PortfolioByAgent(ctx, "a1")
	if !gotPf.Cash.Equal(dec("18994.98")) || len(gotPf.Positions) != 1 {
		t.Fatalf("portfolio not committed: %+v", gotPf)
	}
}

func TestRejectedOrderKeepsPortfolio(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateAgent(ctx, testAgent("a1"))

	price := dec("99999.00")
	ord := &models.Order{
		ID:           "ord-rej",
		AgentID:      "a1",
		Side:         models.Buy,
		StockCode:    strptr("600000"),
		Quantity:     i64ptr(100),
		Price:        &price,
		Status:       models.OrderRejected,
		RejectReason: strptr("INSUFFICIENT_CASH: need more"),
		CreatedAt:    time.Now(),
	}
	if err := s.SaveOrderResult(ctx, ord, nil, nil); err != nil {
		t.Fatalf("SaveOrderResult: %v", err)
	}

	pf, _ := s.PortfolioByAgent(ctx, "a1")
	if !pf.Cash.Equal(dec("20000.00")) {
		t.Fatalf("rejected order touched cash: %s", pf.Cash)
	}
	got, _ := s.OrderByID(ctx, "ord-rej")
	if got.RejectReason == nil || *got.RejectReason == "" {
		t.Fatal("reject reason lost")
	}
}

func TestHoldOrderNullColumns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateAgent(ctx, testAgent("a1"))

	ord := &models.Order{
		ID:        "ord-hold",
		AgentID:   "a1",
		LLMLogID:  i64ptr(7),
		Side:      models.Hold,
		Status:    models.OrderFilled,
		Reason:    "market unclear",
		CreatedAt: time.Now(),
	}
	if err := s.InsertOrder(ctx, ord); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	got, _ := s.OrderByID(ctx, "ord-hold")
	if got.StockCode != nil || got.Quantity != nil || got.Price != nil {
		t.Fatalf("hold order should have null trade fields: %+v", got)
	}
	if got.LLMLogID == nil || *got.LLMLogID != 7 {
		t.Fatalf("llm log link: %v", got.LLMLogID)
	}
	if got.Reason != "market unclear" {
		t.Fatalf("reason: %q", got.Reason)
	}
}

func TestOrdersByAgentPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateAgent(ctx, testAgent("a1"))

	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ord := &models.Order{
			ID:        "ord-" + string(rune('a'+i)),
			AgentID:   "a1",
			Side:      models.Hold,
			Status:    models.OrderFilled,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertOrder(ctx, ord); err != nil {
			t.Fatalf("InsertOrder: %v", err)
		}
	}

	page1, err := s.OrdersByAgent(ctx, "a1", 1, 2)
	if err != nil {
		t.Fatalf("OrdersByAgent: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "ord-e" {
		t.Fatalf("page 1: %+v", page1)
	}
	page3, _ := s.OrdersByAgent(ctx, "a1", 3, 2)
	if len(page3) != 1 || page3[0].ID != "ord-a" {
		t.Fatalf("page 3: %+v", page3)
	}
}

// ════════════════════════════════════════════════════════════════════
// Quotes
// ════════════════════════════════════════════════════════════════════

func quoteOn(code string, y int, m time.Month, d int, close string) *models.StockQuote {
	return &models.StockQuote{
		StockCode: code,
		Name:      "浦发银行",
		TradeDate: time.Date(y, m, d, 0, 0, 0, 0, utils.CST),
		Open:      dec(close),
		High:      dec(close),
		Low:       dec(close),
		Close:     dec(close),
		PrevClose: dec(close),
		Volume:    1000000,
		Amount:    dec("12000000"),
	}
}

func TestQuoteUpsertAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertQuote(ctx, quoteOn("600000", 2024, 6, 3, "10.000")); err != nil {
		t.Fatalf("UpsertQuote: %v", err)
	}
	s.UpsertQuote(ctx, quoteOn("600000", 2024, 6, 4, "10.500"))

	// Re-running the same day replaces the row instead of duplicating.
	if err := s.UpsertQuote(ctx, quoteOn("600000", 2024, 6, 4, "10.600")); err != nil {
		t.Fatalf("upsert same day: %v", err)
	}

	latest, err := s.LatestQuote(ctx, "600000")
	if err != nil {
		t.Fatalf("LatestQuote: %v", err)
	}
	if !latest.Close.Equal(dec("10.600")) {
		t.Fatalf("latest close: %s", latest.Close)
	}
	if utils.FormatDateCST(latest.TradeDate) != "2024-06-04" {
		t.Fatalf("latest date: %s", latest.TradeDate)
	}

	history, _ := s.QuoteHistory(ctx, "600000", "", "")
	if len(history) != 2 {
		t.Fatalf("history rows: %d", len(history))
	}
	if !history[0].TradeDate.Before(history[1].TradeDate) {
		t.Fatal("history should ascend by date")
	}
}

func TestPrevCloseStrictlyBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.UpsertQuote(ctx, quoteOn("600000", 2024, 5, 31, "9.900"))
	s.UpsertQuote(ctx, quoteOn("600000", 2024, 6, 3, "10.000"))

	// The bar on the requested date itself must not count.
	pc, err := s.PrevClose(ctx, "600000", "2024-06-03")
	if err != nil {
		t.Fatalf("PrevClose: %v", err)
	}
	if !pc.Equal(dec("9.900")) {
		t.Fatalf("prev close: %s", pc)
	}

	// No history at all: zero, no error.
	pc, err = s.PrevClose(ctx, "688111", "2024-06-03")
	if err != nil || !pc.IsZero() {
		t.Fatalf("missing history: %s, %v", pc, err)
	}
}

func TestLatestQuotesSkipsMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.UpsertQuote(ctx, quoteOn("600000", 2024, 6, 3, "10.000"))

	quotes, err := s.LatestQuotes(ctx, []string{"600000", "000001"})
	if err != nil {
		t.Fatalf("LatestQuotes: %v", err)
	}
	if len(quotes) != 1 || quotes["600000"] == nil {
		t.Fatalf("quotes: %v", quotes)
	}
}

// ════════════════════════════════════════════════════════════════════
// Templates & Providers
// ════════════════════════════════════════════════════════════════════

func TestTemplateCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	tmpl := &models.PromptTemplate{
		ID: "t1", Name: "custom", Content: "trade {{cash}}",
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	tmpl.Content = "v2 content"
	tmpl.Version = 2
	if err := s.UpdateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}

	got, err := s.TemplateByID(ctx, "t1")
	if err != nil {
		t.Fatalf("TemplateByID: %v", err)
	}
	if got.Version != 2 || got.Content != "v2 content" {
		t.Fatalf("after update: %+v", got)
	}

	if err := s.DeleteTemplate(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if _, err := s.TemplateByID(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProviderUpdateKeepsSecret(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	p := &models.Provider{
		ID: "p1", Name: "deepseek", Protocol: models.ProtocolOpenAI,
		BaseURL: "https://api.deepseek.com/v1", APIKey: "sk-secret",
		Model: "deepseek-chat", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateProvider(ctx, p); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	// Update without a key keeps the stored secret.
	p.APIKey = ""
	p.Name = "deepseek-renamed"
	if err := s.UpdateProvider(ctx, p); err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	got, _ := s.ProviderByID(ctx, "p1")
	if got.APIKey != "sk-secret" {
		t.Fatalf("secret lost on keyless update: %q", got.APIKey)
	}
	if got.Name != "deepseek-renamed" {
		t.Fatalf("name: %q", got.Name)
	}

	// Update with a key replaces it.
	p.APIKey = "sk-new"
	s.UpdateProvider(ctx, p)
	got, _ = s.ProviderByID(ctx, "p1")
	if got.APIKey != "sk-new" {
		t.Fatalf("key not replaced: %q", got.APIKey)
	}
}

// ════════════════════════════════════════════════════════════════════
// LLM & Decision Logs
// ════════════════════════════════════════════════════════════════════

func TestAppendLLMLogMonotonicIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	agentID := "a1"
	first, err := s.AppendLLMLog(ctx, &models.LLMLog{
		ProviderID: "p1", ModelName: "m", AgentID: &agentID,
		RequestBody: `{"model":"m"}`, Status: models.LLMCallSuccess, RequestTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("AppendLLMLog: %v", err)
	}
	second, _ := s.AppendLLMLog(ctx, &models.LLMLog{
		ProviderID: "p1", Status: models.LLMCallError, ErrorMessage: "boom", RequestTime: time.Now(),
	})
	if second <= first {
		t.Fatalf("ids not monotonic: %d then %d", first, second)
	}

	logs, err := s.LLMLogs(ctx, LLMLogFilter{ProviderID: "p1"})
	if err != nil {
		t.Fatalf("LLMLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs: %d", len(logs))
	}

	byAgent, _ := s.LLMLogs(ctx, LLMLogFilter{AgentID: "a1"})
	if len(byAgent) != 1 || byAgent[0].ID != first {
		t.Fatalf("agent filter: %+v", byAgent)
	}
}

func TestDecisionLogRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	price := dec("10.50")
	d := &models.DecisionLog{
		AgentID:       "a1",
		PromptContent: "prompt text",
		LLMResponse:   `[{"decision":"buy"}]`,
		Decisions: []models.TradingDecision{
			{Type: models.DecideBuy, StockCode: "600000", Quantity: 100, Price: &price, Reason: "cheap"},
		},
		OrderIDs:  []string{"ord-1"},
		Status:    models.DecisionSuccess,
		CreatedAt: time.Now(),
	}
	if err := s.InsertDecisionLog(ctx, d); err != nil {
		t.Fatalf("InsertDecisionLog: %v", err)
	}
	if d.ID == 0 {
		t.Fatal("id not assigned")
	}

	logs, err := s.DecisionLogs(ctx, "a1", 1, 10)
	if err != nil {
		t.Fatalf("DecisionLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs: %d", len(logs))
	}
	got := logs[0]
	if len(got.Decisions) != 1 || got.Decisions[0].StockCode != "600000" {
		t.Fatalf("decisions round-trip: %+v", got.Decisions)
	}
	if len(got.OrderIDs) != 1 || got.OrderIDs[0] != "ord-1" {
		t.Fatalf("order ids round-trip: %v", got.OrderIDs)
	}
}

// ════════════════════════════════════════════════════════════════════
// Tasks & Run Logs
// ════════════════════════════════════════════════════════════════════

func testTask(id, name string) *models.SystemTask {
	now := time.Now()
	return &models.SystemTask{
		ID:             id,
		Name:           name,
		CronExpression: "0 10 * * 1-5",
		TaskType:       models.TaskAgentDecision,
		TargetAgentIDs: []string{models.TargetAll},
		TradingDayOnly: true,
		Status:         models.TaskActive,
		Config:         models.TaskConfig{MaxRetries: 3, RetryDelaySec: 60},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestTaskCRUDAndDuplicateName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, testTask("t1", "daily decisions")); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.CreateTask(ctx, testTask("t2", "daily decisions")); !errors.Is(err, ErrDuplicateTaskName) {
		t.Fatalf("expected ErrDuplicateTaskName, got %v", err)
	}

	got, err := s.TaskByID(ctx, "t1")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if !got.TargetsAll() || !got.TradingDayOnly || got.Config.MaxRetries != 3 {
		t.Fatalf("round-trip: %+v", got)
	}

	got.Status = models.TaskPaused
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	active, _ := s.ListActiveTasks(ctx)
	if len(active) != 0 {
		t.Fatalf("paused task still active: %d", len(active))
	}
}

func TestDeleteTaskKeepsRunLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateTask(ctx, testTask("t1", "daily"))

	taskID := "t1"
	run := &models.TaskRunLog{
		TaskID:    &taskID,
		TaskName:  "daily",
		Trigger:   "cron",
		StartedAt: time.Now(),
		Status:    models.RunRunning,
	}
	if _, err := s.StartTaskRun(ctx, run); err != nil {
		t.Fatalf("StartTaskRun: %v", err)
	}
	done := time.Now()
	run.CompletedAt = &done
	run.Status = models.RunSuccess
	run.AgentResults = []models.AgentRunResult{{AgentID: "a1", Status: models.RunSuccess, DurationMS: 1200}}
	if err := s.FinishTaskRun(ctx, run); err != nil {
		t.Fatalf("FinishTaskRun: %v", err)
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	// Run history survives with the task link cleared.
	runs, err := s.TaskRuns(ctx, "t1", 1, 10)
	if err != nil {
		t.Fatalf("TaskRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs still keyed to deleted task: %d", len(runs))
	}
	var orphans int
	if err := s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_run_logs WHERE task_id IS NULL`).Scan(&orphans); err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if orphans != 1 {
		t.Fatalf("run log rows after delete: %d", orphans)
	}
}

func TestTaskRunLifecycleAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.CreateTask(ctx, testTask("t1", "daily"))
	taskID := "t1"

	outcomes := []models.TaskRunStatus{models.RunSuccess, models.RunFailed, models.RunSkipped, models.RunSuccess}
	for i, status := range outcomes {
		run := &models.TaskRunLog{
			TaskID:    &taskID,
			TaskName:  "daily",
			Trigger:   "cron",
			StartedAt: time.Now().Add(time.Duration(i) * time.Minute),
			Status:    models.RunRunning,
		}
		if _, err := s.StartTaskRun(ctx, run); err != nil {
			t.Fatalf("StartTaskRun: %v", err)
		}
		done := run.StartedAt.Add(30 * time.Second)
		run.CompletedAt = &done
		run.Status = status
		if status == models.RunSkipped {
			run.SkipReason = "weekend"
		}
		if err := s.FinishTaskRun(ctx, run); err != nil {
			t.Fatalf("FinishTaskRun: %v", err)
		}
	}

	runs, _ := s.TaskRuns(ctx, "t1", 1, 10)
	if len(runs) != 4 {
		t.Fatalf("runs: %d", len(runs))
	}
	if runs[0].CompletedAt == nil || runs[0].CompletedAt.Before(runs[0].StartedAt) {
		t.Fatalf("completed_at ordering: %+v", runs[0])
	}

	stats, err := s.TaskStatsByID(ctx, "t1")
	if err != nil {
		t.Fatalf("TaskStatsByID: %v", err)
	}
	if stats.TotalRuns != 4 || stats.SuccessCount != 2 || stats.FailCount != 1 || stats.SkipCount != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if stats.LastRunAt == nil || stats.LastStatus != string(models.RunSuccess) {
		t.Fatalf("last run: %+v", stats)
	}
}

// ════════════════════════════════════════════════════════════════════
// Snapshots
// ════════════════════════════════════════════════════════════════════

func TestSnapshotSeries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	days := []struct {
		day   int
		total string
	}{
		{3, "20000.00"}, {4, "21000.00"}, {5, "19500.00"}, {6, "22000.00"},
	}
	for _, d := range days {
		at := time.Date(2024, 6, d.day, 15, 0, 0, 0, utils.CST)
		if err := s.SaveSnapshot(ctx, "a1", at, dec("1000"), dec("1000"), dec(d.total)); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	// Same-day rewrite overwrites instead of duplicating.
	at := time.Date(2024, 6, 6, 16, 0, 0, 0, utils.CST)
	s.SaveSnapshot(ctx, "a1", at, dec("1000"), dec("1000"), dec("22500.00"))

	series, err := s.AssetSeries(ctx, "a1", 0)
	if err != nil {
		t.Fatalf("AssetSeries: %v", err)
	}
	if len(series) != 4 {
		t.Fatalf("series length: %d", len(series))
	}
	if !series[0].Equal(dec("20000.00")) || !series[3].Equal(dec("22500.00")) {
		t.Fatalf("series: %v", series)
	}

	// Limit keeps the most recent points in ascending order.
	tail, _ := s.AssetSeries(ctx, "a1", 2)
	if len(tail) != 2 || !tail[0].Equal(dec("19500.00")) || !tail[1].Equal(dec("22500.00")) {
		t.Fatalf("tail: %v", tail)
	}

	first, err := s.FirstSnapshotDate(ctx, "a1")
	if err != nil {
		t.Fatalf("FirstSnapshotDate: %v", err)
	}
	if utils.FormatDateCST(first) != "2024-06-03" {
		t.Fatalf("first date: %s", first)
	}
}
