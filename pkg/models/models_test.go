package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ── Decision Tests ──

func TestTradingDecisionJSONRoundtrip(t *testing.T) {
	price := decimal.RequireFromString("10.500")
	d := TradingDecision{
		Type:      DecideBuy,
		StockCode: "600000",
		Quantity:  200,
		Price:     &price,
		Reason:    "bank sector momentum",
	}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("json.Marshal(TradingDecision) error: %v", err)
	}
	var decoded TradingDecision
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal(TradingDecision) error: %v", err)
	}
	if decoded.Type != d.Type {
		t.Errorf("Type: got %q, want %q", decoded.Type, d.Type)
	}
	if decoded.StockCode != d.StockCode {
		t.Errorf("StockCode: got %q, want %q", decoded.StockCode, d.StockCode)
	}
	if decoded.Quantity != d.Quantity {
		t.Errorf("Quantity: got %d, want %d", decoded.Quantity, d.Quantity)
	}
	if decoded.Price == nil || !decoded.Price.Equal(*d.Price) {
		t.Errorf("Price: got %v, want %v", decoded.Price, d.Price)
	}
	if decoded.Reason != d.Reason {
		t.Errorf("Reason: got %q, want %q", decoded.Reason, d.Reason)
	}
}

func TestTradingDecisionHoldOmitsTradeFields(t *testing.T) {
	d := TradingDecision{Type: DecideHold, Reason: "no clear signal"}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("json.Marshal error: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if _, ok := raw["stock_code"]; ok {
		t.Error("hold decision should omit stock_code")
	}
	if _, ok := raw["quantity"]; ok {
		t.Error("hold decision should omit quantity")
	}
	if _, ok := raw["price"]; ok {
		t.Error("hold decision should omit price")
	}
	if raw["decision"] != "hold" {
		t.Errorf("decision field: got %v, want hold", raw["decision"])
	}
}

func TestDecisionTypeIsTrade(t *testing.T) {
	cases := map[DecisionType]bool{
		DecideBuy:  true,
		DecideSell: true,
		DecideHold: false,
		DecideWait: false,
	}
	for dt, want := range cases {
		if got := dt.IsTrade(); got != want {
			t.Errorf("%s.IsTrade(): got %v, want %v", dt, got, want)
		}
	}
}

// ── Order & Fee Tests ──

func TestOrderSideConstants(t *testing.T) {
	sides := map[OrderSide]string{
		Buy:  "buy",
		Sell: "sell",
		Hold: "hold",
	}
	for s, expected := range sides {
		if string(s) != expected {
			t.Errorf("OrderSide %v: got %q, want %q", s, string(s), expected)
		}
	}
}

func TestOrderStatusConstants(t *testing.T) {
	statuses := map[OrderStatus]string{
		OrderPending:   "pending",
		OrderFilled:    "filled",
		OrderRejected:  "rejected",
		OrderCancelled: "cancelled",
	}
	for s, expected := range statuses {
		if string(s) != expected {
			t.Errorf("OrderStatus %v: got %q, want %q", s, string(s), expected)
		}
	}
}

func TestTradingFeesTotal(t *testing.T) {
	fees := TradingFees{
		Commission:  decimal.RequireFromString("5.00"),
		StampTax:    decimal.RequireFromString("1.00"),
		TransferFee: decimal.RequireFromString("0.02"),
	}
	want := decimal.RequireFromString("6.02")
	if got := fees.Total(); !got.Equal(want) {
		t.Errorf("Total: got %s, want %s", got, want)
	}
}

func TestTransactionNotional(t *testing.T) {
	tx := Transaction{
		StockCode: "600000",
		Side:      Buy,
		Quantity:  100,
		Price:     decimal.RequireFromString("10.000"),
	}
	want := decimal.RequireFromString("1000")
	if got := tx.Notional(); !got.Equal(want) {
		t.Errorf("Notional: got %s, want %s", got, want)
	}
}

func TestHoldOrderNullableFields(t *testing.T) {
	o := Order{
		ID:      "ord-1",
		AgentID: "agent-1",
		Side:    Hold,
		Status:  OrderFilled,
		Reason:  "wait for pullback",
	}
	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("json.Marshal(Order) error: %v", err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	for _, field := range []string{"stock_code", "quantity", "price", "reject_reason"} {
		if _, ok := raw[field]; ok {
			t.Errorf("hold order should omit %s", field)
		}
	}
}

// ── Portfolio Tests ──

func TestPortfolioPositionLookup(t *testing.T) {
	pf := Portfolio{
		AgentID: "agent-1",
		Cash:    decimal.RequireFromString("10000.00"),
		Positions: []Position{
			{StockCode: "600000", Shares: 100, AvgCost: decimal.RequireFromString("10.00")},
			{StockCode: "000001", Shares: 200, AvgCost: decimal.RequireFromString("9.50")},
		},
	}
	if pos := pf.Position("000001"); pos == nil || pos.Shares != 200 {
		t.Errorf("Position(000001): got %+v", pos)
	}
	if pos := pf.Position("688001"); pos != nil {
		t.Errorf("Position(688001): got %+v, want nil", pos)
	}
}

func TestPortfolioCloneIsDeep(t *testing.T) {
	pf := Portfolio{
		AgentID: "agent-1",
		Cash:    decimal.RequireFromString("10000.00"),
		Positions: []Position{
			{StockCode: "600000", Shares: 100, AvgCost: decimal.RequireFromString("10.00")},
		},
	}
	cp := pf.Clone()
	cp.Positions[0].Shares = 999
	cp.Cash = decimal.Zero
	if pf.Positions[0].Shares != 100 {
		t.Error("Clone should not share position storage with the original")
	}
	if !pf.Cash.Equal(decimal.RequireFromString("10000.00")) {
		t.Error("Clone should not alias cash")
	}
}

func TestPositionMarketValueFallsBackToAvgCost(t *testing.T) {
	pos := Position{StockCode: "600000", Shares: 100, AvgCost: decimal.RequireFromString("10.50")}
	want := decimal.RequireFromString("1050.00")
	if got := pos.MarketValue(decimal.Zero); !got.Equal(want) {
		t.Errorf("MarketValue(zero): got %s, want %s", got, want)
	}
	want = decimal.RequireFromString("1100.00")
	if got := pos.MarketValue(decimal.RequireFromString("11.00")); !got.Equal(want) {
		t.Errorf("MarketValue(11.00): got %s, want %s", got, want)
	}
}

// ── Task Tests ──

func TestSystemTaskTargetsAll(t *testing.T) {
	task := SystemTask{TargetAgentIDs: []string{TargetAll}}
	if !task.TargetsAll() {
		t.Error("[\"all\"] should target all agents")
	}
	task.TargetAgentIDs = []string{"agent-1", "agent-2"}
	if task.TargetsAll() {
		t.Error("explicit list should not target all agents")
	}
	task.TargetAgentIDs = nil
	if task.TargetsAll() {
		t.Error("empty list should not target all agents")
	}
}

func TestTaskRunLogJSONRoundtrip(t *testing.T) {
	taskID := "task-1"
	completed := time.Date(2026, 3, 2, 10, 0, 5, 0, time.UTC)
	run := TaskRunLog{
		ID:          7,
		TaskID:      &taskID,
		Trigger:     "cron",
		StartedAt:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		CompletedAt: &completed,
		Status:      RunSuccess,
		AgentResults: []AgentRunResult{
			{AgentID: "agent-1", Status: RunSuccess, DurationMS: 4200},
			{AgentID: "agent-2", Status: RunFailed, DurationMS: 61000, Retries: 3, ErrorMessage: "timeout"},
		},
	}
	data, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("json.Marshal(TaskRunLog) error: %v", err)
	}
	var decoded TaskRunLog
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal(TaskRunLog) error: %v", err)
	}
	if len(decoded.AgentResults) != 2 {
		t.Fatalf("AgentResults: got %d, want 2", len(decoded.AgentResults))
	}
	if decoded.AgentResults[1].Retries != 3 {
		t.Errorf("Retries: got %d, want 3", decoded.AgentResults[1].Retries)
	}
	if decoded.CompletedAt == nil || !decoded.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt: got %v, want %v", decoded.CompletedAt, completed)
	}
}

// ── Validation Result Tests ──

func TestValidationResultErr(t *testing.T) {
	if err := Valid().Err(); err != nil {
		t.Errorf("Valid().Err(): got %v, want nil", err)
	}
	res := Invalid(CodeInsufficientCash, "need %s, have %s", "1005.02", "1000.00")
	err := res.Err()
	if err == nil {
		t.Fatal("Invalid().Err(): got nil, want error")
	}
	de, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("Err(): got %T, want *DomainError", err)
	}
	if de.Code != CodeInsufficientCash {
		t.Errorf("Code: got %s, want %s", de.Code, CodeInsufficientCash)
	}
}

func TestQuoteChangePct(t *testing.T) {
	q := StockQuote{
		StockCode: "600000",
		Close:     decimal.RequireFromString("11.00"),
		PrevClose: decimal.RequireFromString("10.00"),
	}
	if got := q.ChangePct(); !got.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("ChangePct: got %s, want 10.00", got)
	}
	q.PrevClose = decimal.Zero
	if got := q.ChangePct(); !got.IsZero() {
		t.Errorf("ChangePct with zero prev close: got %s, want 0", got)
	}
}
