package order

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/portfolio"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strptr(s string) *string { return &s }
func i64ptr(n int64) *int64   { return &n }

func decptr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func buyOrder(code string, qty int64, price string) *models.Order {
	return &models.Order{
		ID:        "ord-1",
		AgentID:   "agent-1",
		Side:      models.Buy,
		StockCode: strptr(code),
		Quantity:  i64ptr(qty),
		Price:     decptr(price),
		Status:    models.OrderPending,
	}
}

func sellOrder(code string, qty int64, price string) *models.Order {
	o := buyOrder(code, qty, price)
	o.Side = models.Sell
	return o
}

func emptyPortfolio(cash string) *models.Portfolio {
	return &models.Portfolio{AgentID: "agent-1", Cash: dec(cash)}
}

func tradeTime() time.Time {
	return time.Date(2024, 6, 4, 10, 0, 0, 0, utils.CST)
}

func TestProcessBuyFill(t *testing.T) {
	p := NewProcessor(WithIDGenerator(func() string { return "tx-1" }))
	pf := emptyPortfolio("20000.00")
	now := tradeTime()

	res, err := p.Process(buyOrder("600000", 100, "10.000"), pf, dec("10.00"), now)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !res.Filled() {
		t.Fatalf("order not filled: %+v", res.Order)
	}

	// Fees: commission floor 5.00 + transfer 0.02, no stamp on buy.
	fees := res.Transaction.Fees
	if !fees.Total().Equal(dec("5.02")) {
		t.Errorf("total fees = %s, want 5.02", fees.Total())
	}

	// Cash: 20000 - 1000 - 5.02 = 18994.98.
	if !res.Portfolio.Cash.Equal(dec("18994.98")) {
		t.Errorf("cash = %s, want 18994.98", res.Portfolio.Cash)
	}

	pos := res.Portfolio.Position("600000")
	if pos == nil {
		t.Fatal("position not created")
	}
	if pos.Shares != 100 || !pos.AvgCost.Equal(dec("10.000")) {
		t.Errorf("position = %+v, want 100 @ 10.000", pos)
	}
	if !utils.SameTradingDate(pos.BuyDate, now) {
		t.Errorf("buy date = %v, want trade date", pos.BuyDate)
	}

	// Input snapshot untouched.
	if !pf.Cash.Equal(dec("20000.00")) || len(pf.Positions) != 0 {
		t.Error("input portfolio was mutated")
	}

	if res.Transaction.ID != "tx-1" || res.Transaction.OrderID != "ord-1" {
		t.Errorf("transaction linkage wrong: %+v", res.Transaction)
	}
}

func TestProcessBuyInsufficientCash(t *testing.T) {
	p := NewProcessor()
	pf := emptyPortfolio("20000.00")

	res, err := p.Process(buyOrder("600000", 100000, "10.000"), pf, dec("10.00"), tradeTime())
	if err == nil {
		t.Fatal("expected rejection")
	}

	var derr *models.DomainError
	if !errors.As(err, &derr) || derr.Code != models.CodeInsufficientCash {
		t.Errorf("error = %v, want INSUFFICIENT_CASH", err)
	}
	if res.Order.Status != models.OrderRejected {
		t.Errorf("order status = %s, want rejected", res.Order.Status)
	}
	if res.Order.RejectReason == nil || *res.Order.RejectReason == "" {
		t.Error("reject reason not recorded")
	}
	if res.Transaction != nil || res.Portfolio != nil {
		t.Error("rejected order must not produce a transaction or portfolio")
	}
}

func TestProcessSellTPlus1Block(t *testing.T) {
	p := NewProcessor()
	buyDate := time.Date(2024, 6, 3, 10, 0, 0, 0, utils.CST)
	pf := &models.Portfolio{
		AgentID: "agent-1",
		Cash:    dec("1000.00"),
		Positions: []models.Position{
			{StockCode: "000001", Shares: 200, AvgCost: dec("9.000"), BuyDate: buyDate},
		},
	}

	// Sell attempt on the buy date itself.
	sameDay := time.Date(2024, 6, 3, 14, 0, 0, 0, utils.CST)
	_, err := p.Process(sellOrder("000001", 100, "9.100"), pf, dec("9.00"), sameDay)

	var derr *models.DomainError
	if !errors.As(err, &derr) || derr.Code != models.CodeTPlus1Violation {
		t.Errorf("error = %v, want T_PLUS_1_VIOLATION", err)
	}

	// Next day the same order fills.
	res, err := p.Process(sellOrder("000001", 100, "9.100"), pf, dec("9.00"), sameDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next-day sell rejected: %v", err)
	}
	pos := res.Portfolio.Position("000001")
	if pos == nil || pos.Shares != 100 {
		t.Errorf("remaining position = %+v, want 100 shares", pos)
	}
}

func TestProcessSellRemovesEmptyPosition(t *testing.T) {
	p := NewProcessor()
	buyDate := time.Date(2024, 6, 3, 10, 0, 0, 0, utils.CST)
	pf := &models.Portfolio{
		AgentID: "agent-1",
		Cash:    dec("0.00"),
		Positions: []models.Position{
			{StockCode: "000001", Shares: 100, AvgCost: dec("9.000"), BuyDate: buyDate},
		},
	}

	res, err := p.Process(sellOrder("000001", 100, "9.000"), pf, dec("9.00"), tradeTime())
	if err != nil {
		t.Fatalf("sell rejected: %v", err)
	}
	if len(res.Portfolio.Positions) != 0 {
		t.Errorf("positions = %+v, want empty", res.Portfolio.Positions)
	}
	// 900 notional - 5.00 commission - 0.90 stamp = 894.10 (Shenzhen, no transfer).
	if !res.Portfolio.Cash.Equal(dec("894.10")) {
		t.Errorf("cash = %s, want 894.10", res.Portfolio.Cash)
	}
}

func TestProcessPriceLimitChiNext(t *testing.T) {
	p := NewProcessor()
	pf := emptyPortfolio("100000.00")

	// Band for prev close 10.00 on ChiNext is [8.00, 12.00].
	_, err := p.Process(buyOrder("300123", 100, "12.01"), pf, dec("10.00"), tradeTime())
	var derr *models.DomainError
	if !errors.As(err, &derr) || derr.Code != models.CodePriceAboveLimit {
		t.Errorf("error = %v, want PRICE_ABOVE_LIMIT", err)
	}

	// Exactly at the band fills.
	if _, err := p.Process(buyOrder("300123", 100, "12.00"), pf, dec("10.00"), tradeTime()); err != nil {
		t.Errorf("order at limit price rejected: %v", err)
	}
}

func TestProcessValidationOrder(t *testing.T) {
	// With several defects, the first check in the fixed order wins.
	p := NewProcessor()
	pf := emptyPortfolio("1.00")

	// Invalid code trumps bad quantity and missing cash.
	_, err := p.Process(buyOrder("999999", 150, "10.00"), pf, dec("10.00"), tradeTime())
	var derr *models.DomainError
	if !errors.As(err, &derr) || derr.Code != models.CodeInvalidStockCode {
		t.Errorf("error = %v, want INVALID_STOCK_CODE first", err)
	}

	// Valid code, bad lot trumps missing cash.
	_, err = p.Process(buyOrder("600000", 150, "10.00"), pf, dec("10.00"), tradeTime())
	if !errors.As(err, &derr) || derr.Code != models.CodeInvalidQuantityUnit {
		t.Errorf("error = %v, want INVALID_QUANTITY_UNIT before cash check", err)
	}
}

func TestProcessLiveModeTradingHours(t *testing.T) {
	p := NewProcessor(WithLiveMode(true))
	pf := emptyPortfolio("20000.00")

	saturday := time.Date(2024, 6, 8, 10, 0, 0, 0, utils.CST)
	_, err := p.Process(buyOrder("600000", 100, "10.00"), pf, dec("10.00"), saturday)
	var derr *models.DomainError
	if !errors.As(err, &derr) || derr.Code != models.CodeNotTradingTime {
		t.Errorf("error = %v, want NOT_TRADING_TIME", err)
	}

	// Same order inside the session fills.
	tuesday := time.Date(2024, 6, 4, 10, 0, 0, 0, utils.CST)
	if _, err := p.Process(buyOrder("600000", 100, "10.00"), pf, dec("10.00"), tuesday); err != nil {
		t.Errorf("in-session order rejected: %v", err)
	}
}

func TestProcessWeightedAverageCost(t *testing.T) {
	p := NewProcessor()
	pf := emptyPortfolio("100000.00")
	day1 := time.Date(2024, 6, 3, 10, 0, 0, 0, utils.CST)
	day2 := day1.AddDate(0, 0, 1)

	res, err := p.Process(buyOrder("600000", 100, "10.000"), pf, dec("10.00"), day1)
	if err != nil {
		t.Fatalf("first buy rejected: %v", err)
	}

	res2, err := p.Process(buyOrder("600000", 300, "12.000"), res.Portfolio, dec("11.00"), day2)
	if err != nil {
		t.Fatalf("second buy rejected: %v", err)
	}

	pos := res2.Portfolio.Position("600000")
	if pos == nil {
		t.Fatal("position missing")
	}
	// (100*10 + 300*12) / 400 = 11.500
	if pos.Shares != 400 || !pos.AvgCost.Equal(dec("11.500")) {
		t.Errorf("position = %d @ %s, want 400 @ 11.500", pos.Shares, pos.AvgCost)
	}
	// Buy date moves to the latest lot.
	if !utils.SameTradingDate(pos.BuyDate, day2) {
		t.Errorf("buy date = %v, want day2", pos.BuyDate)
	}
}

func TestProcessSuffixedCodeNormalized(t *testing.T) {
	p := NewProcessor()
	pf := emptyPortfolio("20000.00")

	res, err := p.Process(buyOrder("600000.SH", 100, "10.000"), pf, dec("10.00"), tradeTime())
	if err != nil {
		t.Fatalf("suffixed code rejected: %v", err)
	}
	if res.Transaction.StockCode != "600000" {
		t.Errorf("transaction code = %s, want normalized 600000", res.Transaction.StockCode)
	}
	if res.Portfolio.Position("600000") == nil {
		t.Error("position keyed by normalized code missing")
	}
}

func TestAssetConservation(t *testing.T) {
	// Buying at the market price moves total assets down by exactly the
	// fees; selling at the same price does the same.
	p := NewProcessor()
	pf := emptyPortfolio("20000.00")
	price := dec("10.000")
	prices := map[string]decimal.Decimal{"600000": price}
	now := tradeTime()

	before := portfolio.TotalAssets(pf, prices)

	res, err := p.Process(buyOrder("600000", 100, "10.000"), pf, dec("10.00"), now)
	if err != nil {
		t.Fatalf("buy rejected: %v", err)
	}
	afterBuy := portfolio.TotalAssets(res.Portfolio, prices)
	wantDrop := res.Transaction.Fees.Total()
	if !before.Sub(afterBuy).Equal(wantDrop) {
		t.Errorf("buy moved assets by %s, want fees %s", before.Sub(afterBuy), wantDrop)
	}

	res2, err := p.Process(sellOrder("600000", 100, "10.000"), res.Portfolio, dec("10.00"), now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("sell rejected: %v", err)
	}
	afterSell := portfolio.TotalAssets(res2.Portfolio, prices)
	wantDrop = res2.Transaction.Fees.Total()
	if !afterBuy.Sub(afterSell).Equal(wantDrop) {
		t.Errorf("sell moved assets by %s, want fees %s", afterBuy.Sub(afterSell), wantDrop)
	}
}
