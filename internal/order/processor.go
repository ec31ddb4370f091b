// Package order implements the order processor: end-to-end validation of
// a single buy/sell order against the trading rules and the portfolio,
// followed by the cash/position state transition. The processor works on
// snapshots; persisting the outcome is the caller's job.
package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/portfolio"
	"github.com/quantfleet/ashare/internal/rules"
	"github.com/quantfleet/ashare/pkg/models"
)

// Processor validates and executes orders. A zero-config processor uses
// the default fee schedule and skips the trading-hours check (simulation
// mode).
type Processor struct {
	fees     rules.FeeSchedule
	liveMode bool
	newID    func() string
}

// Option configures a Processor.
type Option func(*Processor)

// WithFeeSchedule overrides the default fee schedule.
func WithFeeSchedule(s rules.FeeSchedule) Option {
	return func(p *Processor) { p.fees = s }
}

// WithLiveMode enables the trading-hours check so orders outside the
// continuous session are rejected with NOT_TRADING_TIME.
func WithLiveMode(live bool) Option {
	return func(p *Processor) { p.liveMode = live }
}

// WithIDGenerator overrides transaction id generation (tests).
func WithIDGenerator(gen func() string) Option {
	return func(p *Processor) { p.newID = gen }
}

// NewProcessor creates an order processor.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		fees:  rules.DefaultFeeSchedule(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FeeSchedule returns the schedule the processor charges with.
func (p *Processor) FeeSchedule() rules.FeeSchedule { return p.fees }

// Result is the outcome of processing one order. Order is always set
// (filled or rejected). Transaction and Portfolio are set only on fill;
// a rejected order leaves the caller's snapshot untouched.
type Result struct {
	Order       *models.Order
	Transaction *models.Transaction
	Portfolio   *models.Portfolio
}

// Filled reports whether the order went through.
func (r *Result) Filled() bool {
	return r.Order != nil && r.Order.Status == models.OrderFilled
}

// Process validates ord against the rules engine and the portfolio, and
// on success applies the trade to a copy of pf. prevClose drives the
// price-limit band (zero skips the band check). now is the trade time.
//
// The returned error is a *models.DomainError describing the rejection;
// the Result carries the rejected order either way so the caller can
// persist it.
func (p *Processor) Process(ord *models.Order, pf *models.Portfolio, prevClose decimal.Decimal, now time.Time) (*Result, error) {
	out := *ord
	result := &Result{Order: &out}

	if res := p.validate(&out, pf, prevClose, now); !res.Valid {
		msg := res.Message
		out.Status = models.OrderRejected
		out.RejectReason = &msg
		return result, res.Err()
	}

	p.execute(result, pf, now)
	return result, nil
}

// ════════════════════════════════════════════════════════════════════
// Validation
// ════════════════════════════════════════════════════════════════════

// validate runs the checks in fixed order; the first failure is the
// sole reported error.
func (p *Processor) validate(ord *models.Order, pf *models.Portfolio, prevClose decimal.Decimal, now time.Time) models.ValidationResult {
	if p.liveMode {
		if res := rules.ValidateTradingTime(now); !res.Valid {
			return res
		}
	}

	if ord.StockCode == nil || *ord.StockCode == "" {
		return models.Invalid(models.CodeMissingStockCode, "order has no stock code")
	}
	if res := rules.ValidateCode(*ord.StockCode); !res.Valid {
		return res
	}
	code := rules.NormalizeCode(*ord.StockCode)
	ord.StockCode = &code

	if ord.Quantity == nil {
		return models.Invalid(models.CodeMissingQuantity, "order has no quantity")
	}
	if res := rules.ValidateQuantity(*ord.Quantity); !res.Valid {
		return res
	}

	if ord.Price == nil || !ord.Price.IsPositive() {
		return models.Invalid(models.CodeInvalidPrice, "order has no executable price")
	}
	if res := rules.ValidatePriceLimit(code, *ord.Price, prevClose); !res.Valid {
		return res
	}

	switch ord.Side {
	case models.Buy:
		return portfolio.CashSufficient(pf.Cash, *ord.Price, *ord.Quantity, code, p.fees)
	default:
		pos := pf.Position(code)
		return portfolio.PositionSufficient(pos, *ord.Quantity, now)
	}
}

// ════════════════════════════════════════════════════════════════════
// Execution
// ════════════════════════════════════════════════════════════════════

// execute applies the validated order to a copy of pf and fills in the
// transaction. Assumes validate passed.
func (p *Processor) execute(result *Result, pf *models.Portfolio, now time.Time) {
	ord := result.Order
	code := *ord.StockCode
	qty := *ord.Quantity
	price := *ord.Price

	notional := price.Mul(decimal.NewFromInt(qty))
	fees := rules.CalculateFees(p.fees, ord.Side, code, price, qty)

	next := pf.Clone()

	if ord.Side == models.Buy {
		next.Cash = next.Cash.Sub(notional).Sub(fees.Total())
		applyBuy(next, code, qty, price, now)
	} else {
		next.Cash = next.Cash.Add(notional).Sub(fees.Total())
		applySell(next, code, qty)
	}
	next.UpdatedAt = now

	ord.Status = models.OrderFilled
	result.Portfolio = next
	result.Transaction = &models.Transaction{
		ID:         p.newID(),
		OrderID:    ord.ID,
		AgentID:    ord.AgentID,
		StockCode:  code,
		Side:       ord.Side,
		Quantity:   qty,
		Price:      price,
		Fees:       fees,
		ExecutedAt: now,
	}
}

// applyBuy upserts the position: the average cost becomes the
// share-weighted mean of the old lot and the new one, and the buy date
// moves to the new trade date (restarting T+1 for the whole holding).
func applyBuy(pf *models.Portfolio, code string, qty int64, price decimal.Decimal, now time.Time) {
	pos := pf.Position(code)
	if pos == nil {
		pf.Positions = append(pf.Positions, models.Position{
			StockCode: code,
			Shares:    qty,
			AvgCost:   price.Round(3),
			BuyDate:   now,
		})
		return
	}

	oldShares := decimal.NewFromInt(pos.Shares)
	newShares := decimal.NewFromInt(qty)
	totalCost := pos.AvgCost.Mul(oldShares).Add(price.Mul(newShares))

	pos.Shares += qty
	pos.AvgCost = totalCost.Div(oldShares.Add(newShares)).Round(3)
	pos.BuyDate = now
}

// applySell reduces the position, removing it entirely when the share
// count reaches zero.
func applySell(pf *models.Portfolio, code string, qty int64) {
	for i := range pf.Positions {
		if pf.Positions[i].StockCode != code {
			continue
		}
		pf.Positions[i].Shares -= qty
		if pf.Positions[i].Shares <= 0 {
			pf.Positions = append(pf.Positions[:i], pf.Positions[i+1:]...)
		}
		return
	}
}
