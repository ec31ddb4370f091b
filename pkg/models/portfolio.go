package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a single stock holding inside a portfolio. Shares are always
// positive; a position whose shares reach zero is removed, not stored.
// BuyDate is the most recent buy date among the aggregated lots and drives
// the T+1 sell restriction.
type Position struct {
	StockCode string          `json:"stock_code"`
	Shares    int64           `json:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	BuyDate   time.Time       `json:"buy_date"`
}

// MarketValue returns shares priced at the given price. When price is zero
// the average cost is used as a fallback.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		price = p.AvgCost
	}
	return price.Mul(decimal.NewFromInt(p.Shares))
}

// Portfolio is the cash and position state owned by one agent.
// Invariants: Cash >= 0; at most one position per stock code.
type Portfolio struct {
	AgentID   string     `json:"agent_id"`
	Cash      decimal.Decimal `json:"cash"`
	Positions []Position `json:"positions"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Position returns the position for code, or nil if the portfolio does not
// hold it.
func (pf *Portfolio) Position(code string) *Position {
	for i := range pf.Positions {
		if pf.Positions[i].StockCode == code {
			return &pf.Positions[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Order processing mutates a clone so a rejected
// order leaves the caller's snapshot untouched.
func (pf *Portfolio) Clone() *Portfolio {
	cp := *pf
	cp.Positions = make([]Position, len(pf.Positions))
	copy(cp.Positions, pf.Positions)
	return &cp
}

// PortfolioMetrics are derived valuation figures for a portfolio snapshot.
type PortfolioMetrics struct {
	TotalAssets      decimal.Decimal  `json:"total_assets"`
	MarketValue      decimal.Decimal  `json:"market_value"`
	Cash             decimal.Decimal  `json:"cash"`
	InitialCash      decimal.Decimal  `json:"initial_cash"`
	ReturnRate       decimal.Decimal  `json:"return_rate"`        // quantized to 4 decimals
	MaxDrawdown      decimal.Decimal  `json:"max_drawdown"`
	AnnualizedPct    *decimal.Decimal `json:"annualized_pct,omitempty"` // nil when undefined
	PositionCount    int              `json:"position_count"`
	DaysHeld         int              `json:"days_held"`
}
