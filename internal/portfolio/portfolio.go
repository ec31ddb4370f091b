// Package portfolio implements valuation and sufficiency checks over a
// portfolio snapshot. Like the rules engine it is side-effect free:
// callers supply the snapshot and a price map and get values or
// structured validation results back.
package portfolio

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/rules"
	"github.com/quantfleet/ashare/pkg/models"
)

// CashSufficient checks that cash covers the full buy-side cost of
// qty shares at price: notional plus commission and any transfer fee.
// Counting fees here keeps a passing order from driving cash negative
// at execution.
func CashSufficient(cash, price decimal.Decimal, qty int64, code string, sched rules.FeeSchedule) models.ValidationResult {
	cost := rules.BuySideCost(sched, code, price, qty)
	if cash.LessThan(cost) {
		return models.Invalid(models.CodeInsufficientCash,
			"need %s (notional + fees) but cash is %s", cost.StringFixed(2), cash.StringFixed(2))
	}
	return models.Valid()
}

// PositionSufficient checks that a sell of qty shares at sellDate is
// covered: the position exists, clears T+1, and holds enough shares.
func PositionSufficient(pos *models.Position, qty int64, sellDate time.Time) models.ValidationResult {
	if pos == nil || pos.Shares <= 0 {
		return models.Invalid(models.CodeNoPosition, "no position to sell")
	}
	if res := rules.CheckTPlus1(pos.BuyDate, sellDate); !res.Valid {
		return res
	}
	if pos.Shares < qty {
		return models.Invalid(models.CodeInsufficientShares,
			"holding %d shares of %s, cannot sell %d", pos.Shares, pos.StockCode, qty)
	}
	return models.Valid()
}

// SellableShares returns how many shares of the position may be sold at
// sellDate: zero while T+1 blocks the lot, otherwise the full holding.
func SellableShares(pos *models.Position, sellDate time.Time) int64 {
	if pos == nil || pos.Shares <= 0 {
		return 0
	}
	if !rules.Sellable(pos.BuyDate, sellDate) {
		return 0
	}
	return pos.Shares
}

// MarketValue sums the value of all positions using the price map,
// falling back to each position's average cost when no price is known.
func MarketValue(pf *models.Portfolio, prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for i := range pf.Positions {
		pos := &pf.Positions[i]
		total = total.Add(pos.MarketValue(prices[pos.StockCode]))
	}
	return total
}

// TotalAssets returns cash plus the market value of all positions.
func TotalAssets(pf *models.Portfolio, prices map[string]decimal.Decimal) decimal.Decimal {
	return pf.Cash.Add(MarketValue(pf, prices))
}

// ReturnRate computes (totalAssets - initialCash) / initialCash
// quantized to four decimals. Zero when initialCash is not positive.
func ReturnRate(totalAssets, initialCash decimal.Decimal) decimal.Decimal {
	if !initialCash.IsPositive() {
		return decimal.Zero
	}
	return totalAssets.Sub(initialCash).Div(initialCash).Round(4)
}

// MaxDrawdown computes the largest peak-to-trough decline over a value
// series, as a non-negative ratio quantized to four decimals. Series
// shorter than two points have no drawdown.
func MaxDrawdown(series []decimal.Decimal) decimal.Decimal {
	if len(series) < 2 {
		return decimal.Zero
	}

	peak := series[0]
	maxDD := decimal.Zero
	for _, v := range series[1:] {
		if v.GreaterThan(peak) {
			peak = v
			continue
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(v).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.Round(4)
}

// AnnualizedReturn converts a cumulative return over daysHeld days to a
// yearly rate: (1 + r)^(365/days) - 1. Returns nil when the figure is
// undefined (no holding period, or r <= -1 where the power is not
// real-valued). The exponentiation goes through float64; this is a
// display ratio, not money.
func AnnualizedReturn(returnRate decimal.Decimal, daysHeld int) *decimal.Decimal {
	if daysHeld <= 0 {
		return nil
	}
	r, _ := returnRate.Float64()
	if r <= -1 {
		return nil
	}
	annualized := math.Pow(1+r, 365/float64(daysHeld)) - 1
	if math.IsInf(annualized, 0) || math.IsNaN(annualized) {
		return nil
	}
	d := decimal.NewFromFloat(annualized).Round(4)
	return &d
}

// ComputeMetrics derives the full metrics block for a snapshot.
// history is the assets-over-time series used for drawdown; it may be
// empty when no history is stored yet.
func ComputeMetrics(pf *models.Portfolio, initialCash decimal.Decimal, prices map[string]decimal.Decimal, history []decimal.Decimal, daysHeld int) models.PortfolioMetrics {
	marketValue := MarketValue(pf, prices)
	totalAssets := pf.Cash.Add(marketValue)
	returnRate := ReturnRate(totalAssets, initialCash)

	return models.PortfolioMetrics{
		TotalAssets:   totalAssets,
		MarketValue:   marketValue,
		Cash:          pf.Cash,
		InitialCash:   initialCash,
		ReturnRate:    returnRate,
		MaxDrawdown:   MaxDrawdown(history),
		AnnualizedPct: AnnualizedReturn(returnRate, daysHeld),
		PositionCount: len(pf.Positions),
		DaysHeld:      daysHeld,
	}
}
