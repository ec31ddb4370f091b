package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

var (
	mainBoardLimit = decimal.RequireFromString("0.10")
	growthLimit    = decimal.RequireFromString("0.20")
)

// LimitRatio returns the daily price-limit ratio for the board: 10% for
// the main boards and SME, 20% for STAR and ChiNext.
func (b Board) LimitRatio() decimal.Decimal {
	if b == BoardSTAR || b == BoardChiNext {
		return growthLimit
	}
	return mainBoardLimit
}

// LimitBand computes the admissible [lower, upper] price band for the
// board given the previous close. Both bounds are rounded half-up to two
// decimals.
func LimitBand(prevClose decimal.Decimal, board Board) (lower, upper decimal.Decimal) {
	r := board.LimitRatio()
	one := decimal.NewFromInt(1)
	lower = prevClose.Mul(one.Sub(r)).Round(2)
	upper = prevClose.Mul(one.Add(r)).Round(2)
	return lower, upper
}

// ValidatePriceLimit checks that price falls inside the daily limit band
// for the code's board. Band boundaries are inclusive. The check is
// skipped (valid) when prevClose is not positive, since no previous
// session is known.
func ValidatePriceLimit(code string, price, prevClose decimal.Decimal) models.ValidationResult {
	if !price.IsPositive() {
		return models.Invalid(models.CodeInvalidPrice, "price must be positive, got %s", price)
	}
	if !prevClose.IsPositive() {
		return models.Valid()
	}

	board := Classify(NormalizeCode(code))
	lower, upper := LimitBand(prevClose, board)

	if price.GreaterThan(upper) {
		return models.Invalid(models.CodePriceAboveLimit,
			"price %s above limit-up %s (prev close %s)", price, upper, prevClose)
	}
	if price.LessThan(lower) {
		return models.Invalid(models.CodePriceBelowLimit,
			"price %s below limit-down %s (prev close %s)", price, lower, prevClose)
	}
	return models.Valid()
}

// LotSize is the minimum A-share trading unit in shares.
const LotSize = 100

// ValidateQuantity checks that qty is a positive integer multiple of the
// lot size.
func ValidateQuantity(qty int64) models.ValidationResult {
	if qty <= 0 {
		return models.Invalid(models.CodeInvalidQuantity, "quantity must be positive, got %d", qty)
	}
	if qty%LotSize != 0 {
		return models.Invalid(models.CodeInvalidQuantityUnit,
			"quantity %d is not a multiple of %d shares", qty, LotSize)
	}
	return models.Valid()
}

// Sellable reports whether shares bought on buyDate may be sold at
// sellDate under T+1: only on a strictly later CST calendar date.
func Sellable(buyDate, sellDate time.Time) bool {
	buy := utils.FormatDateCST(buyDate)
	sell := utils.FormatDateCST(sellDate)
	return sell > buy
}

// CheckTPlus1 validates the T+1 restriction for a sell at sellDate of
// shares bought on buyDate. Intraday buy-then-sell is forbidden
// regardless of times.
func CheckTPlus1(buyDate, sellDate time.Time) models.ValidationResult {
	if !Sellable(buyDate, sellDate) {
		return models.Invalid(models.CodeTPlus1Violation,
			"shares bought on %s cannot be sold until the next trading day",
			utils.FormatDateCST(buyDate))
	}
	return models.Valid()
}

// Trading-window skip reasons recorded by the scheduler gate.
const (
	SkipReasonWeekend      = "weekend"
	SkipReasonHoliday      = "holiday"
	SkipReasonOutsideHours = "outside_trading_hours"
)

// InTradingWindow reports whether t falls inside the continuous trading
// window: a trading weekday with t in [09:30,11:30] or [13:00,15:00] CST.
func InTradingWindow(t time.Time) bool {
	return utils.IsMarketOpenAt(t)
}

// TradingWindowGate evaluates the trading-window predicate and, when it
// fails, names the reason. Used by the scheduler's trading_day_only gate.
func TradingWindowGate(t time.Time) (ok bool, skipReason string) {
	t = utils.ToCST(t)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false, SkipReasonWeekend
	}
	if utils.IsTradingHoliday(t) {
		return false, SkipReasonHoliday
	}
	if !utils.InTradingSession(t) {
		return false, SkipReasonOutsideHours
	}
	return true, ""
}

// ValidateTradingTime wraps the window predicate as a validation result
// with the NOT_TRADING_TIME code.
func ValidateTradingTime(t time.Time) models.ValidationResult {
	if ok, reason := TradingWindowGate(t); !ok {
		return models.Invalid(models.CodeNotTradingTime,
			"outside trading window (%s) at %s", reason, utils.FormatDateTimeCST(t))
	}
	return models.Valid()
}
