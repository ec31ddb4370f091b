package rules

import (
	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
)

// FeeSchedule holds the fee parameters of a simulated brokerage account.
// Rates apply to trade notional; each component is rounded half-up to
// two decimals independently.
type FeeSchedule struct {
	CommissionRate  decimal.Decimal // both sides, subject to MinCommission
	MinCommission   decimal.Decimal
	StampTaxRate    decimal.Decimal // sell side only
	TransferFeeRate decimal.Decimal // Shanghai-listed boards only
}

// DefaultFeeSchedule returns the standard retail schedule:
// commission 3 bp with a 5 yuan floor, 0.1% sell-side stamp tax and the
// 0.002% Shanghai transfer fee.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		CommissionRate:  decimal.RequireFromString("0.0003"),
		MinCommission:   decimal.RequireFromString("5.00"),
		StampTaxRate:    decimal.RequireFromString("0.001"),
		TransferFeeRate: decimal.RequireFromString("0.00002"),
	}
}

// Calculate computes the three fee components for a trade of the given
// side and notional on the given board.
func (s FeeSchedule) Calculate(side models.OrderSide, board Board, notional decimal.Decimal) models.TradingFees {
	fees := models.TradingFees{
		Commission:  decimal.Zero,
		StampTax:    decimal.Zero,
		TransferFee: decimal.Zero,
	}

	commission := notional.Mul(s.CommissionRate)
	if commission.LessThan(s.MinCommission) {
		commission = s.MinCommission
	}
	fees.Commission = commission.Round(2)

	if side == models.Sell {
		fees.StampTax = notional.Mul(s.StampTaxRate).Round(2)
	}

	if board.Exchange() == ExchangeShanghai {
		fees.TransferFee = notional.Mul(s.TransferFeeRate).Round(2)
	}

	return fees
}

// CalculateFees computes fees for a trade of price x qty on the code's
// board using the given schedule.
func CalculateFees(s FeeSchedule, side models.OrderSide, code string, price decimal.Decimal, qty int64) models.TradingFees {
	notional := price.Mul(decimal.NewFromInt(qty))
	board := Classify(NormalizeCode(code))
	return s.Calculate(side, board, notional)
}

// BuySideCost returns the full cash outlay for a buy: notional plus all
// buy-side fees. Used for the cash-sufficiency check so a passing order
// can never drive cash negative at execution.
func BuySideCost(s FeeSchedule, code string, price decimal.Decimal, qty int64) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(qty))
	fees := CalculateFees(s, models.Buy, code, price, qty)
	return notional.Add(fees.Total())
}
