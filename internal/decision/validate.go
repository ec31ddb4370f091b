package decision

import (
	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/portfolio"
	"github.com/quantfleet/ashare/internal/rules"
	"github.com/quantfleet/ashare/pkg/models"
)

// ValidateOptions supplies the context a decision is checked against.
// All fields are optional: absent context disables the corresponding
// check (the order processor re-checks everything at execution time).
type ValidateOptions struct {
	// Portfolio enables the buy-side cash check.
	Portfolio *models.Portfolio

	// PrevClose maps stock code to the previous close used for the
	// price-limit band. Codes without an entry skip the band check.
	PrevClose map[string]decimal.Decimal

	// Fees is the schedule for the cash check. Nil means the default
	// schedule.
	Fees *rules.FeeSchedule
}

func (o ValidateOptions) feeSchedule() rules.FeeSchedule {
	if o.Fees != nil {
		return *o.Fees
	}
	return rules.DefaultFeeSchedule()
}

// Validate checks a single parsed decision. hold/wait always pass;
// buy/sell run the code, lot, price-band and (for buys with a price and
// a supplied portfolio) cash checks.
func Validate(d models.TradingDecision, opts ValidateOptions) models.ValidationResult {
	if !d.Type.IsTrade() {
		return models.Valid()
	}

	if d.StockCode == "" {
		return models.Invalid(models.CodeMissingStockCode, "%s decision has no stock code", d.Type)
	}
	if res := rules.ValidateCode(d.StockCode); !res.Valid {
		return res
	}

	if d.Quantity == 0 {
		return models.Invalid(models.CodeMissingQuantity, "%s decision has no quantity", d.Type)
	}
	if res := rules.ValidateQuantity(d.Quantity); !res.Valid {
		return res
	}

	if d.Price != nil {
		if !d.Price.IsPositive() {
			return models.Invalid(models.CodeInvalidPrice, "price must be positive, got %s", d.Price)
		}
		prevClose := opts.PrevClose[d.StockCode]
		if res := rules.ValidatePriceLimit(d.StockCode, *d.Price, prevClose); !res.Valid {
			return res
		}

		if d.Type == models.DecideBuy && opts.Portfolio != nil {
			res := portfolio.CashSufficient(opts.Portfolio.Cash, *d.Price, d.Quantity, d.StockCode, opts.feeSchedule())
			if !res.Valid {
				return res
			}
		}
	}

	return models.Valid()
}

// Rejected pairs a dropped decision with the reason it was dropped.
type Rejected struct {
	Decision models.TradingDecision
	Result   models.ValidationResult
}

// Filter validates each decision and splits the list into survivors and
// rejects, preserving order. The cycle can proceed iff survivors is
// non-empty.
func Filter(decisions []models.TradingDecision, opts ValidateOptions) (valid []models.TradingDecision, rejected []Rejected) {
	for _, d := range decisions {
		if res := Validate(d, opts); !res.Valid {
			rejected = append(rejected, Rejected{Decision: d, Result: res})
			continue
		}
		valid = append(valid, d)
	}
	return valid, rejected
}
