package models

import "fmt"

// ErrorCode identifies a structured domain failure. Codes are stable
// strings surfaced in rejected orders, API responses and task run logs.
type ErrorCode string

const (
	// Validation failures from the trading rules engine and parser.
	CodeInvalidStockCode    ErrorCode = "INVALID_STOCK_CODE"
	CodeInvalidQuantityUnit ErrorCode = "INVALID_QUANTITY_UNIT"
	CodeInvalidQuantity     ErrorCode = "INVALID_QUANTITY_VALUE"
	CodePriceAboveLimit     ErrorCode = "PRICE_ABOVE_LIMIT"
	CodePriceBelowLimit     ErrorCode = "PRICE_BELOW_LIMIT"
	CodeTPlus1Violation     ErrorCode = "T_PLUS_1_VIOLATION"
	CodeMissingStockCode    ErrorCode = "MISSING_STOCK_CODE"
	CodeMissingQuantity     ErrorCode = "MISSING_QUANTITY"
	CodeInvalidPrice        ErrorCode = "INVALID_PRICE"

	// Resource failures from the portfolio manager.
	CodeInsufficientCash   ErrorCode = "INSUFFICIENT_CASH"
	CodeInsufficientShares ErrorCode = "INSUFFICIENT_SHARES"
	CodeNoPosition         ErrorCode = "NO_POSITION"

	// State failures.
	CodeAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentInactive     ErrorCode = "AGENT_INACTIVE"
	CodePortfolioNotFound ErrorCode = "PORTFOLIO_NOT_FOUND"
	CodeNotTradingTime    ErrorCode = "NOT_TRADING_TIME"

	// Provider configuration failures.
	CodeProviderNotConfigured ErrorCode = "PROVIDER_NOT_CONFIGURED"
	CodeProviderNotFound      ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProviderDisabled      ErrorCode = "PROVIDER_DISABLED"
)

// ValidationResult is the structured outcome of a rules or portfolio
// check. The zero value is not meaningful; use Valid or Invalid.
type ValidationResult struct {
	Valid   bool      `json:"valid"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Valid returns a passing result.
func Valid() ValidationResult { return ValidationResult{Valid: true} }

// Invalid returns a failing result with the given code and message.
func Invalid(code ErrorCode, format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Err converts a failing result into an error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &DomainError{Code: r.Code, Message: r.Message}
}

// DomainError is an error carrying a structured code.
type DomainError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDomainError builds a DomainError.
func NewDomainError(code ErrorCode, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}
