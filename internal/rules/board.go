// Package rules implements the A-share market microstructure rules:
// board classification, daily price limits, quantity lots, the T+1 sell
// restriction, trading fees and the trading-hours window. Everything here
// is a pure function over its inputs; persistence and market data live
// elsewhere.
package rules

import (
	"strings"

	"github.com/quantfleet/ashare/pkg/models"
)

// Board is the sub-market a stock code belongs to. Boards differ in
// daily price-limit ratio and settlement venue.
type Board string

const (
	BoardSHMain  Board = "sh_main" // Shanghai main board
	BoardSZMain  Board = "sz_main" // Shenzhen main board
	BoardSZSME   Board = "sz_sme"  // Shenzhen SME board (merged into main in 2021, codes remain)
	BoardSTAR    Board = "star"    // Shanghai STAR market
	BoardChiNext Board = "chinext" // Shenzhen ChiNext
	BoardUnknown Board = "unknown"
)

// Exchange is the listing venue derived from the board.
type Exchange string

const (
	ExchangeShanghai Exchange = "SH"
	ExchangeShenzhen Exchange = "SZ"
)

// Classify maps a 6-digit stock code to its board by prefix. Codes that
// are not 6 digits, non-numeric, or carry an unrecognized prefix are
// classified BoardUnknown.
func Classify(code string) Board {
	if len(code) != 6 {
		return BoardUnknown
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return BoardUnknown
		}
	}

	switch code[:3] {
	case "600", "601", "603", "605":
		return BoardSHMain
	case "000", "001":
		return BoardSZMain
	case "002":
		return BoardSZSME
	case "688":
		return BoardSTAR
	case "300", "301":
		return BoardChiNext
	}
	return BoardUnknown
}

// Exchange returns the listing venue for the board. Only meaningful for
// known boards.
func (b Board) Exchange() Exchange {
	if b == BoardSHMain || b == BoardSTAR {
		return ExchangeShanghai
	}
	return ExchangeShenzhen
}

// DisplayName returns a human-readable board name for logs and reports.
func (b Board) DisplayName() string {
	switch b {
	case BoardSHMain:
		return "Shanghai Main"
	case BoardSZMain:
		return "Shenzhen Main"
	case BoardSZSME:
		return "Shenzhen SME"
	case BoardSTAR:
		return "STAR Market"
	case BoardChiNext:
		return "ChiNext"
	}
	return "Unknown"
}

// NormalizeCode strips surrounding whitespace and any exchange suffix
// (".SH"/".SZ", case-insensitive) from a stock code. It does not
// validate the remainder.
func NormalizeCode(raw string) string {
	code := strings.TrimSpace(raw)
	if len(code) > 3 {
		suffix := strings.ToUpper(code[len(code)-3:])
		if suffix == ".SH" || suffix == ".SZ" {
			code = code[:len(code)-3]
		}
	}
	return code
}

// AttachSuffix appends the canonical exchange suffix for the code's
// board, e.g. "600519" → "600519.SH". Normalizing first makes the
// strip/attach pair idempotent. Unknown codes are returned unchanged.
func AttachSuffix(code string) string {
	code = NormalizeCode(code)
	board := Classify(code)
	if board == BoardUnknown {
		return code
	}
	return code + "." + string(board.Exchange())
}

// ValidateCode normalizes and validates a stock code. The returned
// result carries the failure code INVALID_STOCK_CODE when the code does
// not belong to a recognized board.
func ValidateCode(raw string) models.ValidationResult {
	code := NormalizeCode(raw)
	if code == "" {
		return models.Invalid(models.CodeInvalidStockCode, "stock code is empty")
	}
	if Classify(code) == BoardUnknown {
		return models.Invalid(models.CodeInvalidStockCode, "unrecognized stock code %q", raw)
	}
	return models.Valid()
}
