// Package utils provides common utility functions shared across the system.
package utils

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCNY formats a number in Renminbi format (¥1,234,567.89).
func FormatCNY(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	intPart := int64(amount)
	decPart := amount - float64(intPart)

	formatted := groupThousands(intPart)

	if decPart > 0 {
		decStr := fmt.Sprintf("%.2f", decPart)
		formatted += decStr[1:] // skip the leading "0"
	} else {
		formatted += ".00"
	}

	if negative {
		return "-¥" + formatted
	}
	return "¥" + formatted
}

// FormatCNYDecimal formats a decimal amount in Renminbi format without
// passing through float64.
func FormatCNYDecimal(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	amount = amount.Abs().Round(2)

	intPart := amount.IntPart()
	frac := amount.Sub(decimal.NewFromInt(intPart))

	formatted := groupThousands(intPart) + frac.StringFixed(2)[1:]

	if negative {
		return "-¥" + formatted
	}
	return "¥" + formatted
}

// FormatCNYCompact formats a number in compact Chinese notation using
// the wan (10^4) and yi (10^8) units.
// e.g., 123456 → "¥12.35万", 1234567890 → "¥12.35亿"
func FormatCNYCompact(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	prefix := "¥"
	if negative {
		prefix = "-¥"
	}

	switch {
	case amount >= 1e12:
		return fmt.Sprintf("%s%s万亿", prefix, trimDecimals(amount/1e12))
	case amount >= 1e8:
		return fmt.Sprintf("%s%s亿", prefix, trimDecimals(amount/1e8))
	case amount >= 1e4:
		return fmt.Sprintf("%s%s万", prefix, trimDecimals(amount/1e4))
	default:
		return fmt.Sprintf("%s%.2f", prefix, amount)
	}
}

// ToWan converts a raw number to wan (10^4).
func ToWan(amount float64) float64 {
	return amount / 1e4
}

// ToYi converts a raw number to yi (10^8).
func ToYi(amount float64) float64 {
	return amount / 1e8
}

// FormatPct formats a percentage value with sign and suffix.
// e.g., 2.45 → "+2.45%", -1.23 → "-1.23%"
func FormatPct(pct float64) string {
	if pct >= 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// FormatPctDecimal formats a decimal percentage value with sign and suffix.
func FormatPctDecimal(pct decimal.Decimal) string {
	if pct.IsNegative() {
		return pct.StringFixed(2) + "%"
	}
	return "+" + pct.StringFixed(2) + "%"
}

// FormatVolume formats share volume in human-readable A-share convention.
// Volume is quoted in hands (lots of 100 shares) on domestic terminals,
// but we keep raw shares and only compact the magnitude.
// e.g., 1500000 → "150.00万", 250000000 → "2.50亿"
func FormatVolume(volume int64) string {
	v := float64(volume)
	switch {
	case v >= 1e8:
		return fmt.Sprintf("%.2f亿", v/1e8)
	case v >= 1e4:
		return fmt.Sprintf("%.2f万", v/1e4)
	default:
		return fmt.Sprintf("%d", volume)
	}
}

// groupThousands formats an integer with standard thousands grouping.
func groupThousands(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	s := fmt.Sprintf("%d", n)
	result := s[len(s)-3:]
	remaining := s[:len(s)-3]

	for len(remaining) > 0 {
		if len(remaining) > 3 {
			result = remaining[len(remaining)-3:] + "," + result
			remaining = remaining[:len(remaining)-3]
		} else {
			result = remaining + "," + result
			remaining = ""
		}
	}

	return result
}

// trimDecimals formats a number with up to 2 decimal places,
// removing trailing zeros.
func trimDecimals(n float64) string {
	s := fmt.Sprintf("%.2f", n)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
