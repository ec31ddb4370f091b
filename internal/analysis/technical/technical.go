// Package technical derives simple trend context from stored daily
// bars: moving averages, RSI, and a one-line summary per position for
// the prompt context. Indicator math runs on floats; nothing here
// touches money.
package technical

import (
	"fmt"
	"strings"

	"github.com/quantfleet/ashare/pkg/models"
)

// Closes extracts close prices from bars in date order.
func Closes(bars []*models.StockQuote) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// SMA calculates the simple moving average for the given period.
func SMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	result := make([]float64, n)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		sum += data[i] - data[i-period]
		result[i] = sum / float64(period)
	}
	return result
}

// SMALatest returns the most recent SMA value, zero when the series is
// too short.
func SMALatest(data []float64, period int) float64 {
	vals := SMA(data, period)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Values range 0-100; the leading period entries stay zero.
func RSI(data []float64, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(data)
	if n < period+1 {
		return nil
	}

	rsi := make([]float64, n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := data[i] - data[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	rsi[period] = rsiValue(avgGain, avgLoss)
	for i := period + 1; i < n; i++ {
		change := data[i] - data[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RSILatest returns the most recent RSI value, zero when the series is
// too short.
func RSILatest(data []float64, period int) float64 {
	vals := RSI(data, period)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// Summarize condenses a bar history into one prompt-ready line:
// close, MA5/10/20, where the close sits against them, and RSI14.
// Short histories degrade gracefully.
func Summarize(bars []*models.StockQuote) string {
	if len(bars) == 0 {
		return ""
	}

	closes := Closes(bars)
	last := closes[len(closes)-1]

	parts := []string{fmt.Sprintf("close %.2f", last)}

	type ma struct {
		label  string
		period int
	}
	var maParts []string
	var above, below int
	for _, m := range []ma{{"MA5", 5}, {"MA10", 10}, {"MA20", 20}} {
		v := SMALatest(closes, m.period)
		if v == 0 {
			continue
		}
		maParts = append(maParts, fmt.Sprintf("%s %.2f", m.label, v))
		if last >= v {
			above++
		} else {
			below++
		}
	}
	if len(maParts) == 0 {
		return parts[0] + ", history too short for indicators"
	}
	parts = append(parts, strings.Join(maParts, " / "))

	switch {
	case below == 0:
		parts = append(parts, "above all MAs")
	case above == 0:
		parts = append(parts, "below all MAs")
	default:
		parts = append(parts, "mixed vs MAs")
	}

	if vals := RSI(closes, 14); len(vals) > 0 {
		rsi := vals[len(vals)-1]
		note := fmt.Sprintf("RSI14 %.0f", rsi)
		switch {
		case rsi >= 70:
			note += " (overbought)"
		case rsi <= 30:
			note += " (oversold)"
		}
		parts = append(parts, note)
	}

	return strings.Join(parts, ", ")
}
