// Package prompt renders stored prompt templates over a flat decision
// context and ships the built-in A-share trading prompt used when an
// agent has no template of its own.
//
// Templates use {{placeholder}} variables. Rendering replaces every
// known placeholder, known-but-absent values render empty, and unknown
// placeholders are left in place so callers can detect typos.
package prompt

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/quantfleet/ashare/pkg/models"
)

// Template validation errors.
var (
	ErrEmptyTemplate    = errors.New("prompt: template content is empty")
	ErrUnbalancedBraces = errors.New("prompt: unbalanced {{ }} braces")
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Placeholder describes one template variable exposed to editors.
type Placeholder struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Placeholders is the catalogue of variables a template may reference,
// in display order.
var Placeholders = []Placeholder{
	{"agent_name", "name of the agent running the cycle"},
	{"cash", "available cash, CNY"},
	{"initial_cash", "starting cash, CNY"},
	{"market_value", "market value of all holdings, CNY"},
	{"total_assets", "cash plus market value, CNY"},
	{"return_rate", "overall return percentage"},
	{"position_count", "number of open positions"},
	{"positions", "holdings table: code, shares, avg cost, buy date"},
	{"position_quotes", "latest quotes for held stocks"},
	{"market_summary", "index levels and breadth snapshot"},
	{"hot_stocks", "most active stocks with quotes"},
	{"technical_summary", "moving-average and RSI notes per holding"},
	{"sentiment_score", "news sentiment in [-1, 1]"},
	{"sentiment_label", "bullish / bearish / neutral"},
	{"news_headlines", "recent finance headlines"},
	{"current_time", "wall-clock time, UTC+8"},
	{"current_date", "calendar date, UTC+8"},
	{"current_weekday", "weekday name, UTC+8"},
	{"is_trading_day", "true when the exchange is open today"},
}

// Validate checks template content before it is saved.
func Validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyTemplate
	}
	if strings.Count(content, "{{") != strings.Count(content, "}}") {
		return ErrUnbalancedBraces
	}
	return nil
}

// Render substitutes every known placeholder with its context value.
// Unknown placeholders survive verbatim; use Unrendered to find them.
func Render(content string, pctx *models.PromptContext) string {
	dict := contextDict(pctx)
	return placeholderRe.ReplaceAllStringFunc(content, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := dict[name]; ok {
			return v
		}
		return m
	})
}

// Unrendered returns the placeholder names still present in s.
func Unrendered(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// contextDict flattens the context into the placeholder namespace.
func contextDict(c *models.PromptContext) map[string]string {
	if c == nil {
		c = &models.PromptContext{}
	}
	return map[string]string{
		"agent_name":        c.AgentName,
		"cash":              c.Cash,
		"initial_cash":      c.InitialCash,
		"market_value":      c.MarketValue,
		"total_assets":      c.TotalAssets,
		"return_rate":       c.ReturnRatePct,
		"position_count":    strconv.Itoa(c.PositionCount),
		"positions":         c.PositionsBlock,
		"position_quotes":   c.PositionQuotes,
		"market_summary":    c.MarketSummary,
		"hot_stocks":        c.HotStocks,
		"technical_summary": c.TechnicalNotes,
		"sentiment_score":   c.SentimentScore,
		"sentiment_label":   c.SentimentLabel,
		"news_headlines":    c.NewsHeadlines,
		"current_time":      c.CurrentTime,
		"current_date":      c.CurrentDate,
		"current_weekday":   c.CurrentWeekday,
		"is_trading_day":    strconv.FormatBool(c.IsTradingDay),
	}
}
