package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockQuote is one daily bar for one stock. Prices carry three decimal
// places; (StockCode, TradeDate) is unique in the store.
type StockQuote struct {
	StockCode string          `json:"stock_code"`
	Name      string          `json:"name,omitempty"`
	TradeDate time.Time       `json:"trade_date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Volume    int64           `json:"volume"`
	Amount    decimal.Decimal `json:"amount"`
}

// ChangePct returns the close-over-prev-close percentage move, zero when
// prev close is missing.
func (q *StockQuote) ChangePct() decimal.Decimal {
	if q.PrevClose.IsZero() {
		return decimal.Zero
	}
	return q.Close.Sub(q.PrevClose).Div(q.PrevClose).Mul(decimal.NewFromInt(100)).Round(2)
}

// MarketSummary is a coarse snapshot of the overall market used to build
// prompt context. All fields are best-effort; collectors may leave gaps.
type MarketSummary struct {
	TradeDate    time.Time       `json:"trade_date"`
	ShanghaiIdx  decimal.Decimal `json:"shanghai_index,omitempty"`
	ShenzhenIdx  decimal.Decimal `json:"shenzhen_index,omitempty"`
	ChiNextIdx   decimal.Decimal `json:"chinext_index,omitempty"`
	UpCount      int             `json:"up_count,omitempty"`
	DownCount    int             `json:"down_count,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount,omitempty"`
	Note         string          `json:"note,omitempty"`
	CollectedAt  time.Time       `json:"collected_at"`
}

// HotStock is one entry of the most-active list shown to agents.
type HotStock struct {
	StockCode string          `json:"stock_code"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	Rank      int             `json:"rank"`
}

// NewsItem is a single financial news headline from a feed.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// SentimentScore is a news-derived market mood reading in [-1, 1].
type SentimentScore struct {
	Score     decimal.Decimal `json:"score"`
	Label     string          `json:"label"` // bullish / bearish / neutral
	Headlines []string        `json:"headlines,omitempty"`
	Source    string          `json:"source,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
