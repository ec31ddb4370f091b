package models

import "time"

// PromptTemplate is a stored prompt with {{placeholder}} variables.
// Version is bumped on every content update.
type PromptTemplate struct {
	ID          string    `json:"template_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PromptContext carries everything a prompt template may reference for one
// decision cycle. Every field is optional from the template's point of
// view; absent values render as empty and templates must tolerate that.
type PromptContext struct {
	AgentName string `json:"agent_name,omitempty"`

	// Portfolio block.
	Cash           string `json:"cash,omitempty"`
	InitialCash    string `json:"initial_cash,omitempty"`
	MarketValue    string `json:"market_value,omitempty"`
	TotalAssets    string `json:"total_assets,omitempty"`
	ReturnRatePct  string `json:"return_rate,omitempty"`
	PositionsBlock string `json:"positions,omitempty"`
	PositionCount  int    `json:"position_count,omitempty"`

	// Market block.
	MarketSummary  string `json:"market_summary,omitempty"`
	HotStocks      string `json:"hot_stocks,omitempty"`
	PositionQuotes string `json:"position_quotes,omitempty"`
	TechnicalNotes string `json:"technical_summary,omitempty"`
	SentimentScore string `json:"sentiment_score,omitempty"`
	SentimentLabel string `json:"sentiment_label,omitempty"`
	NewsHeadlines  string `json:"news_headlines,omitempty"`

	// Clock block, exchange timezone.
	CurrentTime    string `json:"current_time,omitempty"`
	CurrentDate    string `json:"current_date,omitempty"`
	CurrentWeekday string `json:"current_weekday,omitempty"`
	IsTradingDay   bool   `json:"is_trading_day"`
}
