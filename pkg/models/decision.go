package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionType is the action an LLM asked for in one decision element.
// wait is treated like hold at execution time but kept distinct so the
// LLM's intent survives into the logs.
type DecisionType string

const (
	DecideBuy  DecisionType = "buy"
	DecideSell DecisionType = "sell"
	DecideHold DecisionType = "hold"
	DecideWait DecisionType = "wait"
)

// IsTrade reports whether the decision leads to an actual order fill.
func (d DecisionType) IsTrade() bool { return d == DecideBuy || d == DecideSell }

// TradingDecision is one parsed instruction from an LLM reply. StockCode
// and Quantity are mandatory for buy/sell; Price is optional (the order
// layer falls back to market data when absent).
type TradingDecision struct {
	Type      DecisionType     `json:"decision"`
	StockCode string           `json:"stock_code,omitempty"`
	Quantity  int64            `json:"quantity,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// DecisionStatus classifies the outcome of one decision cycle.
type DecisionStatus string

const (
	DecisionSuccess  DecisionStatus = "success"
	DecisionNoTrade  DecisionStatus = "no_trade"
	DecisionAPIError DecisionStatus = "api_error"
)

// DecisionLog is the persisted outcome record of one agent decision cycle:
// the prompt that went out, the raw reply, what was parsed from it and
// which orders resulted.
type DecisionLog struct {
	ID            int64             `json:"id"`
	AgentID       string            `json:"agent_id"`
	PromptContent string            `json:"prompt_content"`
	LLMResponse   string            `json:"llm_response"`
	Decisions     []TradingDecision `json:"decisions,omitempty"`
	OrderIDs      []string          `json:"order_ids,omitempty"`
	Status        DecisionStatus    `json:"status"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
