package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the direction of an order. Hold orders record an
// explicit "do nothing" decision and carry no stock code, quantity or price.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
	Hold OrderSide = "hold"
)

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a single trade instruction produced by an agent's decision
// cycle. StockCode, Quantity and Price are nil only for hold orders.
// LLMLogID is a weak back-reference to the LLM call that produced it.
type Order struct {
	ID           string           `json:"order_id"`
	AgentID      string           `json:"agent_id"`
	LLMLogID     *int64           `json:"llm_log_id,omitempty"`
	Side         OrderSide        `json:"side"`
	StockCode    *string          `json:"stock_code,omitempty"`
	Quantity     *int64           `json:"quantity,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Status       OrderStatus      `json:"status"`
	RejectReason *string          `json:"reject_reason,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// TradingFees are the three A-share fee components of a trade, each rounded
// half-up to two decimals independently.
type TradingFees struct {
	Commission  decimal.Decimal `json:"commission"`
	StampTax    decimal.Decimal `json:"stamp_tax"`
	TransferFee decimal.Decimal `json:"transfer_fee"`
}

// Total returns the sum of all fee components.
func (f TradingFees) Total() decimal.Decimal {
	return f.Commission.Add(f.StampTax).Add(f.TransferFee)
}

// Transaction is the receipt for a filled order. A transaction exists if
// and only if its order has status filled.
type Transaction struct {
	ID         string          `json:"tx_id"`
	OrderID    string          `json:"order_id"`
	AgentID    string          `json:"agent_id"`
	StockCode  string          `json:"stock_code"`
	Side       OrderSide       `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Fees       TradingFees     `json:"fees"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Notional returns price x quantity.
func (t *Transaction) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
