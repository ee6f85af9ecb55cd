package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is a state in the trade attempt state machine.
type TradeStatus string

const (
	StatusValidating  TradeStatus = "VALIDATING"
	StatusApproved    TradeStatus = "APPROVED"
	StatusExecuting   TradeStatus = "EXECUTING"
	StatusMonitoring  TradeStatus = "MONITORING"
	StatusCompleted   TradeStatus = "COMPLETED"
	StatusRejected    TradeStatus = "REJECTED"
	StatusFailed      TradeStatus = "FAILED"
	StatusPartial     TradeStatus = "PARTIAL"
	StatusRolledBack  TradeStatus = "ROLLED_BACK"
)

// Terminal reports whether the status is one of the trade's end states.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed, StatusPartial, StatusRolledBack:
		return true
	default:
		return false
	}
}

// OrderSide is the side of an order sent to a venue.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is submitted to the OrderExecutor.
type OrderRequest struct {
	Venue  string
	Symbol Symbol
	Side   OrderSide
	Type   OrderType
	Amount decimal.Decimal
	Price  decimal.Decimal // required for OrderTypeLimit
}

// OrderState is the venue-reported lifecycle state of a placed order.
type OrderState string

const (
	OrderStateOpen      OrderState = "open"
	OrderStateClosed    OrderState = "closed"
	OrderStateCanceled  OrderState = "canceled"
	OrderStateRejected  OrderState = "rejected"
)

// ExecutedOrder is the outcome of placing or polling an order.
type ExecutedOrder struct {
	Venue          string
	OrderID        string
	Symbol         Symbol
	Side           OrderSide
	State          OrderState
	RequestedPrice decimal.Decimal
	FilledAmount   decimal.Decimal
	AverageFillPrice decimal.Decimal
	Fee            decimal.Decimal
	SubmittedAt    time.Time
	UpdatedAt      time.Time
}

// TradeAttempt is one full lifecycle of a detected opportunity being
// evaluated and, if approved, executed.
type TradeAttempt struct {
	ID             string
	OpportunityID  string
	Kind           OpportunityKind
	Status         TradeStatus
	Orders         []ExecutedOrder
	PreState       map[string]decimal.Decimal // (venue:currency) -> free balance before the trade
	PostState      map[string]decimal.Decimal
	RealizedProfit decimal.Decimal
	Error          string
	StartedAt      time.Time
	EndedAt        time.Time
	ExecutionMs    int64
}
