package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a single (venue, currency) funds snapshot.
type Balance struct {
	Venue      string
	Currency   string
	Free       decimal.Decimal
	Used       decimal.Decimal
	Total      decimal.Decimal
	LastUpdate time.Time
}

// FundsLock is a soft, process-local reservation held for the duration
// of one trade attempt.
type FundsLock struct {
	TradeID  string
	Venue    string
	Currency string
	Amount   decimal.Decimal
}

// Key identifies the (venue, currency) bucket a lock applies to.
func (f FundsLock) Key() string {
	return f.Venue + "|" + f.Currency
}

// RiskLedger is the authority for what may be traded: daily counters,
// concurrency caps, blacklists, and the emergency-stop sticky flag.
type RiskLedger struct {
	DailyTrades         int
	DailyLoss           decimal.Decimal
	DailyProfit         decimal.Decimal
	ActiveTradesByKind  map[OpportunityKind]int
	LastResetDate       string // YYYY-MM-DD in UTC
	EmergencyStop       bool
	BlacklistedSymbols  map[Symbol]bool
	BlacklistedVenues   map[string]bool
}

// NewRiskLedger builds an empty ledger reset to the given UTC date.
func NewRiskLedger(today string) *RiskLedger {
	return &RiskLedger{
		ActiveTradesByKind: make(map[OpportunityKind]int),
		LastResetDate:      today,
		BlacklistedSymbols: make(map[Symbol]bool),
		BlacklistedVenues:  make(map[string]bool),
	}
}
