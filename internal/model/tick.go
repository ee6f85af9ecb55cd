package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is a single ticker update from a venue. It replaces any prior
// tick for the same (Venue, Symbol) pair in the PriceRegistry.
type PriceTick struct {
	Venue     string
	Symbol    Symbol
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time
}

// Age returns how old the tick is relative to now.
func (t PriceTick) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}

// Stale reports whether the tick is older than ttl as of now.
func (t PriceTick) Stale(now time.Time, ttl time.Duration) bool {
	return t.Age(now) > ttl
}
