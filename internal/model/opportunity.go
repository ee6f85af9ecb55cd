package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityKind tags which strategy an opportunity/trade belongs to.
type OpportunityKind string

const (
	KindCrossExchange OpportunityKind = "cross-exchange"
	KindTriangular    OpportunityKind = "triangular"
)

// ArbitrageOpportunity is a detected cross-venue price dislocation.
type ArbitrageOpportunity struct {
	ID                    string
	Symbol                Symbol
	BuyVenue              string
	SellVenue             string
	BuyPrice              decimal.Decimal
	SellPrice             decimal.Decimal
	EffectiveBuyPrice     decimal.Decimal
	EffectiveSellPrice    decimal.Decimal
	BuySlippagePercent    float64
	SellSlippagePercent   float64
	Fees                  decimal.Decimal
	RecommendedTradeSize  decimal.Decimal
	AvailableLiquidity    decimal.Decimal
	Confidence            float64
	LiquidityScore        float64
	SpreadImpact          float64
	NetProfit             decimal.Decimal
	NetProfitPercent      float64
	CreatedAt             time.Time
}

// Key identifies opportunities that dedup against one another.
func (o ArbitrageOpportunity) Key() string {
	return string(o.Symbol) + "|" + o.BuyVenue + "|" + o.SellVenue
}

// Expired reports whether the opportunity has passed its lifetime.
func (o ArbitrageOpportunity) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(o.CreatedAt) > ttl
}

// LegDirection is buy or sell for one leg of a triangular path.
type LegDirection string

const (
	LegBuy  LegDirection = "buy"
	LegSell LegDirection = "sell"
)

// TriangularPath describes a fixed three-leg conversion cycle.
type TriangularPath struct {
	Venue      string
	Symbols    [3]Symbol
	Directions [3]LegDirection
	MinAmount  decimal.Decimal
}

// TriangularOpportunity is a detected profitable three-leg cycle.
type TriangularOpportunity struct {
	ID                 string
	Venue              string
	Path               [3]Symbol
	Directions         [3]LegDirection
	Prices             [3]decimal.Decimal
	EffectivePrices    [3]decimal.Decimal
	PerLegSlippage     [3]float64
	StartAmount        decimal.Decimal
	EndAmount          decimal.Decimal
	PerLegFees         [3]decimal.Decimal
	Confidence         float64
	ExecutionTimeHint  time.Duration
	CreatedAt          time.Time
	Valid              bool
}

// Key identifies opportunities that dedup against one another.
func (o TriangularOpportunity) Key() string {
	key := o.Venue
	for i := 0; i < 3; i++ {
		key += "|" + string(o.Path[i]) + ":" + string(o.Directions[i])
	}
	return key
}

// Expired reports whether the opportunity has passed its lifetime.
func (o TriangularOpportunity) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(o.CreatedAt) > ttl
}

// ProfitPercent returns the raw profit relative to the starting amount.
func (o TriangularOpportunity) ProfitPercent() float64 {
	if o.StartAmount.IsZero() {
		return 0
	}
	profit := o.EndAmount.Sub(o.StartAmount)
	pct, _ := profit.Div(o.StartAmount).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
