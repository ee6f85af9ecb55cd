package model

import "github.com/shopspring/decimal"

// Side identifies a book side.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// BookLevel is a single price/size pair in an order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSnapshot fully replaces the state of a replica for (Venue, Symbol).
type BookSnapshot struct {
	Venue        string
	Symbol       Symbol
	Bids         []BookLevel
	Asks         []BookLevel
	LastUpdateID int64
}

// BookDelta is an incremental update applied in update-id order. Levels
// with Size == 0 remove the price from the book.
type BookDelta struct {
	Venue           string
	Symbol          Symbol
	Bids            []BookLevel
	Asks            []BookLevel
	FirstUpdateID   int64
	LastUpdateID    int64
	SequenceID      int64 // used by venues that carry a single running sequence instead of first/last
	HasSequenceOnly bool
	Unsequenced     bool // venue's delta frames carry no gap-detectable id at all (e.g. Coinbase level2)
}

// TopOfBook is the O(1) best bid/ask query result.
type TopOfBook struct {
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	BidQty decimal.Decimal
	AskQty decimal.Decimal
	Valid  bool
}

// WalkResult is the outcome of consuming book levels for a target amount.
type WalkResult struct {
	EffectivePrice decimal.Decimal
	Filled         decimal.Decimal
	Feasible       bool
}
