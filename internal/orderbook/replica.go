// Package orderbook maintains per-(venue, symbol) order book replicas
// built from a stream of venue-specific snapshot and delta messages.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/model"
)

// Replica is the depth-keyed bid/ask ladder for one (venue, symbol) pair.
// It has a single writer (the dispatcher goroutine in cmd/arbiter, which
// applies each adapter's snapshot and delta events); reads are served
// under RLock so callers observe a consistent snapshot rather
// than a book mid-update.
type Replica struct {
	mu            sync.RWMutex
	venue         string
	symbol        model.Symbol
	bids          map[string]decimal.Decimal // price string -> size, string-keyed to avoid float-key surprises
	asks          map[string]decimal.Decimal
	bidPrices     []decimal.Decimal // sorted descending
	askPrices     []decimal.Decimal // sorted ascending
	lastUpdateID  int64
	lastEventTime time.Time
	initialized   bool
}

// NewReplica constructs an empty, uninitialized replica.
func NewReplica(venue string, symbol model.Symbol) *Replica {
	return &Replica{
		venue:  venue,
		symbol: symbol,
		bids:   make(map[string]decimal.Decimal),
		asks:   make(map[string]decimal.Decimal),
	}
}

// Reset discards all state, forcing the next ApplySnapshot to rebuild
// from scratch. Called on gap detection or after a disconnect.
func (r *Replica) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bids = make(map[string]decimal.Decimal)
	r.asks = make(map[string]decimal.Decimal)
	r.bidPrices = nil
	r.askPrices = nil
	r.initialized = false
	r.lastUpdateID = 0
}

// ApplySnapshot replaces the replica's state entirely.
func (r *Replica) ApplySnapshot(snap model.BookSnapshot, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = make(map[string]decimal.Decimal, len(snap.Bids))
	r.asks = make(map[string]decimal.Decimal, len(snap.Asks))
	for _, lvl := range snap.Bids {
		if lvl.Size.IsZero() {
			continue
		}
		r.bids[lvl.Price.String()] = lvl.Size
	}
	for _, lvl := range snap.Asks {
		if lvl.Size.IsZero() {
			continue
		}
		r.asks[lvl.Price.String()] = lvl.Size
	}
	r.rebuildIndex()
	r.lastUpdateID = snap.LastUpdateID
	r.lastEventTime = now
	r.initialized = true
}

// GapDetected reports whether applying delta would leave a hole in the
// update-id sequence, per the venue's chaining rule
// (delta.FirstUpdateID == prev.LastUpdateID + 1).
func (r *Replica) GapDetected(delta model.BookDelta) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if delta.Unsequenced {
		return false
	}
	if !r.initialized {
		return true
	}
	if delta.HasSequenceOnly {
		return delta.SequenceID != r.lastUpdateID+1
	}
	return delta.FirstUpdateID != r.lastUpdateID+1
}

// ApplyDelta merges an incremental update into the replica. Callers must
// have already checked GapDetected and reacted (Reset + re-snapshot) if
// it returned true; ApplyDelta itself does not gap-check so it can also
// be used to apply the buffered deltas queued while a snapshot fetch is
// in flight.
func (r *Replica) ApplyDelta(delta model.BookDelta, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	applySide := func(levels []model.BookLevel, side map[string]decimal.Decimal) {
		for _, lvl := range levels {
			key := lvl.Price.String()
			if lvl.Size.IsZero() {
				delete(side, key)
				continue
			}
			side[key] = lvl.Size
		}
	}
	applySide(delta.Bids, r.bids)
	applySide(delta.Asks, r.asks)
	r.rebuildIndex()

	if delta.HasSequenceOnly {
		r.lastUpdateID = delta.SequenceID
	} else {
		r.lastUpdateID = delta.LastUpdateID
	}
	r.lastEventTime = now
	r.initialized = true
}

// rebuildIndex recomputes the sorted price slices used for top-of-book
// and depth walking. Called with mu held.
func (r *Replica) rebuildIndex() {
	r.bidPrices = r.bidPrices[:0]
	for k := range r.bids {
		d, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		r.bidPrices = append(r.bidPrices, d)
	}
	sort.Slice(r.bidPrices, func(i, j int) bool { return r.bidPrices[i].GreaterThan(r.bidPrices[j]) })

	r.askPrices = r.askPrices[:0]
	for k := range r.asks {
		d, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		r.askPrices = append(r.askPrices, d)
	}
	sort.Slice(r.askPrices, func(i, j int) bool { return r.askPrices[i].LessThan(r.askPrices[j]) })
}

// LastEventTime returns the timestamp of the most recently applied event.
func (r *Replica) LastEventTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastEventTime
}

// LastUpdateID returns the current update-id / sequence cursor.
func (r *Replica) LastUpdateID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdateID
}

// Initialized reports whether the replica has ever received a snapshot.
func (r *Replica) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Crossed reports whether the best bid is above the best ask, which must
// never be used for detection.
func (r *Replica) Crossed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bidPrices) == 0 || len(r.askPrices) == 0 {
		return false
	}
	return r.bidPrices[0].GreaterThan(r.askPrices[0])
}

// TopOfBook returns the best bid/ask and their sizes.
func (r *Replica) TopOfBook() model.TopOfBook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bidPrices) == 0 || len(r.askPrices) == 0 {
		return model.TopOfBook{}
	}
	bestBid := r.bidPrices[0]
	bestAsk := r.askPrices[0]
	return model.TopOfBook{
		Bid:    bestBid,
		Ask:    bestAsk,
		BidQty: r.bids[bestBid.String()],
		AskQty: r.asks[bestAsk.String()],
		Valid:  true,
	}
}

// WalkDepth consumes levels from the best price inward until baseAmount
// is filled or the book is exhausted.
func (r *Replica) WalkDepth(side model.Side, baseAmount decimal.Decimal) model.WalkResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var prices []decimal.Decimal
	var levels map[string]decimal.Decimal
	if side == model.SideAsk {
		prices = r.askPrices
		levels = r.asks
	} else {
		prices = r.bidPrices
		levels = r.bids
	}

	remaining := baseAmount
	cost := decimal.Zero
	filled := decimal.Zero

	for _, price := range prices {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		size := levels[price.String()]
		take := size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		cost = cost.Add(take.Mul(price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return model.WalkResult{Feasible: false, Filled: filled}
	}
	if filled.IsZero() {
		return model.WalkResult{Feasible: false}
	}
	return model.WalkResult{
		EffectivePrice: cost.Div(filled),
		Filled:         filled,
		Feasible:       true,
	}
}

// TotalVolume returns the sum of size across all levels of a side, used
// for the coarse available-liquidity estimate.
func (r *Replica) TotalVolume(side model.Side) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := decimal.Zero
	levels := r.bids
	if side == model.SideAsk {
		levels = r.asks
	}
	for _, size := range levels {
		total = total.Add(size)
	}
	return total
}
