// Package exchange contains one streaming adapter per venue. Each
// adapter owns its own reconnect/backoff loop and per-symbol order book
// reconstruction, and emits normalized events on the channels supplied
// to Start.
package exchange

import (
	"context"
	"time"

	"arbiter/internal/model"
)

// Events is the set of channels an Adapter emits normalized events on.
// A single struct (rather than one channel per event type) keeps the
// wiring in main small while still giving each event its own Go type.
type Events struct {
	Ticks       chan<- model.PriceTick
	Snapshots   chan<- model.BookSnapshot
	Deltas      chan<- model.BookDelta
	Invalidate  chan<- BookInvalidate
	Disconnects chan<- ConnectionLost
}

// BookInvalidate signals that downstream consumers must discard their
// replica for (Venue, Symbol) because the adapter can no longer
// guarantee its consistency (gap detected, disconnect mid-stream).
type BookInvalidate struct {
	Venue  string
	Symbol model.Symbol
}

// ConnectionLost is emitted once the reconnect budget for a venue is
// exhausted. Restart is operator-initiated; the adapter does not retry
// again on its own.
type ConnectionLost struct {
	Venue string
	Err   error
}

// Adapter is the contract every venue connector satisfies.
type Adapter interface {
	// Name returns the venue identifier used as PriceTick.Venue etc.
	Name() string
	// Start opens the connection, subscribes to symbols, and emits
	// events on the given channels until ctx is canceled or the
	// reconnect budget is exhausted.
	Start(ctx context.Context, symbols []model.Symbol, events Events) error
	// Stop performs a graceful shutdown, releasing timers and closing
	// the connection if still open. Start already honors ctx
	// cancellation; Stop is for callers that want to stop an adapter
	// independent of a shared context.
	Stop()
}

// BackoffPolicy is the shared exponential-backoff-with-cap policy every
// adapter uses for reconnection, factored out since five adapters share
// it.
type BackoffPolicy struct {
	Initial time.Duration
	Factor  float64
	Cap     time.Duration
	MaxAttempts int // 0 means unlimited
}

// DefaultBackoff returns the standard reconnect policy: initial 5s,
// factor 2, delay capped at one minute, at most 5 attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: 5 * time.Second, Factor: 2, Cap: time.Minute, MaxAttempts: 5}
}

// Next returns the backoff duration for the given attempt (0-based) and
// whether the attempt budget is exhausted.
func (b BackoffPolicy) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d > b.Cap {
			d = b.Cap
			break
		}
	}
	return d, true
}
