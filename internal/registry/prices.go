// Package registry is the in-memory cache of the last PriceTick per
// (venue, symbol), with per-consumer staleness checks.
package registry

import (
	"sync"
	"time"

	"arbiter/internal/model"
)

// PriceRegistry is written by a single goroutine (the dispatcher in
// cmd/arbiter, which stores every adapter tick) and read by any number
// of detectors.
type PriceRegistry struct {
	mu    sync.RWMutex
	ticks map[string]model.PriceTick
}

// NewPriceRegistry builds an empty registry.
func NewPriceRegistry() *PriceRegistry {
	return &PriceRegistry{ticks: make(map[string]model.PriceTick)}
}

func key(venue string, symbol model.Symbol) string {
	return venue + "|" + string(symbol)
}

// Set stores the latest tick for its (Venue, Symbol).
func (p *PriceRegistry) Set(tick model.PriceTick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks[key(tick.Venue, tick.Symbol)] = tick
}

// Get returns the last known tick for (venue, symbol).
func (p *PriceRegistry) Get(venue string, symbol model.Symbol) (model.PriceTick, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.ticks[key(venue, symbol)]
	return t, ok
}

// Fresh returns the tick only if present and not older than ttl.
func (p *PriceRegistry) Fresh(venue string, symbol model.Symbol, now time.Time, ttl time.Duration) (model.PriceTick, bool) {
	t, ok := p.Get(venue, symbol)
	if !ok || t.Stale(now, ttl) {
		return model.PriceTick{}, false
	}
	return t, true
}

// VenuesForSymbol returns every venue that currently has a tick for the
// given symbol, used by the cross-venue detector to form pairs.
func (p *PriceRegistry) VenuesForSymbol(symbol model.Symbol) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var venues []string
	for k := range p.ticks {
		t := p.ticks[k]
		if t.Symbol == symbol {
			venues = append(venues, t.Venue)
		}
	}
	return venues
}

// Snapshot returns a copy of every tick currently held, for external
// inspection (e.g. an operator control surface, out of scope here).
func (p *PriceRegistry) Snapshot() []model.PriceTick {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.PriceTick, 0, len(p.ticks))
	for _, t := range p.ticks {
		out = append(out, t)
	}
	return out
}
