package orderbook

import (
	"sync"
	"time"

	"arbiter/internal/model"
)

// BookRegistry owns one Replica per (venue, symbol) and the staleness
// policy for book reads used by detectors.
type BookRegistry struct {
	mu       sync.RWMutex
	replicas map[string]*Replica
	maxAge   time.Duration
}

// NewBookRegistry builds a BookRegistry that considers a replica stale
// if its lastEventTime is older than maxAge.
func NewBookRegistry(maxAge time.Duration) *BookRegistry {
	return &BookRegistry{
		replicas: make(map[string]*Replica),
		maxAge:   maxAge,
	}
}

func key(venue string, symbol model.Symbol) string {
	return venue + "|" + string(symbol)
}

// Get returns the replica for (venue, symbol), creating it if absent.
func (r *BookRegistry) Get(venue string, symbol model.Symbol) *Replica {
	k := key(venue, symbol)

	r.mu.RLock()
	rep, ok := r.replicas[k]
	r.mu.RUnlock()
	if ok {
		return rep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rep, ok = r.replicas[k]; ok {
		return rep
	}
	rep = NewReplica(venue, symbol)
	r.replicas[k] = rep
	return rep
}

// Fresh returns the replica for (venue, symbol) only if it exists, is
// initialized, uncrossed, and not stale as of now. maxAge overrides the
// registry's default staleness window so each caller (detector) can
// apply its own threshold.
func (r *BookRegistry) Fresh(venue string, symbol model.Symbol, now time.Time, maxAge time.Duration) (*Replica, bool) {
	r.mu.RLock()
	rep, ok := r.replicas[key(venue, symbol)]
	r.mu.RUnlock()
	if !ok || !rep.Initialized() {
		return nil, false
	}
	if rep.Crossed() {
		return nil, false
	}
	if now.Sub(rep.LastEventTime()) > maxAge {
		return nil, false
	}
	return rep, true
}

// FreshDefault is Fresh using the registry's own staleness window,
// for callers that have no per-check threshold of their own.
func (r *BookRegistry) FreshDefault(venue string, symbol model.Symbol, now time.Time) (*Replica, bool) {
	return r.Fresh(venue, symbol, now, r.maxAge)
}
