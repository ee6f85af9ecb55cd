// Package balance implements the BalanceLedger component: periodic
// balance refresh and process-local soft locks.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/database"
	"arbiter/internal/model"
)

// Fetcher is implemented by anything that can report current free/used
// balances for a venue — in this module, the executor's TradingClient.
type Fetcher interface {
	FetchBalance(ctx context.Context, venue string) ([]model.Balance, error)
}

// Ledger tracks per-(venue, currency) balances and the soft locks held
// against them for in-flight trades.
type Ledger struct {
	logger *slog.Logger
	fetch  Fetcher
	venues []string
	repo   database.Repository // optional, set via SetRepository

	mu       sync.Mutex
	balances map[string]model.Balance   // "venue|currency" -> balance
	locks    map[string]map[string]decimal.Decimal // "venue|currency" -> tradeId -> amount
}

// NewLedger builds a Ledger for the given venues.
func NewLedger(logger *slog.Logger, fetch Fetcher, venues []string) *Ledger {
	return &Ledger{
		logger:   logger,
		fetch:    fetch,
		venues:   venues,
		balances: make(map[string]model.Balance),
		locks:    make(map[string]map[string]decimal.Decimal),
	}
}

func balanceKey(venue, currency string) string {
	return venue + "|" + currency
}

// SetRepository attaches Postgres persistence for periodic balance
// snapshots. Called once during wiring; a nil repo (the default)
// disables snapshotting entirely.
func (l *Ledger) SetRepository(repo database.Repository) {
	l.repo = repo
}

// Refresh fetches balances for every venue and, if a repository is
// attached, mirrors the resulting snapshot to Postgres. Called on a 30s
// ticker and on-demand after each trade.
func (l *Ledger) Refresh(ctx context.Context) {
	for _, v := range l.venues {
		bals, err := l.fetch.FetchBalance(ctx, v)
		if err != nil {
			l.logger.Error("balance: refresh failed", "venue", v, "error", err)
			continue
		}
		l.mu.Lock()
		for _, b := range bals {
			l.balances[balanceKey(b.Venue, b.Currency)] = b
		}
		l.mu.Unlock()
	}

	if l.repo == nil {
		return
	}
	now := time.Now()
	if err := l.repo.SaveBalanceSnapshot(ctx, l.Snapshot(), now); err != nil {
		l.logger.Error("balance: snapshot persistence failed", "error", err)
	}
}

// RunRefresher runs Refresh on a 30s ticker until ctx is canceled.
func (l *Ledger) RunRefresher(ctx context.Context) {
	l.Refresh(ctx)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Refresh(ctx)
		}
	}
}

// Available returns free minus the sum of active locks for (venue, currency).
func (l *Ledger) Available(venue, currency string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(venue, currency)
}

func (l *Ledger) availableLocked(venue, currency string) decimal.Decimal {
	key := balanceKey(venue, currency)
	free := l.balances[key].Free
	locked := decimal.Zero
	for _, amount := range l.locks[key] {
		locked = locked.Add(amount)
	}
	avail := free.Sub(locked)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// HasAvailable reports whether at least amount is free for (venue, currency).
func (l *Ledger) HasAvailable(venue, currency string, amount decimal.Decimal) bool {
	return l.Available(venue, currency).GreaterThanOrEqual(amount)
}

// Lock reserves amount for tradeID against (venue, currency). It
// succeeds iff available(venue, currency) >= amount.
func (l *Ledger) Lock(tradeID, venue, currency string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.availableLocked(venue, currency).LessThan(amount) {
		return fmt.Errorf("insufficient available funds for %s %s", venue, currency)
	}
	key := balanceKey(venue, currency)
	if l.locks[key] == nil {
		l.locks[key] = make(map[string]decimal.Decimal)
	}
	l.locks[key][tradeID] = amount
	return nil
}

// Unlock releases tradeID's lock against (venue, currency). Idempotent.
func (l *Ledger) Unlock(tradeID, venue, currency string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey(venue, currency)
	if l.locks[key] == nil {
		return
	}
	delete(l.locks[key], tradeID)
}

// Snapshot returns a copy of every known balance.
func (l *Ledger) Snapshot() []model.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Balance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, b)
	}
	return out
}
