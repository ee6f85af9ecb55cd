package balance

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/model"
)

type stubFetcher struct {
	balances map[string][]model.Balance
}

func (f *stubFetcher) FetchBalance(ctx context.Context, venue string) ([]model.Balance, error) {
	return f.balances[venue], nil
}

type stubSnapshotRepo struct {
	snapshots [][]model.Balance
	err       error
}

func (r *stubSnapshotRepo) SaveTradeAttempt(ctx context.Context, attempt model.TradeAttempt) error {
	return nil
}
func (r *stubSnapshotRepo) SaveBalanceSnapshot(ctx context.Context, balances []model.Balance, recordedAt time.Time) error {
	r.snapshots = append(r.snapshots, balances)
	return r.err
}
func (r *stubSnapshotRepo) Migrate(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedger_RefreshThenAvailable(t *testing.T) {
	fetcher := &stubFetcher{balances: map[string][]model.Balance{
		"binance": {{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(1000)}},
	}}
	l := NewLedger(testLogger(), fetcher, []string{"binance"})
	l.Refresh(context.Background())

	assert.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(1000)))
	assert.True(t, l.HasAvailable("binance", "USDT", decimal.NewFromInt(500)))
	assert.False(t, l.HasAvailable("binance", "USDT", decimal.NewFromInt(1500)))
}

func TestLedger_LockReducesAvailable(t *testing.T) {
	fetcher := &stubFetcher{balances: map[string][]model.Balance{
		"binance": {{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(1000)}},
	}}
	l := NewLedger(testLogger(), fetcher, []string{"binance"})
	l.Refresh(context.Background())

	require.NoError(t, l.Lock("trade-1", "binance", "USDT", decimal.NewFromInt(400)))
	assert.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(600)))
}

func TestLedger_LockFailsWhenInsufficient(t *testing.T) {
	fetcher := &stubFetcher{balances: map[string][]model.Balance{
		"binance": {{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(100)}},
	}}
	l := NewLedger(testLogger(), fetcher, []string{"binance"})
	l.Refresh(context.Background())

	err := l.Lock("trade-1", "binance", "USDT", decimal.NewFromInt(500))
	assert.Error(t, err)
	assert.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(100)))
}

func TestLedger_UnlockIsIdempotent(t *testing.T) {
	fetcher := &stubFetcher{balances: map[string][]model.Balance{
		"binance": {{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(1000)}},
	}}
	l := NewLedger(testLogger(), fetcher, []string{"binance"})
	l.Refresh(context.Background())
	require.NoError(t, l.Lock("trade-1", "binance", "USDT", decimal.NewFromInt(400)))

	l.Unlock("trade-1", "binance", "USDT")
	assert.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(1000)))

	// unlocking an unknown tradeId/key must not panic or alter balances
	l.Unlock("trade-1", "binance", "USDT")
	l.Unlock("never-locked", "okx", "BTC")
	assert.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(1000)))
}

func TestLedger_AvailableNeverGoesNegative(t *testing.T) {
	// No balance fetched yet: Free defaults to zero.
	fetcher := &stubFetcher{balances: map[string][]model.Balance{}}
	l := NewLedger(testLogger(), fetcher, []string{"binance"})
	assert.True(t, l.Available("binance", "USDT").IsZero())

	// A refresh that drops Free below what is already locked must clamp
	// Available at zero rather than return a negative number.
	fetcher.balances["binance"] = []model.Balance{{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(1000)}}
	l.Refresh(context.Background())
	require.NoError(t, l.Lock("trade-1", "binance", "USDT", decimal.NewFromInt(400)))
	fetcher.balances["binance"] = []model.Balance{{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(100)}}
	l.Refresh(context.Background())
	assert.True(t, l.Available("binance", "USDT").IsZero())
}

func TestLedger_RefreshWithRepositorySavesSnapshot(t *testing.T) {
	fetcher := &stubFetcher{balances: map[string][]model.Balance{
		"binance": {{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(1000)}},
	}}
	repo := &stubSnapshotRepo{}
	l := NewLedger(testLogger(), fetcher, []string{"binance"})
	l.SetRepository(repo)

	l.Refresh(context.Background())

	require.Len(t, repo.snapshots, 1)
	assert.Len(t, repo.snapshots[0], 1)
	assert.Equal(t, "USDT", repo.snapshots[0][0].Currency)
}

func TestLedger_RefreshWithoutRepositorySkipsSnapshot(t *testing.T) {
	fetcher := &stubFetcher{balances: map[string][]model.Balance{
		"binance": {{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(1000)}},
	}}
	l := NewLedger(testLogger(), fetcher, []string{"binance"})

	// No repository attached: Refresh must not panic on a nil repo.
	l.Refresh(context.Background())
	assert.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(1000)))
}
