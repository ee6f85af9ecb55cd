package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/balance"
	"arbiter/internal/model"
)

type stubFetcher struct{ balances map[string][]model.Balance }

func (f *stubFetcher) FetchBalance(ctx context.Context, venue string) ([]model.Balance, error) {
	return f.balances[venue], nil
}

func newTestManager(t *testing.T) (*Manager, *balance.Ledger) {
	t.Helper()
	fetcher := &stubFetcher{balances: map[string][]model.Balance{
		"binance": {{Venue: "binance", Currency: "USDT", Free: decimal.NewFromInt(10000)}},
		"okx":     {{Venue: "okx", Currency: "BTC", Free: decimal.NewFromInt(10)}},
	}}
	bal := balance.NewLedger(slog.New(slog.NewTextHandler(io.Discard, nil)), fetcher, []string{"binance", "okx"})
	bal.Refresh(context.Background())

	m := NewManager(bal, GlobalLimits{MaxDailyLoss: decimal.NewFromInt(1000), MaxDailyTrades: 100},
		KindLimits{MinProfitPercent: 0.1, MaxPositionSize: decimal.NewFromInt(5000), MaxConcurrentTrades: 2},
		KindLimits{MinProfitPercent: 0.1, MaxPositionSize: decimal.NewFromInt(5000), MaxConcurrentTrades: 2})
	return m, bal
}

func approvedInput() evalInput {
	return evalInput{
		kind:          model.KindCrossExchange,
		symbols:       []model.Symbol{model.NewSymbol("BTC", "USDT")},
		venues:        []string{"binance", "okx"},
		profitPercent: 1.0,
		positionSize:  decimal.NewFromInt(100),
		requiredBuy:   map[string]decimal.Decimal{"binance|USDT": decimal.NewFromInt(100)},
	}
}

func TestManager_Evaluate_ApprovesWithinLimits(t *testing.T) {
	m, _ := newTestManager(t)
	approval := m.Evaluate(approvedInput())
	assert.True(t, approval.Approved)
	assert.Empty(t, approval.Reasons)
}

func TestManager_Evaluate_RejectsWhenTradingDisabled(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetTradingEnabled(false)
	approval := m.Evaluate(approvedInput())
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "global trading disabled")
}

func TestManager_Evaluate_RejectsWhenKindDisabled(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetKindEnabled(model.KindCrossExchange, false)
	approval := m.Evaluate(approvedInput())
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "kind trading disabled")
}

func TestManager_Evaluate_RejectsBlacklistedSymbolAndVenue(t *testing.T) {
	m, _ := newTestManager(t)
	m.BlacklistSymbol(model.NewSymbol("BTC", "USDT"))
	m.BlacklistVenue("binance")

	approval := m.Evaluate(approvedInput())
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "blacklisted symbol: BTC/USDT")
	assert.Contains(t, approval.Reasons, "blacklisted venue: binance")
}

func TestManager_Evaluate_RejectsBelowMinProfit(t *testing.T) {
	m, _ := newTestManager(t)
	in := approvedInput()
	in.profitPercent = 0.01
	approval := m.Evaluate(in)
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "profit below minimum")
}

func TestManager_Evaluate_RejectsInsufficientBalance(t *testing.T) {
	m, _ := newTestManager(t)
	in := approvedInput()
	in.requiredBuy = map[string]decimal.Decimal{"binance|USDT": decimal.NewFromInt(50000)}
	approval := m.Evaluate(in)
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "insufficient balance: binance|USDT")
}

func TestManager_Evaluate_RejectsPositionSizeOverMax(t *testing.T) {
	m, _ := newTestManager(t)
	in := approvedInput()
	in.positionSize = decimal.NewFromInt(999999)
	approval := m.Evaluate(in)
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "position size exceeds maximum")
}

func TestManager_Evaluate_RejectsConcurrencyCapReached(t *testing.T) {
	m, _ := newTestManager(t)
	m.IncrementActive(model.KindCrossExchange)
	m.IncrementActive(model.KindCrossExchange)

	approval := m.Evaluate(approvedInput())
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "concurrent trade cap reached")

	m.DecrementActive(model.KindCrossExchange)
	approval = m.Evaluate(approvedInput())
	assert.True(t, approval.Approved)
}

func TestManager_DecrementActive_NeverGoesNegative(t *testing.T) {
	m, _ := newTestManager(t)
	m.DecrementActive(model.KindCrossExchange)
	assert.Equal(t, 0, m.Snapshot().ActiveTradesByKind[model.KindCrossExchange])
}

func TestManager_Record_TripsEmergencyStopOnDailyLossCap(t *testing.T) {
	m, _ := newTestManager(t)
	m.Record(decimal.NewFromInt(-1000))

	snap := m.Snapshot()
	assert.True(t, snap.EmergencyStop)
	assert.True(t, snap.DailyLoss.Equal(decimal.NewFromInt(1000)))

	approval := m.Evaluate(approvedInput())
	assert.False(t, approval.Approved)
	assert.Contains(t, approval.Reasons, "emergency stop active")
}

func TestManager_Record_AccumulatesDailyProfitOnWins(t *testing.T) {
	m, _ := newTestManager(t)
	m.Record(decimal.NewFromInt(50))
	m.Record(decimal.NewFromInt(25))

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.DailyTrades)
	assert.True(t, snap.DailyProfit.Equal(decimal.NewFromInt(75)))
	assert.True(t, snap.DailyLoss.IsZero())
}

func TestManager_ResetEmergencyStop(t *testing.T) {
	m, _ := newTestManager(t)
	m.Record(decimal.NewFromInt(-1000))
	require.True(t, m.Snapshot().EmergencyStop)

	m.ResetEmergencyStop()
	assert.False(t, m.Snapshot().EmergencyStop)
}

func TestManager_MaybeResetDaily_ResetsOncePerUTCDay(t *testing.T) {
	m, _ := newTestManager(t)
	m.Record(decimal.NewFromInt(10))
	require.Equal(t, 1, m.Snapshot().DailyTrades)

	// Simulate a day boundary by rewinding the ledger's last-reset marker.
	m.mu.Lock()
	m.ledger.LastResetDate = "2000-01-01"
	m.mu.Unlock()

	m.Evaluate(approvedInput())
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.DailyTrades)
	assert.True(t, snap.DailyLoss.IsZero())
	assert.NotEqual(t, "2000-01-01", snap.LastResetDate)
}

func TestNewCrossEvalInput(t *testing.T) {
	opp := model.ArbitrageOpportunity{
		Symbol:               model.NewSymbol("BTC", "USDT"),
		BuyVenue:             "binance",
		SellVenue:            "okx",
		NetProfitPercent:     1.5,
		RecommendedTradeSize: decimal.NewFromInt(100),
	}
	in := NewCrossEvalInput(opp, "USDT", "BTC", decimal.NewFromInt(100), decimal.NewFromFloat(0.002))
	assert.Equal(t, model.KindCrossExchange, in.kind)
	assert.Equal(t, []string{"binance", "okx"}, in.venues)
	assert.True(t, in.requiredBuy["binance|USDT"].Equal(decimal.NewFromInt(100)))
	assert.True(t, in.requiredBuy["okx|BTC"].Equal(decimal.NewFromFloat(0.002)))
}

func TestNewTriangularEvalInput(t *testing.T) {
	opp := model.TriangularOpportunity{
		Venue:       "binance",
		Path:        [3]model.Symbol{model.NewSymbol("BTC", "USDT"), model.NewSymbol("ETH", "BTC"), model.NewSymbol("ETH", "USDT")},
		StartAmount: decimal.NewFromInt(100),
		EndAmount:   decimal.NewFromInt(105),
	}
	in := NewTriangularEvalInput(opp, "USDT")
	assert.Equal(t, model.KindTriangular, in.kind)
	assert.InDelta(t, 5.0, in.profitPercent, 0.0001)
	assert.True(t, in.requiredBuy["binance|USDT"].Equal(decimal.NewFromInt(100)))
}
