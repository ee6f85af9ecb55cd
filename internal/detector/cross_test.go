package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/model"
	"arbiter/internal/orderbook"
	"arbiter/internal/registry"
)

func newCrossFixture() (*CrossVenueDetector, *registry.PriceRegistry, model.Symbol) {
	d, prices, _, symbol := newCrossFixtureWithBooks()
	return d, prices, symbol
}

func newCrossFixtureWithBooks() (*CrossVenueDetector, *registry.PriceRegistry, *orderbook.BookRegistry, model.Symbol) {
	prices := registry.NewPriceRegistry()
	books := orderbook.NewBookRegistry(10 * time.Second)
	symbol := model.NewSymbol("BTC", "USDT")
	d := NewCrossVenueDetector(DefaultCrossVenueConfig(), prices, books, []string{"binance", "okx"})
	return d, prices, books, symbol
}

func seedBook(books *orderbook.BookRegistry, venue string, symbol model.Symbol, bids, asks []model.BookLevel, now time.Time) {
	books.Get(venue, symbol).ApplySnapshot(model.BookSnapshot{
		Venue: venue, Symbol: symbol, Bids: bids, Asks: asks, LastUpdateID: 1,
	}, now)
}

func TestCrossVenueDetector_NoOpportunityWithoutProfitableSpread(t *testing.T) {
	d, prices, symbol := newCrossFixture()
	now := time.Now()

	prices.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Ask: decimal.NewFromInt(100), Bid: decimal.NewFromInt(99), Timestamp: now})
	opps := d.OnTick(model.PriceTick{Venue: "okx", Symbol: symbol, Ask: decimal.NewFromInt(100), Bid: decimal.NewFromInt(99), Timestamp: now}, now)

	assert.Empty(t, opps)
}

func TestCrossVenueDetector_EmitsOpportunityOnProfitableSpread_SimpleEstimate(t *testing.T) {
	d, prices, symbol := newCrossFixture()
	now := time.Now()

	prices.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Ask: decimal.NewFromInt(100), Bid: decimal.NewFromInt(99), Timestamp: now})
	okxTick := model.PriceTick{Venue: "okx", Symbol: symbol, Ask: decimal.NewFromInt(106), Bid: decimal.NewFromInt(105), Timestamp: now}
	prices.Set(okxTick)
	opps := d.OnTick(okxTick, now)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "binance", opp.BuyVenue)
	assert.Equal(t, "okx", opp.SellVenue)
	assert.True(t, opp.NetProfit.IsPositive())
	assert.NotEmpty(t, opp.ID)
}

func TestCrossVenueDetector_Dedup_LowerOrEqualConfidenceDoesNotReplace(t *testing.T) {
	d, prices, symbol := newCrossFixture()
	now := time.Now()

	prices.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Ask: decimal.NewFromInt(100), Bid: decimal.NewFromInt(99), Timestamp: now})
	prices.Set(model.PriceTick{Venue: "okx", Symbol: symbol, Ask: decimal.NewFromInt(106), Bid: decimal.NewFromInt(105), Timestamp: now})

	first := d.OnTick(model.PriceTick{Venue: "okx", Symbol: symbol, Ask: decimal.NewFromInt(106), Bid: decimal.NewFromInt(105), Timestamp: now}, now)
	require.Len(t, first, 1)

	second := d.OnTick(model.PriceTick{Venue: "okx", Symbol: symbol, Ask: decimal.NewFromInt(106), Bid: decimal.NewFromInt(105), Timestamp: now}, now)
	assert.Empty(t, second)

	assert.Len(t, d.Snapshot(), 1)
}

func TestCrossVenueDetector_StaleTickExcluded(t *testing.T) {
	d, prices, symbol := newCrossFixture()
	now := time.Now()

	prices.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Ask: decimal.NewFromInt(100), Bid: decimal.NewFromInt(99), Timestamp: now.Add(-time.Minute)})
	opps := d.OnTick(model.PriceTick{Venue: "okx", Symbol: symbol, Ask: decimal.NewFromInt(106), Bid: decimal.NewFromInt(105), Timestamp: now}, now)

	assert.Empty(t, opps)
}

// Book depths mirror the sufficient-spread scenario: binance asks
// (59800, 0.5) then (60010, 2), okx bids (60200, 0.5) then (60140, 1).
// The first level on each side covers the whole trade so both legs
// fill at the top price with zero slippage.
func TestCrossVenueDetector_DepthWalk_EmitsOpportunityAtTopOfBook(t *testing.T) {
	d, prices, books, symbol := newCrossFixtureWithBooks()
	now := time.Now()

	seedBook(books, "binance", symbol,
		[]model.BookLevel{{Price: decimal.NewFromInt(59700), Size: decimal.NewFromInt(5)}},
		[]model.BookLevel{{Price: decimal.NewFromInt(59800), Size: decimal.NewFromFloat(0.5)}, {Price: decimal.NewFromInt(60010), Size: decimal.NewFromInt(2)}},
		now)
	seedBook(books, "okx", symbol,
		[]model.BookLevel{{Price: decimal.NewFromInt(60200), Size: decimal.NewFromFloat(0.5)}, {Price: decimal.NewFromInt(60140), Size: decimal.NewFromInt(1)}},
		[]model.BookLevel{{Price: decimal.NewFromInt(60300), Size: decimal.NewFromInt(5)}},
		now)

	prices.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Ask: decimal.NewFromInt(59800), Bid: decimal.NewFromInt(59700), Timestamp: now})
	okxTick := model.PriceTick{Venue: "okx", Symbol: symbol, Bid: decimal.NewFromInt(60200), Ask: decimal.NewFromInt(60300), Timestamp: now}
	prices.Set(okxTick)
	opps := d.OnTick(okxTick, now)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "binance", opp.BuyVenue)
	assert.Equal(t, "okx", opp.SellVenue)
	assert.True(t, decimal.NewFromInt(59800).Equal(opp.EffectiveBuyPrice))
	assert.True(t, decimal.NewFromInt(60200).Equal(opp.EffectiveSellPrice))
	assert.InDelta(t, 0, opp.BuySlippagePercent, 0.0001)
	assert.InDelta(t, 0.0167224, mustFloat(opp.RecommendedTradeSize), 0.00001)
	assert.InDelta(t, 4.6823, mustFloat(opp.NetProfit), 0.001)
	assert.InDelta(t, 0.4682, opp.NetProfitPercent, 0.001)
	assert.GreaterOrEqual(t, opp.Confidence, 60.0)
	assert.GreaterOrEqual(t, opp.LiquidityScore, 50.0)
}

// Same book shape as the rejected scenario: the spread only covers the
// combined taker fees, so net profit is positive but too thin to
// justify a trade; this still exercises depthWalk, it just stays below
// the spread most operators would approve at the risk layer.
func TestCrossVenueDetector_DepthWalk_ThinSpreadStillPositiveNetProfit(t *testing.T) {
	d, prices, books, symbol := newCrossFixtureWithBooks()
	now := time.Now()

	seedBook(books, "binance", symbol,
		[]model.BookLevel{{Price: decimal.NewFromInt(59900), Size: decimal.NewFromInt(5)}},
		[]model.BookLevel{{Price: decimal.NewFromInt(60000), Size: decimal.NewFromFloat(0.5)}, {Price: decimal.NewFromInt(60010), Size: decimal.NewFromInt(2)}},
		now)
	seedBook(books, "okx", symbol,
		[]model.BookLevel{{Price: decimal.NewFromInt(60150), Size: decimal.NewFromFloat(0.3)}, {Price: decimal.NewFromInt(60140), Size: decimal.NewFromInt(1)}},
		[]model.BookLevel{{Price: decimal.NewFromInt(60250), Size: decimal.NewFromInt(5)}},
		now)

	prices.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Ask: decimal.NewFromInt(60000), Bid: decimal.NewFromInt(59900), Timestamp: now})
	okxTick := model.PriceTick{Venue: "okx", Symbol: symbol, Bid: decimal.NewFromInt(60150), Ask: decimal.NewFromInt(60250), Timestamp: now}
	prices.Set(okxTick)
	opps := d.OnTick(okxTick, now)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.InDelta(t, 0.4975, mustFloat(opp.NetProfit), 0.001)
	assert.InDelta(t, 0.04975, opp.NetProfitPercent, 0.001)
}
