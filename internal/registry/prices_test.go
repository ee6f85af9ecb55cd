package registry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/model"
)

func TestPriceRegistry_SetAndGet(t *testing.T) {
	r := NewPriceRegistry()
	now := time.Now()
	symbol := model.NewSymbol("BTC", "USDT")

	r.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Last: decimal.NewFromInt(100), Timestamp: now})

	got, ok := r.Get("binance", symbol)
	require.True(t, ok)
	assert.True(t, got.Last.Equal(decimal.NewFromInt(100)))

	_, ok = r.Get("okx", symbol)
	assert.False(t, ok)
}

func TestPriceRegistry_Fresh(t *testing.T) {
	r := NewPriceRegistry()
	now := time.Now()
	symbol := model.NewSymbol("BTC", "USDT")

	r.Set(model.PriceTick{Venue: "binance", Symbol: symbol, Timestamp: now.Add(-5 * time.Second)})

	_, ok := r.Fresh("binance", symbol, now, time.Second)
	assert.False(t, ok)

	_, ok = r.Fresh("binance", symbol, now, time.Minute)
	assert.True(t, ok)

	_, ok = r.Fresh("binance", model.NewSymbol("ETH", "USDT"), now, time.Minute)
	assert.False(t, ok)
}

func TestPriceRegistry_VenuesForSymbol(t *testing.T) {
	r := NewPriceRegistry()
	now := time.Now()
	btc := model.NewSymbol("BTC", "USDT")
	eth := model.NewSymbol("ETH", "USDT")

	r.Set(model.PriceTick{Venue: "binance", Symbol: btc, Timestamp: now})
	r.Set(model.PriceTick{Venue: "okx", Symbol: btc, Timestamp: now})
	r.Set(model.PriceTick{Venue: "binance", Symbol: eth, Timestamp: now})

	venues := r.VenuesForSymbol(btc)
	assert.ElementsMatch(t, []string{"binance", "okx"}, venues)
}

func TestPriceRegistry_Snapshot(t *testing.T) {
	r := NewPriceRegistry()
	now := time.Now()
	r.Set(model.PriceTick{Venue: "binance", Symbol: model.NewSymbol("BTC", "USDT"), Timestamp: now})
	r.Set(model.PriceTick{Venue: "okx", Symbol: model.NewSymbol("ETH", "USDT"), Timestamp: now})

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
}
