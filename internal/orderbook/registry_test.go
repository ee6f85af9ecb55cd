package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/model"
)

func TestBookRegistry_GetCreatesAndReuses(t *testing.T) {
	reg := NewBookRegistry(10 * time.Second)
	symbol := model.NewSymbol("BTC", "USDT")

	a := reg.Get("binance", symbol)
	b := reg.Get("binance", symbol)
	assert.Same(t, a, b)

	c := reg.Get("okx", symbol)
	assert.NotSame(t, a, c)
}

func TestBookRegistry_Fresh_UninitializedExcluded(t *testing.T) {
	reg := NewBookRegistry(10 * time.Second)
	symbol := model.NewSymbol("BTC", "USDT")

	_, ok := reg.Fresh("binance", symbol, time.Now(), 10*time.Second)
	assert.False(t, ok)
}

func TestBookRegistry_Fresh_StaleExcluded(t *testing.T) {
	reg := NewBookRegistry(10 * time.Second)
	symbol := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	rep := reg.Get("binance", symbol)
	rep.ApplySnapshot(model.BookSnapshot{
		Bids: []model.BookLevel{lvl("100", "1")},
		Asks: []model.BookLevel{lvl("101", "1")},
	}, now.Add(-30*time.Second))

	_, ok := reg.Fresh("binance", symbol, now, 10*time.Second)
	assert.False(t, ok)

	_, ok = reg.Fresh("binance", symbol, now, time.Minute)
	assert.True(t, ok)
}

func TestBookRegistry_Fresh_CrossedExcluded(t *testing.T) {
	reg := NewBookRegistry(10 * time.Second)
	symbol := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	rep := reg.Get("binance", symbol)
	rep.ApplySnapshot(model.BookSnapshot{
		Bids: []model.BookLevel{lvl("105", "1")},
		Asks: []model.BookLevel{lvl("100", "1")},
	}, now)

	_, ok := reg.Fresh("binance", symbol, now, 10*time.Second)
	assert.False(t, ok)
}

func TestBookRegistry_Fresh_HealthyReplicaReturned(t *testing.T) {
	reg := NewBookRegistry(10 * time.Second)
	symbol := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	rep := reg.Get("binance", symbol)
	rep.ApplySnapshot(model.BookSnapshot{
		Bids: []model.BookLevel{lvl("100", "1")},
		Asks: []model.BookLevel{lvl("101", "1")},
	}, now)

	got, ok := reg.Fresh("binance", symbol, now, 10*time.Second)
	require.True(t, ok)
	assert.Same(t, rep, got)
}
