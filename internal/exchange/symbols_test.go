package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/model"
)

func TestBinanceWireSymbol(t *testing.T) {
	assert.Equal(t, "btcusdt", binanceWireSymbol(model.NewSymbol("BTC", "USDT")))
}

func TestOKXWireSymbol(t *testing.T) {
	assert.Equal(t, "BTC-USDT", okxWireSymbol(model.NewSymbol("BTC", "USDT")))
}

func TestCoinbaseWireSymbol(t *testing.T) {
	assert.Equal(t, "BTC-USDT", coinbaseWireSymbol(model.NewSymbol("BTC", "USDT")))
}

func TestBybitWireSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", bybitWireSymbol(model.NewSymbol("BTC", "USDT")))
}

func TestKrakenWireSymbol_RewritesBTCToXBT(t *testing.T) {
	assert.Equal(t, "XBT/USDT", krakenWireSymbol(model.NewSymbol("BTC", "USDT")))
	assert.Equal(t, "ETH/USDT", krakenWireSymbol(model.NewSymbol("ETH", "USDT")))
}

func TestParseLevels(t *testing.T) {
	raw := [][]string{{"100.5", "2.0"}, {"101", "bad"}, {"102"}}
	levels := parseLevels(raw)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Price.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, levels[0].Size.Equal(decimal.RequireFromString("2.0")))
}
