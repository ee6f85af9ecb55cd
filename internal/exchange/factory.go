package exchange

import (
	"fmt"
	"log/slog"

	"arbiter/internal/config"
)

// NewAdapter constructs the streaming adapter for a venue by name.
func NewAdapter(name string, logger *slog.Logger, cfg config.ExchangeConfig) (Adapter, error) {
	switch name {
	case "binance":
		return NewBinanceAdapter(logger, cfg), nil
	case "kraken":
		return NewKrakenAdapter(logger, cfg), nil
	case "okx":
		return NewOKXAdapter(logger, cfg), nil
	case "coinbase":
		return NewCoinbaseAdapter(logger, cfg), nil
	case "bybit":
		return NewBybitAdapter(logger, cfg), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}

// DefaultTakerFeePercent returns the static per-venue taker fee rate.
// The detectors use these rates directly; a venue's configured
// TakerFeePercent is not consulted.
func DefaultTakerFeePercent(venue string) float64 {
	switch venue {
	case "binance":
		return 0.10
	case "coinbase":
		return 0.50
	case "kraken":
		return 0.26
	case "bybit":
		return 0.10
	case "okx":
		return 0.10
	default:
		return 0.10
	}
}
