package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application. Values are read
// by viper from a config file and/or environment variables, with the
// environment taking precedence.
type Config struct {
	Trading    TradingConfig
	Cross      StrategyConfig
	Triangular StrategyConfig
	Risk       RiskConfig
	Order      OrderConfig
	Database   DatabaseConfig
	Exchanges  map[string]ExchangeConfig
	LogFormat  string `mapstructure:"log_format"`
	TestMode   bool   `mapstructure:"test_mode"`
}

// TradingConfig holds the global and per-kind trading enable flags.
type TradingConfig struct {
	Enabled           bool `mapstructure:"trading_enabled"`
	CrossEnabled      bool `mapstructure:"cross_trading_enabled"`
	TriangularEnabled bool `mapstructure:"triangular_trading_enabled"`
}

// StrategyConfig holds the per-kind risk thresholds configurable via
// CROSS_* / TRIANGULAR_* environment variables.
type StrategyConfig struct {
	MinProfitPercent   float64 `mapstructure:"min_profit"`
	MaxPositionSize    float64 `mapstructure:"max_position_size"`
	MaxConcurrentTrades int    `mapstructure:"max_concurrent"`
}

// RiskConfig holds the global daily limits and blacklists.
type RiskConfig struct {
	MaxDailyLoss          float64  `mapstructure:"max_daily_loss"`
	MaxDailyTrades        int      `mapstructure:"max_daily_trades"`
	BlacklistedSymbols    []string `mapstructure:"blacklisted_symbols"`
	BlacklistedExchanges  []string `mapstructure:"blacklisted_exchanges"`
	MinLiquidity          float64  `mapstructure:"min_liquidity"`
	MaxSlippagePercent    float64  `mapstructure:"max_slippage_percent"`
}

// OrderConfig holds execution parameters.
type OrderConfig struct {
	Type           string  `mapstructure:"type"`
	TimeoutMS      int     `mapstructure:"timeout_ms"`
	RetryAttempts  int     `mapstructure:"retry_attempts"`
	SlippageTolerance float64 `mapstructure:"slippage_tolerance"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	TakerFeePercent float64 `mapstructure:"taker_fee_percent"`
	APIKey          string  `mapstructure:"api_key"`
	APISecret       string  `mapstructure:"api_secret"`
	APIPassphrase   string  `mapstructure:"api_passphrase"`
	BaseURL         string  `mapstructure:"base_url"`
	WSURL           string  `mapstructure:"ws_url"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}
	config.Exchanges = loadExchangeConfigs()
	return
}

// knownVenues enumerates the adapters this module wires in cmd/arbiter.
var knownVenues = []string{"binance", "okx", "coinbase", "bybit", "kraken"}

// loadExchangeConfigs reads per-venue credentials directly from the
// environment (VENUE_API_KEY, VENUE_API_SECRET, ...). Viper's
// AutomaticEnv does not resolve a map[string]ExchangeConfig key set
// that varies per deployment, so each venue is read explicitly.
func loadExchangeConfigs() map[string]ExchangeConfig {
	out := make(map[string]ExchangeConfig, len(knownVenues))
	for _, venue := range knownVenues {
		prefix := strings.ToUpper(venue) + "_"
		fee, _ := strconv.ParseFloat(os.Getenv(prefix+"TAKER_FEE_PERCENT"), 64)
		out[venue] = ExchangeConfig{
			TakerFeePercent: fee,
			APIKey:          os.Getenv(prefix + "API_KEY"),
			APISecret:       os.Getenv(prefix + "API_SECRET"),
			APIPassphrase:   os.Getenv(prefix + "API_PASSPHRASE"),
			BaseURL:         os.Getenv(prefix + "BASE_URL"),
			WSURL:           os.Getenv(prefix + "WS_URL"),
		}
	}
	return out
}

func setDefaults() {
	viper.SetDefault("cross.min_profit", 0.5)
	viper.SetDefault("cross.max_position_size", 1000.0)
	viper.SetDefault("cross.max_concurrent", 3)
	viper.SetDefault("triangular.min_profit", 0.8)
	viper.SetDefault("triangular.max_position_size", 500.0)
	viper.SetDefault("triangular.max_concurrent", 2)
	viper.SetDefault("risk.max_daily_loss", 50.0)
	viper.SetDefault("risk.max_daily_trades", 100)
	viper.SetDefault("risk.min_liquidity", 1000.0)
	viper.SetDefault("risk.max_slippage_percent", 1.0)
	viper.SetDefault("order.type", "market")
	viper.SetDefault("order.timeout_ms", 30000)
	viper.SetDefault("order.retry_attempts", 0)
	viper.SetDefault("order.slippage_tolerance", 0.5)
	viper.SetDefault("log_format", "json")
}
