package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"arbiter/internal/balance"
	"arbiter/internal/config"
	"arbiter/internal/database"
	"arbiter/internal/detector"
	"arbiter/internal/exchange"
	"arbiter/internal/executor"
	"arbiter/internal/journal"
	"arbiter/internal/model"
	"arbiter/internal/orderbook"
	"arbiter/internal/orchestrator"
	"arbiter/internal/registry"
	"arbiter/internal/risk"
)

// venues is the fixed set of adapters this process runs, one per venue:
// four cover the book reconstruction patterns, kraken streams tickers only.
var venues = []string{"binance", "okx", "coinbase", "bybit", "kraken"}

// symbols is the fixed set of pairs every adapter subscribes to.
var symbols = []model.Symbol{
	model.NewSymbol("BTC", "USDT"),
	model.NewSymbol("ETH", "USDT"),
	model.NewSymbol("ETH", "BTC"),
}

// triangularPaths are the fixed three-leg cycles the TriangularDetector
// simulates on every relevant tick.
func triangularPaths() []model.TriangularPath {
	return []model.TriangularPath{
		{
			Venue:      "binance",
			Symbols:    [3]model.Symbol{model.NewSymbol("BTC", "USDT"), model.NewSymbol("ETH", "BTC"), model.NewSymbol("ETH", "USDT")},
			Directions: [3]model.LegDirection{model.LegBuy, model.LegBuy, model.LegSell},
			MinAmount:  decimal.NewFromInt(100),
		},
	}
}

func main() {
	logFormat := os.Getenv("LOG_FORMAT")
	logger := newLogger(logFormat)
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- wiring: registries, executor, balance ledger ---

	prices := registry.NewPriceRegistry()
	books := orderbook.NewBookRegistry(10 * time.Second)

	clients := make(map[string]executor.TradingClient, len(venues))
	for _, v := range venues {
		clients[v] = executor.NewRESTTradingClient(v, cfg.Exchanges[v])
	}
	orderExec := executor.NewOrderExecutor(logger, clients, executor.Config{
		TimeoutMS:     cfg.Order.TimeoutMS,
		RetryAttempts: cfg.Order.RetryAttempts,
		PollInterval:  500 * time.Millisecond,
	})

	balLedger := balance.NewLedger(logger, orderExec, venues)

	var repo database.Repository
	if cfg.Database.Host != "" {
		pool, err := connectPostgres(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to postgres, disabling trade-history mirroring", "error", err)
		} else {
			pg := database.NewPostgresRepository(pool)
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("failed to migrate trade history tables", "error", err)
			} else {
				repo = pg
			}
			defer pool.Close()
		}
	}

	balLedger.SetRepository(repo)

	txJournal := journal.New(logger, "logs/trades", repo)
	defer txJournal.Close()

	riskMgr := risk.NewManager(
		balLedger,
		risk.GlobalLimits{
			MaxDailyLoss:   decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
			MaxDailyTrades: cfg.Risk.MaxDailyTrades,
		},
		risk.KindLimits{
			MinProfitPercent:    cfg.Cross.MinProfitPercent,
			MaxPositionSize:     decimal.NewFromFloat(cfg.Cross.MaxPositionSize),
			MaxConcurrentTrades: cfg.Cross.MaxConcurrentTrades,
		},
		risk.KindLimits{
			MinProfitPercent:    cfg.Triangular.MinProfitPercent,
			MaxPositionSize:     decimal.NewFromFloat(cfg.Triangular.MaxPositionSize),
			MaxConcurrentTrades: cfg.Triangular.MaxConcurrentTrades,
		},
	)
	riskMgr.SetTradingEnabled(cfg.Trading.Enabled)
	riskMgr.SetKindEnabled(model.KindCrossExchange, cfg.Trading.CrossEnabled)
	riskMgr.SetKindEnabled(model.KindTriangular, cfg.Trading.TriangularEnabled)
	for _, s := range cfg.Risk.BlacklistedSymbols {
		riskMgr.BlacklistSymbol(model.Symbol(s))
	}
	for _, v := range cfg.Risk.BlacklistedExchanges {
		riskMgr.BlacklistVenue(v)
	}

	crossOrch := orchestrator.NewCrossOrchestrator(logger, riskMgr, balLedger, orderExec, txJournal)
	triOrch := orchestrator.NewTriangularOrchestrator(logger, riskMgr, balLedger, orderExec, txJournal)

	crossDetector := detector.NewCrossVenueDetector(detector.DefaultCrossVenueConfig(), prices, books, venues)
	triDetector := detector.NewTriangularDetector(detector.DefaultTriangularConfig(), prices, books, triangularPaths())

	var wg sync.WaitGroup

	// --- balance refresher ---
	wg.Add(1)
	go func() {
		defer wg.Done()
		balLedger.RunRefresher(ctx)
	}()

	// --- exchange adapters ---
	ticks := make(chan model.PriceTick, 1024)
	snapshots := make(chan model.BookSnapshot, 256)
	deltas := make(chan model.BookDelta, 4096)
	invalidate := make(chan exchange.BookInvalidate, 256)
	disconnects := make(chan exchange.ConnectionLost, 16)

	events := exchange.Events{
		Ticks:       ticks,
		Snapshots:   snapshots,
		Deltas:      deltas,
		Invalidate:  invalidate,
		Disconnects: disconnects,
	}

	for _, v := range venues {
		adapter, err := exchange.NewAdapter(v, logger, cfg.Exchanges[v])
		if err != nil {
			logger.Error("failed to construct adapter", "venue", v, "error", err)
			continue
		}
		wg.Add(1)
		go func(a exchange.Adapter) {
			defer wg.Done()
			if err := a.Start(ctx, symbols, events); err != nil {
				logger.Error("adapter stopped", "venue", a.Name(), "error", err)
			}
		}(adapter)
	}

	// --- dispatcher: apply events to registries, feed detectors, approve trades ---
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatch(ctx, logger, prices, books, ticks, snapshots, deltas, invalidate, disconnects, crossDetector, triDetector, crossOrch, triOrch)
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-drainCtx.Done():
		logger.Warn("drain timed out, exiting anyway")
	}
}

func dispatch(
	ctx context.Context,
	logger *slog.Logger,
	prices *registry.PriceRegistry,
	books *orderbook.BookRegistry,
	ticks <-chan model.PriceTick,
	snapshots <-chan model.BookSnapshot,
	deltas <-chan model.BookDelta,
	invalidate <-chan exchange.BookInvalidate,
	disconnects <-chan exchange.ConnectionLost,
	crossDetector *detector.CrossVenueDetector,
	triDetector *detector.TriangularDetector,
	crossOrch *orchestrator.CrossOrchestrator,
	triOrch *orchestrator.TriangularOrchestrator,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case tick := <-ticks:
			prices.Set(tick)
			now := time.Now()

			for _, opp := range crossDetector.OnTick(tick, now) {
				go approveAndExecuteCross(ctx, logger, crossOrch, opp)
			}
			for _, opp := range triDetector.OnTick(tick, now) {
				go approveAndExecuteTriangular(ctx, logger, triOrch, opp)
			}

		case snap := <-snapshots:
			books.Get(snap.Venue, snap.Symbol).ApplySnapshot(snap, time.Now())

		case delta := <-deltas:
			rep := books.Get(delta.Venue, delta.Symbol)
			if rep.GapDetected(delta) {
				logger.Warn("orderbook: gap detected, discarding replica", "venue", delta.Venue, "symbol", delta.Symbol)
				rep.Reset()
				continue
			}
			rep.ApplyDelta(delta, time.Now())

		case inv := <-invalidate:
			books.Get(inv.Venue, inv.Symbol).Reset()

		case disc := <-disconnects:
			logger.Error("adapter connection lost, reconnect budget exhausted", "venue", disc.Venue, "error", disc.Err)
		}
	}
}

func approveAndExecuteCross(ctx context.Context, logger *slog.Logger, orch *orchestrator.CrossOrchestrator, opp model.ArbitrageOpportunity) {
	attempt := orch.Execute(ctx, opp, opp.Symbol.Quote(), opp.Symbol.Base())
	logger.Info("cross trade attempt finished", "tradeId", attempt.ID, "status", attempt.Status, "profit", attempt.RealizedProfit.String())
}

func approveAndExecuteTriangular(ctx context.Context, logger *slog.Logger, orch *orchestrator.TriangularOrchestrator, opp model.TriangularOpportunity) {
	startCurrency := opp.Path[0].Quote()
	if opp.Directions[0] == model.LegSell {
		startCurrency = opp.Path[0].Base()
	}
	attempt := orch.Execute(ctx, opp, startCurrency)
	logger.Info("triangular trade attempt finished", "tradeId", attempt.ID, "status", attempt.Status, "profit", attempt.RealizedProfit.String())
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connStr := "postgres://" + cfg.User + ":" + cfg.Password + "@" + cfg.Host + ":" + strconv.Itoa(cfg.Port) + "/" + cfg.DBName
	return pgxpool.New(ctx, connStr)
}

func newLogger(format string) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}
