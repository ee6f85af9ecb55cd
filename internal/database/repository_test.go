package database

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"arbiter/internal/model"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("could not start postgres container: %s", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Fatalf("could not stop postgres container: %s", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	connStr := "postgres://testuser:testpassword@" + host + ":" + port.Port() + "/testdb"

	pool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}
	defer pool.Close()

	repo := &PostgresRepository{Pool: pool}
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("could not migrate schema: %s", err)
	}

	os.Exit(m.Run())
}

func TestPostgresRepository_SaveTradeAttempt(t *testing.T) {
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}

	attempt := model.TradeAttempt{
		ID:             "cross-trade-test-1",
		OpportunityID:  "cross-1",
		Kind:           model.KindCrossExchange,
		Status:         model.StatusCompleted,
		RealizedProfit: decimal.NewFromFloat(4.35),
		StartedAt:      time.Now().Add(-2 * time.Second),
		EndedAt:        time.Now(),
		ExecutionMs:    1800,
	}

	err := repo.SaveTradeAttempt(ctx, attempt)
	require.NoError(t, err)

	var status string
	var profit decimal.Decimal
	err = pool.QueryRow(ctx, "SELECT status, realized_profit FROM trade_attempts WHERE id = $1", attempt.ID).Scan(&status, &profit)
	require.NoError(t, err)
	assert.Equal(t, string(model.StatusCompleted), status)
	assert.True(t, profit.Equal(attempt.RealizedProfit))
}

func TestPostgresRepository_SaveTradeAttempt_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}

	attempt := model.TradeAttempt{
		ID:            "cross-trade-test-2",
		OpportunityID: "cross-2",
		Kind:          model.KindCrossExchange,
		Status:        model.StatusExecuting,
		StartedAt:     time.Now(),
	}
	require.NoError(t, repo.SaveTradeAttempt(ctx, attempt))

	attempt.Status = model.StatusCompleted
	attempt.RealizedProfit = decimal.NewFromFloat(1.2)
	attempt.EndedAt = time.Now()
	require.NoError(t, repo.SaveTradeAttempt(ctx, attempt))

	var count int
	err := pool.QueryRow(ctx, "SELECT count(*) FROM trade_attempts WHERE id = $1", attempt.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var status string
	err = pool.QueryRow(ctx, "SELECT status FROM trade_attempts WHERE id = $1", attempt.ID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, string(model.StatusCompleted), status)
}

func TestPostgresRepository_SaveBalanceSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}

	recordedAt := time.Now()
	balances := []model.Balance{
		{Venue: "binance-snapshot-test", Currency: "USDT", Free: decimal.NewFromFloat(1000.5), Used: decimal.NewFromFloat(50), Total: decimal.NewFromFloat(1050.5)},
		{Venue: "binance-snapshot-test", Currency: "BTC", Free: decimal.NewFromFloat(0.25), Used: decimal.Zero, Total: decimal.NewFromFloat(0.25)},
	}

	require.NoError(t, repo.SaveBalanceSnapshot(ctx, balances, recordedAt))

	rows, err := pool.Query(ctx, "SELECT currency, free, total FROM balance_snapshots WHERE venue = $1 AND recorded_at = $2 ORDER BY currency", "binance-snapshot-test", recordedAt)
	require.NoError(t, err)
	defer rows.Close()

	var got []model.Balance
	for rows.Next() {
		var b model.Balance
		require.NoError(t, rows.Scan(&b.Currency, &b.Free, &b.Total))
		got = append(got, b)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2)
	assert.Equal(t, "BTC", got[0].Currency)
	assert.True(t, got[0].Total.Equal(decimal.NewFromFloat(0.25)))
	assert.Equal(t, "USDT", got[1].Currency)
	assert.True(t, got[1].Free.Equal(decimal.NewFromFloat(1000.5)))
}

func TestPostgresRepository_SaveBalanceSnapshot_EmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}
	require.NoError(t, repo.SaveBalanceSnapshot(ctx, nil, time.Now()))
}
