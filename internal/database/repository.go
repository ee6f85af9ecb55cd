// Package database implements the trade-history persistence side of
// TransactionJournal: mirroring terminal TradeAttempts to Postgres for
// durable, queryable history alongside the per-day JSONL files.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbiter/internal/model"
)

// Repository is the standard interface for trade-history and
// balance-history persistence.
type Repository interface {
	SaveTradeAttempt(ctx context.Context, attempt model.TradeAttempt) error
	SaveBalanceSnapshot(ctx context.Context, balances []model.Balance, recordedAt time.Time) error
	Migrate(ctx context.Context) error
}

// PostgresRepository is the concrete Repository backed by a pgx pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository builds a PostgresRepository over an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTradeAttemptsTable = `
CREATE TABLE IF NOT EXISTS trade_attempts (
	id TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	kind VARCHAR(20) NOT NULL,
	status VARCHAR(20) NOT NULL,
	realized_profit NUMERIC(30, 10) NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ NOT NULL,
	execution_ms BIGINT NOT NULL
);`

const createBalanceSnapshotsTable = `
CREATE TABLE IF NOT EXISTS balance_snapshots (
	id BIGSERIAL PRIMARY KEY,
	venue VARCHAR(20) NOT NULL,
	currency VARCHAR(20) NOT NULL,
	free NUMERIC(30, 10) NOT NULL,
	used NUMERIC(30, 10) NOT NULL,
	total NUMERIC(30, 10) NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);`

const createBalanceSnapshotsIndex = `
CREATE INDEX IF NOT EXISTS idx_balance_snapshots_venue_currency_recorded_at
	ON balance_snapshots (venue, currency, recorded_at DESC);`

// Migrate creates the trade_attempts and balance_snapshots tables if
// they do not already exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTradeAttemptsTable); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createBalanceSnapshotsTable); err != nil {
		return err
	}
	_, err := r.Pool.Exec(ctx, createBalanceSnapshotsIndex)
	return err
}

// SaveTradeAttempt mirrors a terminal TradeAttempt. Only terminal
// attempts are persisted here — the journal's jsonl file is the
// authoritative record of every intermediate transition; Postgres is
// queried by operators/dashboards for completed history, not replay.
func (r *PostgresRepository) SaveTradeAttempt(ctx context.Context, attempt model.TradeAttempt) error {
	const stmt = `
	INSERT INTO trade_attempts (id, opportunity_id, kind, status, realized_profit, error, started_at, ended_at, execution_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		realized_profit = EXCLUDED.realized_profit,
		error = EXCLUDED.error,
		ended_at = EXCLUDED.ended_at,
		execution_ms = EXCLUDED.execution_ms;`

	_, err := r.Pool.Exec(ctx, stmt,
		attempt.ID, attempt.OpportunityID, string(attempt.Kind), string(attempt.Status),
		attempt.RealizedProfit, attempt.Error, attempt.StartedAt, attempt.EndedAt, attempt.ExecutionMs,
	)
	return err
}

// SaveBalanceSnapshot records one row per (venue, currency) balance as
// of recordedAt, batched into a single round trip.
func (r *PostgresRepository) SaveBalanceSnapshot(ctx context.Context, balances []model.Balance, recordedAt time.Time) error {
	if len(balances) == 0 {
		return nil
	}

	const stmt = `
	INSERT INTO balance_snapshots (venue, currency, free, used, total, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6);`

	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(stmt, b.Venue, b.Currency, b.Free, b.Used, b.Total, recordedAt)
	}

	br := r.Pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range balances {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert balance snapshot item %d: %w", i, err)
		}
	}
	return nil
}
