package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the tables the engine persists to. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`create table if not exists trades (
			id text primary key,
			pair text not null,
			side text not null,
			size double precision not null,
			entry_price double precision not null,
			exit_price double precision null,
			stop_loss double precision not null default 0,
			take_profit double precision not null default 0,
			entry_time timestamptz not null,
			exit_time timestamptz null,
			pnl double precision not null default 0,
			pnl_pct double precision not null default 0,
			fees double precision not null default 0,
			exit_reason text not null default '',
			confidence double precision not null default 0,
			status text not null
		);`,
		`create index if not exists trades_exit_time_idx on trades(exit_time desc);`,
		`create index if not exists trades_pair_entry_time_idx on trades(pair, entry_time desc);`,
		`create table if not exists backtests (
			id text primary key,
			pair text not null,
			start_date timestamptz not null,
			end_date timestamptz not null,
			candles int not null,
			initial_balance double precision not null,
			final_balance double precision not null,
			total_trades int not null,
			win_rate double precision not null,
			max_drawdown double precision not null,
			result jsonb not null,
			created_at timestamptz not null default now()
		);`,
		`create index if not exists backtests_created_at_idx on backtests(created_at desc);`,
		`create table if not exists advanced_orders (
			id text primary key,
			kind text not null,
			pair text not null,
			status text not null,
			payload jsonb not null,
			created_at timestamptz not null,
			updated_at timestamptz not null default now()
		);`,
		`create index if not exists advanced_orders_status_idx on advanced_orders(status);`,
		`create table if not exists grid_strategies (
			id text primary key,
			pair text not null,
			status text not null,
			payload jsonb not null,
			created_at timestamptz not null,
			updated_at timestamptz not null default now()
		);`,
		`create table if not exists dca_strategies (
			id text primary key,
			pair text not null,
			status text not null,
			payload jsonb not null,
			created_at timestamptz not null,
			updated_at timestamptz not null default now()
		);`,
	}

	for i, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
