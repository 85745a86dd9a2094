package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scalper-backend/internal/domain"
)

// PostgresBacktestRepository stores backtest runs. Headline metrics are
// columns; the full result with trades and equity curve is JSONB.
type PostgresBacktestRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresBacktestRepository(pool *pgxpool.Pool) *PostgresBacktestRepository {
	return &PostgresBacktestRepository{pool: pool}
}

func (r *PostgresBacktestRepository) SaveBacktest(ctx context.Context, run domain.BacktestRun) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode backtest result: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		insert into backtests(
			id, pair, start_date, end_date, candles,
			initial_balance, final_balance, total_trades, win_rate, max_drawdown,
			result, created_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		run.ID,
		run.Pair,
		run.StartDate,
		run.EndDate,
		run.Candles,
		run.Result.InitialBalance,
		run.Result.FinalBalance,
		run.Result.TotalTrades,
		run.Result.WinRate,
		run.Result.MaxDrawdown,
		result,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save backtest %s: %w", run.ID, err)
	}
	return nil
}

const backtestColumns = `id, pair, start_date, end_date, candles, result, created_at`

func (r *PostgresBacktestRepository) GetBacktest(ctx context.Context, id string) (*domain.BacktestRun, error) {
	row := r.pool.QueryRow(ctx, `select `+backtestColumns+` from backtests where id = $1`, id)
	run, err := scanBacktest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("backtest %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backtest %s: %w", id, err)
	}
	return &run, nil
}

func (r *PostgresBacktestRepository) ListBacktests(ctx context.Context, limit int) ([]domain.BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `select `+backtestColumns+` from backtests order by created_at desc limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backtests: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.BacktestRun, 0)
	for rows.Next() {
		run, err := scanBacktest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backtest: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanBacktest(s scanner) (domain.BacktestRun, error) {
	var run domain.BacktestRun
	var result []byte
	if err := s.Scan(&run.ID, &run.Pair, &run.StartDate, &run.EndDate, &run.Candles, &result, &run.CreatedAt); err != nil {
		return domain.BacktestRun{}, err
	}
	if err := json.Unmarshal(result, &run.Result); err != nil {
		return domain.BacktestRun{}, fmt.Errorf("decode result: %w", err)
	}
	return run, nil
}

var _ domain.BacktestRepository = (*PostgresBacktestRepository)(nil)
