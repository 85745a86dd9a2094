package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"scalper-backend/internal/domain"
)

// PostgresTradeRepository stores trades in Postgres.
// Open trades: status='OPEN'. Closed trades: status='CLOSED'.
type PostgresTradeRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresTradeRepository(pool *pgxpool.Pool) *PostgresTradeRepository {
	return &PostgresTradeRepository{pool: pool}
}

func (r *PostgresTradeRepository) SaveTrade(ctx context.Context, t domain.TradeRecord) error {
	_, err := r.pool.Exec(ctx, `
		insert into trades(
			id, pair, side, size, entry_price, exit_price,
			stop_loss, take_profit, entry_time, exit_time,
			pnl, pnl_pct, fees, exit_reason, confidence, status
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		on conflict (id) do update set
			size=excluded.size,
			exit_price=excluded.exit_price,
			exit_time=excluded.exit_time,
			pnl=excluded.pnl,
			pnl_pct=excluded.pnl_pct,
			fees=excluded.fees,
			exit_reason=excluded.exit_reason,
			status=excluded.status
	`,
		t.ID,
		t.Pair,
		string(t.Side),
		t.Size,
		t.EntryPrice,
		nullableFloat(t.ExitPrice),
		t.StopLoss,
		t.TakeProfit,
		t.EntryTime,
		nullableTime(t.ExitTime),
		t.PnL,
		t.PnLPct,
		t.Fees,
		string(t.ExitReason),
		t.ConfidenceScore,
		t.Status,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

func (r *PostgresTradeRepository) ListTrades(ctx context.Context, from time.Time, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		select id, pair, side, size, entry_price, exit_price,
			stop_loss, take_profit, entry_time, exit_time,
			pnl, pnl_pct, fees, exit_reason, confidence, status
		from trades
		where entry_time >= $1
		order by entry_time desc, id
		limit $2
	`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.TradeRecord, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side, reason string
	var exitPrice pgtype.Float8
	var exitTime pgtype.Timestamptz

	if err := s.Scan(
		&t.ID,
		&t.Pair,
		&side,
		&t.Size,
		&t.EntryPrice,
		&exitPrice,
		&t.StopLoss,
		&t.TakeProfit,
		&t.EntryTime,
		&exitTime,
		&t.PnL,
		&t.PnLPct,
		&t.Fees,
		&reason,
		&t.ConfidenceScore,
		&t.Status,
	); err != nil {
		return domain.TradeRecord{}, err
	}

	t.Side = domain.SignalType(side)
	t.ExitReason = domain.CloseReason(reason)
	if exitPrice.Valid {
		t.ExitPrice = exitPrice.Float64
	}
	if exitTime.Valid {
		t.ExitTime = exitTime.Time
	}
	return t, nil
}

// nullableFloat stores zero as NULL.
func nullableFloat(v float64) any {
	if v == 0 {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Valid: true, Float64: v}
}

// nullableTime stores the zero time as NULL.
func nullableTime(v time.Time) any {
	if v.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Valid: true, Time: v}
}

// compile-time check
var _ domain.TradeRepository = (*PostgresTradeRepository)(nil)
