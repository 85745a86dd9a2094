package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"scalper-backend/internal/domain"
)

// PostgresStrategyStore upserts orders, grids and DCA strategies as JSONB
// payloads with their status and pair broken out for filtering.
type PostgresStrategyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStrategyStore(pool *pgxpool.Pool) *PostgresStrategyStore {
	return &PostgresStrategyStore{pool: pool, now: time.Now}
}

func (s *PostgresStrategyStore) SaveOrder(ctx context.Context, rec domain.OrderRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", rec.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into advanced_orders(id, kind, pair, status, payload, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (id) do update set
			status=excluded.status,
			payload=excluded.payload,
			updated_at=excluded.updated_at
	`, rec.ID, string(rec.Type), rec.Pair, string(rec.Status), payload, rec.CreatedAt, s.now())
	if err != nil {
		return fmt.Errorf("save order %s: %w", rec.ID, err)
	}
	return nil
}

// LoadOrders returns orders that can still act.
func (s *PostgresStrategyStore) LoadOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	return loadPayloads[domain.OrderRecord](ctx, s.pool, `
		select payload from advanced_orders
		where status in ('PENDING', 'ACTIVE', 'PARTIALLY_FILLED')
		order by created_at
	`)
}

func (s *PostgresStrategyStore) SaveGrid(ctx context.Context, g *domain.GridStrategy) error {
	return s.upsertStrategy(ctx, "grid_strategies", g.ID, g.Pair, g.Status, g.CreatedAt, g)
}

func (s *PostgresStrategyStore) LoadGrids(ctx context.Context) ([]*domain.GridStrategy, error) {
	return loadPayloads[*domain.GridStrategy](ctx, s.pool, `
		select payload from grid_strategies
		where status in ('active', 'paused')
		order by created_at
	`)
}

func (s *PostgresStrategyStore) SaveDCA(ctx context.Context, d *domain.DCAStrategy) error {
	return s.upsertStrategy(ctx, "dca_strategies", d.ID, d.Pair, d.Status, d.CreatedAt, d)
}

func (s *PostgresStrategyStore) LoadDCAs(ctx context.Context) ([]*domain.DCAStrategy, error) {
	return loadPayloads[*domain.DCAStrategy](ctx, s.pool, `
		select payload from dca_strategies
		where status in ('active', 'paused')
		order by created_at
	`)
}

// upsertStrategy writes one row; table is one of the fixed strategy tables.
func (s *PostgresStrategyStore) upsertStrategy(ctx context.Context, table, id, pair string, status domain.StrategyStatus, created time.Time, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into `+table+`(id, pair, status, payload, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (id) do update set
			status=excluded.status,
			payload=excluded.payload,
			updated_at=excluded.updated_at
	`, id, pair, string(status), payload, created, s.now())
	if err != nil {
		return fmt.Errorf("save %s %s: %w", table, id, err)
	}
	return nil
}

func loadPayloads[T any](ctx context.Context, pool *pgxpool.Pool, query string) ([]T, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load payloads: %w", err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan payload: %w", err)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ domain.StrategyStore = (*PostgresStrategyStore)(nil)
