// Package cache keeps recent market data in front of the exchange.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

// Store holds market data snapshots keyed by pair until they expire.
type Store interface {
	GetMany(ctx context.Context, pairs []string) (map[string]domain.MarketData, error)
	SetMany(ctx context.Context, data map[string]domain.MarketData, ttl time.Duration) error
}

// MarketData is a read-through domain.MarketDataReader. Pairs missing from the
// store are fetched from the upstream reader and written back with the TTL.
type MarketData struct {
	upstream domain.MarketDataReader
	store    Store
	ttl      time.Duration
	log      *zap.Logger
}

func NewMarketData(upstream domain.MarketDataReader, store Store, ttl time.Duration, log *zap.Logger) *MarketData {
	return &MarketData{
		upstream: upstream,
		store:    store,
		ttl:      ttl,
		log:      logger.OrNop(log).Named("market_cache"),
	}
}

func (m *MarketData) GetMarketData(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	cached, err := m.store.GetMany(ctx, pairs)
	if err != nil {
		// A broken cache must not stop trading.
		m.log.Warn("market cache read failed", zap.Error(err))
		cached = nil
	}
	out := make(map[string]domain.MarketData, len(pairs))
	var missing []string
	for _, p := range pairs {
		if md, ok := cached[p]; ok {
			out[p] = md
		} else {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := m.upstream.GetMarketData(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("fetch market data: %w", err)
	}
	for p, md := range fresh {
		out[p] = md
	}
	if len(fresh) > 0 {
		if err := m.store.SetMany(ctx, fresh, m.ttl); err != nil {
			m.log.Warn("market cache write failed", zap.Error(err))
		}
	}
	return out, nil
}
