package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"scalper-backend/internal/domain"
)

// InMemoryTradeRepository stores trade rows in memory. Saving an existing ID
// replaces the row, so an OPEN row becomes CLOSED on exit.
type InMemoryTradeRepository struct {
	mu     sync.RWMutex
	trades map[string]domain.TradeRecord
}

func NewInMemoryTradeRepository() *InMemoryTradeRepository {
	return &InMemoryTradeRepository{
		trades: make(map[string]domain.TradeRecord),
	}
}

func (r *InMemoryTradeRepository) SaveTrade(_ context.Context, t domain.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades[t.ID] = t
	return nil
}

// ListTrades returns trades entered at or after from, newest first. A
// non-positive limit returns every match.
func (r *InMemoryTradeRepository) ListTrades(_ context.Context, from time.Time, limit int) ([]domain.TradeRecord, error) {
	r.mu.RLock()
	out := make([]domain.TradeRecord, 0, len(r.trades))
	for _, t := range r.trades {
		if !t.EntryTime.Before(from) {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.TradeRecord) int {
		if c := b.EntryTime.Compare(a.EntryTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.TradeRepository = (*InMemoryTradeRepository)(nil)
