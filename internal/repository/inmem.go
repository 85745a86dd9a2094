package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"scalper-backend/internal/domain"
)

// InMemoryBacktestRepository keeps backtest runs for the life of the process.
type InMemoryBacktestRepository struct {
	mu   sync.RWMutex
	runs []domain.BacktestRun
}

func NewInMemoryBacktestRepository() *InMemoryBacktestRepository {
	return &InMemoryBacktestRepository{}
}

func (r *InMemoryBacktestRepository) SaveBacktest(_ context.Context, run domain.BacktestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *InMemoryBacktestRepository) GetBacktest(_ context.Context, id string) (*domain.BacktestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.runs {
		if r.runs[i].ID == id {
			run := r.runs[i]
			return &run, nil
		}
	}
	return nil, fmt.Errorf("backtest %s: %w", id, domain.ErrNotFound)
}

// ListBacktests returns the newest runs first.
func (r *InMemoryBacktestRepository) ListBacktests(_ context.Context, limit int) ([]domain.BacktestRun, error) {
	r.mu.RLock()
	out := slices.Clone(r.runs)
	r.mu.RUnlock()

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []domain.BacktestRun{}
	}
	return out, nil
}

// InMemoryStrategyStore keeps copies of orders, grids and DCA strategies.
type InMemoryStrategyStore struct {
	mu     sync.RWMutex
	orders map[string]domain.OrderRecord
	grids  map[string]*domain.GridStrategy
	dcas   map[string]*domain.DCAStrategy
	seq    []string
}

func NewInMemoryStrategyStore() *InMemoryStrategyStore {
	return &InMemoryStrategyStore{
		orders: make(map[string]domain.OrderRecord),
		grids:  make(map[string]*domain.GridStrategy),
		dcas:   make(map[string]*domain.DCAStrategy),
	}
}

func (s *InMemoryStrategyStore) SaveOrder(_ context.Context, rec domain.OrderRecord) error {
	rec.Params = slices.Clone(rec.Params)
	rec.ExchangeOrderIDs = slices.Clone(rec.ExchangeOrderIDs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[rec.ID]; !ok {
		s.seq = append(s.seq, rec.ID)
	}
	s.orders[rec.ID] = rec
	return nil
}

func (s *InMemoryStrategyStore) LoadOrders(context.Context) ([]domain.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OrderRecord, 0, len(s.orders))
	for _, id := range s.seq {
		if rec, ok := s.orders[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStrategyStore) SaveGrid(_ context.Context, g *domain.GridStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grids[g.ID]; !ok {
		s.seq = append(s.seq, g.ID)
	}
	s.grids[g.ID] = g.Clone()
	return nil
}

func (s *InMemoryStrategyStore) LoadGrids(context.Context) ([]*domain.GridStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.GridStrategy, 0, len(s.grids))
	for _, id := range s.seq {
		if g, ok := s.grids[id]; ok {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStrategyStore) SaveDCA(_ context.Context, d *domain.DCAStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dcas[d.ID]; !ok {
		s.seq = append(s.seq, d.ID)
	}
	s.dcas[d.ID] = d.Clone()
	return nil
}

func (s *InMemoryStrategyStore) LoadDCAs(context.Context) ([]*domain.DCAStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.DCAStrategy, 0, len(s.dcas))
	for _, id := range s.seq {
		if d, ok := s.dcas[id]; ok {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

var (
	_ domain.BacktestRepository = (*InMemoryBacktestRepository)(nil)
	_ domain.StrategyStore      = (*InMemoryStrategyStore)(nil)
)
