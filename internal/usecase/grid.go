package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

type CreateGridRequest struct {
	Pair       string          `json:"pair" validate:"required"`
	LowerPrice float64         `json:"lowerPrice" validate:"gt=0"`
	UpperPrice float64         `json:"upperPrice" validate:"gtfield=LowerPrice"`
	GridCount  int             `json:"gridCount" default:"10" validate:"min=1,max=200"`
	OrderSize  float64         `json:"orderSize" validate:"gt=0"`
	Side       domain.GridMode `json:"side" default:"BOTH" validate:"oneof=BOTH LONG SHORT"`
}

// GridManager runs grid ladders. Each armed level crossed by the price submits
// one market order and arms its counter level.
type GridManager struct {
	deps ManagerDeps
	monitorState

	mu    sync.Mutex
	grids map[string]*domain.GridStrategy
	seq   []string
}

func NewGridManager(deps ManagerDeps) *GridManager {
	return &GridManager{
		deps:  deps.normalize("grid"),
		grids: make(map[string]*domain.GridStrategy),
	}
}

// Create builds the ladder and arms it around the current price.
func (m *GridManager) Create(ctx context.Context, req CreateGridRequest) (*domain.GridStrategy, error) {
	g, err := domain.NewGridStrategy(newID(), req.Pair, req.LowerPrice, req.UpperPrice, req.GridCount, req.OrderSize, req.Side, m.deps.Clock())
	if err != nil {
		return nil, err
	}
	md, err := m.deps.prices(ctx, []string{req.Pair})
	if err != nil {
		return nil, err
	}
	price, ok := priceOf(md, req.Pair)
	if !ok {
		return nil, domain.NewValidationError("pair", "no market price for %s", req.Pair)
	}
	g.ArmAround(price)

	m.mu.Lock()
	m.grids[g.ID] = g
	m.seq = append(m.seq, g.ID)
	out := g.Clone()
	m.mu.Unlock()

	m.persist(ctx, out)
	m.deps.Log.Info("grid created",
		zap.String("grid_id", g.ID), logger.Pair(g.Pair), logger.Price(price),
		zap.Float64("lower", g.LowerPrice), zap.Float64("upper", g.UpperPrice),
		zap.Int("levels", len(g.Levels)), zap.String("mode", string(g.Side)))
	return out, nil
}

// List returns grids filtered by pair and status; empty filters match all.
func (m *GridManager) List(pair string, status domain.StrategyStatus) []*domain.GridStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GridStrategy
	for _, id := range m.seq {
		g := m.grids[id]
		if (pair == "" || g.Pair == pair) && (status == "" || g.Status == status) {
			out = append(out, g.Clone())
		}
	}
	return out
}

func (m *GridManager) Get(id string) (*domain.GridStrategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grids[id]
	if !ok {
		return nil, fmt.Errorf("grid %s: %w", id, domain.ErrNotFound)
	}
	return g.Clone(), nil
}

func (m *GridManager) Pause(ctx context.Context, id string) (*domain.GridStrategy, error) {
	return m.transition(ctx, id, domain.StrategyActive, domain.StrategyPaused)
}

func (m *GridManager) Resume(ctx context.Context, id string) (*domain.GridStrategy, error) {
	return m.transition(ctx, id, domain.StrategyPaused, domain.StrategyActive)
}

func (m *GridManager) transition(ctx context.Context, id string, from, to domain.StrategyStatus) (*domain.GridStrategy, error) {
	m.mu.Lock()
	g, ok := m.grids[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("grid %s: %w", id, domain.ErrNotFound)
	}
	if g.Status != from {
		m.mu.Unlock()
		return nil, fmt.Errorf("grid %s is %s: %w", id, g.Status, domain.ErrInvalidTransition)
	}
	g.Status = to
	g.UpdatedAt = m.deps.Clock()
	out := g.Clone()
	m.mu.Unlock()

	m.persist(ctx, out)
	m.deps.Log.Info("grid status changed", zap.String("grid_id", id), zap.String("status", string(to)))
	return out, nil
}

// Stop cancels the exchange orders recorded on the levels and stops the grid.
func (m *GridManager) Stop(ctx context.Context, id string) (*domain.GridStrategy, error) {
	m.mu.Lock()
	g, ok := m.grids[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("grid %s: %w", id, domain.ErrNotFound)
	}
	if g.Status == domain.StrategyStopped || g.Status == domain.StrategyCompleted {
		m.mu.Unlock()
		return nil, fmt.Errorf("grid %s is %s: %w", id, g.Status, domain.ErrInvalidTransition)
	}
	g.Status = domain.StrategyStopped
	g.UpdatedAt = m.deps.Clock()
	var orderIDs []string
	for _, l := range g.Levels {
		if l.OrderID != "" {
			orderIDs = append(orderIDs, l.OrderID)
		}
	}
	out := g.Clone()
	m.mu.Unlock()

	cancelled := 0
	for _, oid := range orderIDs {
		var ok bool
		err := exchangeCall(ctx, m.deps.ExchangeTimeout, m.deps.Metrics, "cancel_order", func(ctx context.Context) error {
			var err error
			ok, err = m.deps.Exchange.CancelOrder(ctx, oid)
			return err
		})
		if err != nil {
			m.deps.Log.Warn("cancel grid order", zap.String("grid_id", id), logger.OrderID(oid), zap.Error(err))
			continue
		}
		if ok {
			cancelled++
		}
	}

	m.persist(ctx, out)
	m.deps.Log.Info("grid stopped", zap.String("grid_id", id), zap.Int("cancelled", cancelled), zap.Int("fills", out.TotalFills))
	return out, nil
}

// Restore reloads active and paused grids from the store.
func (m *GridManager) Restore(ctx context.Context) (int, error) {
	if m.deps.Store == nil {
		return 0, nil
	}
	grids, err := m.deps.Store.LoadGrids(ctx)
	if err != nil {
		return 0, fmt.Errorf("load grids: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range grids {
		if g.Status != domain.StrategyActive && g.Status != domain.StrategyPaused {
			continue
		}
		if _, dup := m.grids[g.ID]; dup {
			continue
		}
		m.grids[g.ID] = g
		m.seq = append(m.seq, g.ID)
		n++
	}
	m.deps.Log.Info("grids restored", zap.Int("count", n))
	return n, nil
}

// Run checks active grids every interval until ctx is done.
func (m *GridManager) Run(ctx context.Context) error {
	return runMonitor(ctx, "grid", m.deps, &m.monitorState, m.Tick)
}

// Tick fills every armed level crossed by the current price.
func (m *GridManager) Tick(ctx context.Context) error {
	type target struct {
		id, pair string
	}
	m.mu.Lock()
	var active []target
	for _, id := range m.seq {
		if g := m.grids[id]; g.Status == domain.StrategyActive {
			active = append(active, target{id, g.Pair})
		}
	}
	m.mu.Unlock()
	if len(active) == 0 {
		return nil
	}

	md, err := m.deps.prices(ctx, uniquePairs(active, func(t target) string { return t.pair }))
	if err != nil {
		return err
	}
	var errs []error
	for _, t := range active {
		price, ok := priceOf(md, t.pair)
		if !ok {
			continue
		}
		if err := m.process(ctx, t.id, price); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *GridManager) process(ctx context.Context, id string, price float64) error {
	m.mu.Lock()
	g := m.grids[id]
	crossed := g.Crossed(price)
	levels := make([]domain.GridLevel, len(crossed))
	for i, pos := range crossed {
		levels[i] = g.Levels[pos]
	}
	pair, size := g.Pair, g.OrderSize
	m.mu.Unlock()

	var errs []error
	for i, pos := range crossed {
		level := levels[i]
		res, err := m.deps.submit(ctx, domain.OrderRequest{Pair: pair, Side: level.Side, Size: size})
		if err != nil {
			m.deps.Log.Error("grid order failed",
				zap.String("grid_id", id), logger.Pair(pair), logger.Side(level.Side), logger.Price(level.Price), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		fill := price
		if res.FillPrice > 0 {
			fill = res.FillPrice
		}

		m.mu.Lock()
		if g.Status != domain.StrategyActive && g.Status != domain.StrategyPaused {
			m.mu.Unlock()
			m.deps.Log.Warn("grid stopped during submission", zap.String("grid_id", id), logger.OrderID(res.OrderID))
			return errors.Join(errs...)
		}
		counter, err := g.MarkFilled(pos, fill, m.deps.Clock(), res.OrderID)
		var counterLevel *domain.GridLevel
		if counter != nil {
			c := *counter
			counterLevel = &c
		}
		out := g.Clone()
		m.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}

		m.deps.Metrics.GridFill(pair, level.Side)
		fields := []zap.Field{
			zap.String("grid_id", id), logger.Pair(pair), logger.Side(level.Side),
			logger.Price(fill), zap.Int("level", level.Index), logger.OrderID(res.OrderID),
		}
		if counterLevel != nil {
			fields = append(fields, zap.Int("counter_level", counterLevel.Index), zap.Float64("counter_price", counterLevel.Price))
		}
		m.deps.Log.Info("grid level filled", fields...)
		m.persist(ctx, out)
	}
	return errors.Join(errs...)
}

func (m *GridManager) persist(ctx context.Context, g *domain.GridStrategy) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SaveGrid(ctx, g); err != nil {
		m.deps.Log.Error("persist grid", zap.String("grid_id", g.ID), zap.Error(err))
	}
}
