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

type CreateDCARequest struct {
	Pair        string             `json:"pair" validate:"required"`
	Side        domain.OrderSide   `json:"side" default:"BUY" validate:"oneof=BUY SELL"`
	Amount      float64            `json:"amount" validate:"gt=0"`
	Interval    domain.DCAInterval `json:"interval" default:"hourly" validate:"oneof=hourly daily weekly"`
	TotalAmount *float64           `json:"totalAmount,omitempty" validate:"omitempty,gt=0"`
	StartPrice  *float64           `json:"startPrice,omitempty" validate:"omitempty,gt=0"`
	EndPrice    *float64           `json:"endPrice,omitempty" validate:"omitempty,gt=0"`
}

// DCAManager executes fixed-amount orders on a schedule.
type DCAManager struct {
	deps ManagerDeps
	monitorState

	mu         sync.Mutex
	strategies map[string]*domain.DCAStrategy
	seq        []string
}

func NewDCAManager(deps ManagerDeps) *DCAManager {
	return &DCAManager{
		deps:       deps.normalize("dca"),
		strategies: make(map[string]*domain.DCAStrategy),
	}
}

func (m *DCAManager) Create(ctx context.Context, req CreateDCARequest) (*domain.DCAStrategy, error) {
	d, err := domain.NewDCAStrategy(newID(), req.Pair, req.Side, req.Amount, req.Interval,
		req.TotalAmount, req.StartPrice, req.EndPrice, m.deps.Clock())
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.strategies[d.ID] = d
	m.seq = append(m.seq, d.ID)
	out := d.Clone()
	m.mu.Unlock()

	m.persist(ctx, out)
	m.deps.Log.Info("dca created",
		zap.String("dca_id", d.ID), logger.Pair(d.Pair), logger.Side(d.Side),
		zap.Float64("amount", d.Amount), zap.String("interval", string(d.Interval)),
		zap.Time("next_execution", d.NextExecution))
	return out, nil
}

// List returns strategies filtered by pair and status; empty filters match all.
func (m *DCAManager) List(pair string, status domain.StrategyStatus) []*domain.DCAStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DCAStrategy
	for _, id := range m.seq {
		d := m.strategies[id]
		if (pair == "" || d.Pair == pair) && (status == "" || d.Status == status) {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (m *DCAManager) Get(id string) (*domain.DCAStrategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.strategies[id]
	if !ok {
		return nil, fmt.Errorf("dca %s: %w", id, domain.ErrNotFound)
	}
	return d.Clone(), nil
}

func (m *DCAManager) Pause(ctx context.Context, id string) (*domain.DCAStrategy, error) {
	return m.transition(ctx, id, []domain.StrategyStatus{domain.StrategyActive}, domain.StrategyPaused, "")
}

func (m *DCAManager) Resume(ctx context.Context, id string) (*domain.DCAStrategy, error) {
	return m.transition(ctx, id, []domain.StrategyStatus{domain.StrategyPaused}, domain.StrategyActive, "")
}

func (m *DCAManager) Stop(ctx context.Context, id string) (*domain.DCAStrategy, error) {
	return m.transition(ctx, id, []domain.StrategyStatus{domain.StrategyActive, domain.StrategyPaused}, domain.StrategyStopped, "manual")
}

func (m *DCAManager) transition(ctx context.Context, id string, from []domain.StrategyStatus, to domain.StrategyStatus, reason string) (*domain.DCAStrategy, error) {
	m.mu.Lock()
	d, ok := m.strategies[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("dca %s: %w", id, domain.ErrNotFound)
	}
	allowed := false
	for _, s := range from {
		allowed = allowed || d.Status == s
	}
	if !allowed {
		m.mu.Unlock()
		return nil, fmt.Errorf("dca %s is %s: %w", id, d.Status, domain.ErrInvalidTransition)
	}
	d.Status = to
	if reason != "" {
		d.StopReason = reason
	}
	out := d.Clone()
	m.mu.Unlock()

	m.persist(ctx, out)
	m.deps.Log.Info("dca status changed", zap.String("dca_id", id), zap.String("status", string(to)))
	return out, nil
}

// Restore reloads active and paused strategies from the store.
func (m *DCAManager) Restore(ctx context.Context) (int, error) {
	if m.deps.Store == nil {
		return 0, nil
	}
	list, err := m.deps.Store.LoadDCAs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load dca strategies: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range list {
		if d.Status != domain.StrategyActive && d.Status != domain.StrategyPaused {
			continue
		}
		if _, dup := m.strategies[d.ID]; dup {
			continue
		}
		m.strategies[d.ID] = d
		m.seq = append(m.seq, d.ID)
		n++
	}
	m.deps.Log.Info("dca strategies restored", zap.Int("count", n))
	return n, nil
}

// Run executes due strategies every interval until ctx is done.
func (m *DCAManager) Run(ctx context.Context) error {
	return runMonitor(ctx, "dca", m.deps, &m.monitorState, m.Tick)
}

// Tick executes every due strategy once.
func (m *DCAManager) Tick(ctx context.Context) error {
	now := m.deps.Clock()
	m.mu.Lock()
	var due []*domain.DCAStrategy
	var completed []*domain.DCAStrategy
	for _, id := range m.seq {
		d := m.strategies[id]
		before := d.Status
		if d.ShouldExecute(now) {
			due = append(due, d.Clone())
		} else if d.Status != before {
			completed = append(completed, d.Clone())
		}
	}
	m.mu.Unlock()

	for _, d := range completed {
		m.persist(ctx, d)
		m.deps.Log.Info("dca completed", zap.String("dca_id", d.ID), zap.Float64("invested", d.TotalInvested))
	}
	if len(due) == 0 {
		return nil
	}

	md, err := m.deps.prices(ctx, uniquePairs(due, func(d *domain.DCAStrategy) string { return d.Pair }))
	if err != nil {
		return err
	}
	var errs []error
	for _, d := range due {
		price, ok := priceOf(md, d.Pair)
		if !ok {
			continue
		}
		if err := m.execute(ctx, d.ID, price); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *DCAManager) execute(ctx context.Context, id string, price float64) error {
	m.mu.Lock()
	d := m.strategies[id]
	if d.Status != domain.StrategyActive {
		m.mu.Unlock()
		return nil
	}
	if d.EndPriceCrossed(price) {
		d.Status = domain.StrategyStopped
		d.StopReason = fmt.Sprintf("price %.8f crossed end price %.8f", price, *d.EndPrice)
		out := d.Clone()
		m.mu.Unlock()
		m.persist(ctx, out)
		m.deps.Log.Info("dca stopped at end price", zap.String("dca_id", id), logger.Pair(out.Pair), logger.Price(price))
		return nil
	}
	pair, side, amount := d.Pair, d.Side, d.Amount
	m.mu.Unlock()

	size := amount / price
	req := domain.OrderRequest{Pair: pair, Side: side, Size: size}
	if side == domain.Buy {
		req.QuoteSize = amount
	}
	res, err := m.deps.submit(ctx, req)
	if err != nil {
		m.deps.Log.Error("dca order failed", zap.String("dca_id", id), logger.Pair(pair), logger.Side(side), zap.Error(err))
		return err
	}
	fill := price
	if res.FillPrice > 0 {
		fill = res.FillPrice
	}
	if res.FillSize > 0 {
		size = res.FillSize
	}

	m.mu.Lock()
	if d.Status != domain.StrategyActive && d.Status != domain.StrategyPaused {
		m.mu.Unlock()
		m.deps.Log.Warn("dca stopped during submission", zap.String("dca_id", id), logger.OrderID(res.OrderID))
		return nil
	}
	exec := d.RecordExecution(fill, size, res.OrderID, m.deps.Clock())
	out := d.Clone()
	m.mu.Unlock()

	m.deps.Metrics.DCAExecuted(pair, side)
	m.persist(ctx, out)
	m.deps.Log.Info("dca executed",
		zap.String("dca_id", id), logger.Pair(pair), logger.Side(side), logger.Price(exec.Price),
		zap.Float64("size", exec.Size), zap.Float64("invested", out.TotalInvested),
		zap.String("status", string(out.Status)), zap.Time("next_execution", out.NextExecution))
	return nil
}

func (m *DCAManager) persist(ctx context.Context, d *domain.DCAStrategy) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SaveDCA(ctx, d); err != nil {
		m.deps.Log.Error("persist dca", zap.String("dca_id", d.ID), zap.Error(err))
	}
}
