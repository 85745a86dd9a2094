package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

// CreateOrderRequest describes a new advanced order. Only the price fields of
// the chosen type are read.
type CreateOrderRequest struct {
	Type            domain.OrderType `json:"type" validate:"required,oneof=trailing_stop oco bracket stop_limit iceberg"`
	Pair            string           `json:"pair" validate:"required"`
	Side            domain.OrderSide `json:"side" validate:"required,oneof=BUY SELL"`
	Size            float64          `json:"size" validate:"gt=0"`
	TrailingPercent float64          `json:"trailingPercent,omitempty" validate:"gte=0,lt=100"`
	StopLoss        float64          `json:"stopLoss,omitempty" validate:"gte=0"`
	TakeProfit      float64          `json:"takeProfit,omitempty" validate:"gte=0"`
	EntryPrice      float64          `json:"entryPrice,omitempty" validate:"gte=0"`
	StopPrice       float64          `json:"stopPrice,omitempty" validate:"gte=0"`
	LimitPrice      float64          `json:"limitPrice,omitempty" validate:"gte=0"`
	VisibleSize     float64          `json:"visibleSize,omitempty" validate:"gte=0"`
	ExpiresAt       *time.Time       `json:"expiresAt,omitempty"`
}

// OrderFilter narrows List; empty fields match everything.
type OrderFilter struct {
	Pair   string
	Status domain.OrderStatus
	Type   domain.OrderType
}

func (f OrderFilter) match(b *domain.OrderBase) bool {
	return (f.Pair == "" || f.Pair == b.Pair) &&
		(f.Status == "" || f.Status == b.Status) &&
		(f.Type == "" || f.Type == b.Type)
}

// OrderManager monitors advanced orders against live prices and submits one
// market order per trigger.
type OrderManager struct {
	deps ManagerDeps
	monitorState

	mu     sync.Mutex
	orders map[string]domain.AdvancedOrder
	seq    []string
}

func NewOrderManager(deps ManagerDeps) *OrderManager {
	return &OrderManager{
		deps:   deps.normalize("orders"),
		orders: make(map[string]domain.AdvancedOrder),
	}
}

// Create validates the request and starts monitoring the order.
func (m *OrderManager) Create(ctx context.Context, req CreateOrderRequest) (domain.OrderRecord, error) {
	now := m.deps.Clock()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return domain.OrderRecord{}, domain.NewValidationError("expires_at", "must be in the future")
	}
	base := domain.OrderBase{
		ID:        newID(),
		Type:      req.Type,
		Pair:      req.Pair,
		Side:      req.Side,
		Size:      req.Size,
		Status:    domain.OrderPending,
		CreatedAt: now,
		ExpiresAt: req.ExpiresAt,
	}

	var (
		order domain.AdvancedOrder
		err   error
	)
	switch req.Type {
	case domain.OrderTrailingStop:
		var price float64
		price, err = m.currentPrice(ctx, req.Pair)
		if err != nil {
			return domain.OrderRecord{}, err
		}
		order, err = domain.NewTrailingStopOrder(base, req.TrailingPercent, price)
	case domain.OrderOCO:
		order, err = domain.NewOCOOrder(base, req.StopLoss, req.TakeProfit)
	case domain.OrderBracket:
		order, err = domain.NewBracketOrder(base, req.EntryPrice, req.StopLoss, req.TakeProfit)
	case domain.OrderStopLimit:
		order, err = domain.NewStopLimitOrder(base, req.StopPrice, req.LimitPrice)
	case domain.OrderIceberg:
		order, err = domain.NewIcebergOrder(base, req.VisibleSize, req.LimitPrice)
	default:
		err = domain.NewValidationError("type", "unknown order type %q", req.Type)
	}
	if err != nil {
		return domain.OrderRecord{}, err
	}
	if err := order.Base().Activate(); err != nil {
		return domain.OrderRecord{}, err
	}

	m.mu.Lock()
	m.orders[base.ID] = order
	m.seq = append(m.seq, base.ID)
	rec := order.Record()
	m.mu.Unlock()

	m.persist(ctx, rec)
	m.deps.Log.Info("order created",
		logger.OrderID(rec.ID), logger.Pair(rec.Pair), logger.Side(rec.Side),
		zap.String("type", string(rec.Type)), zap.Float64("size", rec.Size))
	return rec, nil
}

func (m *OrderManager) currentPrice(ctx context.Context, pair string) (float64, error) {
	md, err := m.deps.prices(ctx, []string{pair})
	if err != nil {
		return 0, err
	}
	price, ok := priceOf(md, pair)
	if !ok {
		return 0, domain.NewValidationError("pair", "no market price for %s", pair)
	}
	return price, nil
}

// List returns matching orders in creation order.
func (m *OrderManager) List(f OrderFilter) []domain.OrderRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderRecord, 0, len(m.seq))
	for _, id := range m.seq {
		o := m.orders[id]
		if f.match(o.Base()) {
			out = append(out, o.Record())
		}
	}
	return out
}

// Get returns one order.
func (m *OrderManager) Get(id string) (domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.OrderRecord{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o.Record(), nil
}

// Cancel stops monitoring an order that is not yet terminal.
func (m *OrderManager) Cancel(ctx context.Context, id string) (domain.OrderRecord, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return domain.OrderRecord{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err := o.Base().Cancel(); err != nil {
		m.mu.Unlock()
		return domain.OrderRecord{}, err
	}
	rec := o.Record()
	m.mu.Unlock()

	m.persist(ctx, rec)
	m.deps.Log.Info("order cancelled", logger.OrderID(id), logger.Pair(rec.Pair))
	return rec, nil
}

// Restore reloads working orders from the store. Pending orders are activated.
func (m *OrderManager) Restore(ctx context.Context) (int, error) {
	if m.deps.Store == nil {
		return 0, nil
	}
	recs, err := m.deps.Store.LoadOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load orders: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range recs {
		if rec.Status != domain.OrderPending && !rec.Status.Working() {
			continue
		}
		if _, dup := m.orders[rec.ID]; dup {
			continue
		}
		o, err := domain.OrderFromRecord(rec)
		if err != nil {
			m.deps.Log.Warn("skip stored order", logger.OrderID(rec.ID), zap.Error(err))
			continue
		}
		if o.Base().Status == domain.OrderPending {
			_ = o.Base().Activate()
		}
		m.orders[rec.ID] = o
		m.seq = append(m.seq, rec.ID)
		n++
	}
	m.deps.Log.Info("orders restored", zap.Int("count", n))
	return n, nil
}

// Run evaluates working orders every interval until ctx is done.
func (m *OrderManager) Run(ctx context.Context) error {
	return runMonitor(ctx, "orders", m.deps, &m.monitorState, m.Tick)
}

// Tick evaluates every working order once.
func (m *OrderManager) Tick(ctx context.Context) error {
	m.mu.Lock()
	var working []domain.OrderBase
	for _, id := range m.seq {
		if b := m.orders[id].Base(); b.Status.Working() {
			working = append(working, *b)
		}
	}
	m.mu.Unlock()
	if len(working) == 0 {
		return nil
	}

	md, err := m.deps.prices(ctx, uniquePairs(working, func(b domain.OrderBase) string { return b.Pair }))
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range working {
		price, ok := priceOf(md, b.Pair)
		if !ok {
			continue
		}
		if err := m.evaluate(ctx, b.ID, price); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *OrderManager) evaluate(ctx context.Context, id string, price float64) error {
	now := m.deps.Clock()

	m.mu.Lock()
	o := m.orders[id]
	b := o.Base()
	if !b.Status.Working() {
		m.mu.Unlock()
		return nil
	}
	if b.Expired(now) {
		_ = b.Expire()
		rec := o.Record()
		m.mu.Unlock()
		m.deps.Metrics.OrderTriggered(rec.Type, OutcomeExpired)
		m.persist(ctx, rec)
		m.deps.Log.Info("order expired", logger.OrderID(id), logger.Pair(rec.Pair))
		return nil
	}
	before := o.Record().Params
	trig := o.Evaluate(price)
	rec := o.Record()
	m.mu.Unlock()

	if !trig.Fire {
		if !bytes.Equal(before, rec.Params) || rec.Status != b.Status {
			m.persist(ctx, rec)
		}
		return nil
	}

	res, err := m.deps.submit(ctx, domain.OrderRequest{Pair: rec.Pair, Side: trig.Side, Size: trig.Size})

	m.mu.Lock()
	if !b.Status.Working() {
		// Cancelled while the market order was in flight.
		m.mu.Unlock()
		m.deps.Log.Warn("order left working state during submission",
			logger.OrderID(id), zap.String("status", string(b.Status)), zap.Bool("submitted", err == nil))
		return nil
	}
	if err != nil {
		_ = b.Reject(err.Error())
	} else {
		o.Apply(trig, now, res.OrderID)
	}
	rec = o.Record()
	m.mu.Unlock()

	m.persist(ctx, rec)
	if err != nil {
		m.deps.Metrics.OrderTriggered(rec.Type, OutcomeRejected)
		m.deps.Alerts.OrderRejected(ctx, rec)
		m.deps.Log.Error("order rejected",
			logger.OrderID(id), logger.Pair(rec.Pair), logger.Side(trig.Side), zap.String("trigger", trig.Label), zap.Error(err))
		return nil
	}

	outcome := OutcomeFilled
	if rec.Status != domain.OrderFilled {
		outcome = OutcomePartial
	}
	m.deps.Metrics.OrderTriggered(rec.Type, outcome)
	m.deps.Log.Info("order triggered",
		logger.OrderID(id), logger.Pair(rec.Pair), logger.Side(trig.Side), logger.Price(price),
		zap.String("trigger", trig.Label), zap.Float64("size", trig.Size), zap.String("status", string(rec.Status)))
	return nil
}

func (m *OrderManager) persist(ctx context.Context, rec domain.OrderRecord) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SaveOrder(ctx, rec); err != nil {
		m.deps.Log.Error("persist order", logger.OrderID(rec.ID), zap.Error(err))
	}
}
