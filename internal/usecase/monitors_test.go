package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scalper-backend/internal/domain"
)

type memStrategyStore struct {
	mu     sync.Mutex
	orders map[string]domain.OrderRecord
	grids  map[string]*domain.GridStrategy
	dcas   map[string]*domain.DCAStrategy
}

func newMemStrategyStore() *memStrategyStore {
	return &memStrategyStore{
		orders: map[string]domain.OrderRecord{},
		grids:  map[string]*domain.GridStrategy{},
		dcas:   map[string]*domain.DCAStrategy{},
	}
}

func (s *memStrategyStore) SaveOrder(_ context.Context, rec domain.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[rec.ID] = rec
	return nil
}

func (s *memStrategyStore) LoadOrders(context.Context) ([]domain.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderRecord
	for _, r := range s.orders {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStrategyStore) SaveGrid(_ context.Context, g *domain.GridStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[g.ID] = g.Clone()
	return nil
}

func (s *memStrategyStore) LoadGrids(context.Context) ([]*domain.GridStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.GridStrategy
	for _, g := range s.grids {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (s *memStrategyStore) SaveDCA(_ context.Context, d *domain.DCAStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dcas[d.ID] = d.Clone()
	return nil
}

func (s *memStrategyStore) LoadDCAs(context.Context) ([]*domain.DCAStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DCAStrategy
	for _, d := range s.dcas {
		out = append(out, d.Clone())
	}
	return out, nil
}

type countingMetrics struct {
	nopMetrics
	mu       sync.Mutex
	triggers map[string]int
}

func (c *countingMetrics) OrderTriggered(_ domain.OrderType, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triggers == nil {
		c.triggers = map[string]int{}
	}
	c.triggers[outcome]++
}

func (c *countingMetrics) count(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggers[outcome]
}

type monitorFixture struct {
	ex      *fakeExchange
	store   *memStrategyStore
	clock   *fakeClock
	metrics *countingMetrics
	deps    ManagerDeps
}

func newMonitorFixture() *monitorFixture {
	f := &monitorFixture{
		ex:      newFakeExchange(),
		store:   newMemStrategyStore(),
		clock:   &fakeClock{now: t0},
		metrics: &countingMetrics{},
	}
	f.deps = ManagerDeps{
		Exchange:        f.ex,
		Market:          f.ex,
		Store:           f.store,
		Metrics:         f.metrics,
		Clock:           f.clock.Now,
		ExchangeTimeout: time.Second,
		Interval:        time.Millisecond,
		ErrorBackoff:    time.Millisecond,
	}
	return f
}

func TestOrderManagerOCOFiresOnce(t *testing.T) {
	f := newMonitorFixture()
	m := NewOrderManager(f.deps)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateOrderRequest{Type: domain.OrderOCO, Pair: "BTC-USD", Side: domain.Sell, Size: 1, StopLoss: 49000, TakeProfit: 51000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != domain.OrderActive {
		t.Fatalf("status = %s, want ACTIVE", rec.Status)
	}

	for _, price := range []float64{50000, 49500, 49000, 52000} {
		f.ex.setPrice("BTC-USD", price)
		if err := m.Tick(ctx); err != nil {
			t.Fatalf("Tick(%v): %v", price, err)
		}
	}

	orders := f.ex.placed()
	if len(orders) != 1 || orders[0].Side != domain.Sell || orders[0].Size != 1 {
		t.Fatalf("orders = %+v", orders)
	}
	got, err := m.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.OrderFilled || len(got.ExchangeOrderIDs) != 1 {
		t.Fatalf("order = %+v", got)
	}
	if stored := f.store.orders[rec.ID]; stored.Status != domain.OrderFilled {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if f.metrics.count(OutcomeFilled) != 1 {
		t.Fatalf("filled metric = %d", f.metrics.count(OutcomeFilled))
	}
}

func TestOrderManagerRejectsFailedSubmission(t *testing.T) {
	f := newMonitorFixture()
	notifier := &fakeNotifier{enabled: true}
	f.deps.Alerts = NewAlertService(notifier, &memDevices{tokens: []string{"device"}}, time.Minute, nil)
	m := NewOrderManager(f.deps)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateOrderRequest{Type: domain.OrderStopLimit, Pair: "ETH-USD", Side: domain.Sell, Size: 2, StopPrice: 3000, LimitPrice: 2990})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.ex.orderErr = &domain.ExchangeError{Kind: domain.ExchangeInsufficientFunds, Op: "place_order"}
	f.ex.setPrice("ETH-USD", 2995)
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := m.Get(rec.ID)
	if got.Status != domain.OrderRejected || got.RejectReason == "" {
		t.Fatalf("order = %+v", got)
	}
	if notifier.count() != 1 {
		t.Fatalf("alerts sent = %d", notifier.count())
	}
	if f.metrics.count(OutcomeRejected) != 1 {
		t.Fatalf("rejected metric = %d", f.metrics.count(OutcomeRejected))
	}
}

func TestOrderManagerExpiresOrders(t *testing.T) {
	f := newMonitorFixture()
	m := NewOrderManager(f.deps)
	ctx := context.Background()
	deadline := t0.Add(time.Minute)

	rec, err := m.Create(ctx, CreateOrderRequest{Type: domain.OrderIceberg, Pair: "BTC-USD", Side: domain.Buy, Size: 3, VisibleSize: 1, LimitPrice: 100, ExpiresAt: &deadline})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.ex.setPrice("BTC-USD", 99)
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got, _ := m.Get(rec.ID); got.Status != domain.OrderPartiallyFilled || got.FilledSize != 1 {
		t.Fatalf("after first chunk: %+v", got)
	}

	f.clock.Set(deadline)
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got, _ := m.Get(rec.ID); got.Status != domain.OrderExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
	if n := len(f.ex.placed()); n != 1 {
		t.Fatalf("orders = %d, want 1", n)
	}

	past := t0
	if _, err := m.Create(ctx, CreateOrderRequest{Type: domain.OrderOCO, Pair: "BTC-USD", Side: domain.Sell, Size: 1, StopLoss: 1, TakeProfit: 2, ExpiresAt: &past}); err == nil {
		t.Fatal("accepted an order expiring in the past")
	}
}

func TestOrderManagerCancelAndLookup(t *testing.T) {
	f := newMonitorFixture()
	m := NewOrderManager(f.deps)
	ctx := context.Background()
	f.ex.setPrice("BTC-USD", 200)

	rec, err := m.Create(ctx, CreateOrderRequest{Type: domain.OrderTrailingStop, Pair: "BTC-USD", Side: domain.Sell, Size: 1, TrailingPercent: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Cancel(ctx, rec.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := m.Cancel(ctx, rec.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second Cancel = %v", err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) = %v", err)
	}
	if got := m.List(OrderFilter{Status: domain.OrderCancelled}); len(got) != 1 {
		t.Fatalf("cancelled list = %d", len(got))
	}
	if got := m.List(OrderFilter{Pair: "ETH-USD"}); len(got) != 0 {
		t.Fatalf("ETH list = %d", len(got))
	}

	var ve *domain.ValidationError
	if _, err := m.Create(ctx, CreateOrderRequest{Type: domain.OrderOCO, Pair: "BTC-USD", Side: domain.Sell, Size: 1, StopLoss: 300, TakeProfit: 100}); !errors.As(err, &ve) {
		t.Fatalf("inverted OCO = %v", err)
	}
}

func TestOrderManagerRestoresWorkingOrders(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()
	first := NewOrderManager(f.deps)
	keep, err := first.Create(ctx, CreateOrderRequest{Type: domain.OrderOCO, Pair: "BTC-USD", Side: domain.Sell, Size: 1, StopLoss: 90, TakeProfit: 110})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drop, err := first.Create(ctx, CreateOrderRequest{Type: domain.OrderOCO, Pair: "BTC-USD", Side: domain.Sell, Size: 1, StopLoss: 90, TakeProfit: 110})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := first.Cancel(ctx, drop.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	second := NewOrderManager(f.deps)
	n, err := second.Restore(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if _, err := second.Get(keep.ID); err != nil {
		t.Fatalf("restored order missing: %v", err)
	}
}

func TestGridManagerFillsAndStops(t *testing.T) {
	f := newMonitorFixture()
	m := NewGridManager(f.deps)
	ctx := context.Background()
	f.ex.setPrice("BTC-USD", 105)

	g, err := m.Create(ctx, CreateGridRequest{Pair: "BTC-USD", LowerPrice: 100, UpperPrice: 110, GridCount: 5, OrderSize: 0.5, Side: domain.GridBoth})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.ex.setPrice("BTC-USD", 103.5)
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	orders := f.ex.placed()
	if len(orders) != 1 || orders[0].Side != domain.Buy || orders[0].Size != 0.5 {
		t.Fatalf("orders = %+v", orders)
	}
	got, _ := m.Get(g.ID)
	if got.TotalFills != 1 {
		t.Fatalf("fills = %d", got.TotalFills)
	}
	if buy := got.NextBuyLevel(103.5); buy == nil || buy.Price != 102 {
		t.Fatalf("next buy = %+v", buy)
	}

	// Same price again: the filled level never reopens.
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(f.ex.placed()); n != 1 {
		t.Fatalf("orders after repeat tick = %d", n)
	}

	if _, err := m.Pause(ctx, g.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	f.ex.setPrice("BTC-USD", 101)
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(f.ex.placed()); n != 1 {
		t.Fatalf("paused grid traded: %d orders", n)
	}

	stopped, err := m.Stop(ctx, g.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Status != domain.StrategyStopped || len(f.ex.cancelled) != 1 {
		t.Fatalf("stop = %s, cancelled %v", stopped.Status, f.ex.cancelled)
	}
	if _, err := m.Resume(ctx, g.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Resume stopped grid = %v", err)
	}
	if f.store.grids[g.ID].Status != domain.StrategyStopped {
		t.Fatalf("stored status = %s", f.store.grids[g.ID].Status)
	}
}

func TestDCAManagerExecutesUntilBudget(t *testing.T) {
	f := newMonitorFixture()
	m := NewDCAManager(f.deps)
	ctx := context.Background()
	f.ex.setPrice("BTC-USD", 50000)
	total := 250.0

	d, err := m.Create(ctx, CreateDCARequest{Pair: "BTC-USD", Side: domain.Buy, Amount: 100, Interval: domain.DCAHourly, TotalAmount: &total})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Not yet due.
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(f.ex.placed()); n != 0 {
		t.Fatalf("executed before schedule: %d", n)
	}

	for i := 1; i <= 4; i++ {
		f.clock.Set(t0.Add(time.Duration(i) * time.Hour))
		if err := m.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	orders := f.ex.placed()
	if len(orders) != 3 {
		t.Fatalf("executions = %d, want 3", len(orders))
	}
	if orders[0].QuoteSize != 100 || orders[0].Side != domain.Buy {
		t.Fatalf("order = %+v", orders[0])
	}
	got, _ := m.Get(d.ID)
	if got.Status != domain.StrategyCompleted || !near(got.TotalInvested, 300, 1e-6) {
		t.Fatalf("dca = %s invested %v", got.Status, got.TotalInvested)
	}
	if !near(got.AverageEntryPrice(), 50000, 1e-6) {
		t.Fatalf("average = %v", got.AverageEntryPrice())
	}
}

func TestDCAManagerStopsPastEndPrice(t *testing.T) {
	f := newMonitorFixture()
	m := NewDCAManager(f.deps)
	ctx := context.Background()
	end := 45000.0

	d, err := m.Create(ctx, CreateDCARequest{Pair: "BTC-USD", Side: domain.Buy, Amount: 100, Interval: domain.DCAHourly, EndPrice: &end})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.ex.setPrice("BTC-USD", 46000)
	f.clock.Set(t0.Add(time.Hour))
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ := m.Get(d.ID)
	if got.Status != domain.StrategyStopped || len(f.ex.placed()) != 0 {
		t.Fatalf("dca = %+v", got)
	}
	if _, err := m.Pause(ctx, d.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Pause stopped dca = %v", err)
	}
}

// interceptingSubmitter runs onPlace while an order is in flight.
type interceptingSubmitter struct {
	*fakeExchange
	onPlace func()
}

func (s *interceptingSubmitter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	s.onPlace()
	return s.fakeExchange.PlaceOrder(ctx, req)
}

func TestDCAManagerIgnoresFillAfterStop(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()
	var (
		m  *DCAManager
		id string
	)
	f.deps.Exchange = &interceptingSubmitter{fakeExchange: f.ex, onPlace: func() {
		if _, err := m.Stop(ctx, id); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}}
	m = NewDCAManager(f.deps)
	f.ex.setPrice("BTC-USD", 50000)
	total := 100.0

	d, err := m.Create(ctx, CreateDCARequest{Pair: "BTC-USD", Side: domain.Buy, Amount: 100, Interval: domain.DCAHourly, TotalAmount: &total})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id = d.ID
	f.clock.Set(t0.Add(time.Hour))
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if n := len(f.ex.placed()); n != 1 {
		t.Fatalf("orders = %d", n)
	}
	got, _ := m.Get(id)
	if got.Status != domain.StrategyStopped || len(got.Executions) != 0 || got.TotalInvested != 0 {
		t.Fatalf("dca = %s executions %d invested %v", got.Status, len(got.Executions), got.TotalInvested)
	}
	if stored := f.store.dcas[id]; stored.Status != domain.StrategyStopped {
		t.Fatalf("stored status = %s", stored.Status)
	}
}

// countingMarket counts price reads.
type countingMarket struct {
	domain.MarketDataReader
	calls atomic.Int64
}

func (c *countingMarket) GetMarketData(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	c.calls.Add(1)
	return c.MarketDataReader.GetMarketData(ctx, pairs)
}

func TestRunMonitorPausesAfterRepeatedFailures(t *testing.T) {
	f := newMonitorFixture()
	notifier := &fakeNotifier{enabled: true}
	f.deps.Alerts = NewAlertService(notifier, &memDevices{tokens: []string{"device"}}, time.Minute, nil)
	market := &countingMarket{MarketDataReader: f.ex}
	f.deps.Market = market
	m := NewGridManager(f.deps)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.ex.setPrice("BTC-USD", 105)
	g, err := m.Create(ctx, CreateGridRequest{Pair: "BTC-USD", LowerPrice: 100, UpperPrice: 110, GridCount: 5, OrderSize: 0.5, Side: domain.GridBoth})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.ex.setMarketErr(errors.New("connection reset"))
	before := market.calls.Load()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	for !m.MonitorPaused() {
		if ctx.Err() != nil {
			t.Fatal("monitor never paused")
		}
		time.Sleep(time.Millisecond)
	}

	failed := market.calls.Load() - before
	if failed != maxConsecutiveFatals {
		t.Fatalf("failed reads before pause = %d", failed)
	}
	time.Sleep(30 * time.Millisecond)
	if n := market.calls.Load() - before; n != failed {
		t.Fatalf("paused monitor kept polling: %d reads", n)
	}
	if notifier.count() != 1 {
		t.Fatalf("alerts sent = %d", notifier.count())
	}
	if got, _ := m.Get(g.ID); got.Status != domain.StrategyActive {
		t.Fatalf("grid status = %s", got.Status)
	}

	f.ex.setMarketErr(nil)
	if !m.ResumeMonitor() {
		t.Fatal("ResumeMonitor reported not paused")
	}
	for market.calls.Load()-before == failed {
		if ctx.Err() != nil {
			t.Fatal("monitor never resumed")
		}
		time.Sleep(time.Millisecond)
	}
	if m.MonitorPaused() {
		t.Fatal("monitor paused after healthy ticks")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunMonitorAlertsAfterRepeatedFailures(t *testing.T) {
	f := newMonitorFixture()
	notifier := &fakeNotifier{enabled: true}
	f.deps.Alerts = NewAlertService(notifier, &memDevices{tokens: []string{"device"}}, time.Minute, nil)
	m := NewOrderManager(f.deps)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.ex.setPrice("BTC-USD", 100)
	if _, err := m.Create(ctx, CreateOrderRequest{Type: domain.OrderOCO, Pair: "BTC-USD", Side: domain.Sell, Size: 1, StopLoss: 90, TakeProfit: 110}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.ex.setMarketErr(errors.New("connection reset"))

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	for notifier.count() == 0 {
		if ctx.Err() != nil {
			t.Fatal("no escalation alert")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
