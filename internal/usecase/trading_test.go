package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"scalper-backend/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeExchange fills every market order at the configured price.
type fakeExchange struct {
	mu        sync.Mutex
	prices    map[string]float64
	candles   map[string][]domain.Candle
	balance   float64
	orders    []domain.OrderRequest
	cancelled []string
	marketErr error
	orderErr  error
	seq       int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices:  map[string]float64{},
		candles: map[string][]domain.Candle{},
		balance: 100000,
	}
}

func (f *fakeExchange) setPrice(pair string, p float64) {
	f.mu.Lock()
	f.prices[pair] = p
	f.mu.Unlock()
}

func (f *fakeExchange) setMarketErr(err error) {
	f.mu.Lock()
	f.marketErr = err
	f.mu.Unlock()
}

func (f *fakeExchange) placed() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderRequest(nil), f.orders...)
}

func (f *fakeExchange) GetMarketData(_ context.Context, pairs []string) (map[string]domain.MarketData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	out := make(map[string]domain.MarketData, len(pairs))
	for _, p := range pairs {
		if price, ok := f.prices[p]; ok {
			out[p] = domain.MarketData{Pair: p, Price: price}
		}
	}
	return out, nil
}

func (f *fakeExchange) GetCandles(_ context.Context, pair, _ string, _, _ time.Time) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Candle(nil), f.candles[pair]...), nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return domain.OrderResult{}, f.orderErr
	}
	price := f.prices[req.Pair]
	size := req.Size
	if req.QuoteSize > 0 && price > 0 {
		size = req.QuoteSize / price
	}
	f.seq++
	f.orders = append(f.orders, req)
	return domain.OrderResult{OrderID: fmt.Sprintf("x-%d", f.seq), Status: "FILLED", FillPrice: price, FillSize: size}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func (f *fakeExchange) GetAccountBalance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

type memTrades struct {
	mu   sync.Mutex
	rows map[string]domain.TradeRecord
}

func (m *memTrades) SaveTrade(_ context.Context, t domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]domain.TradeRecord{}
	}
	m.rows[t.ID] = t
	return nil
}

func (m *memTrades) ListTrades(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TradeRecord, 0, len(m.rows))
	for _, t := range m.rows {
		out = append(out, t)
	}
	return out, nil
}

func (m *memTrades) get(id string) (domain.TradeRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	return t, ok
}

func testSettings(pairs ...string) EngineSettings {
	return EngineSettings{
		Pairs:           pairs,
		LoopInterval:    time.Millisecond,
		CandleInterval:  "1m",
		CandleHistory:   200,
		CandleRefetch:   100,
		ExchangeTimeout: time.Second,
		InitialBalance:  100000,
	}
}

type engineFixture struct {
	engine *TradingEngine
	ex     *fakeExchange
	clock  *fakeClock
	trades *memTrades
	risk   *RiskManager
}

func newEngineFixture(t *testing.T, limits RiskLimits, pairs ...string) *engineFixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	ex := newFakeExchange()
	trades := &memTrades{}
	risk := NewRiskManager(limits, nil, WithRiskClock(clock.Now))
	e := NewTradingEngine(testSettings(pairs...), NewSignalGenerator(testStrategyConfig(), nil), risk, EngineDeps{
		Exchange: ex,
		Trades:   trades,
		Clock:    clock.Now,
	})
	return &engineFixture{engine: e, ex: ex, clock: clock, trades: trades, risk: risk}
}

func (f *engineFixture) addPosition(p domain.Position) {
	f.engine.mu.Lock()
	f.engine.positions = append(f.engine.positions, p)
	f.engine.mu.Unlock()
}

func openLong(id, pair string, entry float64) domain.Position {
	return domain.Position{
		ID: id, Pair: pair, Side: domain.Long, Size: 1,
		EntryPrice: entry, StopLoss: entry * 0.99, TakeProfit: entry * 1.02, EntryTime: t0,
	}
}

func TestEngineOpensLongOnSignal(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD")
	f.ex.candles["BTC-USD"] = makeCandles(longCloses, spikeVolume)
	f.ex.setPrice("BTC-USD", 102)
	f.clock.Set(t0.Add(8 * time.Minute))

	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	positions := f.engine.GetPositions()
	if len(positions) != 1 {
		t.Fatalf("positions = %+v", positions)
	}
	p := positions[0]
	if p.Side != domain.Long || p.Pair != "BTC-USD" || p.EntryPrice != 102 {
		t.Fatalf("position = %+v", p)
	}
	if !(p.StopLoss < 102 && p.TakeProfit > 102) {
		t.Fatalf("exit levels = %v/%v", p.StopLoss, p.TakeProfit)
	}

	orders := f.ex.placed()
	if len(orders) != 1 || orders[0].Side != domain.Buy || orders[0].Size != 0 || !near(orders[0].QuoteSize, 50000, 1e-6) {
		t.Fatalf("orders = %+v", orders)
	}
	row, ok := f.trades.get(p.ID)
	if !ok || row.Status != domain.TradeOpen {
		t.Fatalf("trade row = %+v (%v)", row, ok)
	}

	// A second tick must not stack another position on the same pair.
	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(f.engine.GetPositions()); n != 1 {
		t.Fatalf("positions after second tick = %d", n)
	}
}

func TestEngineRespectsMaxPositions(t *testing.T) {
	limits := defaultLimits()
	limits.MaxPositions = 1
	f := newEngineFixture(t, limits, "BTC-USD", "ETH-USD")
	f.ex.candles["BTC-USD"] = makeCandles(longCloses, spikeVolume)
	f.ex.setPrice("BTC-USD", 102)
	f.ex.setPrice("ETH-USD", 3000)
	f.clock.Set(t0.Add(8 * time.Minute))
	f.addPosition(openLong("eth", "ETH-USD", 3000))

	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if orders := f.ex.placed(); len(orders) != 0 {
		t.Fatalf("orders at max positions = %+v", orders)
	}
}

func TestEngineClosesOnTimeout(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD")
	f.addPosition(openLong("p1", "BTC-USD", 100))
	f.ex.setPrice("BTC-USD", 100.5)
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.clock.Set(t0.Add(9 * time.Minute))
	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(f.engine.GetPositions()); n != 1 {
		t.Fatalf("closed before timeout")
	}

	f.clock.Set(t0.Add(11 * time.Minute))
	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(f.engine.GetPositions()); n != 0 {
		t.Fatalf("positions after timeout = %d", n)
	}
	row, _ := f.trades.get("p1")
	if row.Status != domain.TradeClosed || row.ExitReason != domain.CloseTimeout || !near(row.PnL, 0.5, 1e-9) {
		t.Fatalf("trade = %+v", row)
	}
	orders := f.ex.placed()
	if len(orders) != 1 || orders[0].Side != domain.Sell || orders[0].Size != 1 {
		t.Fatalf("exit order = %+v", orders)
	}
	if !near(f.risk.DailyPnl(), 0.5, 1e-9) {
		t.Fatalf("daily pnl = %v", f.risk.DailyPnl())
	}
}

func TestEngineStopLossTakesPrecedence(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD")
	f.addPosition(openLong("p1", "BTC-USD", 100))
	f.ex.setPrice("BTC-USD", 98.5)
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Set(t0.Add(20 * time.Minute))

	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	row, _ := f.trades.get("p1")
	if row.ExitReason != domain.CloseStopLoss {
		t.Fatalf("exit reason = %q, want STOP_LOSS", row.ExitReason)
	}
}

func TestEngineDailyLossClosesAllAndPauses(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD", "ETH-USD")
	f.addPosition(openLong("btc", "BTC-USD", 100))
	f.addPosition(openLong("eth", "ETH-USD", 3000))
	f.ex.setPrice("BTC-USD", 100)
	f.ex.setPrice("ETH-USD", 3000)
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Set(t0.Add(time.Minute))
	f.risk.UpdateDailyPnl(-2000)

	if err := f.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(f.engine.GetPositions()); n != 0 {
		t.Fatalf("positions = %d, want 0", n)
	}
	if s := f.engine.Status(); s != StatusPaused {
		t.Fatalf("status = %s, want paused", s)
	}
	for _, id := range []string{"btc", "eth"} {
		if row, _ := f.trades.get(id); row.ExitReason != domain.CloseDailyLossLimit {
			t.Fatalf("%s exit reason = %q", id, row.ExitReason)
		}
	}
}

func TestEngineKillSwitch(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD", "ETH-USD")
	f.addPosition(openLong("btc", "BTC-USD", 100))
	f.addPosition(openLong("eth", "ETH-USD", 3000))
	f.ex.setPrice("BTC-USD", 101)
	f.ex.setPrice("ETH-USD", 2990)
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n := f.engine.KillSwitch(context.Background()); n != 2 {
		t.Fatalf("closed = %d, want 2", n)
	}
	if s := f.engine.Status(); s != StatusStopped {
		t.Fatalf("status = %s", s)
	}
	if row, _ := f.trades.get("eth"); row.ExitReason != domain.CloseManual || !near(row.PnL, -10, 1e-9) {
		t.Fatalf("eth trade = %+v", row)
	}
}

func TestEnginePauseResumeTransitions(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD")
	if err := f.engine.Pause(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Pause while stopped = %v", err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Start(context.Background()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double Start = %v", err)
	}
	if err := f.engine.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.engine.Resume(); err != nil || f.engine.Status() != StatusRunning {
		t.Fatalf("Resume: %v / %s", err, f.engine.Status())
	}
}

func TestEngineRunPausesAfterRepeatedFailures(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD")
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.ex.setMarketErr(errors.New("decode ticker: unexpected EOF"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	for f.engine.Status() != StatusPaused {
		if ctx.Err() != nil {
			t.Fatal("engine never paused")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestEngineRunToleratesExchangeErrors(t *testing.T) {
	f := newEngineFixture(t, defaultLimits(), "BTC-USD")
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.ex.setMarketErr(&domain.ExchangeError{Kind: domain.ExchangeRateLimit, Op: "get_market_data"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s := f.engine.Status(); s != StatusRunning {
		t.Fatalf("status = %s, want running", s)
	}
}

func TestMergeCandles(t *testing.T) {
	old := makeCandles([]float64{1, 2, 3}, nil)
	fresh := makeCandles([]float64{9, 9, 9, 4}, nil)[2:]
	fresh[0].Close = 30

	got := MergeCandles(old, fresh, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	want := []float64{2, 30, 4}
	for i, c := range got {
		if c.Close != want[i] {
			t.Fatalf("closes = %v, want %v", got, want)
		}
	}
}

func TestIntervalDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"1m":  time.Minute,
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"bad": time.Minute,
		"":    time.Minute,
	}
	for in, want := range tests {
		if got := IntervalDuration(in); got != want {
			t.Errorf("IntervalDuration(%q) = %v, want %v", in, got, want)
		}
	}
}
