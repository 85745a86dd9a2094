package usecase

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
)

func testBacktestEngine() *BacktestEngine {
	return NewBacktestEngine(testStrategyConfig(), defaultLimits(), 0.006, testTargets(), nil)
}

// withTail extends the long setup with extra one-minute candles at the given closes.
func withTail(tail ...float64) []domain.Candle {
	closes := append(append([]float64(nil), longCloses...), tail...)
	volumes := append(append([]float64(nil), spikeVolume...), make([]float64, len(tail))...)
	for i := len(spikeVolume); i < len(volumes); i++ {
		volumes[i] = 1
	}
	return makeCandles(closes, volumes)
}

func TestBacktestTakesProfitAfterFees(t *testing.T) {
	res, err := testBacktestEngine().Run(context.Background(), withTail(103, 103), "BTC-USD", 100000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TotalTrades != 1 {
		t.Fatalf("trades = %+v", res.Trades)
	}
	tr := res.Trades[0]
	if tr.ID != "bt-1" || tr.Side != domain.Long || tr.ExitReason != domain.CloseTakeProfit {
		t.Fatalf("trade = %+v", tr)
	}
	wantFees := tr.Size*102*0.006 + tr.Size*103*0.006
	if !near(tr.Fees, wantFees, 1e-6) || !near(tr.PnL, tr.Size-wantFees, 1e-6) {
		t.Fatalf("fees/pnl = %v/%v, want %v/%v", tr.Fees, tr.PnL, wantFees, tr.Size-wantFees)
	}
	if !near(res.FinalBalance, 100000+tr.PnL, 1e-6) || !near(res.TotalFees, wantFees, 1e-6) {
		t.Fatalf("balance = %v fees = %v", res.FinalBalance, res.TotalFees)
	}
	if !tr.ExitTime.Equal(t0.Add(8 * time.Minute)) {
		t.Fatalf("exit time = %v, want candle time", tr.ExitTime)
	}
	// One equity point per candle from the start index.
	if n := len(res.EquityCurve); n != 10-5 {
		t.Fatalf("equity points = %d", n)
	}
}

func TestBacktestClosesLeftoversAtEnd(t *testing.T) {
	res, err := testBacktestEngine().Run(context.Background(), withTail(102.1, 102.1), "BTC-USD", 100000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TotalTrades != 1 || res.Trades[0].ExitReason != domain.CloseBacktestEnd {
		t.Fatalf("trades = %+v", res.Trades)
	}
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if !near(last.Balance, res.FinalBalance, 1e-9) {
		t.Fatalf("final equity %v != balance %v", last.Balance, res.FinalBalance)
	}
}

func TestBacktestIsDeterministic(t *testing.T) {
	candles := withTail(103, 101, 99, 100, 102.5, 101)
	e := testBacktestEngine()
	a, err := e.Run(context.Background(), candles, "BTC-USD", 100000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := e.Run(context.Background(), candles, "BTC-USD", 100000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(a.Trades, b.Trades) || !reflect.DeepEqual(a.EquityCurve, b.EquityCurve) {
		t.Fatalf("runs differ:\n%+v\n%+v", a.Trades, b.Trades)
	}
	if a.FinalBalance != b.FinalBalance || a.TotalFees != b.TotalFees || a.MaxDrawdown != b.MaxDrawdown {
		t.Fatalf("summaries differ: %+v vs %+v", a, b)
	}
}

// randomWalkCandles drifts price by up to half a percent per minute with noisy volume.
func randomWalkCandles(seed uint64, n int) []domain.Candle {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	closes := make([]float64, n)
	volumes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= 1 + (rng.Float64()-0.5)*0.01
		closes[i] = price
		volumes[i] = 0.5 + rng.Float64()*3
	}
	return makeCandles(closes, volumes)
}

func TestBacktestHoldsOnePositionPerPair(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.MinConfidence = 10
	e := NewBacktestEngine(cfg, defaultLimits(), 0.006, testTargets(), nil)

	total := 0
	for seed := uint64(0); seed < 5; seed++ {
		res, err := e.Run(context.Background(), randomWalkCandles(seed, 2000), "BTC-USD", 100000)
		if err != nil {
			t.Fatalf("seed %d: Run: %v", seed, err)
		}
		trades := slices.Clone(res.Trades)
		slices.SortFunc(trades, func(a, b domain.TradeRecord) int { return a.EntryTime.Compare(b.EntryTime) })
		for i := 1; i < len(trades); i++ {
			prev, next := trades[i-1], trades[i]
			if next.EntryTime.Before(prev.ExitTime) {
				t.Fatalf("seed %d: %s [%s..%s] overlaps %s [%s..%s]", seed,
					prev.ID, prev.EntryTime.Format(time.TimeOnly), prev.ExitTime.Format(time.TimeOnly),
					next.ID, next.EntryTime.Format(time.TimeOnly), next.ExitTime.Format(time.TimeOnly))
			}
		}
		total += len(trades)
	}
	if total < 2 {
		t.Fatalf("only %d trades across seeds", total)
	}
}

func TestBacktestStepDailyLossLimit(t *testing.T) {
	window := makeCandles(longCloses, spikeVolume)

	t.Run("enters on signal", func(t *testing.T) {
		s := testBacktestEngine().newSimulation("BTC-USD", 100000, t0)
		s.step(window)
		if len(s.positions) != 1 || s.positions[0].Side != domain.Long {
			t.Fatalf("positions = %+v", s.positions)
		}
	})

	t.Run("closes all past limit", func(t *testing.T) {
		s := testBacktestEngine().newSimulation("BTC-USD", 100000, t0)
		s.positions = []domain.Position{openLong("held", "BTC-USD", 101)}
		s.risk.UpdateDailyPnl(-2500)

		s.step(window)
		if len(s.trades) != 1 || s.trades[0].ID != "held" || s.trades[0].ExitReason != domain.CloseDailyLossLimit {
			t.Fatalf("trades = %+v", s.trades)
		}
		if len(s.positions) != 0 {
			t.Fatalf("entered past the daily loss limit: %+v", s.positions)
		}
	})
}

func TestBacktestRejectsShortHistory(t *testing.T) {
	_, err := testBacktestEngine().Run(context.Background(), makeCandles([]float64{1, 2, 3}, nil), "BTC-USD", 1000)
	if !errors.Is(err, domain.ErrDataInsufficient) {
		t.Fatalf("err = %v, want ErrDataInsufficient", err)
	}
	var ve *domain.ValidationError
	if _, err := testBacktestEngine().Run(context.Background(), withTail(), "BTC-USD", 0); !errors.As(err, &ve) {
		t.Fatalf("zero balance err = %v", err)
	}
}

type memBacktests struct {
	mu   sync.Mutex
	runs []domain.BacktestRun
}

func (m *memBacktests) SaveBacktest(_ context.Context, run domain.BacktestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memBacktests) GetBacktest(_ context.Context, id string) (*domain.BacktestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memBacktests) ListBacktests(context.Context, int) ([]domain.BacktestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BacktestRun(nil), m.runs...), nil
}

type blockingSource struct{}

func (blockingSource) GetCandles(ctx context.Context, _, _ string, _, _ time.Time) ([]domain.Candle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func flatCandles(n int) []domain.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
	}
	return makeCandles(closes, nil)
}

func testBacktestConfig() config.BacktestConfig {
	return config.BacktestConfig{
		FeeRate:        0.006,
		CandleInterval: "1m",
		BatchSize:      1000,
		FetchTimeout:   time.Minute,
		MaxExecution:   50 * time.Second,
	}
}

func TestBacktestServiceRunForRangePersists(t *testing.T) {
	ex := newFakeExchange()
	ex.candles["BTC-USD"] = flatCandles(150)
	repo := &memBacktests{}
	svc := NewBacktestService(testBacktestEngine(), ex, repo, testBacktestConfig(), nil, nil)

	run, err := svc.RunForRange(context.Background(), "BTC-USD", t0, t0.Add(3*24*time.Hour), 10000)
	if err != nil {
		t.Fatalf("RunForRange: %v", err)
	}
	if run.Candles != 150 || run.Result.TotalTrades != 0 || run.Result.FinalBalance != 10000 {
		t.Fatalf("run = %+v", run)
	}
	got, err := svc.Get(context.Background(), run.ID)
	if err != nil || got.Pair != "BTC-USD" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if _, err := svc.RunForRange(context.Background(), "BTC-USD", t0, t0, 10000); err == nil {
		t.Fatal("empty range accepted")
	}
}

func TestBacktestServiceTimeouts(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		cfg := testBacktestConfig()
		cfg.FetchTimeout = 10 * time.Millisecond
		svc := NewBacktestService(testBacktestEngine(), blockingSource{}, nil, cfg, nil, nil)

		_, err := svc.RunForRange(context.Background(), "BTC-USD", t0, t0.Add(10*24*time.Hour), 10000)
		var te *domain.BacktestTimeoutError
		if !errors.As(err, &te) || te.Phase != "fetch" || te.SuggestedDays != 3 {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("run", func(t *testing.T) {
		ex := newFakeExchange()
		ex.candles["BTC-USD"] = flatCandles(150)
		cfg := testBacktestConfig()
		cfg.MaxExecution = 0
		svc := NewBacktestService(testBacktestEngine(), ex, nil, cfg, nil, nil)

		_, err := svc.RunForRange(context.Background(), "BTC-USD", t0, t0.Add(30*24*time.Hour), 10000)
		var te *domain.BacktestTimeoutError
		if !errors.As(err, &te) || te.Phase != "run" || te.SuggestedDays != 7 {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestExecutionBudget(t *testing.T) {
	tests := []struct {
		candles int
		want    time.Duration
	}{
		{100, 20 * time.Second},
		{5000, 35 * time.Second},
		{100000, 50 * time.Second},
	}
	for _, tt := range tests {
		if got := executionBudget(tt.candles, 50*time.Second); got != tt.want {
			t.Errorf("executionBudget(%d) = %v, want %v", tt.candles, got, tt.want)
		}
	}
}
