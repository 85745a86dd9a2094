package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

const (
	// ctx is polled once per this many candles.
	backtestCtxStride = 256
	// minRangeCandles is the shortest fetched history RunForRange accepts.
	minRangeCandles = 100
	// per-candle cost used to size the execution budget
	backtestCandleCost = 4 * time.Millisecond
	backtestBaseBudget = 15 * time.Second
	backtestMinBudget  = 20 * time.Second
)

// BacktestEngine replays candles through the live strategy and risk rules.
// It has no mutable state; every Run builds its own generator, risk manager
// and tracker driven by the candle clock.
type BacktestEngine struct {
	strategy config.StrategyConfig
	limits   RiskLimits
	feeRate  float64
	targets  config.PerformanceConfig
	log      *zap.Logger
}

func NewBacktestEngine(strategy config.StrategyConfig, limits RiskLimits, feeRate float64, targets config.PerformanceConfig, log *zap.Logger) *BacktestEngine {
	return &BacktestEngine{
		strategy: strategy,
		limits:   limits,
		feeRate:  feeRate,
		targets:  targets,
		log:      logger.OrNop(log).Named("backtest"),
	}
}

// BacktestEngineFromConfig builds an engine from the strategy, risk and backtest settings.
func BacktestEngineFromConfig(c *config.Config, log *zap.Logger) *BacktestEngine {
	return NewBacktestEngine(c.Strategy, RiskLimitsFromConfig(c.Risk), c.Backtest.FeeRate, c.Performance, log)
}

type simulation struct {
	e         *BacktestEngine
	pair      string
	now       time.Time
	gen       *SignalGenerator
	risk      *RiskManager
	perf      *PerformanceTracker
	balance   float64
	positions []domain.Position
	trades    []domain.TradeRecord
	equity    []domain.EquityPoint
	fees      float64
	seq       int
}

// Run replays candles for pair starting from initialBalance. Identical inputs
// produce identical results.
func (e *BacktestEngine) Run(ctx context.Context, candles []domain.Candle, pair string, initialBalance float64) (domain.BacktestResult, error) {
	if initialBalance <= 0 {
		return domain.BacktestResult{}, domain.NewValidationError("initial_balance", "must be positive")
	}
	candles = MergeCandles(nil, candles, 0)

	start := NewSignalGenerator(e.strategy, zap.NewNop()).MinCandles()
	if len(candles) <= start {
		return domain.BacktestResult{}, fmt.Errorf("backtest needs more than %d candles, got %d: %w", start, len(candles), domain.ErrDataInsufficient)
	}
	s := e.newSimulation(pair, initialBalance, candles[start].Timestamp)

	for i := start; i < len(candles); i++ {
		if (i-start)%backtestCtxStride == 0 {
			if err := ctx.Err(); err != nil {
				return domain.BacktestResult{}, err
			}
		}
		s.step(candles[:i+1])
	}

	last := candles[len(candles)-1]
	for _, p := range slices.Clone(s.positions) {
		s.close(p, last.Close, domain.CloseBacktestEnd)
	}
	s.equity[len(s.equity)-1].Balance = s.balance

	res := s.result(initialBalance)
	e.log.Info("backtest finished",
		logger.Pair(pair), zap.Int("candles", len(candles)), zap.Int("trades", res.TotalTrades),
		zap.Float64("pnl", res.TotalPnL), zap.Float64("win_rate", res.WinRate))
	return res, nil
}

func (e *BacktestEngine) newSimulation(pair string, balance float64, start time.Time) *simulation {
	s := &simulation{e: e, pair: pair, balance: balance, now: start}
	clock := func() time.Time { return s.now }
	nop := zap.NewNop()
	s.gen = NewSignalGenerator(e.strategy, nop)
	s.risk = NewRiskManager(e.limits, nop, WithRiskClock(clock))
	s.perf = NewPerformanceTracker(e.targets, clock, nop)
	return s
}

// step replays the last candle of window in the same order as a live tick:
// exits, then the daily loss close-out, then at most one entry.
func (s *simulation) step(window []domain.Candle) {
	c := window[len(window)-1]
	s.now = c.Timestamp

	s.manage(window, c.Close)
	switch {
	case s.risk.ShouldCloseAllPositions():
		for _, p := range slices.Clone(s.positions) {
			s.close(p, c.Close, domain.CloseDailyLossLimit)
		}
	case entryAllowed(s.positions, s.pair, s.e.limits.MaxPositions):
		s.enter(window)
	}
	s.equity = append(s.equity, domain.EquityPoint{Timestamp: s.now, Balance: s.balance})
	s.perf.RecordEquity(s.balance)
}

func (s *simulation) manage(window []domain.Candle, price float64) {
	ind, haveInd := s.gen.CalculateIndicators(window)
	for _, p := range slices.Clone(s.positions) {
		var reason domain.CloseReason
		switch {
		case p.StopHit(price):
			reason = domain.CloseStopLoss
		case p.TargetHit(price):
			reason = domain.CloseTakeProfit
		}
		if reason == "" && haveInd {
			if exit, r := s.gen.ShouldExit(p, ind); exit {
				reason = r
			}
		}
		if reason == "" && s.risk.CheckPositionTimeout(p, s.now) {
			reason = domain.CloseTimeout
		}
		if reason != "" {
			s.close(p, price, reason)
		}
	}
}

func (s *simulation) enter(window []domain.Candle) {
	sig, err := s.gen.GenerateSignal(s.pair, window)
	if err != nil || sig == nil {
		return
	}
	size := s.risk.CalculatePositionSize(s.balance, sig.Price, sig.StopLoss, sig.Type)
	if size <= 0 {
		return
	}
	if s.risk.ValidateTrade(s.balance, s.positions, size, sig.Price) != nil {
		return
	}
	s.seq++
	s.positions = append(s.positions, domain.Position{
		ID:              fmt.Sprintf("bt-%d", s.seq),
		Pair:            s.pair,
		Side:            sig.Type,
		Size:            size,
		EntryPrice:      sig.Price,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.TakeProfit,
		EntryTime:       s.now,
		ConfidenceScore: sig.Confidence,
		EntryFee:        size * sig.Price * s.e.feeRate,
	})
}

func (s *simulation) close(p domain.Position, price float64, reason domain.CloseReason) {
	fees := p.EntryFee + p.Size*price*s.e.feeRate
	t := domain.NewTradeRecord(p, price, s.now, reason, fees)
	s.balance += t.PnL
	s.fees += fees
	s.risk.UpdateDailyPnl(t.PnL)
	s.perf.RecordTrade(t)
	s.trades = append(s.trades, t)
	for i := range s.positions {
		if s.positions[i].ID == p.ID {
			s.positions = append(s.positions[:i], s.positions[i+1:]...)
			break
		}
	}
}

func (s *simulation) result(initial float64) domain.BacktestResult {
	r := domain.BacktestResult{
		Pair:           s.pair,
		InitialBalance: initial,
		FinalBalance:   s.balance,
		TotalPnL:       s.balance - initial,
		TotalFees:      s.fees,
		ROIPct:         (s.balance - initial) / initial * 100,
		TotalTrades:    len(s.trades),
		MaxDrawdown:    maxDrawdown(s.equity),
		Trades:         s.trades,
		EquityCurve:    s.equity,
	}
	var grossProfit, grossLoss float64
	for _, t := range s.trades {
		switch {
		case t.PnL > 0:
			r.WinningTrades++
			grossProfit += t.PnL
		case t.PnL < 0:
			r.LosingTrades++
			grossLoss -= t.PnL
		}
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
	}
	if r.WinningTrades > 0 {
		r.AvgWin = grossProfit / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = grossLoss / float64(r.LosingTrades)
	}
	r.ProfitFactor = profitFactor(grossProfit, grossLoss)
	r.Performance = s.perf.Summary(s.balance, initial)
	r.Performance.MaxDrawdown = r.MaxDrawdown
	if r.Trades == nil {
		r.Trades = []domain.TradeRecord{}
	}
	return r
}

// BacktestService fetches history, runs the engine under a time budget and
// persists the run.
type BacktestService struct {
	engine  atomic.Pointer[BacktestEngine]
	source  domain.CandleSource
	repo    domain.BacktestRepository
	cfg     config.BacktestConfig
	metrics Metrics
	log     *zap.Logger
	clock   func() time.Time
	seq     func() string
}

func NewBacktestService(engine *BacktestEngine, source domain.CandleSource, repo domain.BacktestRepository, cfg config.BacktestConfig, m Metrics, log *zap.Logger) *BacktestService {
	s := &BacktestService{
		source:  source,
		repo:    repo,
		cfg:     cfg,
		metrics: metricsOrNop(m),
		log:     logger.OrNop(log).Named("backtest"),
		clock:   time.Now,
		seq:     newID,
	}
	s.engine.Store(engine)
	return s
}

// SetEngine replaces the engine used by later runs.
func (s *BacktestService) SetEngine(e *BacktestEngine) {
	s.engine.Store(e)
}

// executionBudget scales with the candle count, clamped to [20s, max].
func executionBudget(candles int, limit time.Duration) time.Duration {
	d := time.Duration(candles)*backtestCandleCost + backtestBaseBudget
	if d < backtestMinBudget {
		d = backtestMinBudget
	}
	if d > limit {
		d = limit
	}
	return d
}

// suggestDays proposes a shorter window after a timeout.
func suggestDays(days int) int {
	switch {
	case days >= 30:
		return 7
	case days >= 7:
		return 3
	default:
		return max(1, days/2)
	}
}

func rangeDays(start, end time.Time) int {
	return int(math.Ceil(end.Sub(start).Hours() / 24))
}

// Run backtests inline candles and persists the run.
func (s *BacktestService) Run(ctx context.Context, candles []domain.Candle, pair string, initialBalance float64) (domain.BacktestRun, error) {
	if len(candles) == 0 {
		return domain.BacktestRun{}, domain.NewValidationError("candles", "are required")
	}
	sorted := MergeCandles(nil, candles, 0)
	first, last := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
	return s.execute(ctx, sorted, pair, first, last, initialBalance)
}

// RunForRange fetches candles for [start, end) in batches and backtests them.
func (s *BacktestService) RunForRange(ctx context.Context, pair string, start, end time.Time, initialBalance float64) (domain.BacktestRun, error) {
	if pair == "" {
		return domain.BacktestRun{}, domain.NewValidationError("pair", "is required")
	}
	if !end.After(start) {
		return domain.BacktestRun{}, domain.NewValidationError("end_date", "must be after start_date")
	}

	candles, err := s.fetch(ctx, pair, start, end)
	if err != nil {
		return domain.BacktestRun{}, err
	}
	if len(candles) < minRangeCandles {
		return domain.BacktestRun{}, fmt.Errorf("got %d candles, need at least %d: %w", len(candles), minRangeCandles, domain.ErrDataInsufficient)
	}
	return s.execute(ctx, candles, pair, start, end, initialBalance)
}

func (s *BacktestService) fetch(ctx context.Context, pair string, start, end time.Time) ([]domain.Candle, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	step := IntervalDuration(s.cfg.CandleInterval)
	batch := time.Duration(s.cfg.BatchSize) * step
	began := time.Now()

	var candles []domain.Candle
	for cursor := start; cursor.Before(end); {
		batchEnd := cursor.Add(batch)
		if batchEnd.After(end) {
			batchEnd = end
		}
		var got []domain.Candle
		err := exchangeCall(fetchCtx, 0, s.metrics, "get_candles", func(ctx context.Context) error {
			var err error
			got, err = s.source.GetCandles(ctx, pair, s.cfg.CandleInterval, cursor, batchEnd)
			return err
		})
		if err != nil {
			if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
				return nil, &domain.BacktestTimeoutError{
					Phase:         "fetch",
					Limit:         s.cfg.FetchTimeout.String(),
					SuggestedDays: suggestDays(rangeDays(start, end)),
				}
			}
			return nil, fmt.Errorf("fetch candles %s: %w", pair, err)
		}
		candles = MergeCandles(candles, got, 0)

		next := batchEnd
		if n := len(got); n > 0 && got[n-1].Timestamp.Add(step).After(cursor) {
			next = got[n-1].Timestamp.Add(step)
		}
		if !next.After(cursor) {
			next = batchEnd
		}
		cursor = next
	}
	s.log.Info("history fetched",
		logger.Pair(pair), zap.Int("candles", len(candles)), zap.Duration("took", time.Since(began)))
	return candles, nil
}

func (s *BacktestService) execute(ctx context.Context, candles []domain.Candle, pair string, start, end time.Time, balance float64) (domain.BacktestRun, error) {
	budget := executionBudget(len(candles), s.cfg.MaxExecution)
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	began := time.Now()
	res, err := s.engine.Load().Run(runCtx, candles, pair, balance)
	s.metrics.ObserveBacktest(time.Since(began))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.BacktestRun{}, &domain.BacktestTimeoutError{
				Phase:         "run",
				Limit:         budget.String(),
				SuggestedDays: suggestDays(rangeDays(start, end)),
			}
		}
		return domain.BacktestRun{}, err
	}

	run := domain.BacktestRun{
		ID:        s.seq(),
		Pair:      pair,
		StartDate: start,
		EndDate:   end,
		Candles:   len(candles),
		Result:    res,
		CreatedAt: s.clock(),
	}
	if s.repo != nil {
		if err := s.repo.SaveBacktest(ctx, run); err != nil {
			s.log.Error("save backtest", zap.String("backtest_id", run.ID), zap.Error(err))
		}
	}
	return run, nil
}

// Get returns a stored run.
func (s *BacktestService) Get(ctx context.Context, id string) (*domain.BacktestRun, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("backtest %s: %w", id, domain.ErrNotFound)
	}
	return s.repo.GetBacktest(ctx, id)
}

// List returns the newest stored runs.
func (s *BacktestService) List(ctx context.Context, limit int) ([]domain.BacktestRun, error) {
	if s.repo == nil {
		return []domain.BacktestRun{}, nil
	}
	return s.repo.ListBacktests(ctx, limit)
}
