package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

// EngineStatus is the lifecycle state of the trading engine.
type EngineStatus string

const (
	StatusStopped EngineStatus = "stopped"
	StatusRunning EngineStatus = "running"
	StatusPaused  EngineStatus = "paused"
)

// Daily summary goes out once per UTC day after this time of day.
const (
	summaryHour   = 23
	summaryMinute = 30
)

// EngineSettings is the slice of configuration the engine loop reads each tick.
type EngineSettings struct {
	Pairs           []string
	LoopInterval    time.Duration
	CandleInterval  string
	CandleHistory   int
	CandleRefetch   int
	ExchangeTimeout time.Duration
	InitialBalance  float64
}

// EngineSettingsFromConfig maps the trading settings.
func EngineSettingsFromConfig(c *config.Config) EngineSettings {
	return EngineSettings{
		Pairs:           slices.Clone(c.TradingPairs),
		LoopInterval:    c.Trading.LoopInterval,
		CandleInterval:  c.Trading.CandleInterval,
		CandleHistory:   c.Trading.CandleHistory,
		CandleRefetch:   c.Trading.CandleRefetch,
		ExchangeTimeout: c.Trading.ExchangeTimeout,
		InitialBalance:  c.Account.Size,
	}
}

// EngineDeps are the collaborators of the trading engine. Only Exchange is required.
type EngineDeps struct {
	Exchange    domain.Exchange
	MarketData  domain.MarketDataReader
	Trades      domain.TradeRepository
	Performance *PerformanceTracker
	Alerts      *AlertService
	Metrics     Metrics
	Log         *zap.Logger
	Clock       func() time.Time
}

// EngineSnapshot is the live view pushed to clients.
type EngineSnapshot struct {
	Status    EngineStatus       `json:"status"`
	Positions []domain.Position  `json:"positions"`
	Risk      domain.RiskMetrics `json:"risk"`
	Balance   float64            `json:"balance"`
	Timestamp time.Time          `json:"timestamp"`
}

// TradingEngine owns the open positions and the candle cache. It refreshes
// market data, manages exits and opens new entries on every tick.
type TradingEngine struct {
	exchange domain.Exchange
	market   domain.MarketDataReader
	trades   domain.TradeRepository
	perf     *PerformanceTracker
	alerts   *AlertService
	metrics  Metrics
	log      *zap.Logger
	clock    func() time.Time

	risk     *RiskManager
	signals  atomic.Pointer[SignalGenerator]
	settings atomic.Pointer[EngineSettings]

	mu         sync.Mutex
	status     EngineStatus
	positions  []domain.Position
	closing    map[string]bool
	candles    map[string][]domain.Candle
	prices     map[string]domain.MarketData
	balance    float64
	summaryDay time.Time
}

func NewTradingEngine(settings EngineSettings, signals *SignalGenerator, risk *RiskManager, deps EngineDeps) *TradingEngine {
	e := &TradingEngine{
		exchange: deps.Exchange,
		market:   deps.MarketData,
		trades:   deps.Trades,
		perf:     deps.Performance,
		alerts:   deps.Alerts,
		metrics:  metricsOrNop(deps.Metrics),
		log:      logger.OrNop(deps.Log).Named("engine"),
		clock:    deps.Clock,
		risk:     risk,
		status:   StatusStopped,
		closing:  make(map[string]bool),
		candles:  make(map[string][]domain.Candle),
		prices:   make(map[string]domain.MarketData),
		balance:  settings.InitialBalance,
	}
	if e.market == nil {
		e.market = deps.Exchange
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.perf == nil {
		e.perf = NewPerformanceTracker(config.PerformanceConfig{}, e.clock, deps.Log)
	}
	e.signals.Store(signals)
	e.settings.Store(&settings)
	return e
}

// Status returns the current lifecycle state.
func (e *TradingEngine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *TradingEngine) setStatus(s EngineStatus) EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.status
	e.status = s
	return prev
}

// Start warms the candle cache and begins trading.
func (e *TradingEngine) Start(ctx context.Context) error {
	if e.Status() == StatusRunning {
		return fmt.Errorf("engine already running: %w", domain.ErrInvalidTransition)
	}
	bal, err := e.fetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	e.mu.Lock()
	e.balance = bal
	e.mu.Unlock()
	e.refreshCandles(ctx, e.settings.Load())
	e.setStatus(StatusRunning)
	e.log.Info("engine started", zap.Strings("pairs", e.settings.Load().Pairs))
	return nil
}

// Stop halts the loop; open positions are left untouched.
func (e *TradingEngine) Stop() {
	if prev := e.setStatus(StatusStopped); prev != StatusStopped {
		e.log.Info("engine stopped", zap.String("previous", string(prev)))
	}
}

// Pause keeps managing exits but opens nothing new.
func (e *TradingEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return fmt.Errorf("engine is %s: %w", e.status, domain.ErrInvalidTransition)
	}
	e.status = StatusPaused
	e.log.Info("engine paused")
	return nil
}

// Resume returns a paused engine to running.
func (e *TradingEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPaused {
		return fmt.Errorf("engine is %s: %w", e.status, domain.ErrInvalidTransition)
	}
	e.status = StatusRunning
	e.log.Info("engine resumed")
	return nil
}

// KillSwitch closes every position and stops the engine.
func (e *TradingEngine) KillSwitch(ctx context.Context) int {
	closed := e.closeAll(ctx, domain.CloseManual)
	e.Stop()
	e.alerts.KillSwitch(ctx, closed)
	e.log.Warn("kill switch activated", zap.Int("closed", closed))
	return closed
}

// CloseAllPositions closes every open position manually and returns how many closed.
func (e *TradingEngine) CloseAllPositions(ctx context.Context) int {
	return e.closeAll(ctx, domain.CloseManual)
}

// GetPositions returns a copy of the open positions in insertion order.
func (e *TradingEngine) GetPositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.positions)
}

// Balance is the last known account balance.
func (e *TradingEngine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// GetRiskMetrics refreshes the balance and reports exposure.
func (e *TradingEngine) GetRiskMetrics(ctx context.Context) domain.RiskMetrics {
	bal := e.Balance()
	if fresh, err := e.fetchBalance(ctx); err == nil {
		bal = fresh
	}
	return e.risk.RiskMetrics(bal, e.GetPositions())
}

// Performance summarises closed trades against the configured starting balance.
func (e *TradingEngine) Performance() domain.PerformanceSummary {
	return e.perf.Summary(e.Balance(), e.settings.Load().InitialBalance)
}

// Tracker exposes the performance tracker for read-only queries.
func (e *TradingEngine) Tracker() *PerformanceTracker {
	return e.perf
}

// Snapshot is the live state used by the WebSocket stream.
func (e *TradingEngine) Snapshot() EngineSnapshot {
	e.mu.Lock()
	status, positions, bal := e.status, slices.Clone(e.positions), e.balance
	e.mu.Unlock()
	return EngineSnapshot{
		Status:    status,
		Positions: positions,
		Risk:      e.risk.RiskMetrics(bal, positions),
		Balance:   bal,
		Timestamp: e.clock(),
	}
}

// Reconfigure swaps the signal generator, risk limits and loop settings.
func (e *TradingEngine) Reconfigure(cfg *config.Config) {
	e.signals.Store(NewSignalGenerator(cfg.Strategy, e.log))
	e.risk.SetLimits(RiskLimitsFromConfig(cfg.Risk))
	s := EngineSettingsFromConfig(cfg)
	e.settings.Store(&s)
	e.log.Info("engine reconfigured", zap.Strings("pairs", s.Pairs), zap.Duration("loop_interval", s.LoopInterval))
}

// Run ticks until ctx is done. Exchange errors are logged and retried on the
// next tick; other failures count towards the loop guard, which pauses the
// engine after repeated fatals.
func (e *TradingEngine) Run(ctx context.Context) error {
	interval := e.settings.Load().LoopInterval
	guard := newLoopGuard("trading", interval, func(err error) {
		if e.Pause() == nil {
			e.alerts.SubsystemPaused(ctx, "trading", err)
		}
	}, e.log, e.metrics)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if d := e.settings.Load().LoopInterval; d != interval {
			interval = d
			ticker.Reset(d)
		}

		err := e.Tick(ctx)
		if err == nil {
			guard.ok()
			continue
		}
		if ee, ok := domain.IsExchangeError(err); ok {
			e.log.Warn("exchange error, retrying next tick", zap.String("op", ee.Op), zap.String("kind", string(ee.Kind)), zap.Error(err))
			continue
		}
		if !guard.fail(ctx, err) {
			return nil
		}
	}
}

// Tick runs one iteration of the engine.
func (e *TradingEngine) Tick(ctx context.Context) error {
	if e.Status() == StatusStopped {
		return nil
	}
	s := e.settings.Load()

	e.refreshCandles(ctx, s)

	prices, err := e.fetchMarketData(ctx, s.Pairs)
	if err != nil {
		return err
	}

	e.managePositions(ctx, prices)

	if e.risk.ShouldCloseAllPositions() && (e.Status() == StatusRunning || len(e.GetPositions()) > 0) {
		closed := e.closeAll(ctx, domain.CloseDailyLossLimit)
		e.mu.Lock()
		e.status = StatusPaused
		e.mu.Unlock()
		limit := e.risk.Limits().DailyLossLimit
		e.log.Warn("daily loss limit reached, trading paused",
			zap.Float64("daily_pnl", e.risk.DailyPnl()), zap.Float64("limit", limit), zap.Int("closed", closed))
		e.alerts.DailyLossLimit(ctx, e.risk.DailyPnl(), limit, closed)
		return nil
	}

	if e.Status() == StatusRunning {
		e.openEntries(ctx, s, prices)
	}

	if bal, err := e.fetchBalance(ctx); err == nil {
		e.mu.Lock()
		e.balance = bal
		e.mu.Unlock()
	} else {
		e.log.Warn("balance refresh failed", zap.Error(err))
	}
	e.perf.RecordEquity(e.Balance())
	e.metrics.SetOpenPositions(len(e.GetPositions()))
	e.maybeDailySummary(ctx)
	return nil
}

func (e *TradingEngine) exchangeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	return exchangeCall(ctx, e.settings.Load().ExchangeTimeout, e.metrics, op, fn)
}

func (e *TradingEngine) fetchBalance(ctx context.Context) (float64, error) {
	var bal float64
	err := e.exchangeCall(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		bal, err = e.exchange.GetAccountBalance(ctx)
		return err
	})
	return bal, err
}

func (e *TradingEngine) fetchMarketData(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	var md map[string]domain.MarketData
	err := e.exchangeCall(ctx, "get_market_data", func(ctx context.Context) error {
		var err error
		md, err = e.market.GetMarketData(ctx, pairs)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	for pair, d := range md {
		e.prices[pair] = d
	}
	e.mu.Unlock()
	return md, nil
}

// IntervalDuration parses candle intervals such as 1m, 15m, 1h, 1d and 1w.
func IntervalDuration(interval string) time.Duration {
	if interval == "" {
		return time.Minute
	}
	var unit time.Duration
	switch interval[len(interval)-1] {
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	}
	if unit > 0 {
		n, err := strconv.Atoi(interval[:len(interval)-1])
		if err != nil || n <= 0 {
			return time.Minute
		}
		return time.Duration(n) * unit
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// refreshCandles refetches the full history for pairs whose cache is short and
// only the tail otherwise. Failures leave the cache as it was.
func (e *TradingEngine) refreshCandles(ctx context.Context, s *EngineSettings) {
	step := IntervalDuration(s.CandleInterval)
	now := e.clock()
	for _, pair := range s.Pairs {
		e.mu.Lock()
		cached := e.candles[pair]
		e.mu.Unlock()

		start := now.Add(-time.Duration(s.CandleHistory) * step)
		if len(cached) >= s.CandleRefetch {
			start = cached[len(cached)-1].Timestamp
		}

		var fresh []domain.Candle
		err := e.exchangeCall(ctx, "get_candles", func(ctx context.Context) error {
			var err error
			fresh, err = e.exchange.GetCandles(ctx, pair, s.CandleInterval, start, now)
			return err
		})
		if err != nil {
			e.log.Warn("candle refresh failed", logger.Pair(pair), zap.Error(err))
			continue
		}

		merged := MergeCandles(cached, fresh, s.CandleHistory)
		e.mu.Lock()
		e.candles[pair] = merged
		e.mu.Unlock()
	}
}

// MergeCandles merges by timestamp, newer data winning, and keeps the last limit candles.
func MergeCandles(existing, fresh []domain.Candle, limit int) []domain.Candle {
	byTime := make(map[int64]domain.Candle, len(existing)+len(fresh))
	for _, c := range existing {
		byTime[c.Timestamp.UnixNano()] = c
	}
	for _, c := range fresh {
		byTime[c.Timestamp.UnixNano()] = c
	}
	out := make([]domain.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// liveCandles returns a copy of the pair's candles with the last close replaced by price.
func (e *TradingEngine) liveCandles(pair string, price float64) []domain.Candle {
	e.mu.Lock()
	candles := slices.Clone(e.candles[pair])
	e.mu.Unlock()
	if len(candles) == 0 || price <= 0 {
		return candles
	}
	last := &candles[len(candles)-1]
	last.Close = price
	last.High = math.Max(last.High, price)
	last.Low = math.Min(last.Low, price)
	return candles
}

// exitReason picks the first matching exit: stop, target, strategy, timeout.
func (e *TradingEngine) exitReason(p domain.Position, price float64, now time.Time) (domain.CloseReason, bool) {
	if p.StopHit(price) {
		return domain.CloseStopLoss, true
	}
	if p.TargetHit(price) {
		return domain.CloseTakeProfit, true
	}
	gen := e.signals.Load()
	if ind, ok := gen.CalculateIndicators(e.liveCandles(p.Pair, price)); ok {
		if exit, reason := gen.ShouldExit(p, ind); exit {
			return reason, true
		}
	}
	if e.risk.CheckPositionTimeout(p, now) {
		return domain.CloseTimeout, true
	}
	return "", false
}

func (e *TradingEngine) managePositions(ctx context.Context, prices map[string]domain.MarketData) {
	now := e.clock()
	for _, p := range e.GetPositions() {
		md, ok := prices[p.Pair]
		if !ok || md.Price <= 0 {
			continue
		}
		reason, exit := e.exitReason(p, md.Price, now)
		if !exit {
			continue
		}
		if _, err := e.closePosition(ctx, p, md.Price, reason); err != nil {
			e.log.Error("close position", logger.Pair(p.Pair), logger.Reason(reason), zap.Error(err))
		}
	}
}

// entryAllowed reports whether open has room for a new position on pair.
// A pair holds at most one open position.
func entryAllowed(open []domain.Position, pair string, maxPositions int) bool {
	return len(open) < maxPositions && !slices.ContainsFunc(open, func(p domain.Position) bool { return p.Pair == pair })
}

func (e *TradingEngine) openEntries(ctx context.Context, s *EngineSettings, prices map[string]domain.MarketData) {
	gen := e.signals.Load()
	maxPositions := e.risk.Limits().MaxPositions

	for _, pair := range s.Pairs {
		positions := e.GetPositions()
		if len(positions) >= maxPositions {
			return
		}
		if !entryAllowed(positions, pair, maxPositions) {
			continue
		}
		md, ok := prices[pair]
		if !ok || md.Price <= 0 {
			continue
		}

		sig, err := gen.GenerateSignal(pair, e.liveCandles(pair, md.Price))
		if errors.Is(err, domain.ErrDataInsufficient) {
			e.log.Debug("insufficient candles", logger.Pair(pair))
			continue
		}
		if err != nil || sig == nil {
			continue
		}
		e.metrics.SignalGenerated(pair, sig.Type)

		bal := e.Balance()
		size := e.risk.CalculatePositionSize(bal, sig.Price, sig.StopLoss, sig.Type)
		if size <= 0 {
			continue
		}
		if err := e.risk.ValidateTrade(bal, positions, size, sig.Price); err != nil {
			e.log.Info("trade rejected", logger.Pair(pair), logger.Side(sig.Type), zap.Error(err))
			continue
		}
		if _, err := e.openPosition(ctx, sig, size); err != nil {
			e.log.Error("open position", logger.Pair(pair), logger.Side(sig.Type), zap.Error(err))
		}
	}
}

// openPosition submits the entry order and records the new position.
func (e *TradingEngine) openPosition(ctx context.Context, sig *domain.Signal, size float64) (domain.Position, error) {
	req := domain.OrderRequest{Pair: sig.Pair, Side: sig.Type.EntrySide()}
	if sig.Type == domain.Long {
		req.QuoteSize = size * sig.Price
	} else {
		req.Size = size
	}

	var res domain.OrderResult
	err := e.exchangeCall(ctx, "place_order", func(ctx context.Context) error {
		var err error
		res, err = e.exchange.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		return domain.Position{}, err
	}

	entry := sig.Price
	if res.FillPrice > 0 {
		entry = res.FillPrice
	}
	if res.FillSize > 0 {
		size = res.FillSize
	}
	p := domain.Position{
		ID:              newID(),
		Pair:            sig.Pair,
		Side:            sig.Type,
		Size:            size,
		EntryPrice:      entry,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.TakeProfit,
		EntryTime:       e.clock(),
		ConfidenceScore: sig.Confidence,
		OrderID:         res.OrderID,
		EntryFee:        res.Fee,
	}

	e.mu.Lock()
	e.positions = append(e.positions, p)
	e.mu.Unlock()

	if e.trades != nil {
		if err := e.trades.SaveTrade(ctx, domain.OpenTradeRecord(p)); err != nil {
			e.log.Error("save opened trade", logger.Pair(p.Pair), zap.Error(err))
		}
	}
	e.metrics.PositionOpened(p.Pair, p.Side)
	e.alerts.PositionOpened(ctx, p)
	e.log.Info("position opened",
		logger.Pair(p.Pair), logger.Side(p.Side), logger.Price(p.EntryPrice), logger.Confidence(p.ConfidenceScore),
		logger.OrderID(p.OrderID), zap.Float64("size", p.Size),
		zap.Float64("take_profit", p.TakeProfit), zap.Float64("stop_loss", p.StopLoss))
	return p, nil
}

// closePosition submits the exit order and records the outcome. A position
// already being closed elsewhere is skipped.
func (e *TradingEngine) closePosition(ctx context.Context, p domain.Position, price float64, reason domain.CloseReason) (domain.TradeRecord, error) {
	e.mu.Lock()
	if e.closing[p.ID] || !slices.ContainsFunc(e.positions, func(o domain.Position) bool { return o.ID == p.ID }) {
		e.mu.Unlock()
		return domain.TradeRecord{}, fmt.Errorf("position %s: %w", p.ID, domain.ErrNotFound)
	}
	e.closing[p.ID] = true
	e.mu.Unlock()

	var res domain.OrderResult
	err := e.exchangeCall(ctx, "place_order", func(ctx context.Context) error {
		var err error
		res, err = e.exchange.PlaceOrder(ctx, domain.OrderRequest{Pair: p.Pair, Side: p.Side.ExitSide(), Size: p.Size})
		return err
	})

	e.mu.Lock()
	delete(e.closing, p.ID)
	if err == nil {
		e.positions = slices.DeleteFunc(e.positions, func(o domain.Position) bool { return o.ID == p.ID })
	}
	e.mu.Unlock()
	if err != nil {
		return domain.TradeRecord{}, err
	}

	exit := price
	if res.FillPrice > 0 {
		exit = res.FillPrice
	}
	trade := domain.NewTradeRecord(p, exit, e.clock(), reason, p.EntryFee+res.Fee)

	e.risk.UpdateDailyPnl(trade.PnL)
	e.perf.RecordTrade(trade)
	if e.trades != nil {
		if err := e.trades.SaveTrade(ctx, trade); err != nil {
			e.log.Error("save closed trade", logger.Pair(p.Pair), zap.Error(err))
		}
	}
	e.metrics.PositionClosed(p.Pair, reason, trade.PnL)
	e.alerts.PositionClosed(ctx, trade)
	e.log.Info("position closed",
		logger.Pair(p.Pair), logger.Side(p.Side), logger.Price(exit), logger.Reason(reason),
		zap.Float64("pnl", trade.PnL), zap.Float64("pnl_pct", trade.PnLPct))
	return trade, nil
}

// ClosePosition closes one position by ID at the latest known price.
func (e *TradingEngine) ClosePosition(ctx context.Context, id string) (domain.TradeRecord, error) {
	idx := slices.IndexFunc(e.GetPositions(), func(p domain.Position) bool { return p.ID == id })
	if idx < 0 {
		return domain.TradeRecord{}, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	p := e.GetPositions()[idx]
	return e.closePosition(ctx, p, e.lastPrice(ctx, p), domain.CloseManual)
}

func (e *TradingEngine) lastPrice(ctx context.Context, p domain.Position) float64 {
	e.mu.Lock()
	md, ok := e.prices[p.Pair]
	e.mu.Unlock()
	if ok && md.Price > 0 {
		return md.Price
	}
	if fresh, err := e.fetchMarketData(ctx, []string{p.Pair}); err == nil && fresh[p.Pair].Price > 0 {
		return fresh[p.Pair].Price
	}
	return p.EntryPrice
}

func (e *TradingEngine) closeAll(ctx context.Context, reason domain.CloseReason) int {
	closed := 0
	for _, p := range e.GetPositions() {
		if _, err := e.closePosition(ctx, p, e.lastPrice(ctx, p), reason); err != nil {
			e.log.Error("close position", logger.Pair(p.Pair), logger.Reason(reason), zap.Error(err))
			continue
		}
		closed++
	}
	return closed
}

func (e *TradingEngine) maybeDailySummary(ctx context.Context) {
	now := e.clock().UTC()
	if now.Hour() < summaryHour || (now.Hour() == summaryHour && now.Minute() < summaryMinute) {
		return
	}
	today := utcDay(now)
	e.mu.Lock()
	if !e.summaryDay.Before(today) {
		e.mu.Unlock()
		return
	}
	e.summaryDay = today
	e.mu.Unlock()

	gen := e.signals.Load()
	summary := e.Performance()
	stats := gen.Stats()
	e.log.Info("daily summary",
		zap.Float64("daily_pnl", summary.DailyPnL), zap.Int("trades", summary.TotalTrades),
		zap.Int64("candles_analyzed", stats.CandlesAnalyzed), zap.Int64("signals", stats.SignalsGenerated),
		zap.Int64("near_misses", stats.NearMisses))
	e.alerts.DailySummary(ctx, summary, stats)
	gen.ResetStats()
}
