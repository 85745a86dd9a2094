package usecase

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

const (
	maxTrackedTrades = 1000
	maxDailyHistory  = 252
	maxEquityPoints  = 1000
	tradingDays      = 252
)

// DailyPnL is one closed trading day.
type DailyPnL struct {
	Date   time.Time `json:"date"`
	PnL    float64   `json:"pnl"`
	Trades int       `json:"trades"`
}

// PerformanceTracker aggregates closed trades and the balance curve.
type PerformanceTracker struct {
	targets config.PerformanceConfig
	clock   func() time.Time
	log     *zap.Logger

	mu           sync.RWMutex
	trades       []domain.TradeRecord
	daily        []DailyPnL
	equity       []domain.EquityPoint
	day          time.Time
	dailyPnL     float64
	dailyTrades  int
	totalPnL     float64
	totalTrades  int
	wins, losses int
	grossProfit  float64
	grossLoss    float64
}

func NewPerformanceTracker(targets config.PerformanceConfig, clock func() time.Time, log *zap.Logger) *PerformanceTracker {
	if clock == nil {
		clock = time.Now
	}
	return &PerformanceTracker{
		targets: targets,
		clock:   clock,
		log:     logger.OrNop(log).Named("performance"),
		day:     utcDay(clock()),
	}
}

// rollDay must be called with mu held.
func (p *PerformanceTracker) rollDay() {
	today := utcDay(p.clock())
	if !today.After(p.day) {
		return
	}
	p.daily = appendBounded(p.daily, DailyPnL{Date: p.day, PnL: p.dailyPnL, Trades: p.dailyTrades}, maxDailyHistory)
	p.dailyPnL, p.dailyTrades = 0, 0
	p.day = today
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}

func tail[T any](s []T, limit int) []T {
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	return append([]T(nil), s[len(s)-limit:]...)
}

// RecordTrade adds a closed trade to the statistics.
func (p *PerformanceTracker) RecordTrade(t domain.TradeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDay()

	p.totalPnL += t.PnL
	p.dailyPnL += t.PnL
	p.totalTrades++
	p.dailyTrades++
	switch {
	case t.PnL > 0:
		p.wins++
		p.grossProfit += t.PnL
	case t.PnL < 0:
		p.losses++
		p.grossLoss -= t.PnL
	}
	p.trades = appendBounded(p.trades, t, maxTrackedTrades)
	p.log.Debug("trade recorded", logger.Pair(t.Pair), logger.Side(t.Side),
		zap.Float64("pnl", t.PnL), zap.Float64("pnl_pct", t.PnLPct))
}

// RecordEquity appends a balance sample stamped with the tracker clock.
func (p *PerformanceTracker) RecordEquity(balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDay()
	p.equity = appendBounded(p.equity, domain.EquityPoint{Timestamp: p.clock(), Balance: balance}, maxEquityPoints)
}

// RecentTrades returns up to limit of the newest trades, oldest first.
func (p *PerformanceTracker) RecentTrades(limit int) []domain.TradeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return tail(p.trades, limit)
}

// EquityCurve returns up to limit of the newest balance samples.
func (p *PerformanceTracker) EquityCurve(limit int) []domain.EquityPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return tail(p.equity, limit)
}

// DailyHistory returns the closed trading days.
func (p *PerformanceTracker) DailyHistory() []DailyPnL {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDay()
	return tail(p.daily, 0)
}

// Summary computes the aggregate metrics for the current balance.
func (p *PerformanceTracker) Summary(balance, initial float64) domain.PerformanceSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDay()

	s := domain.PerformanceSummary{
		AccountBalance: balance,
		InitialBalance: initial,
		TotalPnL:       p.totalPnL,
		DailyPnL:       p.dailyPnL,
		TotalTrades:    p.totalTrades,
		WinningTrades:  p.wins,
		LosingTrades:   p.losses,
		GrossProfit:    p.grossProfit,
		GrossLoss:      p.grossLoss,
		ProfitFactor:   profitFactor(p.grossProfit, p.grossLoss),
		SharpeRatio:    sharpe(p.daily),
		MaxDrawdown:    maxDrawdown(p.equity),
	}
	if initial > 0 {
		s.ROIPct = (balance - initial) / initial * 100
	}
	if p.totalTrades > 0 {
		s.WinRate = float64(p.wins) / float64(p.totalTrades) * 100
	}
	if p.wins > 0 {
		s.AverageWin = p.grossProfit / float64(p.wins)
	}
	if p.losses > 0 {
		s.AverageLoss = p.grossLoss / float64(p.losses)
	}
	if p.totalTrades > 0 {
		wr := float64(p.wins) / float64(p.totalTrades)
		s.Expectancy = wr*s.AverageWin - (1-wr)*s.AverageLoss
	}
	s.MeetsTargets = map[string]bool{
		"win_rate":      s.WinRate >= p.targets.TargetWinRate,
		"profit_factor": float64(s.ProfitFactor) >= p.targets.TargetProfitFactor,
		"sharpe_ratio":  s.SharpeRatio >= p.targets.TargetSharpe,
		"max_drawdown":  s.MaxDrawdown <= p.targets.TargetMaxDrawdown,
	}
	return s
}

// profitFactor is gross profit over gross loss; +Inf when there were only wins.
func profitFactor(grossProfit, grossLoss float64) domain.Ratio {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return domain.Ratio(math.Inf(1))
		}
		return 0
	}
	return domain.Ratio(grossProfit / grossLoss)
}

// sharpe is the annualised ratio of mean to population standard deviation of daily P&L.
func sharpe(days []DailyPnL) float64 {
	if len(days) < 2 {
		return 0
	}
	var mean float64
	for _, d := range days {
		mean += d.PnL
	}
	mean /= float64(len(days))
	var variance float64
	for _, d := range days {
		variance += (d.PnL - mean) * (d.PnL - mean)
	}
	std := math.Sqrt(variance / float64(len(days)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDays)
}

// maxDrawdown is the largest peak-to-trough fall of the curve, in percent.
func maxDrawdown(curve []domain.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	peak := curve[0].Balance
	var worst float64
	for _, pt := range curve {
		if pt.Balance > peak {
			peak = pt.Balance
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - pt.Balance) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}
