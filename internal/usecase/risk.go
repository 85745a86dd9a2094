package usecase

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

// pctTolerance absorbs rounding when a size capped at the limit is re-checked against it.
const pctTolerance = 1e-9

// RiskLimits is an immutable set of risk parameters.
type RiskLimits struct {
	RiskPerTradePct    float64       `json:"riskPerTradePct"`
	MaxPositions       int           `json:"maxPositions"`
	DailyLossLimit     float64       `json:"dailyLossLimit"`
	MaxPositionSizePct float64       `json:"maxPositionSizePct"`
	PositionTimeout    time.Duration `json:"positionTimeout"`
}

// RiskLimitsFromConfig maps the risk settings.
func RiskLimitsFromConfig(c config.RiskConfig) RiskLimits {
	return RiskLimits{
		RiskPerTradePct:    c.RiskPerTradePct,
		MaxPositions:       c.MaxPositions,
		DailyLossLimit:     c.DailyLossLimit,
		MaxPositionSizePct: c.MaxPositionSizePct,
		PositionTimeout:    c.PositionTimeout,
	}
}

// RiskManager sizes positions and gates new trades. The daily P&L is its only
// mutable state and resets at the UTC day boundary.
type RiskManager struct {
	limits atomic.Pointer[RiskLimits]
	clock  func() time.Time
	log    *zap.Logger

	mu       sync.Mutex
	dailyPnL float64
	day      time.Time
}

// RiskOption customises a RiskManager.
type RiskOption func(*RiskManager)

// WithRiskClock replaces the wall clock used for the daily reset.
func WithRiskClock(clock func() time.Time) RiskOption {
	return func(r *RiskManager) { r.clock = clock }
}

func NewRiskManager(limits RiskLimits, log *zap.Logger, opts ...RiskOption) *RiskManager {
	r := &RiskManager{clock: time.Now, log: logger.OrNop(log).Named("risk")}
	for _, opt := range opts {
		opt(r)
	}
	r.limits.Store(&limits)
	r.day = utcDay(r.clock())
	return r
}

// Limits returns the active limits.
func (r *RiskManager) Limits() RiskLimits {
	return *r.limits.Load()
}

// SetLimits swaps the limits; the daily P&L is kept.
func (r *RiskManager) SetLimits(l RiskLimits) {
	r.limits.Store(&l)
	r.log.Info("risk limits updated",
		zap.Float64("risk_per_trade_pct", l.RiskPerTradePct),
		zap.Int("max_positions", l.MaxPositions),
		zap.Float64("daily_loss_limit", l.DailyLossLimit))
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rollDay must be called with mu held.
func (r *RiskManager) rollDay() {
	today := utcDay(r.clock())
	if today.After(r.day) {
		if r.dailyPnL != 0 {
			r.log.Info("daily risk metrics reset", zap.Float64("previous_daily_pnl", r.dailyPnL))
		}
		r.dailyPnL = 0
		r.day = today
	}
}

// CalculatePositionSize risks RiskPerTradePct of balance over the stop
// distance, capped at MaxPositionSizePct of balance. A stop on the wrong side
// of entry yields 0.
func (r *RiskManager) CalculatePositionSize(balance, entry, stop float64, side domain.SignalType) float64 {
	l := r.limits.Load()
	risk := balance * l.RiskPerTradePct / 100

	dist := entry - stop
	if side == domain.Short {
		dist = stop - entry
	}
	if dist <= 0 || entry <= 0 {
		err := domain.NewValidationError("stop_loss", "stop %.8f is not on the loss side of entry %.8f", stop, entry)
		r.log.Warn("invalid stop for sizing", logger.Side(side), logger.Price(entry), zap.Error(err))
		return 0
	}

	size := risk / dist
	maxSize := balance * l.MaxPositionSizePct / 100 / entry
	if size > maxSize {
		size = maxSize
	}
	r.log.Debug("position size calculated",
		zap.Float64("size", size), zap.Float64("risk_amount", risk), zap.Float64("stop_distance", dist))
	return size
}

// ValidateTrade returns nil or a *domain.RiskRejectedError. Checks run in
// order: daily loss, position count, position size, total exposure, and
// remaining daily capacity.
func (r *RiskManager) ValidateTrade(balance float64, open []domain.Position, size, entry float64) error {
	l := r.limits.Load()
	r.mu.Lock()
	r.rollDay()
	daily := r.dailyPnL
	r.mu.Unlock()

	if balance <= 0 {
		return &domain.RiskRejectedError{Reason: fmt.Sprintf("non-positive balance: %.2f", balance)}
	}
	if daily <= -l.DailyLossLimit {
		return &domain.RiskRejectedError{Reason: fmt.Sprintf("daily loss limit reached: %.2f", daily)}
	}
	if len(open) >= l.MaxPositions {
		return &domain.RiskRejectedError{Reason: fmt.Sprintf("maximum positions reached: %d/%d", len(open), l.MaxPositions)}
	}

	value := size * entry
	if pct := value / balance * 100; pct > l.MaxPositionSizePct+pctTolerance {
		return &domain.RiskRejectedError{Reason: fmt.Sprintf("position size too large: %.2f%% > %.2f%%", pct, l.MaxPositionSizePct)}
	}

	exposure := value
	for _, p := range open {
		exposure += p.Notional()
	}
	if pct := exposure / balance * 100; pct > 100+pctTolerance {
		return &domain.RiskRejectedError{Reason: fmt.Sprintf("total exposure too high: %.2f%%", pct)}
	}

	remaining := l.DailyLossLimit + daily
	if risk := balance * l.RiskPerTradePct / 100; remaining < risk {
		return &domain.RiskRejectedError{Reason: fmt.Sprintf("insufficient daily risk capacity: %.2f", remaining)}
	}
	return nil
}

// UpdateDailyPnl adds a realised result to today's P&L.
func (r *RiskManager) UpdateDailyPnl(pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDay()
	r.dailyPnL += pnl
	r.log.Debug("daily pnl updated", zap.Float64("daily_pnl", r.dailyPnL))
}

// DailyPnl returns today's realised P&L.
func (r *RiskManager) DailyPnl() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDay()
	return r.dailyPnL
}

// ShouldCloseAllPositions reports whether the daily loss limit is reached.
func (r *RiskManager) ShouldCloseAllPositions() bool {
	return r.DailyPnl() <= -r.limits.Load().DailyLossLimit
}

// RiskMetrics summarises exposure for the given open positions.
func (r *RiskManager) RiskMetrics(balance float64, open []domain.Position) domain.RiskMetrics {
	l := r.limits.Load()
	daily := r.DailyPnl()

	var exposure, risk float64
	for _, p := range open {
		exposure += p.Notional()
		if p.StopLoss > 0 {
			perUnit := p.EntryPrice - p.StopLoss
			if p.Side == domain.Short {
				perUnit = p.StopLoss - p.EntryPrice
			}
			risk += p.Size * perUnit
		}
	}

	m := domain.RiskMetrics{
		TotalExposure:          exposure,
		RiskExposure:           risk,
		DailyPnL:               daily,
		DailyLossLimit:         l.DailyLossLimit,
		RemainingDailyCapacity: l.DailyLossLimit + daily,
		OpenPositions:          len(open),
		MaxPositions:           l.MaxPositions,
		RemainingPositions:     l.MaxPositions - len(open),
		DailyLossLimitReached:  daily <= -l.DailyLossLimit,
	}
	if balance > 0 {
		m.TotalExposurePct = exposure / balance * 100
		m.RiskExposurePct = risk / balance * 100
	}
	return m
}

// CheckPositionTimeout reports whether the position has been open for at least the timeout.
func (r *RiskManager) CheckPositionTimeout(p domain.Position, now time.Time) bool {
	if p.EntryTime.IsZero() {
		return false
	}
	return now.Sub(p.EntryTime) >= r.limits.Load().PositionTimeout
}
