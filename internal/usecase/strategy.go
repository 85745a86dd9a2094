package usecase

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/indicators"
	"scalper-backend/internal/infrastructure/logger"
)

// Near-miss thresholds for the evaluation log.
const (
	nearMissRSIPoints   = 3.0
	nearMissVolumeRatio = 0.15
)

// StrategyStats counts evaluations since the last reset.
type StrategyStats struct {
	CandlesAnalyzed  int64 `json:"candlesAnalyzed"`
	SignalsGenerated int64 `json:"signalsGenerated"`
	NearMisses       int64 `json:"nearMisses"`
}

// SignalGenerator implements the EMA/RSI/volume entry rules. It is immutable
// apart from its counters; a settings change builds a new generator.
type SignalGenerator struct {
	cfg config.StrategyConfig
	log *zap.Logger

	analyzed   atomic.Int64
	generated  atomic.Int64
	nearMisses atomic.Int64
}

func NewSignalGenerator(cfg config.StrategyConfig, log *zap.Logger) *SignalGenerator {
	return &SignalGenerator{cfg: cfg, log: logger.OrNop(log).Named("strategy")}
}

// MinCandles is the shortest window GenerateSignal accepts.
func (g *SignalGenerator) MinCandles() int {
	return max(g.cfg.EMAPeriod, g.cfg.RSIPeriod, g.cfg.VolumePeriod) + 1
}

// CalculateIndicators computes the snapshot at the last candle. It reports
// false when the window is shorter than MinCandles.
func (g *SignalGenerator) CalculateIndicators(candles []domain.Candle) (domain.IndicatorSnapshot, bool) {
	if len(candles) < g.MinCandles() {
		return domain.IndicatorSnapshot{}, false
	}
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	return domain.IndicatorSnapshot{
		Price:       closes[len(closes)-1],
		EMA:         indicators.LastEMA(closes, g.cfg.EMAPeriod),
		RSI:         indicators.LastRSI(closes, g.cfg.RSIPeriod),
		VolumeRatio: indicators.VolumeRatio(volumes, g.cfg.VolumePeriod),
	}, true
}

// GenerateSignal evaluates LONG first and SHORT only when no LONG was emitted.
// It returns ErrDataInsufficient for short windows and (nil, nil) when no
// rule fires.
func (g *SignalGenerator) GenerateSignal(pair string, candles []domain.Candle) (*domain.Signal, error) {
	ind, ok := g.CalculateIndicators(candles)
	if !ok {
		return nil, domain.ErrDataInsufficient
	}
	g.analyzed.Add(1)
	g.logEvaluation(pair, ind)

	for _, side := range []domain.SignalType{domain.Long, domain.Short} {
		if !g.conditionsMet(ind, side) {
			continue
		}
		conf := g.CalculateConfidenceScore(ind, side)
		if conf < g.cfg.MinConfidence {
			g.log.Debug("confidence below minimum",
				logger.Pair(pair), logger.Side(side), logger.Confidence(conf),
				zap.Float64("min_confidence", g.cfg.MinConfidence))
			continue
		}
		tp, sl := g.CalculateExitLevels(ind.Price, side, conf)
		g.generated.Add(1)
		g.log.Info("signal generated",
			logger.Pair(pair), logger.Side(side), logger.Confidence(conf), logger.Price(ind.Price),
			zap.Float64("rsi", ind.RSI), zap.Float64("volume_ratio", ind.VolumeRatio))
		return &domain.Signal{
			Type:       side,
			Pair:       pair,
			Price:      ind.Price,
			Confidence: conf,
			TakeProfit: tp,
			StopLoss:   sl,
			Indicators: ind,
			Timestamp:  candles[len(candles)-1].Timestamp,
		}, nil
	}
	return nil, nil
}

func (g *SignalGenerator) rsiRange(side domain.SignalType) (float64, float64) {
	if side == domain.Short {
		return g.cfg.RSIShortMin, g.cfg.RSIShortMax
	}
	return g.cfg.RSILongMin, g.cfg.RSILongMax
}

func (g *SignalGenerator) conditionsMet(ind domain.IndicatorSnapshot, side domain.SignalType) bool {
	lo, hi := g.rsiRange(side)
	trend := ind.Price > ind.EMA
	if side == domain.Short {
		trend = ind.Price < ind.EMA
	}
	return trend && ind.RSI >= lo && ind.RSI <= hi && ind.VolumeRatio >= g.cfg.VolumeMultiplier
}

// CalculateConfidenceScore combines trend distance (30), RSI centring (40)
// and volume surplus (30), clamped to [0,100].
func (g *SignalGenerator) CalculateConfidenceScore(ind domain.IndicatorSnapshot, side domain.SignalType) float64 {
	var score float64

	if ind.EMA > 0 {
		dist := (ind.Price - ind.EMA) / ind.EMA * 100
		if side == domain.Short {
			dist = -dist
		}
		if dist > 0 {
			score += math.Min(30, dist*10)
		}
	}

	lo, hi := g.rsiRange(side)
	if ind.RSI >= lo && ind.RSI <= hi && hi > lo {
		pos := (ind.RSI - lo) / (hi - lo)
		score += 40 * (1 - math.Abs(pos-0.5)*2)
	}

	if m := g.cfg.VolumeMultiplier; ind.VolumeRatio >= m {
		score += math.Min(30, (ind.VolumeRatio-m)/m*30)
	}

	return math.Min(100, math.Max(0, score))
}

// CalculateExitLevels widens the target and tightens the stop as confidence grows.
func (g *SignalGenerator) CalculateExitLevels(entry float64, side domain.SignalType, confidence float64) (takeProfit, stopLoss float64) {
	f := confidence / 100
	tpPct := g.cfg.TakeProfitMinPct + (g.cfg.TakeProfitMaxPct-g.cfg.TakeProfitMinPct)*f
	slPct := g.cfg.StopLossMaxPct - (g.cfg.StopLossMaxPct-g.cfg.StopLossMinPct)*f
	if side == domain.Short {
		return entry * (1 - tpPct/100), entry * (1 + slPct/100)
	}
	return entry * (1 + tpPct/100), entry * (1 - slPct/100)
}

// ShouldExit is the strategy-specific exit. With trend-reversal exits enabled a
// LONG closes once price falls under the EMA with RSI below 50, and a SHORT on
// the mirror condition.
func (g *SignalGenerator) ShouldExit(p domain.Position, ind domain.IndicatorSnapshot) (bool, domain.CloseReason) {
	if !g.cfg.ExitOnTrendReversal {
		return false, ""
	}
	switch p.Side {
	case domain.Long:
		if ind.Price < ind.EMA && ind.RSI < indicators.NeutralRSI {
			return true, domain.CloseStrategyExit
		}
	case domain.Short:
		if ind.Price > ind.EMA && ind.RSI > indicators.NeutralRSI {
			return true, domain.CloseStrategyExit
		}
	}
	return false, ""
}

// Stats returns the counters since the last ResetStats.
func (g *SignalGenerator) Stats() StrategyStats {
	return StrategyStats{
		CandlesAnalyzed:  g.analyzed.Load(),
		SignalsGenerated: g.generated.Load(),
		NearMisses:       g.nearMisses.Load(),
	}
}

// ResetStats zeroes the counters, typically after the daily summary.
func (g *SignalGenerator) ResetStats() {
	g.analyzed.Store(0)
	g.generated.Store(0)
	g.nearMisses.Store(0)
}

func (g *SignalGenerator) logEvaluation(pair string, ind domain.IndicatorSnapshot) {
	side := domain.Long
	if ind.Price <= ind.EMA {
		side = domain.Short
	}
	lo, hi := g.rsiRange(side)
	rsiGap := math.Max(lo-ind.RSI, ind.RSI-hi)
	volGap := g.cfg.VolumeMultiplier - ind.VolumeRatio

	g.log.Debug("signal check",
		logger.Pair(pair), logger.Side(side), logger.Price(ind.Price),
		zap.Float64("ema", ind.EMA), zap.Float64("rsi", ind.RSI), zap.Float64("volume_ratio", ind.VolumeRatio))

	if (rsiGap > 0 && rsiGap <= nearMissRSIPoints) || (volGap > 0 && volGap <= nearMissVolumeRatio) {
		g.nearMisses.Add(1)
		g.log.Warn("near miss",
			logger.Pair(pair), logger.Side(side),
			zap.Float64("rsi_gap", math.Max(0, rsiGap)), zap.Float64("volume_gap", math.Max(0, volGap)))
	}
}
