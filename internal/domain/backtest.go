package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Ratio is a float that may be +Inf; it encodes infinity as the string "inf".
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(r), 1) {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	if string(b) == `"inf"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// EquityPoint is a balance sample.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Balance   float64   `json:"balance"`
}

// BacktestResult summarises one backtest run. It is never mutated after it is produced.
type BacktestResult struct {
	Pair           string             `json:"pair"`
	InitialBalance float64            `json:"initialBalance"`
	FinalBalance   float64            `json:"finalBalance"`
	TotalPnL       float64            `json:"totalPnl"`
	TotalFees      float64            `json:"totalFees"`
	ROIPct         float64            `json:"roiPct"`
	TotalTrades    int                `json:"totalTrades"`
	WinningTrades  int                `json:"winningTrades"`
	LosingTrades   int                `json:"losingTrades"`
	WinRate        float64            `json:"winRate"`
	AvgWin         float64            `json:"avgWin"`
	AvgLoss        float64            `json:"avgLoss"`
	ProfitFactor   Ratio              `json:"profitFactor"`
	MaxDrawdown    float64            `json:"maxDrawdown"`
	Trades         []TradeRecord      `json:"trades"`
	EquityCurve    []EquityPoint      `json:"equityCurve"`
	Performance    PerformanceSummary `json:"performance"`
}

// BacktestRun is a persisted backtest with its input window.
type BacktestRun struct {
	ID        string         `json:"id"`
	Pair      string         `json:"pair"`
	StartDate time.Time      `json:"startDate"`
	EndDate   time.Time      `json:"endDate"`
	Candles   int            `json:"candles"`
	Result    BacktestResult `json:"result"`
	CreatedAt time.Time      `json:"createdAt"`
}

// PerformanceSummary is the aggregate view of closed trades.
type PerformanceSummary struct {
	AccountBalance float64         `json:"accountBalance"`
	InitialBalance float64         `json:"initialBalance"`
	TotalPnL       float64         `json:"totalPnl"`
	DailyPnL       float64         `json:"dailyPnl"`
	ROIPct         float64         `json:"roiPct"`
	TotalTrades    int             `json:"totalTrades"`
	WinningTrades  int             `json:"winningTrades"`
	LosingTrades   int             `json:"losingTrades"`
	WinRate        float64         `json:"winRate"`
	ProfitFactor   Ratio           `json:"profitFactor"`
	SharpeRatio    float64         `json:"sharpeRatio"`
	MaxDrawdown    float64         `json:"maxDrawdown"`
	AverageWin     float64         `json:"averageWin"`
	AverageLoss    float64         `json:"averageLoss"`
	Expectancy     float64         `json:"expectancy"`
	GrossProfit    float64         `json:"grossProfit"`
	GrossLoss      float64         `json:"grossLoss"`
	MeetsTargets   map[string]bool `json:"meetsTargets"`
}

// RiskMetrics is the risk manager's view of current exposure.
type RiskMetrics struct {
	TotalExposure          float64 `json:"totalExposure"`
	TotalExposurePct       float64 `json:"totalExposurePct"`
	RiskExposure           float64 `json:"riskExposure"`
	RiskExposurePct        float64 `json:"riskExposurePct"`
	DailyPnL               float64 `json:"dailyPnl"`
	DailyLossLimit         float64 `json:"dailyLossLimit"`
	RemainingDailyCapacity float64 `json:"remainingDailyCapacity"`
	OpenPositions          int     `json:"openPositions"`
	MaxPositions           int     `json:"maxPositions"`
	RemainingPositions     int     `json:"remainingPositions"`
	DailyLossLimitReached  bool    `json:"dailyLossLimitReached"`
}
