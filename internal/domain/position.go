package domain

import "time"

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStopLoss       CloseReason = "STOP_LOSS"
	CloseTakeProfit     CloseReason = "TAKE_PROFIT"
	CloseStrategyExit   CloseReason = "STRATEGY_EXIT"
	CloseTimeout        CloseReason = "TIMEOUT"
	CloseManual         CloseReason = "MANUAL_CLOSE"
	CloseDailyLossLimit CloseReason = "DAILY_LOSS_LIMIT"
	CloseBacktestEnd    CloseReason = "BACKTEST_END"
)

// Position is an open simple long/short position.
type Position struct {
	ID              string     `json:"id"`
	Pair            string     `json:"pair"`
	Side            SignalType `json:"side"`
	Size            float64    `json:"size"`
	EntryPrice      float64    `json:"entryPrice"`
	StopLoss        float64    `json:"stopLoss"`
	TakeProfit      float64    `json:"takeProfit"`
	EntryTime       time.Time  `json:"entryTime"`
	ConfidenceScore float64    `json:"confidenceScore"`
	OrderID         string     `json:"orderId,omitempty"`
	EntryFee        float64    `json:"entryFee,omitempty"`
}

// Notional is the position value at entry.
func (p Position) Notional() float64 {
	return p.Size * p.EntryPrice
}

// PnL is the gross profit or loss of closing at exitPrice.
func (p Position) PnL(exitPrice float64) float64 {
	if p.Side == Short {
		return (p.EntryPrice - exitPrice) * p.Size
	}
	return (exitPrice - p.EntryPrice) * p.Size
}

// StopHit reports whether price crossed the stop on the loss side.
func (p Position) StopHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == Short {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// TargetHit reports whether price crossed the take profit on the profit side.
func (p Position) TargetHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == Short {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}

// Trade row states.
const (
	TradeOpen   = "OPEN"
	TradeClosed = "CLOSED"
)

// TradeRecord is the stored row of a position, written when it opens and
// overwritten when it closes.
type TradeRecord struct {
	ID              string      `json:"id"`
	Status          string      `json:"status"`
	Pair            string      `json:"pair"`
	Side            SignalType  `json:"side"`
	EntryPrice      float64     `json:"entryPrice"`
	ExitPrice       float64     `json:"exitPrice,omitempty"`
	Size            float64     `json:"size"`
	EntryTime       time.Time   `json:"entryTime"`
	ExitTime        time.Time   `json:"exitTime,omitzero"`
	StopLoss        float64     `json:"stopLoss"`
	TakeProfit      float64     `json:"takeProfit"`
	PnL             float64     `json:"pnl"`
	PnLPct          float64     `json:"pnlPct"`
	Fees            float64     `json:"fees"`
	ExitReason      CloseReason `json:"exitReason,omitempty"`
	ConfidenceScore float64     `json:"confidenceScore"`
}

// OpenTradeRecord is the row written when p opens.
func OpenTradeRecord(p Position) TradeRecord {
	return TradeRecord{
		ID:              p.ID,
		Status:          TradeOpen,
		Pair:            p.Pair,
		Side:            p.Side,
		EntryPrice:      p.EntryPrice,
		Size:            p.Size,
		EntryTime:       p.EntryTime,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		Fees:            p.EntryFee,
		ConfidenceScore: p.ConfidenceScore,
	}
}

// NewTradeRecord closes p at exitPrice. fees covers both legs and is taken
// out of the gross P&L.
func NewTradeRecord(p Position, exitPrice float64, exitTime time.Time, reason CloseReason, fees float64) TradeRecord {
	pnl := p.PnL(exitPrice) - fees
	pnlPct := 0.0
	if n := p.Notional(); n > 0 {
		pnlPct = pnl / n * 100
	}
	return TradeRecord{
		ID:              p.ID,
		Status:          TradeClosed,
		Pair:            p.Pair,
		Side:            p.Side,
		EntryPrice:      p.EntryPrice,
		ExitPrice:       exitPrice,
		Size:            p.Size,
		EntryTime:       p.EntryTime,
		ExitTime:        exitTime,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		PnL:             pnl,
		PnLPct:          pnlPct,
		Fees:            fees,
		ExitReason:      reason,
		ConfidenceScore: p.ConfidenceScore,
	}
}
