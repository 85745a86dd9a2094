package domain

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketData is the latest ticker view of a pair.
type MarketData struct {
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	Volume24h float64   `json:"volume24h"`
	Timestamp time.Time `json:"timestamp"`
}

// IndicatorSnapshot is recomputed on every evaluation and never stored.
type IndicatorSnapshot struct {
	Price       float64 `json:"price"`
	EMA         float64 `json:"ema"`
	RSI         float64 `json:"rsi"`
	VolumeRatio float64 `json:"volumeRatio"`
}

// SignalType is the direction of a trade signal / position.
type SignalType string

const (
	Long  SignalType = "LONG"
	Short SignalType = "SHORT"
)

// EntrySide returns the order side that opens a position of this direction.
func (t SignalType) EntrySide() OrderSide {
	if t == Short {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side that closes a position of this direction.
func (t SignalType) ExitSide() OrderSide {
	if t == Short {
		return Buy
	}
	return Sell
}

// OrderSide is the exchange-level side of an order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite flips the side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Signal is a directional entry proposal with its computed exit levels.
type Signal struct {
	Type       SignalType        `json:"type"`
	Pair       string            `json:"pair"`
	Price      float64           `json:"price"`
	Confidence float64           `json:"confidence"`
	TakeProfit float64           `json:"takeProfit"`
	StopLoss   float64           `json:"stopLoss"`
	Indicators IndicatorSnapshot `json:"indicators"`
	Timestamp  time.Time         `json:"timestamp"`
}
