package domain

import (
	"context"
	"time"
)

// OrderRequest is a market order. For BUY a positive QuoteSize spends that
// quote amount instead of buying Size base units.
type OrderRequest struct {
	Pair      string    `json:"pair"`
	Side      OrderSide `json:"side"`
	Size      float64   `json:"size"`
	QuoteSize float64   `json:"quoteSize,omitempty"`
}

// OrderResult is the exchange acknowledgement of an order.
type OrderResult struct {
	OrderID   string  `json:"orderId"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fillPrice,omitempty"`
	FillSize  float64 `json:"fillSize,omitempty"`
	Fee       float64 `json:"fee,omitempty"`
}

// MarketDataReader reads latest prices.
type MarketDataReader interface {
	GetMarketData(ctx context.Context, pairs []string) (map[string]MarketData, error)
}

// CandleSource reads historical candles ordered by timestamp.
type CandleSource interface {
	GetCandles(ctx context.Context, pair, interval string, start, end time.Time) ([]Candle, error)
}

// OrderSubmitter places and cancels market orders.
type OrderSubmitter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}

// BalanceReader reads the quote-currency balance available for trading.
type BalanceReader interface {
	GetAccountBalance(ctx context.Context) (float64, error)
}

// Exchange is the full collaborator used by the trading engine.
type Exchange interface {
	MarketDataReader
	CandleSource
	OrderSubmitter
	BalanceReader
}
