package domain

import (
	"context"
	"time"
)

// TradeRepository persists closed trades.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade TradeRecord) error
	ListTrades(ctx context.Context, from time.Time, limit int) ([]TradeRecord, error)
}

// BacktestRepository persists backtest runs.
type BacktestRepository interface {
	SaveBacktest(ctx context.Context, run BacktestRun) error
	GetBacktest(ctx context.Context, id string) (*BacktestRun, error)
	ListBacktests(ctx context.Context, limit int) ([]BacktestRun, error)
}

// StrategyStore persists advanced orders, grids and DCA strategies as typed payloads.
type StrategyStore interface {
	SaveOrder(ctx context.Context, rec OrderRecord) error
	LoadOrders(ctx context.Context) ([]OrderRecord, error)
	SaveGrid(ctx context.Context, g *GridStrategy) error
	LoadGrids(ctx context.Context) ([]*GridStrategy, error)
	SaveDCA(ctx context.Context, d *DCAStrategy) error
	LoadDCAs(ctx context.Context) ([]*DCAStrategy, error)
}

// DeviceToken is a push notification target.
type DeviceToken struct {
	Token        string    `json:"token"`
	Platform     string    `json:"platform"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// DeviceRegistry stores push notification targets.
type DeviceRegistry interface {
	Register(token DeviceToken) error
	Unregister(token string) bool
	Tokens() []string
	Count() int
}
