package http

import (
	"net/http"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
	"scalper-backend/internal/usecase"
)

// Handlers groups everything mounted by NewRouter.
type Handlers struct {
	Bot       *BotHandler
	Orders    *OrderHandler
	Grids     *StrategyHandler[*domain.GridStrategy, usecase.CreateGridRequest]
	DCA       *StrategyHandler[*domain.DCAStrategy, usecase.CreateDCARequest]
	Backtests *BacktestHandler
	Devices   *TokenHandler
	Monitors  *MonitorHandler
	Metrics   http.Handler
	Stream    http.Handler
}

// NewRouter registers the REST API on a ServeMux and wraps it with panic
// recovery and request logging. Monitors, Metrics and Stream may be nil.
func NewRouter(h Handlers, log *zap.Logger) http.Handler {
	log = logger.OrNop(log).Named("http")
	mux := http.NewServeMux()

	// Bot control
	mux.HandleFunc("GET /api/bot/status", h.Bot.HandleStatus)
	mux.HandleFunc("POST /api/bot/start", h.Bot.HandleStart)
	mux.HandleFunc("POST /api/bot/stop", h.Bot.HandleStop)
	mux.HandleFunc("POST /api/bot/pause", h.Bot.HandlePause)
	mux.HandleFunc("POST /api/bot/resume", h.Bot.HandleResume)
	mux.HandleFunc("POST /api/bot/kill", h.Bot.HandleKill)
	mux.HandleFunc("POST /api/bot/close-all", h.Bot.HandleCloseAll)
	mux.HandleFunc("POST /api/bot/reload", h.Bot.HandleReload)

	// Positions, risk and performance
	mux.HandleFunc("GET /api/positions", h.Bot.HandlePositions)
	mux.HandleFunc("POST /api/positions/{id}/close", h.Bot.HandleClosePosition)
	mux.HandleFunc("GET /api/risk", h.Bot.HandleRisk)
	mux.HandleFunc("GET /api/performance", h.Bot.HandlePerformance)
	mux.HandleFunc("GET /api/trades", h.Bot.HandleTrades)

	// Backtests
	mux.HandleFunc("POST /api/backtest", h.Backtests.HandleRun)
	mux.HandleFunc("GET /api/backtests", h.Backtests.HandleList)
	mux.HandleFunc("GET /api/backtests/{id}", h.Backtests.HandleGet)

	// Advanced orders
	mux.HandleFunc("GET /api/orders", h.Orders.HandleList)
	mux.HandleFunc("POST /api/orders", h.Orders.HandleCreate)
	mux.HandleFunc("GET /api/orders/{id}", h.Orders.HandleGet)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.Orders.HandleCancel)

	// Grid and DCA strategies
	mux.HandleFunc("GET /api/grids", h.Grids.HandleList)
	mux.HandleFunc("POST /api/grids", h.Grids.HandleCreate)
	mux.HandleFunc("GET /api/grids/{id}", h.Grids.HandleGet)
	mux.HandleFunc("POST /api/grids/{id}/{action}", h.Grids.HandleAction)
	mux.HandleFunc("GET /api/dca", h.DCA.HandleList)
	mux.HandleFunc("POST /api/dca", h.DCA.HandleCreate)
	mux.HandleFunc("GET /api/dca/{id}", h.DCA.HandleGet)
	mux.HandleFunc("POST /api/dca/{id}/{action}", h.DCA.HandleAction)

	// Devices
	mux.HandleFunc("POST /api/devices/register", h.Devices.HandleRegisterToken)
	mux.HandleFunc("POST /api/devices/unregister", h.Devices.HandleUnregisterToken)
	mux.HandleFunc("GET /api/devices/count", h.Devices.HandleGetTokenCount)

	if h.Monitors != nil {
		mux.HandleFunc("GET /api/monitors", h.Monitors.HandleList)
		mux.HandleFunc("POST /api/monitors/{name}/resume", h.Monitors.HandleResume)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.Stream != nil {
		mux.Handle("GET /ws", h.Stream)
	}

	return withRecovery(log, withLogging(log, mux))
}
