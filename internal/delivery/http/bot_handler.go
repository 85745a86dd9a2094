package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
	"scalper-backend/internal/usecase"
)

// Engine is the slice of the trading engine the API drives.
type Engine interface {
	Status() usecase.EngineStatus
	Start(ctx context.Context) error
	Stop()
	Pause() error
	Resume() error
	KillSwitch(ctx context.Context) int
	CloseAllPositions(ctx context.Context) int
	ClosePosition(ctx context.Context, id string) (domain.TradeRecord, error)
	GetPositions() []domain.Position
	GetRiskMetrics(ctx context.Context) domain.RiskMetrics
	Performance() domain.PerformanceSummary
	Tracker() *usecase.PerformanceTracker
	Balance() float64
}

// Reloader re-reads configuration and notifies its subscribers.
type Reloader interface {
	Reload() (*config.Config, error)
}

type BotHandler struct {
	engine   Engine
	reloader Reloader
	trades   domain.TradeRepository
	log      *zap.Logger
}

func NewBotHandler(engine Engine, reloader Reloader, trades domain.TradeRepository, log *zap.Logger) *BotHandler {
	return &BotHandler{engine: engine, reloader: reloader, trades: trades, log: logger.OrNop(log)}
}

type BotResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Closed  int    `json:"closed,omitempty"`
}

type StatusResponse struct {
	Status        string    `json:"status"`
	OpenPositions int       `json:"openPositions"`
	Balance       float64   `json:"balance"`
	Timestamp     time.Time `json:"timestamp"`
}

func (h *BotHandler) respond(w http.ResponseWriter, msg string, closed int) {
	writeJSON(w, http.StatusOK, BotResponse{
		Success: true,
		Message: msg,
		Status:  string(h.engine.Status()),
		Closed:  closed,
	})
}

// HandleStatus handles GET /api/bot/status
func (h *BotHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        string(h.engine.Status()),
		OpenPositions: len(h.engine.GetPositions()),
		Balance:       h.engine.Balance(),
		Timestamp:     time.Now().UTC(),
	})
}

// HandleStart handles POST /api/bot/start
func (h *BotHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respond(w, "Engine started", 0)
}

// HandleStop handles POST /api/bot/stop
func (h *BotHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	h.respond(w, "Engine stopped", 0)
}

// HandlePause handles POST /api/bot/pause
func (h *BotHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respond(w, "Engine paused", 0)
}

// HandleResume handles POST /api/bot/resume
func (h *BotHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respond(w, "Engine resumed", 0)
}

// HandleKill handles POST /api/bot/kill
func (h *BotHandler) HandleKill(w http.ResponseWriter, r *http.Request) {
	closed := h.engine.KillSwitch(r.Context())
	h.respond(w, "Kill switch activated", closed)
}

// HandleCloseAll handles POST /api/bot/close-all
func (h *BotHandler) HandleCloseAll(w http.ResponseWriter, r *http.Request) {
	closed := h.engine.CloseAllPositions(r.Context())
	h.respond(w, "Positions closed", closed)
}

// HandleReload handles POST /api/bot/reload. A bad file keeps the running
// configuration and reports 500.
func (h *BotHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if _, err := h.reloader.Reload(); err != nil {
		h.log.Error("reload config", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	h.respond(w, "Configuration reloaded", 0)
}

// HandlePositions handles GET /api/positions
func (h *BotHandler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	positions := h.engine.GetPositions()
	if positions == nil {
		positions = make([]domain.Position, 0)
	}
	writeJSON(w, http.StatusOK, positions)
}

// HandleClosePosition handles POST /api/positions/{id}/close
func (h *BotHandler) HandleClosePosition(w http.ResponseWriter, r *http.Request) {
	trade, err := h.engine.ClosePosition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// HandleRisk handles GET /api/risk
func (h *BotHandler) HandleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetRiskMetrics(r.Context()))
}

type PerformanceResponse struct {
	Summary     domain.PerformanceSummary `json:"summary"`
	EquityCurve []domain.EquityPoint      `json:"equityCurve"`
	Daily       []usecase.DailyPnL        `json:"daily"`
}

const equityCurvePoints = 200

// HandlePerformance handles GET /api/performance
func (h *BotHandler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	tracker := h.engine.Tracker()
	resp := PerformanceResponse{
		Summary:     h.engine.Performance(),
		EquityCurve: tracker.EquityCurve(equityCurvePoints),
		Daily:       tracker.DailyHistory(),
	}
	if resp.EquityCurve == nil {
		resp.EquityCurve = make([]domain.EquityPoint, 0)
	}
	if resp.Daily == nil {
		resp.Daily = make([]usecase.DailyPnL, 0)
	}
	writeJSON(w, http.StatusOK, resp)
}

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// HandleTrades handles GET /api/trades?limit=
func (h *BotHandler) HandleTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultTradeLimit, maxTradeLimit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	trades, err := h.trades.ListTrades(r.Context(), time.Time{}, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if trades == nil {
		trades = make([]domain.TradeRecord, 0)
	}
	writeJSON(w, http.StatusOK, trades)
}

// queryLimit reads ?limit=, falling back to def and capping at ceiling.
func queryLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, domain.NewValidationError("limit", "must be a positive integer")
	}
	return min(n, ceiling), nil
}
