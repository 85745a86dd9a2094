package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

type BacktestService interface {
	Run(ctx context.Context, candles []domain.Candle, pair string, initialBalance float64) (domain.BacktestRun, error)
	RunForRange(ctx context.Context, pair string, start, end time.Time, initialBalance float64) (domain.BacktestRun, error)
	Get(ctx context.Context, id string) (*domain.BacktestRun, error)
	List(ctx context.Context, limit int) ([]domain.BacktestRun, error)
}

type BacktestHandler struct {
	backtests BacktestService
	log       *zap.Logger
}

func NewBacktestHandler(backtests BacktestService, log *zap.Logger) *BacktestHandler {
	return &BacktestHandler{backtests: backtests, log: logger.OrNop(log)}
}

// BacktestRequest runs either the inline candles or the fetched range.
type BacktestRequest struct {
	Pair           string          `json:"pair" validate:"required"`
	InitialBalance float64         `json:"initialBalance" default:"10000" validate:"gt=0"`
	Candles        []domain.Candle `json:"candles,omitempty"`
	StartDate      *time.Time      `json:"startDate,omitempty" validate:"required_without=Candles"`
	EndDate        *time.Time      `json:"endDate,omitempty" validate:"required_without=Candles"`
}

// HandleRun handles POST /api/backtest
func (h *BacktestHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := decodeAndValidate(r.Context(), r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	var (
		run domain.BacktestRun
		err error
	)
	switch {
	case len(req.Candles) > 0:
		run, err = h.backtests.Run(r.Context(), req.Candles, req.Pair, req.InitialBalance)
	case req.StartDate != nil && req.EndDate != nil:
		run, err = h.backtests.RunForRange(r.Context(), req.Pair, *req.StartDate, *req.EndDate, req.InitialBalance)
	default:
		err = domain.NewValidationError("candles", "provide candles or startDate and endDate")
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

const (
	defaultBacktestLimit = 50
	maxBacktestLimit     = 500
)

// HandleList handles GET /api/backtests?limit=
func (h *BacktestHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultBacktestLimit, maxBacktestLimit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	runs, err := h.backtests.List(r.Context(), limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGet handles GET /api/backtests/{id}
func (h *BacktestHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.backtests.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
