package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
	"scalper-backend/internal/usecase"
)

// strategyService is the lifecycle shared by grid and DCA managers.
type strategyService[T any] interface {
	List(pair string, status domain.StrategyStatus) []T
	Get(id string) (T, error)
	Pause(ctx context.Context, id string) (T, error)
	Resume(ctx context.Context, id string) (T, error)
	Stop(ctx context.Context, id string) (T, error)
}

type GridService interface {
	strategyService[*domain.GridStrategy]
	Create(ctx context.Context, req usecase.CreateGridRequest) (*domain.GridStrategy, error)
}

type DCAService interface {
	strategyService[*domain.DCAStrategy]
	Create(ctx context.Context, req usecase.CreateDCARequest) (*domain.DCAStrategy, error)
}

// StrategyHandler serves one kind of scheduled strategy. Req is the create
// request body.
type StrategyHandler[T any, Req any] struct {
	svc    strategyService[T]
	create func(context.Context, Req) (T, error)
	log    *zap.Logger
}

func NewGridHandler(grids GridService, log *zap.Logger) *StrategyHandler[*domain.GridStrategy, usecase.CreateGridRequest] {
	return &StrategyHandler[*domain.GridStrategy, usecase.CreateGridRequest]{svc: grids, create: grids.Create, log: logger.OrNop(log)}
}

func NewDCAHandler(dca DCAService, log *zap.Logger) *StrategyHandler[*domain.DCAStrategy, usecase.CreateDCARequest] {
	return &StrategyHandler[*domain.DCAStrategy, usecase.CreateDCARequest]{svc: dca, create: dca.Create, log: logger.OrNop(log)}
}

// HandleCreate handles POST on the collection.
func (h *StrategyHandler[T, Req]) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req Req
	if err := decodeAndValidate(r.Context(), r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	out, err := h.create(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// HandleList handles GET on the collection with ?pair= and ?status=.
func (h *StrategyHandler[T, Req]) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items := h.svc.List(q.Get("pair"), domain.StrategyStatus(q.Get("status")))
	if items == nil {
		items = make([]T, 0)
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *StrategyHandler[T, Req]) HandleGet(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleAction handles POST .../{id}/{action} for pause, resume and stop.
func (h *StrategyHandler[T, Req]) HandleAction(w http.ResponseWriter, r *http.Request) {
	var act func(context.Context, string) (T, error)
	switch r.PathValue("action") {
	case "pause":
		act = h.svc.Pause
	case "resume":
		act = h.svc.Resume
	case "stop":
		act = h.svc.Stop
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown action " + r.PathValue("action")})
		return
	}
	out, err := act(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
