package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
	"scalper-backend/internal/usecase"
)

type OrderService interface {
	Create(ctx context.Context, req usecase.CreateOrderRequest) (domain.OrderRecord, error)
	List(f usecase.OrderFilter) []domain.OrderRecord
	Get(id string) (domain.OrderRecord, error)
	Cancel(ctx context.Context, id string) (domain.OrderRecord, error)
}

// OrderHandler exposes the advanced order monitor.
type OrderHandler struct {
	orders OrderService
	log    *zap.Logger
}

func NewOrderHandler(orders OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, log: logger.OrNop(log)}
}

// HandleCreate handles POST /api/orders
func (h *OrderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req usecase.CreateOrderRequest
	if err := decodeAndValidate(r.Context(), r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	rec, err := h.orders.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleList handles GET /api/orders?pair=&status=&type=
func (h *OrderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.orders.List(usecase.OrderFilter{
		Pair:   q.Get("pair"),
		Status: domain.OrderStatus(q.Get("status")),
		Type:   domain.OrderType(q.Get("type")),
	}))
}

// HandleGet handles GET /api/orders/{id}
func (h *OrderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orders.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleCancel handles POST /api/orders/{id}/cancel
func (h *OrderHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orders.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
