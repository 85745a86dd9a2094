package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

type TokenHandler struct {
	devices domain.DeviceRegistry
	log     *zap.Logger
}

func NewTokenHandler(devices domain.DeviceRegistry, log *zap.Logger) *TokenHandler {
	return &TokenHandler{
		devices: devices,
		log:     logger.OrNop(log),
	}
}

type RegisterTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" default:"android" validate:"oneof=android ios web"`
}

type TokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// HandleRegisterToken handles POST /api/devices/register
func (h *TokenHandler) HandleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req RegisterTokenRequest
	if err := decodeAndValidate(r.Context(), r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	err := h.devices.Register(domain.DeviceToken{
		Token:        req.Token,
		Platform:     req.Platform,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Success: true,
		Message: "Token registered successfully",
		Count:   h.devices.Count(),
	})
}

// HandleUnregisterToken handles POST /api/devices/unregister
func (h *TokenHandler) HandleUnregisterToken(w http.ResponseWriter, r *http.Request) {
	var req RegisterTokenRequest
	if err := decodeAndValidate(r.Context(), r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	msg := "Token unregistered successfully"
	if !h.devices.Unregister(req.Token) {
		msg = "Token was not registered"
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Success: true,
		Message: msg,
		Count:   h.devices.Count(),
	})
}

// HandleGetTokenCount handles GET /api/devices/count
func (h *TokenHandler) HandleGetTokenCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TokenResponse{
		Success: true,
		Message: "Token count retrieved",
		Count:   h.devices.Count(),
	})
}
