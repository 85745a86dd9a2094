package http

import (
	"cmp"
	"fmt"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

// Monitor is a background loop that pauses itself after repeated failures.
type Monitor interface {
	MonitorPaused() bool
	ResumeMonitor() bool
}

type MonitorHandler struct {
	monitors map[string]Monitor
	log      *zap.Logger
}

func NewMonitorHandler(monitors map[string]Monitor, log *zap.Logger) *MonitorHandler {
	return &MonitorHandler{monitors: monitors, log: logger.OrNop(log)}
}

type MonitorStatus struct {
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
}

// HandleList handles GET /api/monitors
func (h *MonitorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	out := make([]MonitorStatus, 0, len(h.monitors))
	for name, m := range h.monitors {
		out = append(out, MonitorStatus{Name: name, Paused: m.MonitorPaused()})
	}
	slices.SortFunc(out, func(a, b MonitorStatus) int { return cmp.Compare(a.Name, b.Name) })
	writeJSON(w, http.StatusOK, out)
}

// HandleResume handles POST /api/monitors/{name}/resume
func (h *MonitorHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, ok := h.monitors[name]
	if !ok {
		writeError(w, h.log, fmt.Errorf("monitor %s: %w", name, domain.ErrNotFound))
		return
	}
	msg := "Monitor was not paused"
	if m.ResumeMonitor() {
		msg = "Monitor resumed"
		h.log.Info("monitor resumed", zap.String("loop", name))
	}
	writeJSON(w, http.StatusOK, BotResponse{Success: true, Message: msg, Status: "running"})
}
