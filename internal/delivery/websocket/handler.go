package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scalper-backend/internal/infrastructure/logger"
	"scalper-backend/internal/usecase"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotSource produces the live engine view.
type SnapshotSource interface {
	Snapshot() usecase.EngineSnapshot
}

// Handler streams engine snapshots to each connected client.
type Handler struct {
	source   SnapshotSource
	interval time.Duration
	done     <-chan struct{}
	log      *zap.Logger
}

// NewHandler pushes a snapshot every interval. Streams end when the client
// goes away or ctx is cancelled.
func NewHandler(ctx context.Context, source SnapshotSource, interval time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		source:   source,
		interval: interval,
		done:     ctx.Done(),
		log:      logger.OrNop(log).Named("ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.log.Info("client connected", zap.String("remote", r.RemoteAddr))
	defer h.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))

	// The reader only exists to notice the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if !h.push(conn) {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !h.push(conn) {
				return
			}
		}
	}
}

func (h *Handler) push(conn *websocket.Conn) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(h.source.Snapshot()); err != nil {
		h.log.Debug("write failed", zap.Error(err))
		return false
	}
	return true
}
