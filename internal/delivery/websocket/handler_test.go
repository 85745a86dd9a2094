package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/usecase"
)

type countingSource struct{ calls atomic.Int32 }

func (s *countingSource) Snapshot() usecase.EngineSnapshot {
	s.calls.Add(1)
	return usecase.EngineSnapshot{
		Status:    usecase.StatusRunning,
		Positions: []domain.Position{{ID: "p1", Pair: "BTC-USD", Side: domain.Long}},
	}
}

func dial(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandlerPushesSnapshots(t *testing.T) {
	src := &countingSource{}
	h := NewHandler(context.Background(), src, 20*time.Millisecond, nil)
	conn := dial(t, h)

	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap usecase.EngineSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if snap.Status != usecase.StatusRunning || len(snap.Positions) != 1 || snap.Positions[0].ID != "p1" {
			t.Fatalf("snapshot = %+v", snap)
		}
	}
	if src.calls.Load() < 2 {
		t.Fatalf("calls = %d", src.calls.Load())
	}
}

func TestHandlerClosesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHandler(ctx, &countingSource{}, time.Hour, nil)
	conn := dial(t, h)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap usecase.EngineSnapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("err = %v, want going away close", err)
	}
}
