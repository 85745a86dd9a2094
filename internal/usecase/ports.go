package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"scalper-backend/internal/domain"
)

// Metrics receives engine events. The Prometheus recorder implements it.
type Metrics interface {
	SignalGenerated(pair string, side domain.SignalType)
	PositionOpened(pair string, side domain.SignalType)
	PositionClosed(pair string, reason domain.CloseReason, pnl float64)
	SetOpenPositions(n int)
	OrderTriggered(orderType domain.OrderType, outcome string)
	GridFill(pair string, side domain.OrderSide)
	DCAExecuted(pair string, side domain.OrderSide)
	LoopError(loop string)
	ObserveExchange(op string, d time.Duration)
	ObserveBacktest(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) SignalGenerated(string, domain.SignalType) {}
func (nopMetrics) PositionOpened(string, domain.SignalType) {}
func (nopMetrics) PositionClosed(string, domain.CloseReason, float64) {}
func (nopMetrics) SetOpenPositions(int) {}
func (nopMetrics) OrderTriggered(domain.OrderType, string) {}
func (nopMetrics) GridFill(string, domain.OrderSide) {}
func (nopMetrics) DCAExecuted(string, domain.OrderSide) {}
func (nopMetrics) LoopError(string) {}
func (nopMetrics) ObserveExchange(string, time.Duration) {}
func (nopMetrics) ObserveBacktest(time.Duration) {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// Notifier delivers push messages to device tokens.
type Notifier interface {
	IsEnabled() bool
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Order trigger outcomes reported to Metrics.
const (
	OutcomeFilled   = "filled"
	OutcomePartial  = "partial"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
)

func newID() string {
	return uuid.NewString()
}
