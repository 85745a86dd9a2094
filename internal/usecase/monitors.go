package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

// ManagerDeps are the collaborators shared by the order, grid and DCA monitors.
type ManagerDeps struct {
	Exchange        domain.OrderSubmitter
	Market          domain.MarketDataReader
	Store           domain.StrategyStore
	Alerts          *AlertService
	Metrics         Metrics
	Log             *zap.Logger
	Clock           func() time.Time
	ExchangeTimeout time.Duration
	Interval        time.Duration
	ErrorBackoff    time.Duration
}

func (d ManagerDeps) normalize(name string) ManagerDeps {
	d.Metrics = metricsOrNop(d.Metrics)
	d.Log = logger.OrNop(d.Log).Named(name)
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Interval <= 0 {
		d.Interval = time.Second
	}
	if d.ErrorBackoff <= 0 {
		d.ErrorBackoff = d.Interval
	}
	return d
}

// exchangeCall bounds fn with timeout and records its latency. A deadline
// surfaces as an ExchangeError of kind timeout.
func exchangeCall(ctx context.Context, timeout time.Duration, m Metrics, op string, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	m.ObserveExchange(op, time.Since(start))
	if err == nil {
		return nil
	}
	if _, ok := domain.IsExchangeError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ExchangeError{Kind: domain.ExchangeTimeout, Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d ManagerDeps) prices(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	var md map[string]domain.MarketData
	err := exchangeCall(ctx, d.ExchangeTimeout, d.Metrics, "get_market_data", func(ctx context.Context) error {
		var err error
		md, err = d.Market.GetMarketData(ctx, pairs)
		return err
	})
	return md, err
}

func (d ManagerDeps) submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	var res domain.OrderResult
	err := exchangeCall(ctx, d.ExchangeTimeout, d.Metrics, "place_order", func(ctx context.Context) error {
		var err error
		res, err = d.Exchange.PlaceOrder(ctx, req)
		return err
	})
	return res, err
}

// monitorState holds the escalation pause of one monitor loop.
type monitorState struct {
	paused atomic.Bool
}

// MonitorPaused reports whether repeated failures paused the loop.
func (s *monitorState) MonitorPaused() bool {
	return s.paused.Load()
}

// ResumeMonitor lets a paused loop tick again. It reports whether the loop was paused.
func (s *monitorState) ResumeMonitor() bool {
	return s.paused.Swap(false)
}

// runMonitor calls tick every interval until ctx is done. A failed tick is
// followed by the error backoff; the third failure in a row pauses the loop
// and sends an alert. A paused loop skips its ticks until resumed.
func runMonitor(ctx context.Context, name string, d ManagerDeps, state *monitorState, tick func(context.Context) error) error {
	guard := newLoopGuard(name, d.ErrorBackoff, func(err error) {
		if state.paused.CompareAndSwap(false, true) {
			d.Log.Warn("monitor paused", zap.String("loop", name))
			d.Alerts.SubsystemPaused(ctx, name, err)
		}
	}, d.Log, d.Metrics)

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if state.MonitorPaused() {
			guard.ok()
			continue
		}
		if err := tick(ctx); err != nil {
			if !guard.fail(ctx, err) {
				return nil
			}
			continue
		}
		guard.ok()
	}
}

func uniquePairs[T any](items []T, pair func(T) string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		p := pair(it)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func priceOf(md map[string]domain.MarketData, pair string) (float64, bool) {
	d, ok := md[pair]
	return d.Price, ok && d.Price > 0
}
