package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

const alertSendTimeout = 10 * time.Second

// AlertService pushes trading events to registered devices. Each alert key is
// rate limited by the cooldown; a disabled notifier turns every send into a no-op.
type AlertService struct {
	notifier Notifier
	devices  domain.DeviceRegistry
	cooldown time.Duration
	clock    func() time.Time
	log      *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewAlertService(notifier Notifier, devices domain.DeviceRegistry, cooldown time.Duration, log *zap.Logger) *AlertService {
	return &AlertService{
		notifier: notifier,
		devices:  devices,
		cooldown: cooldown,
		clock:    time.Now,
		log:      logger.OrNop(log).Named("alerts"),
		lastSent: make(map[string]time.Time),
	}
}

// Enabled reports whether alerts can be delivered.
func (a *AlertService) Enabled() bool {
	return a != nil && a.notifier != nil && a.notifier.IsEnabled() && a.devices != nil
}

// Send delivers one alert unless key is still cooling down. It reports whether
// a message went out.
func (a *AlertService) Send(ctx context.Context, key, title, body string, data map[string]string) bool {
	if !a.Enabled() {
		return false
	}
	tokens := a.devices.Tokens()
	if len(tokens) == 0 {
		return false
	}

	now := a.clock()
	a.mu.Lock()
	if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.cooldown {
		a.mu.Unlock()
		return false
	}
	a.lastSent[key] = now
	for k, ts := range a.lastSent {
		if now.Sub(ts) > a.cooldown*2 {
			delete(a.lastSent, k)
		}
	}
	a.mu.Unlock()

	if data == nil {
		data = map[string]string{}
	}
	data["type"] = key

	ctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
	defer cancel()
	if err := a.notifier.SendMulticast(ctx, tokens, title, body, data); err != nil {
		a.log.Error("send alert", zap.String("key", key), zap.Error(err))
		a.mu.Lock()
		delete(a.lastSent, key)
		a.mu.Unlock()
		return false
	}
	a.log.Info("alert sent", zap.String("key", key), zap.Int("devices", len(tokens)))
	return true
}

func (a *AlertService) DailyLossLimit(ctx context.Context, dailyPnL, limit float64, closed int) {
	a.Send(ctx, "daily_loss_limit",
		"Daily loss limit reached",
		fmt.Sprintf("Daily P&L %.2f hit the %.2f limit. Closed %d positions, trading paused.", dailyPnL, limit, closed),
		map[string]string{"daily_pnl": fmt.Sprintf("%.2f", dailyPnL)})
}

func (a *AlertService) KillSwitch(ctx context.Context, closed int) {
	a.Send(ctx, "kill_switch",
		"Kill switch activated",
		fmt.Sprintf("Closed %d positions and stopped trading.", closed), nil)
}

func (a *AlertService) PositionOpened(ctx context.Context, p domain.Position) {
	a.Send(ctx, "open:"+p.ID,
		fmt.Sprintf("%s %s opened", p.Pair, p.Side),
		fmt.Sprintf("Size %.6f @ %.2f | TP %.2f | SL %.2f | Confidence %.0f%%", p.Size, p.EntryPrice, p.TakeProfit, p.StopLoss, p.ConfidenceScore),
		map[string]string{"pair": p.Pair, "side": string(p.Side), "price": fmt.Sprintf("%.8f", p.EntryPrice)})
}

func (a *AlertService) PositionClosed(ctx context.Context, t domain.TradeRecord) {
	a.Send(ctx, "close:"+t.ID,
		fmt.Sprintf("%s %s closed: %s", t.Pair, t.Side, t.ExitReason),
		fmt.Sprintf("P&L %.2f (%.2f%%) | Exit %.2f", t.PnL, t.PnLPct, t.ExitPrice),
		map[string]string{"pair": t.Pair, "reason": string(t.ExitReason), "pnl": fmt.Sprintf("%.2f", t.PnL)})
}

func (a *AlertService) OrderRejected(ctx context.Context, rec domain.OrderRecord) {
	a.Send(ctx, "rejected:"+rec.ID,
		fmt.Sprintf("%s %s order rejected", rec.Pair, rec.Type),
		rec.RejectReason,
		map[string]string{"pair": rec.Pair, "order_id": rec.ID})
}

func (a *AlertService) SubsystemPaused(ctx context.Context, loop string, err error) {
	a.Send(ctx, "paused:"+loop,
		fmt.Sprintf("%s paused", loop),
		fmt.Sprintf("%d consecutive failures: %v", maxConsecutiveFatals, err),
		map[string]string{"loop": loop})
}

func (a *AlertService) DailySummary(ctx context.Context, s domain.PerformanceSummary, stats StrategyStats) {
	if !a.Enabled() {
		return
	}
	a.Send(ctx, "daily_summary:"+a.clock().UTC().Format(time.DateOnly),
		"Daily trading summary",
		fmt.Sprintf("P&L today %.2f | Total %.2f | Trades %d | Win rate %.1f%% | Signals %d/%d candles",
			s.DailyPnL, s.TotalPnL, s.TotalTrades, s.WinRate, stats.SignalsGenerated, stats.CandlesAnalyzed),
		nil)
}
