package usecase

import (
	"errors"
	"testing"
	"time"

	"scalper-backend/internal/domain"
)

func defaultLimits() RiskLimits {
	return RiskLimits{
		RiskPerTradePct:    0.25,
		MaxPositions:       2,
		DailyLossLimit:     2000,
		MaxPositionSizePct: 50,
		PositionTimeout:    10 * time.Minute,
	}
}

func TestCalculatePositionSize(t *testing.T) {
	uncapped := defaultLimits()
	uncapped.MaxPositionSizePct = 200

	tests := []struct {
		name   string
		limits RiskLimits
		entry  float64
		stop   float64
		side   domain.SignalType
		want   float64
	}{
		{"risk based", uncapped, 50000, 49900, domain.Long, 2.5},
		{"capped at max position size", defaultLimits(), 50000, 49900, domain.Long, 1},
		{"short stop above entry", uncapped, 50000, 50100, domain.Short, 2.5},
		{"long stop above entry", uncapped, 50000, 50100, domain.Long, 0},
		{"zero distance", uncapped, 50000, 50000, domain.Short, 0},
	}
	for _, tt := range tests {
		r := NewRiskManager(tt.limits, nil)
		if got := r.CalculatePositionSize(100000, tt.entry, tt.stop, tt.side); !near(got, tt.want, 1e-9) {
			t.Errorf("%s: size = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPositionSizeNeverExceedsCap(t *testing.T) {
	r := NewRiskManager(defaultLimits(), nil)
	for _, stop := range []float64{49999, 49990, 49500, 45000} {
		size := r.CalculatePositionSize(100000, 50000, stop, domain.Long)
		if size*50000 > 100000*0.5+1e-6 {
			t.Fatalf("stop %v: notional %v exceeds cap", stop, size*50000)
		}
	}
}

func TestValidateTradeOrder(t *testing.T) {
	open := domain.Position{Pair: "BTC-USD", Side: domain.Long, Size: 0.5, EntryPrice: 50000}

	tests := []struct {
		name    string
		daily   float64
		open    []domain.Position
		size    float64
		wantErr string
	}{
		{"accepted", 0, nil, 0.5, ""},
		{"daily loss first", -2000, []domain.Position{open, open}, 10, "daily loss limit reached: -2000.00"},
		{"max positions", 0, []domain.Position{open, open}, 0.1, "maximum positions reached: 2/2"},
		{"position too large", 0, nil, 1.2, "position size too large: 60.00% > 50.00%"},
		{"exposure", 0, []domain.Position{{Size: 1.5, EntryPrice: 50000}}, 0.6, "total exposure too high: 105.00%"},
		{"capacity", -1800, nil, 0.1, "insufficient daily risk capacity: 200.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRiskManager(defaultLimits(), nil)
			r.UpdateDailyPnl(tt.daily)
			err := r.ValidateTrade(100000, tt.open, tt.size, 50000)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				return
			}
			var rr *domain.RiskRejectedError
			if !errors.As(err, &rr) || rr.Reason != tt.wantErr {
				t.Fatalf("err = %v, want reason %q", err, tt.wantErr)
			}
		})
	}
}

func TestShouldCloseAllAtDailyLimit(t *testing.T) {
	r := NewRiskManager(defaultLimits(), nil)
	r.UpdateDailyPnl(-1999.99)
	if r.ShouldCloseAllPositions() {
		t.Fatal("closed before the limit")
	}
	r.UpdateDailyPnl(-0.01)
	if !r.ShouldCloseAllPositions() {
		t.Fatalf("daily pnl %v did not trigger close-all", r.DailyPnl())
	}
	if !r.RiskMetrics(100000, nil).DailyLossLimitReached {
		t.Fatal("metrics disagree with close-all")
	}
}

func TestDailyPnlResetsAtUTCMidnight(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	r := NewRiskManager(defaultLimits(), nil, WithRiskClock(func() time.Time { return now }))
	r.UpdateDailyPnl(-2000)
	if !r.ShouldCloseAllPositions() {
		t.Fatal("limit not reached")
	}
	now = now.Add(2 * time.Minute)
	if r.DailyPnl() != 0 || r.ShouldCloseAllPositions() {
		t.Fatalf("daily pnl not reset: %v", r.DailyPnl())
	}
}

func TestSetLimitsKeepsDailyPnl(t *testing.T) {
	r := NewRiskManager(defaultLimits(), nil)
	r.UpdateDailyPnl(-500)
	l := defaultLimits()
	l.DailyLossLimit = 400
	r.SetLimits(l)
	if r.DailyPnl() != -500 || !r.ShouldCloseAllPositions() {
		t.Fatalf("limits swap lost state: %v", r.DailyPnl())
	}
}

func TestRiskMetrics(t *testing.T) {
	r := NewRiskManager(defaultLimits(), nil)
	r.UpdateDailyPnl(-300)
	open := []domain.Position{
		{Side: domain.Long, Size: 1, EntryPrice: 50000, StopLoss: 49900},
		{Side: domain.Short, Size: 10, EntryPrice: 3000, StopLoss: 3010},
	}
	m := r.RiskMetrics(100000, open)
	if m.TotalExposure != 80000 || !near(m.TotalExposurePct, 80, 1e-9) {
		t.Fatalf("exposure = %v (%v%%)", m.TotalExposure, m.TotalExposurePct)
	}
	if !near(m.RiskExposure, 200, 1e-9) || m.RemainingDailyCapacity != 1700 || m.RemainingPositions != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestCheckPositionTimeout(t *testing.T) {
	r := NewRiskManager(defaultLimits(), nil)
	now := t0
	p := domain.Position{EntryTime: now.Add(-11 * time.Minute)}
	if !r.CheckPositionTimeout(p, now) {
		t.Fatal("11 minute position not timed out")
	}
	p.EntryTime = now.Add(-9 * time.Minute)
	if r.CheckPositionTimeout(p, now) {
		t.Fatal("9 minute position timed out")
	}
	p.EntryTime = now.Add(-10 * time.Minute)
	if !r.CheckPositionTimeout(p, now) {
		t.Fatal("timeout is inclusive")
	}
}
