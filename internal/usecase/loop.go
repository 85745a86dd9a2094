package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// maxConsecutiveFatals is the number of failed iterations in a row after
// which a loop escalates.
const maxConsecutiveFatals = 3

// loopGuard counts consecutive failures of one monitoring loop, backs off
// after each and escalates once the limit is reached.
type loopGuard struct {
	name     string
	backoff  time.Duration
	escalate func(err error)
	log      *zap.Logger
	metrics  Metrics

	consecutive int
}

func newLoopGuard(name string, backoff time.Duration, escalate func(error), log *zap.Logger, m Metrics) *loopGuard {
	return &loopGuard{name: name, backoff: backoff, escalate: escalate, log: log, metrics: metricsOrNop(m)}
}

// ok resets the failure streak.
func (g *loopGuard) ok() {
	g.consecutive = 0
}

// fail records err and sleeps for the backoff. It returns false when ctx ended
// while waiting.
func (g *loopGuard) fail(ctx context.Context, err error) bool {
	g.consecutive++
	g.metrics.LoopError(g.name)
	g.log.Error("loop iteration failed",
		zap.String("loop", g.name), zap.Int("consecutive", g.consecutive), zap.Error(err))

	if g.consecutive == maxConsecutiveFatals && g.escalate != nil {
		g.log.Warn("loop escalated", zap.String("loop", g.name))
		g.escalate(err)
	}
	return sleepCtx(ctx, g.backoff)
}

// sleepCtx waits for d or until ctx is done; it reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
