// Package paper simulates order execution against live market data.
package paper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

// Holding is the simulated net position in one pair. Size is negative for shorts.
type Holding struct {
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
}

type holding struct {
	size decimal.Decimal
	avg  decimal.Decimal
}

// Exchange fills market orders at the current price with random slippage and
// a flat fee. Prices and candles come from the wrapped readers.
type Exchange struct {
	market  domain.MarketDataReader
	candles domain.CandleSource
	feeRate decimal.Decimal
	slipMin float64
	slipMax float64
	log     *zap.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	balance   decimal.Decimal
	positions map[string]*holding
	orders    map[string]domain.OrderResult
	seq       int
}

// New builds a paper exchange holding initialBalance in the quote currency.
// A zero cfg.Seed seeds the RNG from the clock.
func New(market domain.MarketDataReader, candles domain.CandleSource, cfg config.PaperConfig, initialBalance float64, log *zap.Logger) *Exchange {
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Exchange{
		market:    market,
		candles:   candles,
		feeRate:   decimal.NewFromFloat(cfg.FeeRate),
		slipMin:   cfg.SlippageMinPct,
		slipMax:   cfg.SlippageMaxPct,
		log:       logger.OrNop(log).Named("paper"),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		balance:   decimal.NewFromFloat(initialBalance),
		positions: make(map[string]*holding),
		orders:    make(map[string]domain.OrderResult),
	}
}

func (e *Exchange) GetMarketData(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	return e.market.GetMarketData(ctx, pairs)
}

func (e *Exchange) GetCandles(ctx context.Context, pair, interval string, start, end time.Time) ([]domain.Candle, error) {
	return e.candles.GetCandles(ctx, pair, interval, start, end)
}

func (e *Exchange) GetAccountBalance(context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance.InexactFloat64(), nil
}

// PlaceOrder fills req immediately. BUY fills above the market price and
// SELL below it; selling more than is held opens or extends a short.
func (e *Exchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if !req.Side.Valid() {
		return domain.OrderResult{}, domain.NewValidationError("side", "must be BUY or SELL")
	}
	md, err := e.market.GetMarketData(ctx, []string{req.Pair})
	if err != nil {
		return domain.OrderResult{}, err
	}
	quote, ok := md[req.Pair]
	if !ok || quote.Price <= 0 {
		return domain.OrderResult{}, &domain.ExchangeError{
			Kind: domain.ExchangeServer, Op: "place_order", Err: fmt.Errorf("no price for %s", req.Pair),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	slip := e.slipMin + e.rng.Float64()*(e.slipMax-e.slipMin)
	if req.Side == domain.Sell {
		slip = -slip
	}
	fill := decimal.NewFromFloat(quote.Price).Mul(decimal.NewFromFloat(1 + slip/100))

	size := decimal.NewFromFloat(req.Size)
	if req.Side == domain.Buy && req.QuoteSize > 0 {
		size = decimal.NewFromFloat(req.QuoteSize).Div(fill)
	}
	if !size.IsPositive() {
		return domain.OrderResult{}, domain.NewValidationError("size", "must be positive")
	}

	notional := size.Mul(fill)
	fee := notional.Mul(e.feeRate)
	if req.Side == domain.Buy {
		cost := notional.Add(fee)
		if cost.GreaterThan(e.balance) {
			return domain.OrderResult{}, &domain.ExchangeError{
				Kind: domain.ExchangeInsufficientFunds,
				Op:   "place_order",
				Err:  fmt.Errorf("need %s, have %s", cost.StringFixed(2), e.balance.StringFixed(2)),
			}
		}
		e.balance = e.balance.Sub(cost)
		e.adjust(req.Pair, size, fill)
	} else {
		e.balance = e.balance.Add(notional.Sub(fee))
		e.adjust(req.Pair, size.Neg(), fill)
	}

	e.seq++
	res := domain.OrderResult{
		OrderID:   fmt.Sprintf("paper-%d", e.seq),
		Status:    "FILLED",
		FillPrice: fill.InexactFloat64(),
		FillSize:  size.InexactFloat64(),
		Fee:       fee.InexactFloat64(),
	}
	e.orders[res.OrderID] = res
	e.log.Info("paper order filled",
		logger.Pair(req.Pair), logger.Side(req.Side), logger.Price(res.FillPrice),
		zap.Float64("size", res.FillSize), zap.Float64("fee", res.Fee), logger.OrderID(res.OrderID))
	return res, nil
}

// adjust moves the net position by delta at price, keeping a volume-weighted
// average while the position grows in the same direction.
func (e *Exchange) adjust(pair string, delta, price decimal.Decimal) {
	h, ok := e.positions[pair]
	if !ok {
		h = &holding{}
		e.positions[pair] = h
	}
	next := h.size.Add(delta)
	switch {
	case next.IsZero():
		delete(e.positions, pair)
		return
	case h.size.IsZero() || h.size.Sign() != next.Sign():
		h.avg = price
	case h.size.Sign() == delta.Sign():
		h.avg = h.size.Abs().Mul(h.avg).Add(delta.Abs().Mul(price)).Div(next.Abs())
	}
	h.size = next
}

// CancelOrder forgets a recorded order. Paper orders fill immediately, so
// this only reports whether the ID was known.
func (e *Exchange) CancelOrder(_ context.Context, orderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[orderID]; !ok {
		return false, nil
	}
	delete(e.orders, orderID)
	return true, nil
}

// Holdings returns the current net positions.
func (e *Exchange) Holdings() map[string]Holding {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Holding, len(e.positions))
	for pair, h := range e.positions {
		out[pair] = Holding{Size: h.size.InexactFloat64(), AvgPrice: h.avg.InexactFloat64()}
	}
	return out
}
