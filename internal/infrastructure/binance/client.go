// Package binance adapts the Binance spot REST API to the domain exchange ports.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/logger"
)

const (
	TestnetBaseURL = "https://testnet.binance.vision"

	// klinesLimit is the largest page the klines endpoint serves.
	klinesLimit = 1000
	// tickerConcurrency bounds parallel 24h stats requests.
	tickerConcurrency = 4
	// quantityPlaces is the precision sent for order quantities.
	quantityPlaces = 8
)

// Binance error codes that change how a failure is classified.
const (
	codeUnknownOrder     = -2011
	codeInvalidSymbol    = -1121
	codeRejectedKey      = -2014
	codeInvalidKey       = -2015
	codeInvalidSignature = -1022
	codeTooManyRequests  = -1003
	codeTooManyOrders    = -1015
	codeInsufficient     = -2010
)

// Client implements domain.Exchange against Binance spot.
type Client struct {
	api   *binance.Client
	quote string
	log   *zap.Logger
}

// NewClient builds a client. Empty credentials still allow public market data.
func NewClient(cfg config.ExchangeConfig, log *zap.Logger) *Client {
	api := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.Testnet {
		api.BaseURL = TestnetBaseURL
	}
	api.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		api:   api,
		quote: cfg.QuoteAsset,
		log:   logger.OrNop(log).Named("binance"),
	}
}

// Symbol maps a pair like "BTC-USD" to the exchange symbol "BTCUSDT". A USD
// quote is replaced by the configured quote asset.
func Symbol(pair, quoteAsset string) string {
	base, quote, ok := strings.Cut(strings.ToUpper(pair), "-")
	if !ok {
		return base
	}
	if quote == "USD" {
		quote = quoteAsset
	}
	return base + quote
}

func (c *Client) symbol(pair string) string {
	return Symbol(pair, c.quote)
}

// GetMarketData reads 24h ticker stats for each pair. Pairs the exchange
// does not know are left out of the result.
func (c *Client) GetMarketData(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	results := make([]*domain.MarketData, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tickerConcurrency)
	for i, pair := range pairs {
		g.Go(func() error {
			stats, err := c.api.NewListPriceChangeStatsService().Symbol(c.symbol(pair)).Do(gctx)
			if err != nil {
				var apiErr *common.APIError
				if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
					c.log.Warn("unknown symbol", logger.Pair(pair))
					return nil
				}
				return classify("get_market_data", err)
			}
			if len(stats) == 0 {
				return nil
			}
			md, err := marketData(pair, stats[0])
			if err != nil {
				return classify("get_market_data", err)
			}
			results[i] = &md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.MarketData, len(pairs))
	for _, md := range results {
		if md != nil {
			out[md.Pair] = *md
		}
	}
	return out, nil
}

func marketData(pair string, s *binance.PriceChangeStats) (domain.MarketData, error) {
	price, err := parseFloat(s.LastPrice)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("last price %q: %w", s.LastPrice, err)
	}
	volume, err := parseFloat(s.Volume)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("volume %q: %w", s.Volume, err)
	}
	return domain.MarketData{
		Pair:      pair,
		Price:     price,
		Volume24h: volume,
		Timestamp: time.UnixMilli(s.CloseTime).UTC(),
	}, nil
}

// GetCandles pages klines over [start, end) and returns them oldest first.
func (c *Client) GetCandles(ctx context.Context, pair, interval string, start, end time.Time) ([]domain.Candle, error) {
	sym := c.symbol(pair)
	var out []domain.Candle
	cursor := start.UnixMilli()
	stop := end.UnixMilli()
	for cursor < stop {
		klines, err := c.api.NewKlinesService().
			Symbol(sym).
			Interval(interval).
			StartTime(cursor).
			EndTime(stop - 1).
			Limit(klinesLimit).
			Do(ctx)
		if err != nil {
			return nil, classify("get_candles", err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			candle, err := toCandle(k)
			if err != nil {
				return nil, classify("get_candles", err)
			}
			out = append(out, candle)
		}
		last := klines[len(klines)-1].OpenTime
		if len(klines) < klinesLimit || last < cursor {
			break
		}
		cursor = last + 1
	}
	return out, nil
}

func toCandle(k *binance.Kline) (domain.Candle, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var v [5]float64
	for i, f := range fields {
		x, err := parseFloat(f)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("kline %d field %d %q: %w", k.OpenTime, i, f, err)
		}
		v[i] = x
	}
	return domain.Candle{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
	}, nil
}

// PlaceOrder submits a market order. A BUY with QuoteSize spends that amount
// of the quote asset.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	sym := c.symbol(req.Pair)
	svc := c.api.NewCreateOrderService().
		Symbol(sym).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeMarket).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if req.Side == domain.Buy && req.QuoteSize > 0 {
		svc = svc.QuoteOrderQty(formatQuantity(req.QuoteSize))
	} else {
		svc = svc.Quantity(formatQuantity(req.Size))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderResult{}, classify("place_order", err)
	}
	res, err := c.orderResult(sym, resp)
	if err != nil {
		return domain.OrderResult{}, classify("place_order", err)
	}
	c.log.Info("order placed",
		logger.Pair(req.Pair), logger.Side(req.Side), logger.OrderID(res.OrderID),
		logger.Price(res.FillPrice), zap.Float64("size", res.FillSize), zap.String("status", res.Status))
	return res, nil
}

func (c *Client) orderResult(sym string, r *binance.CreateOrderResponse) (domain.OrderResult, error) {
	executed, err := decimal.NewFromString(r.ExecutedQuantity)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executed quantity %q: %w", r.ExecutedQuantity, err)
	}
	quoteQty, err := decimal.NewFromString(r.CummulativeQuoteQuantity)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("quote quantity %q: %w", r.CummulativeQuoteQuantity, err)
	}
	res := domain.OrderResult{
		OrderID:  orderID(sym, r.OrderID),
		Status:   string(r.Status),
		FillSize: executed.InexactFloat64(),
	}
	if executed.IsPositive() {
		avg := quoteQty.Div(executed)
		res.FillPrice = avg.InexactFloat64()
		res.Fee = fillFee(r.Fills, strings.TrimSuffix(sym, c.quote), c.quote, avg).InexactFloat64()
	}
	return res, nil
}

// fillFee sums commissions in quote terms. Commissions charged in a third
// asset are not converted.
func fillFee(fills []*binance.Fill, base, quote string, price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fills {
		fee, err := decimal.NewFromString(f.Commission)
		if err != nil {
			continue
		}
		switch f.CommissionAsset {
		case quote:
			total = total.Add(fee)
		case base:
			total = total.Add(fee.Mul(price))
		}
	}
	return total
}

// CancelOrder cancels an order by the ID PlaceOrder returned. It reports
// false when the exchange no longer knows the order.
func (c *Client) CancelOrder(ctx context.Context, id string) (bool, error) {
	sym, num, err := parseOrderID(id)
	if err != nil {
		return false, domain.NewValidationError("order_id", "%v", err)
	}
	_, err = c.api.NewCancelOrderService().Symbol(sym).OrderID(num).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder {
			return false, nil
		}
		return false, classify("cancel_order", err)
	}
	c.log.Info("order cancelled", logger.OrderID(id))
	return true, nil
}

// GetAccountBalance returns the free balance of the quote asset.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify("get_account_balance", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == c.quote {
			free, err := parseFloat(b.Free)
			if err != nil {
				return 0, classify("get_account_balance", fmt.Errorf("free balance %q: %w", b.Free, err))
			}
			return free, nil
		}
	}
	return 0, nil
}

func orderID(sym string, id int64) string {
	return sym + ":" + strconv.FormatInt(id, 10)
}

func parseOrderID(id string) (string, int64, error) {
	sym, num, ok := strings.Cut(id, ":")
	if !ok || sym == "" {
		return "", 0, fmt.Errorf("malformed order id %q", id)
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed order id %q: %w", id, err)
	}
	return sym, n, nil
}

func parseFloat(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func formatQuantity(x float64) string {
	return decimal.NewFromFloat(x).Truncate(quantityPlaces).String()
}

// classify maps a client failure to an ExchangeError kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.IsExchangeError(err); ok {
		return err
	}
	kind := domain.ExchangeServer
	var apiErr *common.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ExchangeTimeout
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case codeRejectedKey, codeInvalidKey, codeInvalidSignature:
			kind = domain.ExchangeAuth
		case codeTooManyRequests, codeTooManyOrders:
			kind = domain.ExchangeRateLimit
		case codeInsufficient:
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				kind = domain.ExchangeInsufficientFunds
			}
		}
	}
	return &domain.ExchangeError{Kind: kind, Op: op, Err: err}
}
