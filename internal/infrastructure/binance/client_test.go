package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
)

func TestSymbol(t *testing.T) {
	tests := []struct {
		pair, want string
	}{
		{"BTC-USD", "BTCUSDT"},
		{"eth-usd", "ETHUSDT"},
		{"ETH-BTC", "ETHBTC"},
		{"SOLUSDT", "SOLUSDT"},
	}
	for _, tt := range tests {
		if got := Symbol(tt.pair, "USDT"); got != tt.want {
			t.Errorf("Symbol(%q) = %q, want %q", tt.pair, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ExchangeErrorKind
	}{
		{"invalid key", &common.APIError{Code: -2015, Message: "Invalid API-key"}, domain.ExchangeAuth},
		{"signature", &common.APIError{Code: -1022}, domain.ExchangeAuth},
		{"rate limit", &common.APIError{Code: -1003}, domain.ExchangeRateLimit},
		{"balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, domain.ExchangeInsufficientFunds},
		{"other rejection", &common.APIError{Code: -2010, Message: "Market is closed."}, domain.ExchangeServer},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), domain.ExchangeTimeout},
		{"transport", errors.New("connection reset"), domain.ExchangeServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ee, ok := domain.IsExchangeError(classify("op", tt.err))
			if !ok || ee.Kind != tt.want || ee.Op != "op" {
				t.Fatalf("classify = %+v, want kind %s", ee, tt.want)
			}
		})
	}
	if classify("op", nil) != nil {
		t.Fatal("nil error classified")
	}
}

func TestOrderIDRoundTrip(t *testing.T) {
	sym, n, err := parseOrderID(orderID("BTCUSDT", 42))
	if err != nil || sym != "BTCUSDT" || n != 42 {
		t.Fatalf("parseOrderID = %q, %d, %v", sym, n, err)
	}
	for _, bad := range []string{"", "42", ":42", "BTCUSDT:x"} {
		if _, _, err := parseOrderID(bad); err == nil {
			t.Errorf("parseOrderID(%q) accepted", bad)
		}
	}
}

func TestOrderResult(t *testing.T) {
	c := &Client{quote: "USDT"}
	resp := &binance.CreateOrderResponse{
		OrderID:                  7,
		Status:                   binance.OrderStatusTypeFilled,
		ExecutedQuantity:         "0.5",
		CummulativeQuoteQuantity: "50.5",
		Fills: []*binance.Fill{
			{Price: "101", Quantity: "0.5", Commission: "0.001", CommissionAsset: "BTC"},
			{Price: "101", Quantity: "0", Commission: "0.2", CommissionAsset: "USDT"},
			{Commission: "0.01", CommissionAsset: "BNB"},
		},
	}
	res, err := c.orderResult("BTCUSDT", resp)
	if err != nil {
		t.Fatalf("orderResult: %v", err)
	}
	if res.OrderID != "BTCUSDT:7" || res.Status != "FILLED" || res.FillSize != 0.5 || res.FillPrice != 101 {
		t.Fatalf("result = %+v", res)
	}
	if want := 0.001*101 + 0.2; res.Fee < want-1e-9 || res.Fee > want+1e-9 {
		t.Fatalf("fee = %v, want %v", res.Fee, want)
	}
}

func TestFormatQuantity(t *testing.T) {
	if got := formatQuantity(0.123456789123); got != "0.12345678" {
		t.Fatalf("formatQuantity = %q", got)
	}
	if got := formatQuantity(2); got != "2" {
		t.Fatalf("formatQuantity = %q", got)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.ExchangeConfig{APIKey: "k", SecretKey: "s", QuoteAsset: "USDT", Timeout: 5 * time.Second}, nil)
	c.api.BaseURL = srv.URL
	return c
}

func TestGetCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" || r.URL.Query().Get("symbol") != "BTCUSDT" {
			http.Error(w, `{"code":-1100,"msg":"bad request"}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `[
			[1709294400000,"100.0","101.5","99.5","101.0","12.5",1709294459999,"0",10,"0","0","0"],
			[1709294460000,"101.0","102.0","100.5","101.8","8.0",1709294519999,"0",7,"0","0","0"]
		]`)
	})

	start := time.UnixMilli(1709294400000)
	candles, err := c.GetCandles(context.Background(), "BTC-USD", "1m", start, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %+v", candles)
	}
	first := candles[0]
	if !first.Timestamp.Equal(start) || first.Open != 100 || first.High != 101.5 || first.Close != 101 || first.Volume != 12.5 {
		t.Fatalf("first candle = %+v", first)
	}
}

func TestGetAccountBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`)
			return
		}
		fmt.Fprint(w, `{"balances":[{"asset":"BTC","free":"1","locked":"0"},{"asset":"USDT","free":"1234.5","locked":"10"}]}`)
	})
	bal, err := c.GetAccountBalance(context.Background())
	if err != nil || bal != 1234.5 {
		t.Fatalf("balance = %v, %v", bal, err)
	}
}

func TestAPIErrorsAreClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if r.Method == http.MethodDelete {
			fmt.Fprint(w, `{"code":-2011,"msg":"Unknown order sent."}`)
			return
		}
		fmt.Fprint(w, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`)
	})

	_, err := c.GetAccountBalance(context.Background())
	if ee, ok := domain.IsExchangeError(err); !ok || ee.Kind != domain.ExchangeAuth {
		t.Fatalf("err = %v, want auth", err)
	}
	ok, err := c.CancelOrder(context.Background(), "BTCUSDT:9")
	if ok || err != nil {
		t.Fatalf("cancel unknown = %v, %v", ok, err)
	}
}
