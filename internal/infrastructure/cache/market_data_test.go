package cache

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"scalper-backend/internal/domain"
)

type countingUpstream struct {
	prices map[string]float64
	calls  [][]string
	err    error
}

func (u *countingUpstream) GetMarketData(_ context.Context, pairs []string) (map[string]domain.MarketData, error) {
	u.calls = append(u.calls, slices.Clone(pairs))
	if u.err != nil {
		return nil, u.err
	}
	out := map[string]domain.MarketData{}
	for _, p := range pairs {
		if price, ok := u.prices[p]; ok {
			out[p] = domain.MarketData{Pair: p, Price: price}
		}
	}
	return out, nil
}

type brokenStore struct{}

func (brokenStore) GetMany(context.Context, []string) (map[string]domain.MarketData, error) {
	return nil, errors.New("down")
}

func (brokenStore) SetMany(context.Context, map[string]domain.MarketData, time.Duration) error {
	return errors.New("down")
}

func TestMarketDataReadThrough(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mem := NewMemory()
	mem.now = func() time.Time { return now }
	up := &countingUpstream{prices: map[string]float64{"BTC-USD": 100, "ETH-USD": 10}}
	md := NewMarketData(up, mem, 5*time.Second, nil)
	ctx := context.Background()

	got, err := md.GetMarketData(ctx, []string{"BTC-USD"})
	if err != nil || got["BTC-USD"].Price != 100 {
		t.Fatalf("first read = %+v, %v", got, err)
	}
	up.prices["BTC-USD"] = 101

	got, _ = md.GetMarketData(ctx, []string{"BTC-USD", "ETH-USD"})
	if got["BTC-USD"].Price != 100 || got["ETH-USD"].Price != 10 {
		t.Fatalf("cached read = %+v", got)
	}
	if len(up.calls) != 2 || !slices.Equal(up.calls[1], []string{"ETH-USD"}) {
		t.Fatalf("upstream calls = %v", up.calls)
	}

	now = now.Add(6 * time.Second)
	got, _ = md.GetMarketData(ctx, []string{"BTC-USD"})
	if got["BTC-USD"].Price != 101 {
		t.Fatalf("expired entry served: %+v", got)
	}
}

func TestMarketDataStoreFailure(t *testing.T) {
	up := &countingUpstream{prices: map[string]float64{"BTC-USD": 100}}
	md := NewMarketData(up, brokenStore{}, time.Second, nil)

	got, err := md.GetMarketData(context.Background(), []string{"BTC-USD"})
	if err != nil || got["BTC-USD"].Price != 100 {
		t.Fatalf("read with broken store = %+v, %v", got, err)
	}

	up.err = &domain.ExchangeError{Kind: domain.ExchangeServer, Op: "get_market_data"}
	_, err = md.GetMarketData(context.Background(), []string{"BTC-USD"})
	if _, ok := domain.IsExchangeError(err); !ok {
		t.Fatalf("err = %v, want wrapped ExchangeError", err)
	}
}
