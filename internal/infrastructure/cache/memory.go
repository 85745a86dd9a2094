package cache

import (
	"context"
	"sync"
	"time"

	"scalper-backend/internal/domain"
)

type memEntry struct {
	data    domain.MarketData
	expires time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) GetMany(_ context.Context, pairs []string) (map[string]domain.MarketData, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.MarketData, len(pairs))
	for _, p := range pairs {
		if e, ok := m.entries[p]; ok && now.Before(e.expires) {
			out[p] = e.data
		}
	}
	return out, nil
}

func (m *Memory) SetMany(_ context.Context, data map[string]domain.MarketData, ttl time.Duration) error {
	expires := m.now().Add(ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, md := range data {
		m.entries[p] = memEntry{data: md, expires: expires}
	}
	return nil
}
