package config

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Holder publishes the current configuration snapshot. Readers call Current;
// Reload swaps the pointer and notifies subscribers.
type Holder struct {
	path    string
	current atomic.Pointer[Config]

	mu   sync.Mutex
	subs []func(*Config)
}

// NewHolder wraps an already loaded snapshot.
func NewHolder(path string, cfg *Config) *Holder {
	h := &Holder{path: path}
	h.current.Store(cfg)
	return h
}

// Current returns the active snapshot. Callers must not mutate it.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Subscribe registers fn to be called with every successfully reloaded snapshot.
func (h *Holder) Subscribe(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// Reload re-reads the file. On error the previous snapshot stays active.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := Load(h.path)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.current.Store(cfg)
	subs := slices.Clone(h.subs)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
	return cfg, nil
}
