package repository

import (
	"sort"
	"strings"
	"sync"

	"scalper-backend/internal/domain"
)

// TokenRepository manages device tokens for push notifications
type TokenRepository struct {
	tokens map[string]domain.DeviceToken // token -> DeviceToken
	mu     sync.RWMutex
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{
		tokens: make(map[string]domain.DeviceToken),
	}
}

// Register adds or updates a device token
func (r *TokenRepository) Register(t domain.DeviceToken) error {
	t.Token = strings.TrimSpace(t.Token)
	if t.Token == "" {
		return domain.NewValidationError("token", "is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Token] = t
	return nil
}

// Unregister removes a device token and reports whether it was present
func (r *TokenRepository) Unregister(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token]; !ok {
		return false
	}
	delete(r.tokens, token)
	return true
}

// Tokens returns all registered tokens in a stable order
func (r *TokenRepository) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]string, 0, len(r.tokens))
	for token := range r.tokens {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Count returns the number of registered tokens
func (r *TokenRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tokens)
}

var _ domain.DeviceRegistry = (*TokenRepository)(nil)
