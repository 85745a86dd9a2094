package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
)

const keyPrefix = "scalper:market:"

// Redis is a Store shared between processes.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) GetMany(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	out := make(map[string]domain.MarketData, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = keyPrefix + p
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var md domain.MarketData
		if err := json.Unmarshal([]byte(s), &md); err != nil {
			continue
		}
		out[pairs[i]] = md
	}
	return out, nil
}

func (r *Redis) SetMany(ctx context.Context, data map[string]domain.MarketData, ttl time.Duration) error {
	if len(data) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for p, md := range data {
		b, err := json.Marshal(md)
		if err != nil {
			return err
		}
		pipe.Set(ctx, keyPrefix+p, b, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
