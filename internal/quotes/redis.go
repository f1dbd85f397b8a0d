package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"papertrade/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "papertrade:quote:"

// RedisCache keeps upstream quotes in Redis for ttl so that bursts of orders on
// one symbol hit the provider once.
type RedisCache struct {
	client   *redis.Client
	upstream Gateway
	ttl      time.Duration
	prefix   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewRedisCache(client *redis.Client, upstream Gateway, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client:   client,
		upstream: upstream,
		ttl:      ttl,
		prefix:   defaultRedisPrefix,
		logger:   logger,
		metrics:  m,
	}
}

func (c *RedisCache) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = normalize(symbol)
	key := c.prefix + symbol

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q Quote
		if jsonErr := json.Unmarshal(raw, &q); jsonErr == nil && q.Valid() {
			c.metrics.QuoteLookup("cache")
			return q, nil
		}
		c.logger.Warn("discarding unreadable cached quote", "symbol", symbol)
	case !errors.Is(err, redis.Nil):
		// A broken cache must not block trading.
		c.logger.Warn("quote cache read failed", "symbol", symbol, "error", err)
	}

	q, err := c.upstream.Quote(ctx, symbol)
	if err != nil {
		c.metrics.QuoteLookup("error")
		return Quote{}, err
	}
	c.metrics.QuoteLookup("upstream")
	if payload, jsonErr := json.Marshal(q); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.logger.Warn("quote cache write failed", "symbol", symbol, "error", setErr)
		}
	}
	return q, nil
}
