package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// QuoteCache stores recent quotes keyed by request parameters. Entries expire
// with the execution freshness window so a cache hit is always executable.
type QuoteCache interface {
	Get(ctx context.Context, req QuoteRequest) (Quote, bool)
	Put(ctx context.Context, req QuoteRequest, q Quote)
	// InvalidatePool drops every cached quote for one pool, used when its
	// price moves.
	InvalidatePool(ctx context.Context, poolID string)
}

// RedisQuoteCache backs QuoteCache with redis.
type RedisQuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewRedisQuoteCache creates a cache whose entries live for ttl.
func NewRedisQuoteCache(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *RedisQuoteCache {
	if ttl <= 0 {
		ttl = DefaultFreshness
	}
	if log == nil {
		log = logger.NewDefault("quote-cache")
	}
	return &RedisQuoteCache{rdb: rdb, ttl: ttl, log: log}
}

var _ QuoteCache = (*RedisQuoteCache)(nil)

func quoteKey(req QuoteRequest) string {
	return fmt.Sprintf("quote:%s:%s:%s:%d:%d", req.PoolID, req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)
}

func (c *RedisQuoteCache) Get(ctx context.Context, req QuoteRequest) (Quote, bool) {
	raw, err := c.rdb.Get(ctx, quoteKey(req)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Debug("quote cache read failed")
		}
		return Quote{}, false
	}
	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return Quote{}, false
	}
	return q, true
}

func (c *RedisQuoteCache) Put(ctx context.Context, req QuoteRequest, q Quote) {
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, quoteKey(req), raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("quote cache write failed")
	}
}

func (c *RedisQuoteCache) InvalidatePool(ctx context.Context, poolID string) {
	iter := c.rdb.Scan(ctx, 0, "quote:"+poolID+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.WithError(err).Debug("quote cache invalidation failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Debug("quote cache scan failed")
	}
}
