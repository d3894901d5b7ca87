package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketfeed/logger"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Second

// Cache keeps the latest gateway payload per book in Redis so a
// freshly connected client can be primed before live frames arrive.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Log
}

// NewCache connects to Redis and verifies the connection. A zero TTL
// uses the 5 second default.
func NewCache(addr string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Cache{client: client, ttl: ttl, log: logger.GetLogger()}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Store caches the payload for a book with the configured TTL.
func (c *Cache) Store(ctx context.Context, exchange, symbol string, payload []byte) {
	if err := c.client.Set(ctx, bookKey(exchange, symbol), payload, c.ttl).Err(); err != nil {
		c.log.WithComponent("gateway_cache").WithError(err).Debug("cache store failed")
	}
}

// Load returns the cached payload for a book, if present.
func (c *Cache) Load(ctx context.Context, exchange, symbol string) ([]byte, bool) {
	data, err := c.client.Get(ctx, bookKey(exchange, symbol)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithComponent("gateway_cache").WithError(err).Debug("cache load failed")
		}
		return nil, false
	}
	return data, true
}

func bookKey(exchange, symbol string) string {
	return fmt.Sprintf("book:%s:%s", strings.ToLower(exchange), strings.ToUpper(symbol))
}
