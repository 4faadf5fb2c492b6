package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultDedupTTL is how long a shared dedup entry is remembered
const DefaultDedupTTL = 24 * time.Hour

// RedisDedupCache implements DedupCache on Redis so that entries survive worker restarts
type RedisDedupCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisDedupCache connects to Redis and creates a shared dedup cache
func NewRedisDedupCache(host string, port int, password string, db int, ttl time.Duration, logger *zap.Logger) (*RedisDedupCache, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDedupCacheWithClient(client, ttl, logger), nil
}

// NewRedisDedupCacheWithClient wraps an existing client
func NewRedisDedupCacheWithClient(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisDedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDedupCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// MarkSeen implements DedupCache using SET NX so only the first caller wins
func (c *RedisDedupCache) MarkSeen(ctx context.Context, tenantID, eventID string) (bool, error) {
	first, err := c.client.SetNX(ctx, dedupKey(tenantID, eventID), time.Now().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event seen: %w", err)
	}
	return first, nil
}

// Ping checks the Redis connection
func (c *RedisDedupCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisDedupCache) Close() error {
	return c.client.Close()
}
