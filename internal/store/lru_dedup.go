package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// DefaultDedupSize bounds the in-memory dedup cache of one worker
const DefaultDedupSize = 1000

// LRUDedupCache implements DedupCache with a bounded in-memory LRU.
// The oldest entries are evicted once the size cap is reached.
type LRUDedupCache struct {
	cache  *lru.Cache
	logger *zap.Logger
}

// NewLRUDedupCache creates a new in-memory dedup cache
func NewLRUDedupCache(maxSize int, logger *zap.Logger) (*LRUDedupCache, error) {
	if maxSize <= 0 {
		maxSize = DefaultDedupSize
	}

	cache, err := lru.NewWithEvict(maxSize, func(key interface{}, _ interface{}) {
		logger.Debug("Evicted dedup entry", zap.Any("key", key))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}

	return &LRUDedupCache{
		cache:  cache,
		logger: logger,
	}, nil
}

// MarkSeen implements DedupCache
func (c *LRUDedupCache) MarkSeen(ctx context.Context, tenantID, eventID string) (bool, error) {
	found, _ := c.cache.ContainsOrAdd(dedupKey(tenantID, eventID), struct{}{})
	return !found, nil
}

// Len returns the number of remembered events
func (c *LRUDedupCache) Len() int {
	return c.cache.Len()
}

// Ping implements DedupCache
func (c *LRUDedupCache) Ping(ctx context.Context) error {
	return nil
}

// Close implements DedupCache
func (c *LRUDedupCache) Close() error {
	c.cache.Purge()
	return nil
}
