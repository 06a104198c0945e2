// Package cache keeps deal detail and deal list responses in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	dealKeyPrefix     = "cache:deal:"
	dealListKeyPrefix = "cache:deals:"

	scanBatch = 100
)

func DealKey(dealID string) string {
	return dealKeyPrefix + dealID
}

// DealListKey is the key of one list view, e.g. a user's deals filtered by role.
func DealListKey(scope string) string {
	return dealListKeyPrefix + scope
}

type DealCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewDealCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *DealCache {
	return &DealCache{rdb: rdb, ttl: ttl, log: log}
}

// Get decodes the cached value into dst. A miss is not an error.
func (c *DealCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// unreadable entry, drop it and treat as a miss
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *DealCache) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *DealCache) InvalidateDeal(ctx context.Context, dealID string) error {
	if err := c.rdb.Del(ctx, DealKey(dealID)).Err(); err != nil {
		return fmt.Errorf("invalidate deal %s: %w", dealID, err)
	}
	c.log.Debug("deal cache invalidated", zap.String("deal_id", dealID))
	return nil
}

// InvalidateDealLists drops every cached list view.
func (c *DealCache) InvalidateDealLists(ctx context.Context) error {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, dealListKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan deal lists: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("invalidate deal lists: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.log.Debug("deal list cache invalidated", zap.Int64("keys", removed))
	return nil
}
