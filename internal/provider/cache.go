package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachingClient is a read-through Redis cache in front of a registry client.
// Registry data changes rarely; a short TTL keeps batch reconciliations from
// hammering the registry with repeated lookups while bounding staleness.
type CachingClient struct {
	next   Client
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachingClient wraps next with a Redis cache. A nil redis client
// disables caching and returns next unchanged.
func NewCachingClient(next Client, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) Client {
	if rdb == nil {
		return next
	}
	return &CachingClient{next: next, redis: rdb, ttl: ttl, logger: logger}
}

func (c *CachingClient) LookupByDocument(ctx context.Context, docID string) (*PersonRecord, error) {
	return c.lookup(ctx, "provider:doc:"+docID, func() (*PersonRecord, error) {
		return c.next.LookupByDocument(ctx, docID)
	})
}

func (c *CachingClient) LookupByUsername(ctx context.Context, username string) (*PersonRecord, error) {
	return c.lookup(ctx, "provider:user:"+username, func() (*PersonRecord, error) {
		return c.next.LookupByUsername(ctx, username)
	})
}

// lookup serves from cache when possible. Cache failures degrade to a direct
// registry call; only registry failures surface to the caller.
func (c *CachingClient) lookup(ctx context.Context, key string, fetch func() (*PersonRecord, error)) (*PersonRecord, error) {
	cached, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var record PersonRecord
		if err := json.Unmarshal(cached, &record); err == nil {
			return &record, nil
		}
		c.logger.WarnContext(ctx, "dropping undecodable provider cache entry", "key", key)
		_ = c.redis.Del(ctx, key).Err()
	} else if err != redis.Nil {
		c.logger.WarnContext(ctx, "provider cache read failed", "key", key, "error", err)
	}

	record, err := fetch()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return record, nil
	}
	if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "provider cache write failed", "key", key, "error", err)
	}
	return record, nil
}

// InvalidateDocument drops the cached record for a document id, used after
// identity creation so subsequent lookups observe fresh provider state.
func (c *CachingClient) InvalidateDocument(ctx context.Context, docID string) error {
	if err := c.redis.Del(ctx, "provider:doc:"+docID).Err(); err != nil {
		return fmt.Errorf("invalidate provider cache: %w", err)
	}
	return nil
}
