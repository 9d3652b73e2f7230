package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

// scanBatch is the COUNT hint for SCAN when deleting a device's keys.
const scanBatch = 100

// RedisCache stores entries as JSON strings under {prefix}:{serial}:{provider}.
//
// Redis expires keys after ttl plus retention, so stale entries remain
// readable for a while; staleness itself is always computed from FetchedAt.
type RedisCache struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.Cmdable, prefix string, retention time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, retention: max(retention, 0)}
}

func (c *RedisCache) key(serial, provider string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, serial, provider)
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, serial, provider string, now int64) (*Entry, error) {
	raw, err := c.client.Get(ctx, c.key(serial, provider)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMissing
		}
		return nil, storeerr.Infra("reading cache entry", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, storeerr.Infra("decoding cache entry", err)
	}
	return classify(&e, now)
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	expiry := time.Duration(e.TTLMillis)*time.Millisecond + c.retention
	if err := c.client.Set(ctx, c.key(e.Serial, e.Provider), raw, expiry).Err(); err != nil {
		return storeerr.Infra("writing cache entry", err)
	}
	return nil
}

// DeleteForSerial implements Cache.
func (c *RedisCache) DeleteForSerial(ctx context.Context, serial string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	pattern := globEscape(c.key(serial, "")) + "*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, storeerr.Infra("scanning cache keys", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, storeerr.Infra("deleting cache entries", err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

var globMeta = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// globEscape quotes the characters SCAN MATCH treats as wildcards.
func globEscape(s string) string {
	return globMeta.Replace(s)
}
