// Package redis connects the optional Redis backend used by the
// integration cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/config"
)

const defaultPingTimeout = 5 * time.Second

var (
	// ErrDisabled indicates Redis is disabled in config.
	ErrDisabled = errors.New("redis: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("redis: connection failed")
)

// Connect opens a client for cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return client, nil
}
