// Package redisclient wraps the Redis connection shared by the rate
// limiter, lazily connecting and retrying a bounded number of times per
// section 6.2's REDIS_RETRY_ATTEMPTS / REDIS_RETRY_DELAY_MS.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/querygate/gateway/internal/mlog"
)

// Connection is a hub that deals with the redis connection used for
// rate-limit counters.
type Connection struct {
	ConnectionStringSource string
	Client                 *redis.Client
	Connected              bool
	Logger                 mlog.Logger
	RetryAttempts          int
	RetryDelay             time.Duration
}

// Connect establishes the singleton redis connection, retrying up to
// RetryAttempts times with RetryDelay between attempts.
func (rc *Connection) Connect(ctx context.Context) error {
	rc.Logger.Info("connecting to redis...")

	opts, err := redis.ParseURL(rc.ConnectionStringSource)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	attempts := rc.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error

	for i := 0; i < attempts; i++ {
		if _, lastErr = rdb.Ping(ctx).Result(); lastErr == nil {
			break
		}

		rc.Logger.Warnf("redis ping attempt %d/%d failed: %v", i+1, attempts, lastErr)

		if i < attempts-1 {
			select {
			case <-time.After(rc.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to connect to redis after %d attempts: %w", attempts, lastErr)
	}

	rc.Logger.Info("connected to redis")
	rc.Connected = true
	rc.Client = rdb

	return nil
}

// GetClient returns the redis client, connecting lazily on first use.
func (rc *Connection) GetClient(ctx context.Context) (*redis.Client, error) {
	if rc.Client == nil {
		if err := rc.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return rc.Client, nil
}
