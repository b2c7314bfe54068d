package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const sentMarker = "sent"

// DigestDedupe remembers which digests went out so overlapping runs for the
// same window do not mail a user twice.
type DigestDedupe struct {
	client *Client
	logger *zap.Logger
}

// NewDigestDedupe creates a dedupe store.
func NewDigestDedupe(client *Client, logger *zap.Logger) *DigestDedupe {
	return &DigestDedupe{client: client, logger: logger}
}

func (d *DigestDedupe) buildKey(key string) string {
	return d.client.key("dedupe:" + key)
}

// Reserve claims key for ttl using SET NX. It returns false if the key is
// already claimed.
func (d *DigestDedupe) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := d.client.rdb.SetNX(ctx, d.buildKey(key), sentMarker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		d.logger.Debug("dedupe key already claimed", zap.String("key", key))
	}
	return set, nil
}

// Release frees key so the digest can be sent again.
func (d *DigestDedupe) Release(ctx context.Context, key string) error {
	if err := d.client.rdb.Del(ctx, d.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
