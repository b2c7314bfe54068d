package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QuotaConfig defines a send budget.
type QuotaConfig struct {
	Limit  int           // sends allowed per window
	Window time.Duration // sliding window length
}

// QuotaResult is the outcome of a quota check.
type QuotaResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// SendQuota is a sliding window send budget shared by every process, kept
// in a sorted set per key.
type SendQuota struct {
	client *Client
	logger *zap.Logger
	config QuotaConfig
	now    func() time.Time
}

// NewSendQuota creates a quota with the given configuration.
func NewSendQuota(client *Client, logger *zap.Logger, config QuotaConfig) *SendQuota {
	return &SendQuota{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Take consumes one send from key's budget.
func (q *SendQuota) Take(ctx context.Context, key string) (bool, error) {
	res, err := q.TakeN(ctx, key, 1)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// TakeN consumes n sends from key's budget if they all fit.
func (q *SendQuota) TakeN(ctx context.Context, key string, n int) (*QuotaResult, error) {
	now := q.now()
	windowStart := now.Add(-q.config.Window)
	resetAt := now.Add(q.config.Window)

	redisKey := q.client.key("quota:" + key)

	pipe := q.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	current := int(countCmd.Val())
	remaining := q.config.Limit - current

	if current+n > q.config.Limit {
		q.logger.Debug("send quota exhausted",
			zap.String("key", key),
			zap.Int("current", current),
			zap.Int("limit", q.config.Limit),
		)
		return &QuotaResult{
			Allowed:   false,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	pipe = q.client.rdb.Pipeline()
	for i := 0; i < n; i++ {
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(now.UnixNano()) + float64(i),
			Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
		})
	}
	pipe.Expire(ctx, redisKey, q.config.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	return &QuotaResult{
		Allowed:   true,
		Remaining: remaining - n,
		ResetAt:   resetAt,
	}, nil
}
