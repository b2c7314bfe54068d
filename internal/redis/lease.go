package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLeaseTTL bounds how long a crashed poller can hold a timer.
const DefaultLeaseTTL = 5 * time.Minute

// releaseScript deletes the lease only while it still holds our token, so a
// lease that expired and was taken over is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TimerLease gives one poller at a time the right to execute a timer.
type TimerLease struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTimerLease creates a lease manager. A zero ttl uses DefaultLeaseTTL.
func NewTimerLease(client *Client, ttl time.Duration, logger *zap.Logger) *TimerLease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &TimerLease{client: client, ttl: ttl, logger: logger}
}

func (l *TimerLease) key(name string) string {
	return l.client.key("timer:lease:" + name)
}

// Acquire takes the lease of the timer called name. ok is false while another
// poller holds it. The returned release func must be called when done.
func (l *TimerLease) Acquire(ctx context.Context, name string) (release func(), ok bool, err error) {
	key := l.key(name)
	token := uuid.NewString()

	set, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release = func() {
		// The caller's context may already be cancelled by shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release timer lease",
				zap.Error(err),
				zap.String("timer_name", name),
			)
		}
	}
	return release, true, nil
}
