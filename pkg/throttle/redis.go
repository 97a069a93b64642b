package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces limiter keys in Redis.
const DefaultKeyPrefix = "groupcart:throttle:"

// RedisLimiter is a fixed window counter shared by every instance that
// talks to the same Redis.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RedisConfig configures a RedisLimiter.
type RedisConfig struct {
	Prefix string
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

// NewRedisLimiter creates a limiter over client.
func NewRedisLimiter(client redis.Cmdable, cfg RedisConfig) *RedisLimiter {
	limit, window := normalize(cfg.Limit, cfg.Window)
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultKeyPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisLimiter{client: client, prefix: cfg.Prefix, limit: limit, window: window, now: cfg.Now}
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Allow increments the counter for key's current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.key(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("incrementing throttle counter: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}

func (l *RedisLimiter) key(key string) string {
	slot := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("%s%s:%d", l.prefix, key, slot)
}
