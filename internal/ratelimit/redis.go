package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "umbrella:ratelimit:"

// redisLimiter counts in windows aligned to the epoch, so every replica
// agrees on where a window ends without reading its TTL back.
type redisLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRedis constructs a limiter whose windows are shared by every replica.
// Redis failures fail open.
func NewRedis(addr, password string, db int, logger *slog.Logger) (Limiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisLimiter{
		client:  client,
		logger:  logger.With("component", "ratelimit"),
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}, nil
}

// windowKey names the counter for key in the window containing now and
// returns when that window ends.
func windowKey(key string, now time.Time, window time.Duration) (string, time.Time) {
	start := now.UnixNano() / int64(window)
	end := time.Unix(0, (start+1)*int64(window))
	return redisKeyPrefix + key + ":" + strconv.FormatInt(start, 10), end
}

func (rl *redisLimiter) Allow(key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	redisKey, end := windowKey(key, rl.now(), window)

	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()
	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		// a second of slack keeps the counter alive for callers with skewed clocks
		pipe.ExpireAt(ctx, redisKey, end.Add(time.Second))
		return nil
	})
	if err != nil {
		rl.logger.Error("redis rate limiter error", "key", key, "error", err)
		return Decision{Allowed: true}
	}
	count := int(incr.Val())
	return Decision{Allowed: count <= limit, Count: count, WindowEnd: end}
}

func (rl *redisLimiter) Close() {
	_ = rl.client.Close()
}
