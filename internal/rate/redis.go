package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisLimiter: ventana deslizante sobre un ZSET por key
// (ZREMRANGEBYSCORE + ZADD + ZCARD + PEXPIRE en una TxPipeline).
// Los intentos rechazados también se registran, igual que SlidingWindow.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
	Now    func() time.Time
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{
		Client: client,
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
		Now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.Now().UTC()
	redisKey := l.Prefix + strings.ReplaceAll(key, " ", "_")
	cutoff := now.Add(-l.Window).UnixNano()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), seq.Add(1))

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, redisKey, rdb.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	hits := card.Val()
	res := Result{
		Allowed:     hits <= l.Max,
		Remaining:   max64(l.Max-hits, 0),
		CurrentHits: hits,
		WindowTTL:   l.Window,
	}
	if !res.Allowed {
		res.RetryAfter = l.Window
		if zs := oldest.Val(); len(zs) > 0 {
			first := time.Unix(0, int64(zs[0].Score))
			if d := first.Add(l.Window).Sub(now); d > 0 {
				res.RetryAfter = d
			}
		}
	}
	return res, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
