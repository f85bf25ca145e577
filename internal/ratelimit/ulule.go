package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// UluleLimiter adapts a ulule/limiter store to the Limiter interface.
type UluleLimiter struct {
	Store limiter.Store
}

// NewRedisLimiter builds a limiter backed by a shared Redis store.
func NewRedisLimiter(client *redis.Client) (UluleLimiter, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "checkout:ratelimit",
	})
	if err != nil {
		return UluleLimiter{}, err
	}
	return UluleLimiter{Store: store}, nil
}

// Allow registers an event for the given key and reports whether it is within the limit.
func (u UluleLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if u.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	lctx, err := limiter.New(u.Store, rate).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}
