package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter,
// keyed per bot user. It bounds how fast usage events can be recorded
// for one user, independent of their monetary budget.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultRPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultRPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func (l *Limiter) Allow(ctx context.Context, userID int64, events int) (bool, error) {
	key := fmt.Sprintf("ratelimit:user:%d", userID)
	res, err := l.store.AllowN(ctx, key, events)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, userID int64) (*extratelimit.Result, error) {
	key := fmt.Sprintf("ratelimit:user:%d", userID)
	return l.store.Status(ctx, key)
}
