package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// window is the fixed accounting period for a team's generation quota.
const window = time.Hour

type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(redisURL string) (*RateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return &RateLimiter{client: redis.NewClient(opt)}, nil
}

// Allow counts one generation against the team's hourly window and
// reports whether it fits under limit. The increment and the key TTL
// are applied in one transaction so a crashed request cannot leave an
// unexpiring counter behind.
func (rl *RateLimiter) Allow(ctx context.Context, teamID string, limit int) (bool, error) {
	key := windowKey(teamID, time.Now().UTC())

	pipe := rl.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return count.Val() <= int64(limit), nil
}

func windowKey(teamID string, now time.Time) string {
	return fmt.Sprintf("ratelimit:team:%s:%s", teamID, now.Format("2006-01-02-15"))
}

func (rl *RateLimiter) Close() error {
	return rl.client.Close()
}
