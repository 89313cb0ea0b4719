package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// CarrierLimiter is the shared fixed-window carrier counter for
// deployments running more than one worker. The in-process sliding
// window still applies per worker; this one keeps the sum of all workers
// under the carrier cap.
type CarrierLimiter struct {
	c *redis.Client
}

func NewCarrierLimiter(addr string) *CarrierLimiter {
	return &CarrierLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow INCRs the carrier's current-minute key and sets its TTL.
// Returns (allowed, currentCount).
func (rl *CarrierLimiter) Allow(ctx context.Context, carrier models.Carrier, limit int64, window time.Duration) (bool, int64, error) {
	key := fmt.Sprintf("rl:carrier:%s:%s", carrier, time.Now().UTC().Format("200601021504"))

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
