package ratelimit

import (
	"context"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers"
)

// RetryConfig controls the per-call retry loop around a single carrier
// API request. This is the seconds-scale protection for one call, not the
// minutes-to-hours backoff that paces a chronically failing shipment.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the wait before the given attempt (attempt starts at 1):
// min(base * multiplier^(attempt-1), max). No jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Retry runs fn up to MaxAttempts times with doubling delays. It gives up
// immediately on non-retryable carrier errors (invalid tracking number,
// 404) and on 429s; a rate-limited carrier must be blocked, not hammered.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if carriers.IsNonRetryable(err) || carriers.IsRateLimited(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		t := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
