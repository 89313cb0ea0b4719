package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRetryConfig_Delay(t *testing.T) {
	cfg := DefaultRetryConfig()
	require.Equal(t, time.Second, cfg.Delay(1))
	require.Equal(t, 2*time.Second, cfg.Delay(2))
	require.Equal(t, 4*time.Second, cfg.Delay(3))
	require.Equal(t, 30*time.Second, cfg.Delay(10))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &carriers.APIError{Carrier: models.CarrierUPS, Code: carriers.CodeUnavailable, StatusCode: 503}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

	calls := 0
	want := &carriers.APIError{Carrier: models.CarrierUPS, Code: carriers.CodeTimeout}
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return want
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetry_NonRetryableShortCircuits(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return &carriers.APIError{Carrier: models.CarrierUPS, Code: carriers.CodeInvalidTrackingNumber, StatusCode: 400}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.True(t, carriers.IsNonRetryable(err))
}

func TestRetry_RateLimitedShortCircuits(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return &carriers.APIError{Carrier: models.CarrierFedEx, Code: carriers.CodeRateLimited, StatusCode: 429}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.True(t, carriers.IsRateLimited(err))
}

func TestRetry_ContextCancelBetweenAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
