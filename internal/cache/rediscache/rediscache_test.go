package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "shipment:1:current", []byte(`{"id":1}`), time.Minute))

	b, ok, err := c.Get(ctx, "shipment:1:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":1}`), b)
}

func TestRedisCache_MissIsNotAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	_, ok, err := c.Get(context.Background(), "shipment:404:current")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_TTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCarrierLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewCarrierLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, models.CarrierUPS, 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, models.CarrierUPS, 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, models.CarrierUPS, 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// Carriers count independently.
	ok, n, _ = rl.Allow(ctx, models.CarrierFedEx, 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestCarrierLimiter_Unreachable(t *testing.T) {
	rl := NewCarrierLimiter("127.0.0.1:1")
	_, _, err := rl.Allow(context.Background(), models.CarrierUPS, 2, time.Minute)
	require.Error(t, err)
}
