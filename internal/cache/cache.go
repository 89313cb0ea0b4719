package cache

import (
	"context"
	"time"
)

// BytesCache is the best-effort cache boundary: callers must tolerate
// misses and errors alike.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
