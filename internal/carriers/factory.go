package carriers

import (
	"context"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Factory holds the closed set of carrier adapters. The set is fixed at
// construction; there is no runtime registration beyond bootstrap.
type Factory struct {
	adapters map[models.Carrier]Adapter
}

func NewFactory() *Factory {
	return &Factory{adapters: make(map[models.Carrier]Adapter, len(models.Carriers))}
}

// Register wraps the adapter in a per-carrier circuit breaker and stores it.
func (f *Factory) Register(c models.Carrier, a Adapter) *Factory {
	f.adapters[c] = withBreaker(c, a)
	return f
}

func (f *Factory) Adapter(c models.Carrier) (Adapter, error) {
	a, ok := f.adapters[c]
	if !ok {
		return nil, errors.Errorf("no adapter for carrier %q", c)
	}
	return a, nil
}

func (f *Factory) ValidateTrackingNumber(c models.Carrier, trackingNumber string) bool {
	a, ok := f.adapters[c]
	if !ok {
		return false
	}
	return a.ValidateTrackingNumber(trackingNumber)
}

// breakerAdapter shields a flapping carrier API: after five consecutive
// transport failures the breaker opens for a minute and calls fail fast
// as CARRIER_UNAVAILABLE. Non-retryable errors (bad tracking number, 404)
// say nothing about carrier health and do not count as failures.
type breakerAdapter struct {
	carrier models.Carrier
	inner   Adapter
	cb      *gobreaker.CircuitBreaker[[]*models.TrackingEvent]
}

func withBreaker(c models.Carrier, inner Adapter) Adapter {
	cb := gobreaker.NewCircuitBreaker[[]*models.TrackingEvent](gobreaker.Settings{
		Name:        string(c),
		MaxRequests: 1,
		Interval:    2 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsNonRetryable(err)
		},
	})
	return &breakerAdapter{carrier: c, inner: inner, cb: cb}
}

func (b *breakerAdapter) GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error) {
	events, err := b.cb.Execute(func() ([]*models.TrackingEvent, error) {
		return b.inner.GetTrackingEvents(ctx, trackingNumber)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &APIError{
			Carrier: b.carrier,
			Code:    CodeUnavailable,
			Message: "circuit breaker open",
		}
	}
	return events, err
}

func (b *breakerAdapter) ValidateTrackingNumber(trackingNumber string) bool {
	return b.inner.ValidateTrackingNumber(trackingNumber)
}

func (b *breakerAdapter) IsAvailable() bool {
	return b.cb.State() != gobreaker.StateOpen && b.inner.IsAvailable()
}
