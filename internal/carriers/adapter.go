package carriers

import (
	"context"
	"fmt"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
)

// Error codes surfaced by carrier adapters.
const (
	CodeInvalidTrackingNumber = "INVALID_TRACKING_NUMBER"
	CodeRateLimited           = "RATE_LIMITED"
	CodeUnavailable           = "CARRIER_UNAVAILABLE"
	CodeTimeout               = "TIMEOUT"
)

type APIError struct {
	Carrier    models.Carrier
	Code       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (http %d): %s", e.Carrier, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Carrier, e.Code, e.Message)
}

// Retryable reports whether the caller may retry the same call.
// Invalid tracking numbers and 404s never resolve by retrying.
func (e *APIError) Retryable() bool {
	return e.Code != CodeInvalidTrackingNumber && e.StatusCode != 404
}

func IsNonRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return false
}

func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == CodeRateLimited || apiErr.StatusCode == 429
	}
	return false
}

// Adapter is the per-carrier tracking API boundary. Implementations are
// stateless; format validation is purely syntactic and never touches the
// network.
type Adapter interface {
	GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error)
	ValidateTrackingNumber(trackingNumber string) bool
	IsAvailable() bool
}
