package messages

import (
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
)

// ShipmentSynced is published by the worker after every sync attempt.
// The admin API consumes it to refresh its cache; the notification
// subsystem consumes it to fan out status-change alerts.
type ShipmentSynced struct {
	ShipmentID uint64    `json:"shipment_id"`
	CheckedAt  time.Time `json:"checked_at"`

	Success     bool `json:"success"`
	EventsAdded int  `json:"events_added,omitempty"`

	StatusChanged bool                  `json:"status_changed,omitempty"`
	Status        models.ShipmentStatus `json:"status,omitempty"`

	Error          *string    `json:"error,omitempty"`
	NextRetryAfter *time.Time `json:"next_retry_after,omitempty"`
}
