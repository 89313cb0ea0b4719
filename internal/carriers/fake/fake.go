package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
)

// Adapter is a deterministic stand-in carrier for local runs and demos.
// The event trail is a pure function of (carrier, trackingNumber), so a
// fifth of all numbers end up delivered.
type Adapter struct {
	carrier models.Carrier
}

func New(carrier models.Carrier) *Adapter { return &Adapter{carrier: carrier} }

func (f *Adapter) GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(f.carrier))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	base := time.Now().UTC().Truncate(time.Minute).Add(-6 * time.Hour)
	loc := "Springfield, IL"

	events := []*models.TrackingEvent{
		{
			Type:        models.EventPickup,
			Status:      models.StatusInTransit,
			Description: "picked up by carrier",
			Location:    &loc,
			Source:      models.SourceAPISync,
			EventTime:   base,
		},
		{
			Type:        models.EventInTransit,
			Status:      models.StatusInTransit,
			Description: "departed origin facility",
			Location:    &loc,
			Source:      models.SourceAPISync,
			EventTime:   base.Add(2 * time.Hour),
		},
	}
	if v%5 == 0 {
		events = append(events, &models.TrackingEvent{
			Type:        models.EventDelivered,
			Status:      models.StatusDelivered,
			Description: "delivered, front door",
			Location:    &loc,
			Source:      models.SourceAPISync,
			EventTime:   base.Add(5 * time.Hour),
		})
	}
	return events, nil
}

func (f *Adapter) ValidateTrackingNumber(trackingNumber string) bool {
	return trackingNumber != ""
}

func (f *Adapter) IsAvailable() bool { return true }
