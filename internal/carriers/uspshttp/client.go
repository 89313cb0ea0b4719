package uspshttp

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers/carrierhttp"
	"github.com/LaneWise/ShipSync/internal/models"
)

// USPS: 20-22 digit IMpb barcodes or the 13-char international form
// (two letters, nine digits, "US").
var numberRe = regexp.MustCompile(`^(\d{20,22}|[A-Z]{2}\d{9}US)$`)

type Client struct {
	http *carrierhttp.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{http: carrierhttp.New(models.CarrierUSPS, baseURL, apiKey, timeout)}
}

type trackResp struct {
	TrackingNumber string `json:"trackingNumber"`
	TrackingEvents []struct {
		EventType      string `json:"eventType"`
		EventTimestamp string `json:"eventTimestamp"` // RFC3339
		EventCode      string `json:"eventCode"`
		EventCity      string `json:"eventCity"`
		EventState     string `json:"eventState"`
	} `json:"trackingEvents"`
}

func (c *Client) GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error) {
	if !c.ValidateTrackingNumber(trackingNumber) {
		return nil, carrierhttp.InvalidNumber(models.CarrierUSPS, trackingNumber)
	}

	var r trackResp
	if err := c.http.GetJSON(ctx, "/tracking/v3/tracking/"+trackingNumber, nil, nil, &r); err != nil {
		return nil, err
	}

	var out []*models.TrackingEvent
	for _, e := range r.TrackingEvents {
		evTime, err := time.Parse(time.RFC3339, e.EventTimestamp)
		if err != nil {
			continue
		}
		typ, st := normalize(e.EventType)
		ev := &models.TrackingEvent{
			Type:        typ,
			Status:      st,
			Description: e.EventType,
			Source:      models.SourceAPISync,
			EventTime:   evTime.UTC(),
		}
		if e.EventCode != "" {
			id := e.EventCode + ":" + e.EventTimestamp
			ev.SourceID = &id
		}
		if loc := joinLocation(e.EventCity, e.EventState); loc != "" {
			ev.Location = &loc
		}
		out = append(out, ev)
	}
	return out, nil
}

func (c *Client) ValidateTrackingNumber(trackingNumber string) bool {
	return numberRe.MatchString(trackingNumber)
}

func (c *Client) IsAvailable() bool { return c.http.Configured() }

func normalize(eventType string) (models.EventType, models.ShipmentStatus) {
	t := strings.ToLower(eventType)
	switch {
	case strings.Contains(t, "delivered"):
		return models.EventDelivered, models.StatusDelivered
	case strings.Contains(t, "out for delivery"):
		return models.EventOutForDelivery, models.StatusOutForDelivery
	case strings.Contains(t, "attempt"), strings.Contains(t, "notice left"):
		return models.EventDeliveryAttempt, models.StatusException
	case strings.Contains(t, "accept"), strings.Contains(t, "picked up"):
		return models.EventPickup, models.StatusInTransit
	case strings.Contains(t, "transit"), strings.Contains(t, "arrived"),
		strings.Contains(t, "departed"), strings.Contains(t, "processed"):
		return models.EventInTransit, models.StatusInTransit
	case strings.Contains(t, "return"), strings.Contains(t, "undeliverable"):
		return models.EventException, models.StatusException
	default:
		return models.EventLocationUpdate, ""
	}
}

func joinLocation(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
