package fedexhttp

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers/carrierhttp"
	"github.com/LaneWise/ShipSync/internal/models"
)

// FedEx numbers: 12 or 15 digits (express/ground), 20-22 digit SmartPost.
var numberRe = regexp.MustCompile(`^(\d{12}|\d{15}|\d{20,22})$`)

type Client struct {
	http *carrierhttp.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{http: carrierhttp.New(models.CarrierFedEx, baseURL, apiKey, timeout)}
}

type trackResp struct {
	Output struct {
		CompleteTrackResults []struct {
			TrackResults []struct {
				ScanEvents []struct {
					Date             string `json:"date"` // RFC3339
					EventType        string `json:"eventType"`
					EventDescription string `json:"eventDescription"`
					ScanLocation     struct {
						City            string `json:"city"`
						StateOrProvince string `json:"stateOrProvinceCode"`
					} `json:"scanLocation"`
				} `json:"scanEvents"`
			} `json:"trackResults"`
		} `json:"completeTrackResults"`
	} `json:"output"`
}

func (c *Client) GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error) {
	if !c.ValidateTrackingNumber(trackingNumber) {
		return nil, carrierhttp.InvalidNumber(models.CarrierFedEx, trackingNumber)
	}

	var r trackResp
	err := c.http.GetJSON(ctx, "/track/v1/trackingnumbers/"+trackingNumber, nil, nil, &r)
	if err != nil {
		return nil, err
	}

	var out []*models.TrackingEvent
	for _, ctr := range r.Output.CompleteTrackResults {
		for _, tr := range ctr.TrackResults {
			for _, e := range tr.ScanEvents {
				evTime, err := time.Parse(time.RFC3339, e.Date)
				if err != nil {
					continue
				}
				typ, st := normalize(e.EventType)
				ev := &models.TrackingEvent{
					Type:        typ,
					Status:      st,
					Description: e.EventDescription,
					Source:      models.SourceAPISync,
					EventTime:   evTime.UTC(),
				}
				if e.EventType != "" {
					id := e.EventType + ":" + e.Date
					ev.SourceID = &id
				}
				if loc := joinLocation(e.ScanLocation.City, e.ScanLocation.StateOrProvince); loc != "" {
					ev.Location = &loc
				}
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (c *Client) ValidateTrackingNumber(trackingNumber string) bool {
	return numberRe.MatchString(trackingNumber)
}

func (c *Client) IsAvailable() bool { return c.http.Configured() }

// FedEx scan event types: PU pickup, IT/AR/DP in transit, OD out for
// delivery, DE delivery exception, DL delivered, CA cancelled.
func normalize(eventType string) (models.EventType, models.ShipmentStatus) {
	switch eventType {
	case "PU":
		return models.EventPickup, models.StatusInTransit
	case "IT", "AR", "DP":
		return models.EventInTransit, models.StatusInTransit
	case "OD":
		return models.EventOutForDelivery, models.StatusOutForDelivery
	case "DL":
		return models.EventDelivered, models.StatusDelivered
	case "DE":
		return models.EventException, models.StatusException
	case "CA":
		return models.EventCancelled, models.StatusCancelled
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
