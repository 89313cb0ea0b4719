package dhlhttp

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers/carrierhttp"
	"github.com/LaneWise/ShipSync/internal/models"
)

// DHL Express waybills are 10-11 digits.
var numberRe = regexp.MustCompile(`^\d{10,11}$`)

type Client struct {
	http *carrierhttp.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{http: carrierhttp.New(models.CarrierDHL, baseURL, apiKey, timeout)}
}

type trackResp struct {
	Shipments []struct {
		Events []struct {
			Timestamp   string `json:"timestamp"` // RFC3339
			StatusCode  string `json:"statusCode"`
			Description string `json:"description"`
			PieceID     string `json:"pieceId"`
			Location    struct {
				Address struct {
					AddressLocality string `json:"addressLocality"`
				} `json:"address"`
			} `json:"location"`
		} `json:"events"`
	} `json:"shipments"`
}

func (c *Client) GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error) {
	if !c.ValidateTrackingNumber(trackingNumber) {
		return nil, carrierhttp.InvalidNumber(models.CarrierDHL, trackingNumber)
	}

	q := url.Values{}
	q.Set("trackingNumber", trackingNumber)
	q.Set("service", "express")

	var r trackResp
	if err := c.http.GetJSON(ctx, "/track/shipments", q, nil, &r); err != nil {
		return nil, err
	}

	var out []*models.TrackingEvent
	for _, sh := range r.Shipments {
		for _, e := range sh.Events {
			evTime, err := time.Parse(time.RFC3339, e.Timestamp)
			if err != nil {
				continue
			}
			typ, st := normalize(e.StatusCode)
			ev := &models.TrackingEvent{
				Type:        typ,
				Status:      st,
				Description: e.Description,
				Source:      models.SourceAPISync,
				EventTime:   evTime.UTC(),
			}
			if e.PieceID != "" {
				id := e.PieceID + ":" + e.Timestamp
				ev.SourceID = &id
			}
			if e.Location.Address.AddressLocality != "" {
				loc := e.Location.Address.AddressLocality
				ev.Location = &loc
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *Client) ValidateTrackingNumber(trackingNumber string) bool {
	return numberRe.MatchString(trackingNumber)
}

func (c *Client) IsAvailable() bool { return c.http.Configured() }

// DHL unified status codes.
func normalize(statusCode string) (models.EventType, models.ShipmentStatus) {
	switch statusCode {
	case "pre-transit":
		return models.EventPickup, models.StatusPending
	case "transit":
		return models.EventInTransit, models.StatusInTransit
	case "out-for-delivery":
		return models.EventOutForDelivery, models.StatusOutForDelivery
	case "delivered":
		return models.EventDelivered, models.StatusDelivered
	case "failure":
		return models.EventException, models.StatusException
	default:
		return models.EventLocationUpdate, ""
	}
}
