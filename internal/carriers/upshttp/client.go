package upshttp

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers/carrierhttp"
	"github.com/LaneWise/ShipSync/internal/models"
)

// UPS "1Z" tracking numbers: 1Z + 16 alphanumerics.
var numberRe = regexp.MustCompile(`^1Z[0-9A-Z]{16}$`)

type Client struct {
	http *carrierhttp.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{http: carrierhttp.New(models.CarrierUPS, baseURL, apiKey, timeout)}
}

type trackResp struct {
	TrackResponse struct {
		Shipment []struct {
			Package []struct {
				Activity []struct {
					Status struct {
						Type        string `json:"type"`
						Description string `json:"description"`
						Code        string `json:"code"`
					} `json:"status"`
					Location struct {
						Address struct {
							City          string `json:"city"`
							StateProvince string `json:"stateProvince"`
						} `json:"address"`
					} `json:"location"`
					Date string `json:"date"` // 20060102
					Time string `json:"time"` // 150405
				} `json:"activity"`
			} `json:"package"`
		} `json:"shipment"`
	} `json:"trackResponse"`
}

func (c *Client) GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error) {
	if !c.ValidateTrackingNumber(trackingNumber) {
		return nil, carrierhttp.InvalidNumber(models.CarrierUPS, trackingNumber)
	}

	var r trackResp
	h := http.Header{}
	h.Set("transId", trackingNumber)
	err := c.http.GetJSON(ctx, "/api/track/v1/details/"+trackingNumber, nil, h, &r)
	if err != nil {
		return nil, err
	}

	var out []*models.TrackingEvent
	for _, sh := range r.TrackResponse.Shipment {
		for _, pkg := range sh.Package {
			for _, a := range pkg.Activity {
				evTime, ok := parseActivityTime(a.Date, a.Time)
				if !ok {
					continue
				}
				typ, st := normalize(a.Status.Type)
				ev := &models.TrackingEvent{
					Type:        typ,
					Status:      st,
					Description: a.Status.Description,
					Source:      models.SourceAPISync,
					EventTime:   evTime,
				}
				if a.Status.Code != "" {
					id := a.Status.Code + ":" + a.Date + a.Time
					ev.SourceID = &id
				}
				if loc := formatLocation(a.Location.Address.City, a.Location.Address.StateProvince); loc != "" {
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

// UPS activity status types: M manifest, P pickup, I in transit,
// O out for delivery, D delivered, X exception, RS returned.
func normalize(statusType string) (models.EventType, models.ShipmentStatus) {
	switch statusType {
	case "P":
		return models.EventPickup, models.StatusInTransit
	case "I", "M":
		return models.EventInTransit, models.StatusInTransit
	case "O":
		return models.EventOutForDelivery, models.StatusOutForDelivery
	case "D":
		return models.EventDelivered, models.StatusDelivered
	case "X", "RS":
		return models.EventException, models.StatusException
	default:
		return models.EventLocationUpdate, ""
	}
}

func parseActivityTime(date, clock string) (time.Time, bool) {
	if clock == "" {
		clock = "000000"
	}
	t, err := time.ParseInLocation("20060102 150405", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatLocation(city, state string) string {
	switch {
	case city != "" && state != "":
		return fmt.Sprintf("%s, %s", city, state)
	case city != "":
		return city
	default:
		return state
	}
}
