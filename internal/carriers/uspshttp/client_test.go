package uspshttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestValidateTrackingNumber(t *testing.T) {
	c := New("", "", 0)
	require.True(t, c.ValidateTrackingNumber("94001000000000000000"))   // 20 digits
	require.True(t, c.ValidateTrackingNumber("9400100000000000000000")) // 22 digits
	require.True(t, c.ValidateTrackingNumber("EC123456789US"))
	require.False(t, c.ValidateTrackingNumber("EC123456789GB"))
	require.False(t, c.ValidateTrackingNumber("940010000000000000"))  // 18 digits
	require.False(t, c.ValidateTrackingNumber("ec123456789us"))
}

func TestNormalize_SubstringMatching(t *testing.T) {
	for _, tc := range []struct {
		in       string
		wantType models.EventType
		wantHint models.ShipmentStatus
	}{
		{"Delivered, Front Door", models.EventDelivered, models.StatusDelivered},
		{"Out for Delivery", models.EventOutForDelivery, models.StatusOutForDelivery},
		{"Delivery Attempt - No Access", models.EventDeliveryAttempt, models.StatusException},
		{"Notice Left", models.EventDeliveryAttempt, models.StatusException},
		{"USPS in possession of item, Accepted", models.EventPickup, models.StatusInTransit},
		{"In Transit to Next Facility", models.EventInTransit, models.StatusInTransit},
		{"Arrived at USPS Regional Facility", models.EventInTransit, models.StatusInTransit},
		{"Return to Sender", models.EventException, models.StatusException},
		{"Something Unrecognized", models.EventLocationUpdate, ""},
	} {
		typ, hint := normalize(tc.in)
		require.Equal(t, tc.wantType, typ, tc.in)
		require.Equal(t, tc.wantHint, hint, tc.in)
	}
}

const uspsBody = `{
  "trackingNumber": "9400100000000000000000",
  "trackingEvents": [
    {
      "eventType": "Delivered, In/At Mailbox",
      "eventTimestamp": "2025-06-02T11:05:00Z",
      "eventCode": "01",
      "eventCity": "SPRINGFIELD",
      "eventState": "IL"
    },
    {
      "eventType": "Out for Delivery",
      "eventTimestamp": "2025-06-02T06:10:00Z",
      "eventCode": "OF",
      "eventCity": "SPRINGFIELD",
      "eventState": "IL"
    }
  ]
}`

func TestGetTrackingEvents_NormalizesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tracking/v3/tracking/9400100000000000000000", r.URL.Path)
		_, _ = w.Write([]byte(uspsBody))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", time.Second)
	evs, err := c.GetTrackingEvents(context.Background(), "9400100000000000000000")
	require.NoError(t, err)
	require.Len(t, evs, 2)

	require.Equal(t, models.EventDelivered, evs[0].Type)
	require.Equal(t, models.StatusDelivered, evs[0].Status)
	require.Equal(t, time.Date(2025, 6, 2, 11, 5, 0, 0, time.UTC), evs[0].EventTime)
	require.Equal(t, "SPRINGFIELD, IL", *evs[0].Location)
	require.Equal(t, "01:2025-06-02T11:05:00Z", *evs[0].SourceID)

	require.Equal(t, models.EventOutForDelivery, evs[1].Type)
}

func TestGetTrackingEvents_MalformedNumberFailsFast(t *testing.T) {
	c := New("http://127.0.0.1:1", "k", time.Second)
	_, err := c.GetTrackingEvents(context.Background(), "12345")
	require.Error(t, err)
	require.True(t, carriers.IsNonRetryable(err))
}
