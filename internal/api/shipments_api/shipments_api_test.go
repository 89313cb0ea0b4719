package shipments_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	shipments []*models.Shipment
	events    []*models.TrackingEvent
	resyncID  uint64
	resyncErr error
	resyncAll int64
	createIn  []models.ShipmentCreateInput
}

func (f *fakeService) CreateShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	f.createIn = items
	if len(items) == 0 {
		return nil, errors.New("items is empty")
	}
	return f.shipments, nil
}
func (f *fakeService) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	return f.shipments, nil
}
func (f *fakeService) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	return f.events, nil
}
func (f *fakeService) RequestResync(ctx context.Context, shipmentID uint64) error {
	f.resyncID = shipmentID
	return f.resyncErr
}
func (f *fakeService) RequestResyncAll(ctx context.Context) (int64, error) {
	return f.resyncAll, nil
}

func newServer(svc Service) *httptest.Server {
	r := chi.NewRouter()
	New(svc).Routes(r)
	return httptest.NewServer(r)
}

func sampleShipment() *models.Shipment {
	now := time.Now().UTC()
	tn := "1Z999AA10123456784"
	return &models.Shipment{
		ID:             1,
		Carrier:        models.CarrierUPS,
		TrackingNumber: &tn,
		Status:         models.StatusInTransit,
		APISyncStatus:  models.SyncSuccess,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateShipments(t *testing.T) {
	svc := &fakeService{shipments: []*models.Shipment{sampleShipment()}}
	srv := newServer(svc)
	defer srv.Close()

	body := bytes.NewBufferString(`{"items":[{"carrier":"ups","trackingNumber":"1Z999AA10123456784"}]}`)
	resp, err := http.Post(srv.URL+"/shipments", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Shipments []shipmentDTO `json:"shipments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Shipments, 1)
	require.Equal(t, "ups", out.Shipments[0].Carrier)
	require.Len(t, svc.createIn, 1)
}

func TestCreateShipmentsBadJSON(t *testing.T) {
	srv := newServer(&fakeService{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/shipments", "application/json", bytes.NewBufferString("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetShipmentsRequiresIDs(t *testing.T) {
	srv := newServer(&fakeService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/shipments")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetShipmentsByIDs(t *testing.T) {
	srv := newServer(&fakeService{shipments: []*models.Shipment{sampleShipment()}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/shipments?ids=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Shipments []shipmentDTO `json:"shipments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Shipments, 1)
	require.Equal(t, uint64(1), out.Shipments[0].ID)
}

func TestGetShipmentNotFound(t *testing.T) {
	srv := newServer(&fakeService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/shipments/99")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEvents(t *testing.T) {
	now := time.Now().UTC()
	svc := &fakeService{events: []*models.TrackingEvent{{
		ID:          10,
		ShipmentID:  1,
		Type:        models.EventInTransit,
		Status:      models.StatusInTransit,
		Description: "Departed facility",
		Source:      models.SourceAPISync,
		EventTime:   now,
		RecordedAt:  now,
	}}}
	srv := newServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/shipments/1/events?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Events []eventDTO `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Events, 1)
	require.Equal(t, "Departed facility", out.Events[0].Description)
}

func TestRequestResync(t *testing.T) {
	svc := &fakeService{}
	srv := newServer(svc)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/shipments/5/resync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, uint64(5), svc.resyncID)
}

func TestRequestResyncAll(t *testing.T) {
	svc := &fakeService{resyncAll: 12}
	srv := newServer(svc)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sync/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Marked int64 `json:"marked"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, int64(12), out.Marked)
}

func TestRequestResyncNotFound(t *testing.T) {
	svc := &fakeService{resyncErr: errors.New("shipment 5 not found")}
	srv := newServer(svc)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/shipments/5/resync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
