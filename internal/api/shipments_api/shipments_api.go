package shipments_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/go-chi/chi/v5"
)

// Service is the slice of the shipments service the HTTP layer needs.
type Service interface {
	CreateShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error)
	GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error)
	ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error)
	RequestResync(ctx context.Context, shipmentID uint64) error
	RequestResyncAll(ctx context.Context) (int64, error)
}

type ShipmentsAPI struct {
	svc Service
}

func New(svc Service) *ShipmentsAPI {
	return &ShipmentsAPI{svc: svc}
}

func (a *ShipmentsAPI) Routes(r chi.Router) {
	r.Post("/shipments", a.createShipments)
	r.Get("/shipments", a.getShipments)
	r.Get("/shipments/{id}", a.getShipment)
	r.Get("/shipments/{id}/events", a.listEvents)
	r.Post("/shipments/{id}/resync", a.requestResync)
	r.Post("/sync/run", a.requestResyncAll)
}

type shipmentDTO struct {
	ID             uint64     `json:"id"`
	Carrier        string     `json:"carrier"`
	TrackingNumber *string    `json:"trackingNumber"`
	Status         string     `json:"status"`
	APISyncStatus  string     `json:"apiSyncStatus"`
	APIError       *string    `json:"apiError,omitempty"`
	LastAPISync    *time.Time `json:"lastApiSync,omitempty"`
	NeedsReview    bool       `json:"needsReview"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type eventDTO struct {
	ID          uint64    `json:"id"`
	ShipmentID  uint64    `json:"shipmentId"`
	Type        string    `json:"type"`
	Status      string    `json:"status,omitempty"`
	Description string    `json:"description"`
	Location    *string   `json:"location,omitempty"`
	Source      string    `json:"source"`
	SourceID    *string   `json:"sourceId,omitempty"`
	EventTime   time.Time `json:"eventTime"`
	RecordedAt  time.Time `json:"recordedAt"`
}

type createShipmentsRequest struct {
	Items []struct {
		Carrier        string `json:"carrier"`
		TrackingNumber string `json:"trackingNumber"`
	} `json:"items"`
}

func (a *ShipmentsAPI) createShipments(w http.ResponseWriter, r *http.Request) {
	var req createShipmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in := make([]models.ShipmentCreateInput, 0, len(req.Items))
	for _, it := range req.Items {
		in = append(in, models.ShipmentCreateInput{
			Carrier:        models.Carrier(it.Carrier),
			TrackingNumber: it.TrackingNumber,
		})
	}
	shs, err := a.svc.CreateShipments(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shipments": toDTOs(shs)})
}

func (a *ShipmentsAPI) getShipments(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ids must be a comma-separated list of integers")
			return
		}
		ids = append(ids, id)
	}
	shs, err := a.svc.GetShipmentsByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shipments": toDTOs(shs)})
}

func (a *ShipmentsAPI) getShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shs, err := a.svc.GetShipmentsByIDs(r.Context(), []uint64{id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(shs) == 0 {
		writeError(w, http.StatusNotFound, "shipment not found")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(shs[0]))
}

func (a *ShipmentsAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	evs, err := a.svc.ListShipmentEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]eventDTO, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventDTO{
			ID:          e.ID,
			ShipmentID:  e.ShipmentID,
			Type:        string(e.Type),
			Status:      string(e.Status),
			Description: e.Description,
			Location:    e.Location,
			Source:      string(e.Source),
			SourceID:    e.SourceID,
			EventTime:   e.EventTime,
			RecordedAt:  e.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *ShipmentsAPI) requestResync(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.RequestResync(r.Context(), id); err != nil {
		code := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *ShipmentsAPI) requestResyncAll(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.RequestResyncAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"marked": n})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func toDTOs(shs []*models.Shipment) []shipmentDTO {
	out := make([]shipmentDTO, 0, len(shs))
	for _, sh := range shs {
		out = append(out, toDTO(sh))
	}
	return out
}

func toDTO(sh *models.Shipment) shipmentDTO {
	return shipmentDTO{
		ID:             sh.ID,
		Carrier:        string(sh.Carrier),
		TrackingNumber: sh.TrackingNumber,
		Status:         string(sh.Status),
		APISyncStatus:  string(sh.APISyncStatus),
		APIError:       sh.APIError,
		LastAPISync:    sh.LastAPISync,
		NeedsReview:    sh.NeedsReview,
		CreatedAt:      sh.CreatedAt,
		UpdatedAt:      sh.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
