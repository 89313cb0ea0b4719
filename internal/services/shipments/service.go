package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LaneWise/ShipSync/internal/broker/messages"
	"github.com/LaneWise/ShipSync/internal/cache"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error)
	GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error)
	ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error)
	MarkForResync(ctx context.Context, shipmentID uint64) error
	MarkAllForResync(ctx context.Context) (int64, error)
}

// NumberValidator is the carrier factory's syntactic check, used here so
// malformed tracking numbers are rejected at intake instead of burning a
// carrier API call later.
type NumberValidator interface {
	ValidateTrackingNumber(c models.Carrier, trackingNumber string) bool
}

type Service struct {
	repo       Repository
	validator  NumberValidator
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, validator NumberValidator, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, validator: validator, cache: c, currentTTL: currentTTL}
}

func (s *Service) CreateShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	if len(items) == 0 {
		return nil, errors.New("items is empty")
	}
	if len(items) > 10_000 {
		return nil, errors.New("too many items (max 10000)")
	}

	clean := make([]models.ShipmentCreateInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if !it.Carrier.Valid() {
			return nil, errors.Errorf("unknown carrier %q", it.Carrier)
		}
		if it.TrackingNumber == "" {
			return nil, errors.New("trackingNumber is required")
		}
		if s.validator != nil && !s.validator.ValidateTrackingNumber(it.Carrier, it.TrackingNumber) {
			return nil, errors.Errorf("malformed %s tracking number %q", it.Carrier, it.TrackingNumber)
		}
		k := fmt.Sprintf("%s|%s", it.Carrier, it.TrackingNumber)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, it)
	}

	return s.repo.CreateShipments(ctx, clean)
}

// GetShipmentsByIDs reads through the best-effort cache: hits are served
// from Redis, misses loaded from Postgres and cached. Response order
// matches the requested ids.
func (s *Service) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}

	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.Shipment, len(ids))

	if s.cache != nil && s.currentTTL > 0 {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var sh models.Shipment
			if json.Unmarshal(b, &sh) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &sh
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetShipmentsByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, sh := range fromDB {
			got[sh.ID] = sh
			if s.cache != nil && s.currentTTL > 0 {
				b, _ := json.Marshal(sh)
				_ = s.cache.Set(ctx, currentKey(sh.ID), b, s.currentTTL)
			}
		}
	}

	out := make([]*models.Shipment, 0, len(ids))
	for _, id := range ids {
		if sh, ok := got[id]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *Service) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	return s.repo.ListShipmentEvents(ctx, shipmentID, limit, offset)
}

// RequestResync is the operator override for a flagged shipment: clears
// the staleness anchors so the next worker pass picks it up regardless
// of its backoff window.
func (s *Service) RequestResync(ctx context.Context, shipmentID uint64) error {
	if shipmentID == 0 {
		return errors.New("shipmentId is required")
	}
	shs, err := s.repo.GetShipmentsByIDs(ctx, []uint64{shipmentID})
	if err != nil {
		return err
	}
	if len(shs) == 0 {
		return errors.Errorf("shipment %d not found", shipmentID)
	}
	if !shs[0].SyncEligible() {
		return errors.Errorf("shipment %d is not sync-eligible", shipmentID)
	}
	return s.repo.MarkForResync(ctx, shipmentID)
}

// RequestResyncAll marks every eligible shipment due, for the admin full
// resync. Returns how many shipments were marked.
func (s *Service) RequestResyncAll(ctx context.Context) (int64, error) {
	return s.repo.MarkAllForResync(ctx)
}

// ApplySyncOutcome handles a ShipmentSynced message from the worker by
// reloading the shipment into the cache.
func (s *Service) ApplySyncOutcome(ctx context.Context, msg messages.ShipmentSynced) error {
	if msg.ShipmentID == 0 {
		return errors.New("shipment_id is required")
	}
	if s.cache == nil || s.currentTTL <= 0 {
		return nil
	}
	shs, err := s.repo.GetShipmentsByIDs(ctx, []uint64{msg.ShipmentID})
	if err != nil {
		return err
	}
	if len(shs) != 1 {
		return nil
	}
	b, _ := json.Marshal(shs[0])
	return s.cache.Set(ctx, currentKey(msg.ShipmentID), b, s.currentTTL)
}

func currentKey(id uint64) string {
	return fmt.Sprintf("shipment:%d:current", id)
}
