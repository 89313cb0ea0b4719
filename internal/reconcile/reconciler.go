// Package reconcile merges freshly fetched carrier events into the
// stored event trail: drop what is already recorded, persist the rest in
// chronological order, and derive the status-transition candidate from
// the latest new event.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/LaneWise/ShipSync/internal/status"
	"github.com/pkg/errors"
)

type Repository interface {
	// ListSyncEventKeys returns the dedup identities of the shipment's
	// already-stored api_sync events.
	ListSyncEventKeys(ctx context.Context, shipmentID uint64) (ExistingKeys, error)
	// InsertEventsOrdered persists events in the given (ascending) order.
	InsertEventsOrdered(ctx context.Context, shipmentID uint64, events []*models.TrackingEvent) error
	UpdateShipmentStatus(ctx context.Context, shipmentID uint64, s models.ShipmentStatus) error
}

// ExistingKeys indexes stored events by event time (unix ms) and
// carrier-native event id ("" when the carrier supplied none).
type ExistingKeys map[int64]map[string]struct{}

func (k ExistingKeys) Add(t time.Time, sourceID string) {
	ms := t.UnixMilli()
	if k[ms] == nil {
		k[ms] = make(map[string]struct{})
	}
	k[ms][sourceID] = struct{}{}
}

// Contains applies the dedup identity: with a carrier event id the match
// is (time, id); without one any event at the same timestamp collides.
// Two genuinely distinct id-less events sharing a timestamp therefore
// still collapse into one, a known limitation of timestamp dedup.
func (k ExistingKeys) Contains(t time.Time, sourceID string) bool {
	ids, ok := k[t.UnixMilli()]
	if !ok {
		return false
	}
	if sourceID == "" {
		return len(ids) > 0
	}
	_, ok = ids[sourceID]
	return ok
}

type Result struct {
	NewEvents     int
	StatusChanged bool
	From          models.ShipmentStatus
	To            models.ShipmentStatus
}

type Reconciler struct {
	repo Repository
	log  *slog.Logger
}

func New(repo Repository, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, log: log}
}

// Reconcile dedups and persists fetched events, then applies the latest
// event's status hint through the state machine. Event persistence is
// durable regardless of whether the status update succeeds; a failed
// status write is logged, never rolled back.
func (r *Reconciler) Reconcile(ctx context.Context, sh *models.Shipment, fetched []*models.TrackingEvent) (Result, error) {
	res := Result{From: sh.Status, To: sh.Status}
	if len(fetched) == 0 {
		return res, nil
	}

	existing, err := r.repo.ListSyncEventKeys(ctx, sh.ID)
	if err != nil {
		return res, errors.Wrap(err, "list event keys")
	}

	fresh := make([]*models.TrackingEvent, 0, len(fetched))
	for _, ev := range fetched {
		sid := ""
		if ev.SourceID != nil {
			sid = *ev.SourceID
		}
		if existing.Contains(ev.EventTime, sid) {
			continue
		}
		existing.Add(ev.EventTime, sid) // dedup within the batch too
		ev.ShipmentID = sh.ID
		ev.Source = models.SourceAPISync
		fresh = append(fresh, ev)
	}
	if len(fresh) == 0 {
		return res, nil
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].EventTime.Before(fresh[j].EventTime)
	})

	if err := r.repo.InsertEventsOrdered(ctx, sh.ID, fresh); err != nil {
		return res, errors.Wrap(err, "insert events")
	}
	res.NewEvents = len(fresh)

	// Chronologically latest event drives the transition.
	hint := fresh[len(fresh)-1].Status
	next, err := status.Transition(sh.Status, hint)
	if err != nil {
		r.log.Warn("status hint rejected",
			"shipment_id", sh.ID, "current", sh.Status, "hint", hint, "error", err.Error())
		return res, nil
	}
	if next == sh.Status {
		return res, nil
	}

	if err := r.repo.UpdateShipmentStatus(ctx, sh.ID, next); err != nil {
		r.log.Error("status update failed, events kept",
			"shipment_id", sh.ID, "status", next, "error", err.Error())
		return res, nil
	}
	res.StatusChanged = true
	res.To = next
	sh.Status = next
	return res, nil
}
