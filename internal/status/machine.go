package status

import (
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
)

// ErrBackwardTransition is returned when a carrier hint would move a
// shipment against the lifecycle direction (e.g. delivered -> in-transit).
// Callers log these as anomalies and keep the current status.
var ErrBackwardTransition = errors.New("backward status transition")

// Allowed edges of the shipment lifecycle. Exception is a recoverable
// detour, delivered and cancelled are terminal.
var allowed = map[models.ShipmentStatus]map[models.ShipmentStatus]struct{}{
	models.StatusPending: edges(
		models.StatusInTransit, models.StatusOutForDelivery,
		models.StatusDelivered, models.StatusException, models.StatusCancelled,
	),
	models.StatusInTransit: edges(
		models.StatusOutForDelivery, models.StatusDelivered,
		models.StatusException, models.StatusCancelled,
	),
	models.StatusOutForDelivery: edges(
		models.StatusDelivered, models.StatusException, models.StatusCancelled,
	),
	models.StatusException: edges(
		models.StatusInTransit, models.StatusOutForDelivery,
		models.StatusDelivered, models.StatusCancelled,
	),
	models.StatusDelivered: {},
	models.StatusCancelled: {},
}

func edges(ss ...models.ShipmentStatus) map[models.ShipmentStatus]struct{} {
	m := make(map[models.ShipmentStatus]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

func CanTransition(from, to models.ShipmentStatus) bool {
	out, ok := allowed[from]
	if !ok {
		return false
	}
	_, ok = out[to]
	return ok
}

// Transition applies a status hint to the current status. An empty or
// identical hint is a no-op. A hint without an allowed edge returns
// ErrBackwardTransition and the unchanged status.
func Transition(current, hint models.ShipmentStatus) (models.ShipmentStatus, error) {
	if hint == "" || hint == current {
		return current, nil
	}
	if !CanTransition(current, hint) {
		return current, errors.Wrapf(ErrBackwardTransition, "%s -> %s", current, hint)
	}
	return hint, nil
}
