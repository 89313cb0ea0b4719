package pgshipments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/LaneWise/ShipSync/internal/reconcile"
	"github.com/pkg/errors"
)

// ListSyncEventKeys loads the dedup identities of the stored api_sync
// events. Synthetic audit rows (event_type = 'api_sync') are excluded:
// they carry ingestion timestamps, not carrier timestamps, and must not
// shadow real events.
func (s *Storage) ListSyncEventKeys(ctx context.Context, shipmentID uint64) (reconcile.ExistingKeys, error) {
	rows, err := s.db.Query(ctx, `
SELECT event_time, source_id
FROM shipment_events
WHERE shipment_id = $1 AND source = $2 AND event_type <> $3
`, shipmentID, models.SourceAPISync, models.EventAPISync)
	if err != nil {
		return nil, errors.Wrap(err, "select event keys")
	}
	defer rows.Close()

	keys := make(reconcile.ExistingKeys)
	for rows.Next() {
		var t time.Time
		var sourceID *string
		if err := rows.Scan(&t, &sourceID); err != nil {
			return nil, errors.Wrap(err, "scan event key")
		}
		sid := ""
		if sourceID != nil {
			sid = *sourceID
		}
		keys.Add(t, sid)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return keys, nil
}

// InsertEventsOrdered persists events one by one in the given order, so
// row order matches chronological order. The dedup index absorbs races
// with concurrent writers.
func (s *Storage) InsertEventsOrdered(ctx context.Context, shipmentID uint64, events []*models.TrackingEvent) error {
	for _, ev := range events {
		ev.ShipmentID = shipmentID
		if err := s.AddEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) AddEvent(ctx context.Context, ev *models.TrackingEvent) error {
	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	var metadata any
	if ev.MetadataJSON != nil && *ev.MetadataJSON != "" {
		var m any
		if json.Unmarshal([]byte(*ev.MetadataJSON), &m) == nil {
			metadata = m
		}
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO shipment_events (
  shipment_id, event_type, status, description, location,
  source, source_id, event_time, recorded_at, metadata
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (shipment_id, source, event_time, (COALESCE(source_id, ''))) DO NOTHING
`, ev.ShipmentID, ev.Type, ev.Status, ev.Description, ev.Location,
		ev.Source, ev.SourceID, ev.EventTime.UTC(), recordedAt, metadata)
	return errors.Wrap(err, "insert shipment event")
}

func (s *Storage) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, shipment_id, event_type, status, description, location,
  source, source_id, event_time, recorded_at, metadata
FROM shipment_events
WHERE shipment_id = $1
ORDER BY event_time DESC, id DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		var metadata any
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &e.Type, &e.Status, &e.Description, &e.Location,
			&e.Source, &e.SourceID, &e.EventTime, &e.RecordedAt, &metadata,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if metadata != nil {
			b, _ := json.Marshal(metadata)
			s := string(b)
			e.MetadataJSON = &s
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
