package pgshipments

import (
	"context"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/LaneWise/ShipSync/internal/syncer"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, carrier, tracking_number,
  status, api_sync_status, api_error,
  last_api_sync, first_failed_at, needs_review,
  created_at, updated_at`

func (s *Storage) CreateShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO shipments (carrier, tracking_number, status, api_sync_status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (carrier, tracking_number)
DO UPDATE SET updated_at = shipments.updated_at
RETURNING id
`, it.Carrier, it.TrackingNumber, models.StatusPending, models.SyncPending, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert shipment")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetShipmentsByIDs(ctx, ids)
}

func (s *Storage) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	return scanShipments(rows, len(ids))
}

// SelectDueShipments applies the due predicate: eligible, and either
// never synced, or stale after a success, or past the backoff tier
// after a failure. The waits come from sched so selection matches the
// orchestrator's in-memory gate; the tier boundaries (how long the
// shipment has been failing, anchored on first_failed_at) mirror
// syncer.Backoff.TierFor and are fixed.
func (s *Storage) SelectDueShipments(ctx context.Context, now time.Time, sched syncer.BackoffConfig, limit int) ([]*models.Shipment, error) {
	sched = syncer.NewBackoff(sched).Config() // zero fields fall back to defaults

	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE tracking_number IS NOT NULL AND tracking_number <> ''
  AND status NOT IN ($2, $3)
  AND (
    last_api_sync IS NULL
    OR (api_sync_status = 'success' AND last_api_sync < $1::timestamptz - make_interval(secs => $4))
    OR (api_sync_status = 'failed' AND last_api_sync < $1::timestamptz - (CASE
          WHEN first_failed_at IS NULL
            OR $1::timestamptz - first_failed_at < interval '15 minutes' THEN make_interval(secs => $5)
          WHEN $1::timestamptz - first_failed_at < interval '45 minutes' THEN make_interval(secs => $6)
          WHEN $1::timestamptz - first_failed_at < interval '2 hours'    THEN make_interval(secs => $7)
          WHEN $1::timestamptz - first_failed_at < interval '6 hours'    THEN make_interval(secs => $8)
          ELSE make_interval(secs => $9)
        END))
  )
ORDER BY id
LIMIT $10
`, now.UTC(), models.StatusDelivered, models.StatusCancelled,
		sched.SuccessInterval.Seconds(),
		sched.Tier1.Seconds(), sched.Tier2.Seconds(), sched.Tier3.Seconds(),
		sched.Tier4.Seconds(), sched.Tier5.Seconds(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}
	defer rows.Close()

	return scanShipments(rows, limit)
}

// SelectActiveShipments ignores staleness: every eligible shipment, for
// the admin full-resync path.
func (s *Storage) SelectActiveShipments(ctx context.Context, limit int) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE tracking_number IS NOT NULL AND tracking_number <> ''
  AND status NOT IN ($1, $2)
ORDER BY id
LIMIT $3
`, models.StatusDelivered, models.StatusCancelled, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select active shipments")
	}
	defer rows.Close()

	return scanShipments(rows, limit)
}

func (s *Storage) MarkSyncSuccess(ctx context.Context, shipmentID uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  api_sync_status = 'success',
  api_error = NULL,
  needs_review = FALSE,
  last_api_sync = $2,
  first_failed_at = NULL,
  updated_at = now()
WHERE id = $1
`, shipmentID, at.UTC())
	return errors.Wrap(err, "mark sync success")
}

func (s *Storage) MarkSyncFailure(ctx context.Context, shipmentID uint64, at time.Time, apiError string) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  api_sync_status = 'failed',
  api_error = $3,
  needs_review = TRUE,
  last_api_sync = $2,
  first_failed_at = COALESCE(first_failed_at, $2),
  updated_at = now()
WHERE id = $1
`, shipmentID, at.UTC(), apiError)
	return errors.Wrap(err, "mark sync failure")
}

func (s *Storage) UpdateShipmentStatus(ctx context.Context, shipmentID uint64, st models.ShipmentStatus) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments SET status = $2, updated_at = now() WHERE id = $1
`, shipmentID, st)
	return errors.Wrap(err, "update shipment status")
}

// MarkForResync clears the staleness anchors so the next pass picks the
// shipment up regardless of backoff.
func (s *Storage) MarkForResync(ctx context.Context, shipmentID uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments SET last_api_sync = NULL, first_failed_at = NULL, updated_at = now() WHERE id = $1
`, shipmentID)
	return errors.Wrap(err, "mark for resync")
}

// MarkAllForResync is MarkForResync over every eligible shipment, for
// the admin full-resync endpoint.
func (s *Storage) MarkAllForResync(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE shipments
SET last_api_sync = NULL, first_failed_at = NULL, updated_at = now()
WHERE tracking_number IS NOT NULL AND tracking_number <> ''
  AND status NOT IN ($1, $2)
`, models.StatusDelivered, models.StatusCancelled)
	if err != nil {
		return 0, errors.Wrap(err, "mark all for resync")
	}
	return tag.RowsAffected(), nil
}

func scanShipments(rows pgx.Rows, sizeHint int) ([]*models.Shipment, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	out := make([]*models.Shipment, 0, sizeHint)
	for rows.Next() {
		var sh models.Shipment
		if err := rows.Scan(
			&sh.ID, &sh.Carrier, &sh.TrackingNumber,
			&sh.Status, &sh.APISyncStatus, &sh.APIError,
			&sh.LastAPISync, &sh.FirstFailedAt, &sh.NeedsReview,
			&sh.CreatedAt, &sh.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
