package pgshipments

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  carrier TEXT NOT NULL,
  tracking_number TEXT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  api_sync_status TEXT NOT NULL DEFAULT 'pending',
  api_error TEXT NULL,
  last_api_sync TIMESTAMPTZ NULL,
  first_failed_at TIMESTAMPTZ NULL,
  needs_review BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (carrier, tracking_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_sync_due ON shipments(api_sync_status, last_api_sync)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_needs_review ON shipments(needs_review) WHERE needs_review`,
		`
CREATE TABLE IF NOT EXISTS shipment_events (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  event_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  location TEXT NULL,
  source TEXT NOT NULL,
  source_id TEXT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL,
  metadata JSONB NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_shipment_time ON shipment_events(shipment_id, event_time)`,
		// Enforce the dedup identity at the storage layer as well:
		// (shipment, source, event time, carrier event id).
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipment_events_dedup
ON shipment_events(shipment_id, source, event_time, (COALESCE(source_id, '')))`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
