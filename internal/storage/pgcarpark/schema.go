package pgcarpark

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS carparks (
  id UUID PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  address TEXT NULL,
  vehicle_category TEXT NOT NULL,
  parking_system TEXT NOT NULL,
  capacity INT NOT NULL DEFAULT 0,
  lots_available INT NOT NULL DEFAULT 0,
  location_x DOUBLE PRECISION NULL,
  location_y DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS carpark_rates (
  id UUID PRIMARY KEY,
  carpark_id UUID NOT NULL REFERENCES carparks(id) ON DELETE CASCADE,
  start_minute INT NOT NULL,
  end_minute INT NOT NULL,
  weekday_rate NUMERIC(10,2) NOT NULL,
  weekday_min INT NOT NULL,
  saturday_rate NUMERIC(10,2) NOT NULL,
  saturday_min INT NOT NULL,
  sunday_holiday_rate NUMERIC(10,2) NOT NULL,
  sunday_holiday_min INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (carpark_id, start_minute, end_minute)
)`,
		`
CREATE TABLE IF NOT EXISTS feed_requests (
  id UUID PRIMARY KEY,
  resource_type TEXT NOT NULL,
  requested_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_requests_type_at ON feed_requests(resource_type, requested_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS feed_tokens (
  id BIGSERIAL PRIMARY KEY,
  value TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
