package pgcarpark

import (
	"context"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// LatestRequest returns nil, nil when the resource has never been fetched.
func (s *Storage) LatestRequest(ctx context.Context, rt models.ResourceType) (*models.RequestLogEntry, error) {
	var e models.RequestLogEntry
	err := s.db.QueryRow(ctx, `
SELECT id, resource_type, requested_at
FROM feed_requests
WHERE resource_type = $1
ORDER BY requested_at DESC
LIMIT 1
`, rt).Scan(&e.ID, &e.ResourceType, &e.RequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest request")
	}
	return &e, nil
}

func (s *Storage) InsertRequest(ctx context.Context, e *models.RequestLogEntry) error {
	_, err := s.db.Exec(ctx, `INSERT INTO feed_requests (id, resource_type, requested_at) VALUES ($1,$2,$3)`,
		e.ID, e.ResourceType, e.RequestedAt)
	return errors.Wrap(err, "insert request")
}
