package pgcarpark

import (
	"context"
	"time"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// FindToken returns the oldest token row, or nil, nil if none was ever stored.
func (s *Storage) FindToken(ctx context.Context) (*models.Token, error) {
	var t models.Token
	err := s.db.QueryRow(ctx, `SELECT id, value, created_at, updated_at FROM feed_tokens ORDER BY id LIMIT 1`).
		Scan(&t.ID, &t.Value, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select token")
	}
	return &t, nil
}

func (s *Storage) SaveToken(ctx context.Context, value string, at time.Time) (*models.Token, error) {
	t := models.Token{Value: value, CreatedAt: at, UpdatedAt: at}
	err := s.db.QueryRow(ctx, `INSERT INTO feed_tokens (value, created_at, updated_at) VALUES ($1,$2,$2) RETURNING id`,
		value, at).Scan(&t.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert token")
	}
	return &t, nil
}

func (s *Storage) UpdateToken(ctx context.Context, id int64, value string, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE feed_tokens SET value = $2, updated_at = $3 WHERE id = $1`, id, value, at)
	return errors.Wrap(err, "update token")
}
