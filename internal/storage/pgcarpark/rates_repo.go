package pgcarpark

import (
	"context"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const rateColumns = `
  id, carpark_id, start_minute, end_minute,
  weekday_rate, weekday_min,
  saturday_rate, saturday_min,
  sunday_holiday_rate, sunday_holiday_min,
  created_at, updated_at`

func scanRate(row pgx.Row) (*models.RateSchedule, error) {
	var r models.RateSchedule
	if err := row.Scan(
		&r.ID, &r.CarParkID, &r.StartTime, &r.EndTime,
		&r.Weekday.Rate, &r.Weekday.MinMinutes,
		&r.Saturday.Rate, &r.Saturday.MinMinutes,
		&r.SundayHoliday.Rate, &r.SundayHoliday.MinMinutes,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) queryRates(ctx context.Context, q string, args ...any) ([]*models.RateSchedule, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select rates")
	}
	defer rows.Close()

	out := make([]*models.RateSchedule, 0)
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan rate")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListRateSchedules(ctx context.Context) ([]*models.RateSchedule, error) {
	return s.queryRates(ctx, `SELECT`+rateColumns+` FROM carpark_rates ORDER BY carpark_id, start_minute`)
}

func (s *Storage) ListRateSchedulesByCarPark(ctx context.Context, carParkID uuid.UUID) ([]*models.RateSchedule, error) {
	return s.queryRates(ctx, `SELECT`+rateColumns+` FROM carpark_rates WHERE carpark_id = $1 ORDER BY start_minute`, carParkID)
}

// InsertRateSchedules skips rows whose carpark already has a schedule for the
// same window.
func (s *Storage) InsertRateSchedules(ctx context.Context, rs []*models.RateSchedule) error {
	if len(rs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range rs {
		b.Queue(`
INSERT INTO carpark_rates (
  id, carpark_id, start_minute, end_minute,
  weekday_rate, weekday_min, saturday_rate, saturday_min,
  sunday_holiday_rate, sunday_holiday_min, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (carpark_id, start_minute, end_minute) DO NOTHING
`, r.ID, r.CarParkID, int(r.StartTime), int(r.EndTime),
			r.Weekday.Rate, r.Weekday.MinMinutes,
			r.Saturday.Rate, r.Saturday.MinMinutes,
			r.SundayHoliday.Rate, r.SundayHoliday.MinMinutes,
			r.CreatedAt, r.UpdatedAt)
	}
	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "insert rates")
	}
	return nil
}

func (s *Storage) UpdateRateSchedules(ctx context.Context, rs []*models.RateSchedule) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, r := range rs {
		b.Queue(`
UPDATE carpark_rates SET
  start_minute = $2,
  end_minute = $3,
  weekday_rate = $4,
  weekday_min = $5,
  saturday_rate = $6,
  saturday_min = $7,
  sunday_holiday_rate = $8,
  sunday_holiday_min = $9,
  updated_at = $10
WHERE id = $1
`, r.ID, int(r.StartTime), int(r.EndTime),
			r.Weekday.Rate, r.Weekday.MinMinutes,
			r.Saturday.Rate, r.Saturday.MinMinutes,
			r.SundayHoliday.Rate, r.SundayHoliday.MinMinutes,
			r.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "update rates")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
