package pgcarpark

import (
	"context"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const carParkColumns = `
  id, code, name, address,
  vehicle_category, parking_system,
  capacity, lots_available,
  location_x, location_y,
  created_at, updated_at`

func scanCarPark(row pgx.Row) (*models.CarPark, error) {
	var (
		cp   models.CarPark
		x, y *float64
	)
	if err := row.Scan(
		&cp.ID, &cp.Code, &cp.Name, &cp.Address,
		&cp.VehicleCategory, &cp.ParkingSystem,
		&cp.Capacity, &cp.LotsAvailable,
		&x, &y,
		&cp.CreatedAt, &cp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if x != nil && y != nil {
		cp.Location = &models.Location{X: *x, Y: *y}
	}
	return &cp, nil
}

func locationArgs(loc *models.Location) (x, y *float64) {
	if loc == nil {
		return nil, nil
	}
	lx, ly := loc.X, loc.Y
	return &lx, &ly
}

func (s *Storage) ListCarParks(ctx context.Context) ([]*models.CarPark, error) {
	rows, err := s.db.Query(ctx, `SELECT`+carParkColumns+` FROM carparks ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "select carparks")
	}
	defer rows.Close()

	out := make([]*models.CarPark, 0)
	for rows.Next() {
		cp, err := scanCarPark(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan carpark")
		}
		out = append(out, cp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetCarParkByCode returns nil, nil when no carpark has the code.
func (s *Storage) GetCarParkByCode(ctx context.Context, code string) (*models.CarPark, error) {
	cp, err := scanCarPark(s.db.QueryRow(ctx, `SELECT`+carParkColumns+` FROM carparks WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select carpark")
	}
	return cp, nil
}

// InsertCarParks inserts in a single batch. Rows whose code already exists are
// skipped, so replaying the same batch is harmless.
func (s *Storage) InsertCarParks(ctx context.Context, cps []*models.CarPark) error {
	if len(cps) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, cp := range cps {
		x, y := locationArgs(cp.Location)
		b.Queue(`
INSERT INTO carparks (
  id, code, name, address, vehicle_category, parking_system,
  capacity, lots_available, location_x, location_y, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (code) DO NOTHING
`, cp.ID, cp.Code, cp.Name, cp.Address, cp.VehicleCategory, cp.ParkingSystem,
			cp.Capacity, cp.LotsAvailable, x, y, cp.CreatedAt, cp.UpdatedAt)
	}
	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "insert carparks")
	}
	return nil
}

// UpdateCarParks writes the fields the information feed owns. Lots and
// address are left alone so a concurrent availability write survives.
func (s *Storage) UpdateCarParks(ctx context.Context, cps []*models.CarPark) error {
	b := &pgx.Batch{}
	for _, cp := range cps {
		x, y := locationArgs(cp.Location)
		b.Queue(`
UPDATE carparks SET
  vehicle_category = $2,
  parking_system = $3,
  capacity = $4,
  location_x = $5,
  location_y = $6,
  updated_at = GREATEST(updated_at, $7::timestamptz)
WHERE id = $1
`, cp.ID, cp.VehicleCategory, cp.ParkingSystem, cp.Capacity, x, y, cp.UpdatedAt)
	}
	return errors.Wrap(s.sendInTx(ctx, b), "update carparks")
}

// UpdateCarParkLots writes only the available lot count.
func (s *Storage) UpdateCarParkLots(ctx context.Context, cps []*models.CarPark) error {
	b := &pgx.Batch{}
	for _, cp := range cps {
		b.Queue(`
UPDATE carparks SET
  lots_available = $2,
  updated_at = GREATEST(updated_at, $3::timestamptz)
WHERE id = $1
`, cp.ID, cp.LotsAvailable, cp.UpdatedAt)
	}
	return errors.Wrap(s.sendInTx(ctx, b), "update carpark lots")
}

func (s *Storage) sendInTx(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
