// Package reconcile computes the writes needed to align local carparks and rate
// schedules with an upstream snapshot. Everything here is pure: the caller owns I/O.
package reconcile

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/google/uuid"
)

type Mapper struct {
	NewID func() uuid.UUID
	Now   func() time.Time
}

func New() *Mapper {
	return &Mapper{
		NewID: uuid.New,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

type InformationResult struct {
	UpdatedCarParks []*models.CarPark
	NewCarParks     []*models.CarPark
	UpdatedRates    []*models.RateSchedule
	NewRates        []*models.RateSchedule
}

func (r InformationResult) Empty() bool {
	return len(r.UpdatedCarParks) == 0 && len(r.NewCarParks) == 0 &&
		len(r.UpdatedRates) == 0 && len(r.NewRates) == 0
}

// ParseLocation reads the first "x,y" pair of a geometry string. It returns nil
// when the string is empty, has fewer than two components or is not numeric.
func ParseLocation(coords string) *models.Location {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		return nil
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || math.IsNaN(y) || math.IsInf(y, 0) {
		return nil
	}
	return &models.Location{X: x, Y: y}
}

// Availability returns updated copies of the carparks whose lot count differs
// from upstream. Unknown codes are ignored: availability never creates carparks.
// Only records whose lot type matches the carpark's vehicle category count, and
// each carpark is considered once, in upstream order.
func (m *Mapper) Availability(upstream []models.UpstreamAvailabilityRecord, existing []*models.CarPark) []*models.CarPark {
	byCode := indexByCode(existing)
	seen := make(map[string]struct{}, len(upstream))
	now := m.Now()

	out := make([]*models.CarPark, 0)
	for _, rec := range upstream {
		cp, ok := byCode[rec.CarParkNo]
		if !ok {
			continue
		}
		if _, done := seen[cp.Code]; done {
			continue
		}
		if lt := cp.VehicleCategory.LotType(); lt != "" && rec.LotType != "" && rec.LotType != lt {
			continue
		}
		seen[cp.Code] = struct{}{}

		if cp.LotsAvailable == rec.LotsAvailable {
			continue
		}
		out = append(out, cp.WithLots(rec.LotsAvailable, now))
	}
	return out
}

// Information classifies every upstream record against the local snapshot.
//
// The first record seen for a code decides the carpark-level outcome (update,
// create or nothing); every record, including repeats of the same code,
// contributes its rate schedule. Schedules are matched by carpark and time
// window; a carpark with a single stored schedule and a single upstream record
// is matched by carpark alone so a moved window updates in place.
func (m *Mapper) Information(
	upstream []models.UpstreamInformationRecord,
	existingCarParks []*models.CarPark,
	existingRates []*models.RateSchedule,
) InformationResult {
	res := InformationResult{
		UpdatedCarParks: make([]*models.CarPark, 0),
		NewCarParks:     make([]*models.CarPark, 0),
		UpdatedRates:    make([]*models.RateSchedule, 0),
		NewRates:        make([]*models.RateSchedule, 0),
	}
	now := m.Now()

	byCode := indexByCode(existingCarParks)
	rates := newRateIndex(existingRates)

	upstreamPerCode := make(map[string]int, len(upstream))
	for _, rec := range upstream {
		upstreamPerCode[rec.Code]++
	}

	owners := make(map[string]*models.CarPark, len(upstream))
	for _, rec := range upstream {
		owner, resolved := owners[rec.Code]
		if !resolved {
			if cp, ok := byCode[rec.Code]; ok {
				if carParkDiffers(cp, rec) {
					loc := ParseLocation(rec.Coordinates)
					if loc == nil {
						loc = cp.Location
					}
					// no location at all: the row stays as is, its rates still sync
					if loc != nil {
						res.UpdatedCarParks = append(res.UpdatedCarParks,
							cp.WithInformation(rec.VehicleCategory, rec.ParkingSystem, rec.Capacity, loc, now))
					}
				}
				owner = cp
			} else {
				loc := ParseLocation(rec.Coordinates)
				if loc == nil {
					continue
				}
				owner = m.newCarPark(rec, loc, now)
				res.NewCarParks = append(res.NewCarParks, owner)
			}
			owners[rec.Code] = owner
		}

		want := rateFromRecord(rec, owner.ID)
		key := want.Key()
		if rates.emitted(key) {
			continue
		}

		current := rates.byKey[key]
		if current == nil && upstreamPerCode[rec.Code] == 1 {
			current = rates.soleFor(owner.ID)
		}

		switch {
		case current == nil:
			want.ID = m.NewID()
			want.CreatedAt = now
			want.UpdatedAt = now
			res.NewRates = append(res.NewRates, want)
			rates.put(nil, want)
		case !current.SameFees(*want):
			updated := *current
			updated.StartTime = want.StartTime
			updated.EndTime = want.EndTime
			updated.Weekday = want.Weekday
			updated.Saturday = want.Saturday
			updated.SundayHoliday = want.SundayHoliday
			updated.UpdatedAt = now
			res.UpdatedRates = append(res.UpdatedRates, &updated)
			rates.put(current, &updated)
		default:
			rates.markEmitted(key)
		}
	}
	return res
}

func (m *Mapper) newCarPark(rec models.UpstreamInformationRecord, loc *models.Location, now time.Time) *models.CarPark {
	return &models.CarPark{
		ID:              m.NewID(),
		Code:            rec.Code,
		Name:            rec.Name,
		Address:         nil,
		VehicleCategory: rec.VehicleCategory,
		ParkingSystem:   rec.ParkingSystem,
		Capacity:        rec.Capacity,
		LotsAvailable:   0,
		Location:        loc,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func carParkDiffers(cp *models.CarPark, rec models.UpstreamInformationRecord) bool {
	return cp.VehicleCategory != rec.VehicleCategory ||
		cp.ParkingSystem != rec.ParkingSystem ||
		cp.Capacity != rec.Capacity
}

func rateFromRecord(rec models.UpstreamInformationRecord, carParkID uuid.UUID) *models.RateSchedule {
	return &models.RateSchedule{
		CarParkID:     carParkID,
		StartTime:     rec.StartTime,
		EndTime:       rec.EndTime,
		Weekday:       rec.Weekday,
		Saturday:      rec.Saturday,
		SundayHoliday: rec.SundayHoliday,
	}
}

func indexByCode(cps []*models.CarPark) map[string]*models.CarPark {
	out := make(map[string]*models.CarPark, len(cps))
	for _, cp := range cps {
		if cp == nil {
			continue
		}
		if _, dup := out[cp.Code]; !dup {
			out[cp.Code] = cp
		}
	}
	return out
}

// rateIndex tracks schedules by composite key, plus which keys this pass already
// settled so repeated upstream windows produce at most one delta.
type rateIndex struct {
	byKey     map[string]*models.RateSchedule
	byCarPark map[uuid.UUID][]*models.RateSchedule
	done      map[string]struct{}
}

func newRateIndex(rs []*models.RateSchedule) *rateIndex {
	idx := &rateIndex{
		byKey:     make(map[string]*models.RateSchedule, len(rs)),
		byCarPark: make(map[uuid.UUID][]*models.RateSchedule, len(rs)),
		done:      make(map[string]struct{}),
	}
	for _, r := range rs {
		if r == nil {
			continue
		}
		idx.byKey[r.Key()] = r
		idx.byCarPark[r.CarParkID] = append(idx.byCarPark[r.CarParkID], r)
	}
	return idx
}

func (i *rateIndex) soleFor(carParkID uuid.UUID) *models.RateSchedule {
	rs := i.byCarPark[carParkID]
	if len(rs) != 1 {
		return nil
	}
	if _, settled := i.done[rs[0].Key()]; settled {
		return nil
	}
	return rs[0]
}

func (i *rateIndex) emitted(key string) bool {
	_, ok := i.done[key]
	return ok
}

func (i *rateIndex) markEmitted(key string) {
	i.done[key] = struct{}{}
}

func (i *rateIndex) put(old, r *models.RateSchedule) {
	if old != nil {
		delete(i.byKey, old.Key())
		i.done[old.Key()] = struct{}{}
	}
	i.byKey[r.Key()] = r
	i.done[r.Key()] = struct{}{}
}
