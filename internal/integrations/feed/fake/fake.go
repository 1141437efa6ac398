package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/shopspring/decimal"
)

// FeedClient serves a fixed set of carparks for running without an upstream access key.
// Lot counts drift with the clock so availability cycles produce deltas.
type FeedClient struct {
	size int
	now  func() time.Time
}

func New(size int) *FeedClient {
	if size <= 0 {
		size = 20
	}
	return &FeedClient{size: size, now: time.Now}
}

func (f *FeedClient) FetchAvailability(ctx context.Context) ([]models.UpstreamAvailabilityRecord, error) {
	slot := f.now().UTC().Unix() / 300
	out := make([]models.UpstreamAvailabilityRecord, 0, f.size)
	for i := 0; i < f.size; i++ {
		code := code(i)
		capacity := capacityOf(code)
		out = append(out, models.UpstreamAvailabilityRecord{
			CarParkNo:     code,
			LotsAvailable: int(hash(fmt.Sprintf("%s|%d", code, slot)) % uint32(capacity+1)),
			LotType:       models.VehicleCategoryCar.LotType(),
			Coordinates:   coords(i),
		})
	}
	return out, nil
}

func (f *FeedClient) FetchInformation(ctx context.Context) ([]models.UpstreamInformationRecord, error) {
	out := make([]models.UpstreamInformationRecord, 0, f.size)
	for i := 0; i < f.size; i++ {
		code := code(i)
		sys := models.ParkingSystemElectronic
		if hash(code)%3 == 0 {
			sys = models.ParkingSystemCoupon
		}
		out = append(out, models.UpstreamInformationRecord{
			Code:            code,
			Name:            fmt.Sprintf("FAKE CARPARK %d", i+1),
			VehicleCategory: models.VehicleCategoryCar,
			ParkingSystem:   sys,
			Capacity:        capacityOf(code),
			StartTime:       models.NewTimeOfDay(7, 0),
			EndTime:         models.NewTimeOfDay(17, 0),
			Weekday:         models.DayRate{Rate: decimal.RequireFromString("0.60"), MinMinutes: 30},
			Saturday:        models.DayRate{Rate: decimal.RequireFromString("0.60"), MinMinutes: 30},
			SundayHoliday:   models.DayRate{Rate: decimal.RequireFromString("0.00"), MinMinutes: 30},
			Coordinates:     coords(i),
		})
	}
	return out, nil
}

func code(i int) string { return fmt.Sprintf("F%04d", i+1) }

func coords(i int) string {
	return fmt.Sprintf("%.2f,%.2f", 28000+float64(i)*37.5, 30000+float64(i)*12.25)
}

func capacityOf(code string) int { return 50 + int(hash(code)%450) }

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
