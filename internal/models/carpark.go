package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VehicleCategory string

const (
	VehicleCategoryCar          VehicleCategory = "Car"
	VehicleCategoryMotorcycle   VehicleCategory = "Motorcycle"
	VehicleCategoryHeavyVehicle VehicleCategory = "Heavy Vehicle"
)

// LotType returns the single-letter lot type the availability feed uses for the category.
func (c VehicleCategory) LotType() string {
	switch c {
	case VehicleCategoryCar:
		return "C"
	case VehicleCategoryMotorcycle:
		return "M"
	case VehicleCategoryHeavyVehicle:
		return "H"
	default:
		return ""
	}
}

func (c VehicleCategory) Valid() bool { return c.LotType() != "" }

type ParkingSystem string

const (
	ParkingSystemCoupon     ParkingSystem = "C"
	ParkingSystemElectronic ParkingSystem = "B"
)

func (p ParkingSystem) Valid() bool {
	return p == ParkingSystemCoupon || p == ParkingSystemElectronic
}

// Location is a planar (SVY21) coordinate pair.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CarPark struct {
	ID              uuid.UUID       `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Address         *string         `json:"address,omitempty"`
	VehicleCategory VehicleCategory `json:"vehicleCategory"`
	ParkingSystem   ParkingSystem   `json:"parkingSystem"`
	Capacity        int             `json:"capacity"`
	LotsAvailable   int             `json:"lotsAvailable"`
	Location        *Location       `json:"location,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// WithLots returns a copy of the carpark with only the available lot count replaced.
func (c CarPark) WithLots(lots int, at time.Time) *CarPark {
	c.LotsAvailable = lots
	c.UpdatedAt = at
	return &c
}

// WithInformation returns a copy carrying the upstream-owned descriptive fields.
func (c CarPark) WithInformation(cat VehicleCategory, sys ParkingSystem, capacity int, loc *Location, at time.Time) *CarPark {
	c.VehicleCategory = cat
	c.ParkingSystem = sys
	c.Capacity = capacity
	if loc != nil {
		l := *loc
		c.Location = &l
	}
	c.UpdatedAt = at
	return &c
}

// TimeOfDay is a wall-clock time stored as minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// DayRate is the fee charged per minimum billing increment for one class of day.
type DayRate struct {
	Rate       decimal.Decimal `json:"rate"`
	MinMinutes int             `json:"minMinutes"`
}

func (d DayRate) Equal(o DayRate) bool {
	return d.MinMinutes == o.MinMinutes && d.Rate.Equal(o.Rate)
}

type RateSchedule struct {
	ID            uuid.UUID `json:"id"`
	CarParkID     uuid.UUID `json:"carParkId"`
	StartTime     TimeOfDay `json:"startTime"`
	EndTime       TimeOfDay `json:"endTime"`
	Weekday       DayRate   `json:"weekday"`
	Saturday      DayRate   `json:"saturday"`
	SundayHoliday DayRate   `json:"sundayHoliday"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Key identifies a schedule within its carpark by time window.
func (r RateSchedule) Key() string {
	return RateKey(r.CarParkID, r.StartTime, r.EndTime)
}

func RateKey(carParkID uuid.UUID, start, end TimeOfDay) string {
	return fmt.Sprintf("%s|%d|%d", carParkID, start, end)
}

// SameFees reports whether both schedules carry identical windows and fees.
func (r RateSchedule) SameFees(o RateSchedule) bool {
	return r.StartTime == o.StartTime &&
		r.EndTime == o.EndTime &&
		r.Weekday.Equal(o.Weekday) &&
		r.Saturday.Equal(o.Saturday) &&
		r.SundayHoliday.Equal(o.SundayHoliday)
}
