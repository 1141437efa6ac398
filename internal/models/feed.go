package models

import (
	"time"

	"github.com/google/uuid"
)

type ResourceType string

const (
	ResourceAvailability ResourceType = "availability"
	ResourceInformation  ResourceType = "information"
)

// RequestLogEntry records one completed upstream fetch-and-merge cycle.
type RequestLogEntry struct {
	ID           uuid.UUID
	ResourceType ResourceType
	RequestedAt  time.Time
}

// Token is the stored upstream access token. UpdatedAt marks the moment it was issued.
type Token struct {
	ID        int64
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UpstreamAvailabilityRecord struct {
	CarParkNo     string
	LotsAvailable int
	LotType       string
	Coordinates   string
}

type UpstreamInformationRecord struct {
	Code            string
	Name            string
	VehicleCategory VehicleCategory
	ParkingSystem   ParkingSystem
	Capacity        int
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	Weekday         DayRate
	Saturday        DayRate
	SundayHoliday   DayRate
	Coordinates     string
}
