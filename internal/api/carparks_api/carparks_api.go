package carparks_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/BearBump/CarparkFinder/internal/services/carparks"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type Service interface {
	ListCarParks(ctx context.Context) ([]*models.CarPark, error)
	GetCarPark(ctx context.Context, code string) (*models.CarPark, error)
	ListRateSchedules(ctx context.Context, code string) ([]*models.RateSchedule, error)
}

type CarparksAPI struct {
	svc Service
}

func New(svc Service) *CarparksAPI {
	return &CarparksAPI{svc: svc}
}

func (a *CarparksAPI) Routes(r chi.Router) {
	r.Get("/carparks", a.ListCarParks)
	r.Get("/carparks/{code}", a.GetCarPark)
	r.Get("/carparks/{code}/rates", a.ListRateSchedules)
}

type CarPark struct {
	ID              string           `json:"id"`
	Code            string           `json:"code"`
	Name            string           `json:"name"`
	Address         *string          `json:"address,omitempty"`
	VehicleCategory string           `json:"vehicleCategory"`
	ParkingSystem   string           `json:"parkingSystem"`
	Capacity        int              `json:"capacity"`
	LotsAvailable   int              `json:"lotsAvailable"`
	Location        *models.Location `json:"location,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type DayRate struct {
	Rate       string `json:"rate"`
	MinMinutes int    `json:"minMinutes"`
}

type RateSchedule struct {
	ID            string  `json:"id"`
	StartTime     string  `json:"startTime"`
	EndTime       string  `json:"endTime"`
	Weekday       DayRate `json:"weekday"`
	Saturday      DayRate `json:"saturday"`
	SundayHoliday DayRate `json:"sundayHoliday"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *CarparksAPI) ListCarParks(w http.ResponseWriter, r *http.Request) {
	cps, err := a.svc.ListCarParks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]CarPark, 0, len(cps))
	for _, cp := range cps {
		out = append(out, toCarPark(cp))
	}
	writeJSON(w, http.StatusOK, map[string]any{"carparks": out})
}

func (a *CarparksAPI) GetCarPark(w http.ResponseWriter, r *http.Request) {
	cp, err := a.svc.GetCarPark(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCarPark(cp))
}

func (a *CarparksAPI) ListRateSchedules(w http.ResponseWriter, r *http.Request) {
	rs, err := a.svc.ListRateSchedules(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RateSchedule, 0, len(rs))
	for _, s := range rs {
		out = append(out, RateSchedule{
			ID:            s.ID.String(),
			StartTime:     s.StartTime.String(),
			EndTime:       s.EndTime.String(),
			Weekday:       toDayRate(s.Weekday),
			Saturday:      toDayRate(s.Saturday),
			SundayHoliday: toDayRate(s.SundayHoliday),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": out})
}

func toCarPark(cp *models.CarPark) CarPark {
	return CarPark{
		ID:              cp.ID.String(),
		Code:            cp.Code,
		Name:            cp.Name,
		Address:         cp.Address,
		VehicleCategory: string(cp.VehicleCategory),
		ParkingSystem:   string(cp.ParkingSystem),
		Capacity:        cp.Capacity,
		LotsAvailable:   cp.LotsAvailable,
		Location:        cp.Location,
		UpdatedAt:       cp.UpdatedAt,
	}
}

func toDayRate(d models.DayRate) DayRate {
	return DayRate{Rate: d.Rate.StringFixed(2), MinMinutes: d.MinMinutes}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, carparks.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, carparks.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		slog.Error("carparks api", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
