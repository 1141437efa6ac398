package carparks

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/CarparkFinder/internal/broker/messages"
	"github.com/BearBump/CarparkFinder/internal/cache"
	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("carpark not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

const listKey = "carparks:all"

type Repository interface {
	ListCarParks(ctx context.Context) ([]*models.CarPark, error)
	GetCarParkByCode(ctx context.Context, code string) (*models.CarPark, error)
	ListRateSchedulesByCarPark(ctx context.Context, carParkID uuid.UUID) ([]*models.RateSchedule, error)
}

// Refresher pulls the upstream feed into storage, subject to its own throttle.
type Refresher interface {
	CheckAndMakeRequests(ctx context.Context) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration

	refresher        Refresher
	rl               RateLimiter
	refreshPerMinute int64

	now func() time.Time
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{
		repo: repo, cache: c, ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithRefresher makes ListCarParks try a feed refresh first. Attempts are
// capped at perMinute across all processes sharing rl; rl may be nil.
func (s *Service) WithRefresher(r Refresher, rl RateLimiter, perMinute int64) *Service {
	s.refresher = r
	s.rl = rl
	s.refreshPerMinute = perMinute
	return s
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}

func (s *Service) ListCarParks(ctx context.Context) ([]*models.CarPark, error) {
	s.refresh(ctx)

	if cps, ok := s.cachedList(ctx); ok {
		return cps, nil
	}

	cps, err := s.repo.ListCarParks(ctx)
	if err != nil {
		return nil, err
	}
	if s.cacheEnabled() {
		b, _ := json.Marshal(cps)
		if err := s.cache.Set(ctx, listKey, b, s.ttl); err != nil {
			slog.Warn("cache carparks", "error", err.Error())
		}
	}
	return cps, nil
}

func (s *Service) GetCarPark(ctx context.Context, code string) (*models.CarPark, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "code is required")
	}

	if cps, ok := s.cachedList(ctx); ok {
		for _, cp := range cps {
			if cp.Code == code {
				return cp, nil
			}
		}
		return nil, ErrNotFound
	}

	cp, err := s.repo.GetCarParkByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNotFound
	}
	return cp, nil
}

func (s *Service) ListRateSchedules(ctx context.Context, code string) ([]*models.RateSchedule, error) {
	cp, err := s.GetCarPark(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRateSchedulesByCarPark(ctx, cp.ID)
}

func (s *Service) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, listKey)
}

// ApplyFeedSynced drops cached reads after a cycle that changed stored rows.
func (s *Service) ApplyFeedSynced(ctx context.Context, msg messages.FeedSynced) error {
	if err := msg.Validate(); err != nil {
		return errors.Wrap(ErrInvalidArgument, err.Error())
	}
	if !msg.Changed() {
		return nil
	}
	return s.InvalidateCache(ctx)
}

func (s *Service) cachedList(ctx context.Context) ([]*models.CarPark, bool) {
	if !s.cacheEnabled() {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, listKey)
	if err != nil || !ok {
		return nil, false
	}
	var cps []*models.CarPark
	if json.Unmarshal(b, &cps) != nil {
		return nil, false
	}
	return cps, true
}

func (s *Service) refresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if s.rl != nil && s.refreshPerMinute > 0 {
		key := "rl:feed:refresh:" + s.now().Format("200601021504")
		allowed, n, err := s.rl.Allow(ctx, key, s.refreshPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("refresh rate limit", "error", err.Error())
			return
		}
		if !allowed {
			slog.Debug("refresh rate limited", "count", n)
			return
		}
	}
	if err := s.refresher.CheckAndMakeRequests(ctx); err != nil {
		slog.Warn("feed refresh on read", "error", err.Error())
		return
	}
	if err := s.InvalidateCache(ctx); err != nil {
		slog.Warn("invalidate carparks cache", "error", err.Error())
	}
}
