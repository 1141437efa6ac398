package feedsync

import (
	"time"

	"github.com/BearBump/CarparkFinder/internal/models"
)

type ThrottleConfig struct {
	AvailabilityCooldown time.Duration // default: 5 minutes
	InformationCooldown  time.Duration // default: 24 hours
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		AvailabilityCooldown: 5 * time.Minute,
		InformationCooldown:  24 * time.Hour,
	}
}

// Throttle decides whether enough time has passed since the last logged request
// for a resource to call upstream again.
type Throttle struct {
	cfg ThrottleConfig
	now func() time.Time
}

func NewThrottle(cfg ThrottleConfig, now func() time.Time) *Throttle {
	def := DefaultThrottleConfig()
	if cfg.AvailabilityCooldown <= 0 {
		cfg.AvailabilityCooldown = def.AvailabilityCooldown
	}
	if cfg.InformationCooldown <= 0 {
		cfg.InformationCooldown = def.InformationCooldown
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Throttle{cfg: cfg, now: now}
}

func (t *Throttle) Cooldown(rt models.ResourceType) time.Duration {
	if rt == models.ResourceInformation {
		return t.cfg.InformationCooldown
	}
	return t.cfg.AvailabilityCooldown
}

func (t *Throttle) CanFetch(rt models.ResourceType, last *models.RequestLogEntry) bool {
	if last == nil {
		return true
	}
	return t.now().Sub(last.RequestedAt) >= t.Cooldown(rt)
}

// NextAllowedAt is the earliest instant a request for rt may go out.
func (t *Throttle) NextAllowedAt(rt models.ResourceType, last *models.RequestLogEntry) time.Time {
	if last == nil {
		return t.now()
	}
	return last.RequestedAt.Add(t.Cooldown(rt))
}
