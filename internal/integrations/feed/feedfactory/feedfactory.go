// Package feedfactory picks the upstream feed client from configuration.
package feedfactory

import (
	"time"

	"github.com/BearBump/CarparkFinder/config"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed/fake"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed/urahttp"
	"github.com/pkg/errors"
)

const (
	ModeURA  = "ura"
	ModeFake = "fake"
)

var ErrMissingAccessKey = errors.New("feed access key is required in ura mode (set FEED_ACCESS_KEY or feed.mode: fake)")

// New returns the fake feed only for mode "fake". Any other mode needs an
// access key. RequestsPerSecond 0 keeps the client default, negative disables
// the limiter.
func New(cfg config.FeedConfig, tokens feed.TokenStore) (feed.Client, error) {
	switch cfg.Mode {
	case ModeFake:
		return fake.New(cfg.FakeSize), nil
	case "", ModeURA:
	default:
		return nil, errors.Errorf("unknown feed mode %q", cfg.Mode)
	}
	if cfg.AccessKey == "" {
		return nil, ErrMissingAccessKey
	}

	c := urahttp.New(cfg.BaseURL, cfg.AccessKey, tokens).
		WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		WithTokenValidity(time.Duration(cfg.TokenValidityHours) * time.Hour)
	switch {
	case cfg.RequestsPerSecond > 0:
		c.WithRateLimit(cfg.RequestsPerSecond, 1)
	case cfg.RequestsPerSecond < 0:
		c.WithRateLimit(0, 0)
	}
	return c, nil
}
