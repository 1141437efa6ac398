package feed

import (
	"context"
	"time"

	"github.com/BearBump/CarparkFinder/internal/models"
)

type Client interface {
	FetchAvailability(ctx context.Context) ([]models.UpstreamAvailabilityRecord, error)
	FetchInformation(ctx context.Context) ([]models.UpstreamInformationRecord, error)
}

// TokenStore persists the upstream token so other processes can reuse it.
type TokenStore interface {
	FindToken(ctx context.Context) (*models.Token, error)
	SaveToken(ctx context.Context, value string, at time.Time) (*models.Token, error)
	UpdateToken(ctx context.Context, id int64, value string, at time.Time) error
}
