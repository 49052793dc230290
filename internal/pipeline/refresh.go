package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/models"
	"github.com/randytsao24/tournee/internal/registry"
)

// Acquirer builds the master pair for a full registry
type Acquirer interface {
	Acquire(ctx context.Context, coords []models.Coordinate, keys []int) (matrix.Pair, error)
}

// Publisher persists a master snapshot
type Publisher interface {
	Publish(snap *matrix.Snapshot) error
}

// RefreshMaster acquires the master pair for every registry location and
// publishes it. A failed acquisition publishes nothing and leaves any
// previous master in place.
func RefreshMaster(ctx context.Context, reg *registry.Registry, acq Acquirer, provider string, pub Publisher, logger zerolog.Logger) (*matrix.Snapshot, error) {
	fingerprint := reg.Fingerprint()
	logger.Info().
		Int("locations", reg.Len()).
		Str("provider", provider).
		Str("fingerprint", fingerprint).
		Msg("Refreshing master matrix")

	pair, err := acq.Acquire(ctx, reg.Coordinates(), reg.Keys())
	if err != nil {
		return nil, err
	}

	snap := &matrix.Snapshot{
		Pair:        pair,
		Fingerprint: fingerprint,
		AcquiredAt:  time.Now().UTC(),
		Provider:    provider,
	}
	if err := pub.Publish(snap); err != nil {
		return nil, fmt.Errorf("publishing master matrix: %w", err)
	}
	return snap, nil
}
