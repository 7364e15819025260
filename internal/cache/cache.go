package cache

import (
	"context"
	"time"

	"cabangpos/backend/internal/domain"
)

// FloorCache is a short-lived cache for the floor status projection. A miss
// is never an error: callers fall through to the repository and repopulate.
type FloorCache interface {
	Get(ctx context.Context, key string) (*domain.TableStatusResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.TableStatusResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// NoopFloorCache always misses. Used when Redis is not configured.
type NoopFloorCache struct{}

func (NoopFloorCache) Get(context.Context, string) (*domain.TableStatusResponse, bool, error) {
	return nil, false, nil
}

func (NoopFloorCache) Set(context.Context, string, *domain.TableStatusResponse, time.Duration) error {
	return nil
}

func (NoopFloorCache) Invalidate(context.Context, string) error {
	return nil
}
