// Package cache holds the terminal's local availability snapshot. The stock
// gate reads it as a best-effort view that may be stale relative to the
// inventory backend.
package cache

import (
	"context"
	"time"

	"altarath/pos/internal/domain"
)

type AvailabilityCache interface {
	Get(ctx context.Context, productID string) (*domain.Availability, bool, error)
	Set(ctx context.Context, productID string, value *domain.Availability, ttl time.Duration) error
}

type NoopAvailabilityCache struct{}

func (NoopAvailabilityCache) Get(_ context.Context, _ string) (*domain.Availability, bool, error) {
	return nil, false, nil
}

func (NoopAvailabilityCache) Set(_ context.Context, _ string, _ *domain.Availability, _ time.Duration) error {
	return nil
}
