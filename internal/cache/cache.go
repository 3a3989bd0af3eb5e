package cache

import (
	"context"
	"time"

	"opsledger/backend/internal/domain"
)

// SnapshotCache holds monthly profit snapshots by month key. It is a read
// accelerator only; the store stays authoritative.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*domain.MonthlyProfitSnapshot, bool, error)
	Set(ctx context.Context, key string, value *domain.MonthlyProfitSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) (*domain.MonthlyProfitSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ *domain.MonthlyProfitSnapshot, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Delete(_ context.Context, _ string) error {
	return nil
}
