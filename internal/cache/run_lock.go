package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/control-tower/internal/pipeline"
)

const defaultLockTTL = 15 * time.Minute

// RunLock keeps a single in-flight run per tenant and as-of day across processes.
type RunLock struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RunLock{locker: redislock.New(client), ttl: ttl}
}

func (l *RunLock) Acquire(ctx context.Context, tenantID string, asOf time.Time) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, runLockKey(tenantID, asOf), l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, pipeline.ErrRunInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("obtain run lock: %w", err)
	}

	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, nil
}

func runLockKey(tenantID string, asOf time.Time) string {
	return fmt.Sprintf("lock:run:%s:%s", tenantID, asOf.UTC().Format("2006-01-02"))
}
