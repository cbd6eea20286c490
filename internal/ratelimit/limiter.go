package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/deepresearch/backend/pkg/logger"
)

// Limiter bounds calls to one external dependency: at most maxConcurrent in
// flight and starts spaced at least 1/maxPerSecond apart.
type Limiter struct {
	name     string
	inflight *semaphore.Weighted
	pacer    *rate.Limiter
}

func New(name string, maxPerSecond float64, maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	limit := rate.Inf
	if maxPerSecond > 0 {
		limit = rate.Limit(maxPerSecond)
	}

	return &Limiter{
		name:     name,
		inflight: semaphore.NewWeighted(int64(maxConcurrent)),
		pacer:    rate.NewLimiter(limit, 1),
	}
}

func (l *Limiter) Name() string {
	return l.name
}

// Throttle runs op once both constraints clear. It returns ctx's error if
// the caller gives up while waiting; op is not run in that case.
func (l *Limiter) Throttle(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()

	if err := l.inflight.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire %s slot: %w", l.name, err)
	}
	defer l.inflight.Release(1)

	if err := l.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for %s rate limit: %w", l.name, err)
	}

	if waited := time.Since(start); waited > time.Second {
		logger.Debug("Rate limiter delayed call",
			zap.String("limiter", l.name),
			zap.Duration("waited", waited),
		)
	}

	return op(ctx)
}
