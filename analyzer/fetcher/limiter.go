package fetcher

import (
	"context"
	"sync"
	"time"

	leakybucket "github.com/kevinms/leakybucket-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

// acquireWait bounds how long a call may queue for a concurrency slot before
// it fails rate-limited instead of piling up.
const acquireWait = 5 * time.Second

// limiter enforces the per-source token bucket, the per-source concurrency
// bound and the global in-flight bound. Sources throttle independently; the
// global semaphore caps total concurrent external calls.
type limiter struct {
	buckets    *leakybucket.Collector
	global     *semaphore.Weighted
	sourceSize int64
	wait       time.Duration

	mu      sync.Mutex
	sources map[string]*semaphore.Weighted
}

func newLimiter(cfg *config.Config) *limiter {
	return &limiter{
		buckets: leakybucket.NewCollector(
			float64(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst, false /* deleteEmptyBuckets */),
		global:     semaphore.NewWeighted(int64(cfg.Concurrency.Global)),
		sourceSize: int64(cfg.Concurrency.PerSource),
		wait:       acquireWait,
		sources:    make(map[string]*semaphore.Weighted),
	}
}

func (l *limiter) sourceSlots(source string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sources[source]
	if !ok {
		sem = semaphore.NewWeighted(l.sourceSize)
		l.sources[source] = sem
	}
	return sem
}

// acquire takes one token from the source bucket, one source slot and one
// global slot. The returned release must be called when the external call
// finishes. Local throttle rejections carry the bucket drain time as the
// suggested delay; slot queue overflows reject rate-limited after a bounded
// wait.
func (l *limiter) acquire(ctx context.Context, source string) (func(), error) {
	if l.buckets.Add(source, 1) == 0 {
		throttleRejectsTotal.WithLabelValues(source).Inc()
		return nil, types.RateLimitedError(source, l.buckets.TillEmpty(source),
			errors.New("local rate limit reached"))
	}
	slotCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	src := l.sourceSlots(source)
	if err := src.Acquire(slotCtx, 1); err != nil {
		return nil, l.acquireErr(ctx, source, "source concurrency bound reached")
	}
	if err := l.global.Acquire(slotCtx, 1); err != nil {
		src.Release(1)
		return nil, l.acquireErr(ctx, source, "global concurrency bound reached")
	}
	return func() {
		l.global.Release(1)
		src.Release(1)
	}, nil
}

func (l *limiter) acquireErr(ctx context.Context, source, msg string) error {
	if ctx.Err() != nil {
		return types.NewError(types.KindCancelled, source, ctx.Err())
	}
	throttleRejectsTotal.WithLabelValues(source).Inc()
	return types.RateLimitedError(source, 0, errors.New(msg))
}
