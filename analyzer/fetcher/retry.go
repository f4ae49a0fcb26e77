package fetcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/govscope/govscope/analyzer/types"
	"github.com/govscope/govscope/config"
)

// attemptState tracks where a source sits in its retry lifecycle.
type attemptState uint8

const (
	// stateFresh means no attempt has been made yet.
	stateFresh attemptState = iota
	// stateRetrying means at least one retryable failure occurred.
	stateRetrying
	// stateExhausted means the attempt budget is spent or the failure is
	// not retryable; the chain advances.
	stateExhausted
)

// String returns human-readable representation of the state.
func (s attemptState) String() string {
	switch s {
	case stateFresh:
		return "fresh"
	case stateRetrying:
		return "retrying"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// retrier is the per-source retry machine. One instance covers the attempts
// against a single source for a single data kind; it is not reused.
type retrier struct {
	cfg     config.Retry
	rng     *rand.Rand
	attempt int
	state   attemptState
}

func newRetrier(cfg config.Retry) *retrier {
	return &retrier{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		state: stateFresh,
	}
}

// backoff returns the exponential wait before the given 1-based attempt.
func (r *retrier) backoff(attempt int) time.Duration {
	d := r.cfg.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.Ceiling {
			return r.cfg.Ceiling
		}
	}
	if d > r.cfg.Ceiling {
		return r.cfg.Ceiling
	}
	return d
}

// next transitions the machine on a failure and reports whether another
// attempt should be made, and after how long. The wait is the capped
// exponential backoff jittered by a uniform factor in [0.5, 1.5); a
// server-suggested retry delay replaces the computed wait entirely.
func (r *retrier) next(err error) (time.Duration, bool) {
	r.attempt++
	if !types.Retryable(err) || r.attempt >= r.cfg.MaxAttempts {
		r.state = stateExhausted
		return 0, false
	}
	r.state = stateRetrying
	var typed *types.Error
	if errors.As(err, &typed) && typed.RetryAfter > 0 {
		return typed.RetryAfter, true
	}
	wait := time.Duration(float64(r.backoff(r.attempt)) * (0.5 + r.rng.Float64()))
	return wait, true
}

// sleep blocks for the backoff interval or until the context ends.
func sleep(ctx context.Context, d time.Duration) error {
	retryWaitSeconds.Observe(d.Seconds())
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return types.NewError(types.KindCancelled, "", ctx.Err())
	case <-timer.C:
		return nil
	}
}
