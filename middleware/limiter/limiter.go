package limiter

import (
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/middleware"
)

// RateLimiter rejects turns above a sustained rate or beyond a number of
// turns in flight. Rejections wrap errors.ErrUnavailable.
type RateLimiter struct {
	limiter  *rate.Limiter
	inFlight *semaphore.Weighted
}

// NewRateLimiter creates a rate limiting middleware. perSecond <= 0 disables
// the rate check and maxInFlight <= 0 disables the concurrency check.
func NewRateLimiter(perSecond float64, burst int, maxInFlight int64) *RateLimiter {
	m := &RateLimiter{}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	if maxInFlight > 0 {
		m.inFlight = semaphore.NewWeighted(maxInFlight)
	}
	return m
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute checks rate limit
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.limiter != nil && !m.limiter.Allow() {
		return fmt.Errorf("%w: turn rate limit exceeded", errors.ErrUnavailable)
	}
	if m.inFlight != nil {
		if !m.inFlight.TryAcquire(1) {
			return fmt.Errorf("%w: too many turns in flight", errors.ErrUnavailable)
		}
		defer m.inFlight.Release(1)
	}
	return next(ctx)
}
