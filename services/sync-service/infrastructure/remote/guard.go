package remote

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/servevlc/platform/pkg/circuitbreaker"
	"github.com/servevlc/platform/shared/common"
)

// GuardConfig bounds the call rate towards one remote dependency
type GuardConfig struct {
	RequestsPerSecond float64 `mapstructure:"remote_rps"`
	Burst             int     `mapstructure:"remote_burst"`
}

// Guard throttles and circuit-breaks every call made by a remote adapter
type Guard struct {
	service string
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGuard creates a Guard. A non-positive rate disables throttling.
func NewGuard(service string, breaker *circuitbreaker.CircuitBreaker, cfg GuardConfig) *Guard {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Guard{
		service: service,
		breaker: breaker,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// NewBreakerConfig returns the breaker settings used for remote stores.
// Missing documents do not count as failures.
func NewBreakerConfig(failureThreshold uint32, timeout time.Duration) *circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.IgnoreError = common.IsNotFound
	return cfg
}

// Do runs fn once the limiter admits it and the breaker is closed.
// A done ctx is returned as is; a wait that cannot fit the deadline is
// reported as rate limited.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return common.ErrRateLimited().WithCause(err)
	}

	err := g.breaker.Call(ctx, fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return common.ErrExternalService(g.service, err)
	}
	return err
}
