package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/lclpedro/hyperhook/internal/metrics"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const breakerName = "binance-futures"

// GuardConfig tunes the rate limiter, circuit breaker and read retries
// wrapped around every exchange call. Zero values fall back to defaults.
type GuardConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint
	RetryInterval     time.Duration
	BreakerTimeout    time.Duration
	BreakerMinCalls   uint32
	BreakerRatio      float64
}

func (g GuardConfig) withDefaults() GuardConfig {
	if g.RequestsPerSecond <= 0 {
		g.RequestsPerSecond = 10
	}
	if g.Burst <= 0 {
		g.Burst = 20
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}
	if g.RetryInterval <= 0 {
		g.RetryInterval = 200 * time.Millisecond
	}
	if g.BreakerTimeout <= 0 {
		g.BreakerTimeout = 30 * time.Second
	}
	if g.BreakerMinCalls == 0 {
		g.BreakerMinCalls = 5
	}
	if g.BreakerRatio <= 0 {
		g.BreakerRatio = 0.5
	}
	return g
}

type guard struct {
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	maxRetries    uint
	retryInterval time.Duration
	metrics       *metrics.Metrics
}

func newGuard(cfg GuardConfig, m *metrics.Metrics, logger ports.Logger) *guard {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:    breakerName,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.BreakerMinCalls && ratio >= cfg.BreakerRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			m.SetBreakerState(name, float64(to))
		},
	}
	return &guard{
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:       gobreaker.NewCircuitBreaker(settings),
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		metrics:       m,
	}
}

// guarded runs fn behind the limiter and breaker. Reads pass retry=true and
// are retried with exponential backoff on transient failures; order
// placement is never retried.
func guarded[T any](ctx context.Context, g *guard, op string, retry bool, fn func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		var zero T
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return zero, backoff.Permanent(ctx.Err())
			}
			return zero, backoff.Permanent(fmt.Errorf("%w: %w", ports.ErrRateLimited, err))
		}
		res, err := g.breaker.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		g.metrics.ObserveExchangeCall(op, err)
		if err != nil {
			if !retry || !isRetryable(err) {
				return zero, backoff.Permanent(err)
			}
			return zero, err
		}
		return res.(T), nil
	}

	tries := uint(1)
	if retry {
		tries = g.maxRetries
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryInterval
	return backoff.Retry(ctx, attempt, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// isTransient reports failures that say something about exchange health:
// transport errors and server-side API codes.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1000, -1001, -1003, -1006, -1007:
			return true
		}
		return false
	}
	return true
}

func isRetryable(err error) bool {
	if isBreakerOpen(err) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return isTransient(err)
}
