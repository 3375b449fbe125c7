package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff around agent runs.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry manages one circuit breaker per runtime name, so a
// misbehaving CLI stops getting invocations without affecting others.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewBreakerRegistry creates a registry. A nil logger uses slog.Default.
func NewBreakerRegistry(logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the breaker for the runtime, creating it on first use.
func (r *BreakerRegistry) Get(runtime string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[runtime]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        runtime,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				"runtime", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// User cancellation is not a runtime failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[runtime] = cb
	return cb
}

// ResilientRunner wraps a Runner with exponential backoff retries and a
// per-runtime circuit breaker.
type ResilientRunner struct {
	inner    Runner
	breakers *BreakerRegistry
	retryCfg RetryConfig
}

// NewResilientRunner wraps inner. A nil registry gets a fresh one.
func NewResilientRunner(inner Runner, breakers *BreakerRegistry, retryCfg RetryConfig) *ResilientRunner {
	if breakers == nil {
		breakers = NewBreakerRegistry(nil)
	}
	return &ResilientRunner{inner: inner, breakers: breakers, retryCfg: retryCfg}
}

// LookPath delegates to the wrapped runner.
func (r *ResilientRunner) LookPath(runtime string) (string, error) {
	return r.inner.LookPath(runtime)
}

// Run executes the invocation with retry and breaker protection. Open
// breakers and context cancellation stop retrying immediately.
func (r *ResilientRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	cb := r.breakers.Get(inv.Runtime)
	var result Result

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := cb.Execute(func() (interface{}, error) {
			return r.inner.Run(ctx, inv)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		result = out.(Result)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryCfg.InitialInterval
	policy.MaxInterval = r.retryCfg.MaxInterval
	policy.MaxElapsedTime = r.retryCfg.MaxElapsedTime
	policy.Multiplier = r.retryCfg.Multiplier
	policy.RandomizationFactor = r.retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return result, err
}
