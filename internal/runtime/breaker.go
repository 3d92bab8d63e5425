package runtime

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig tunes CircuitBreakerMiddleware. Zero values fall back
// to the defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in errors and state-change callbacks. Default
	// "flowbus".
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold uint32

	// ResetTimeout is how long the circuit stays open before a half-open
	// probe is allowed through. Default 30s.
	ResetTimeout time.Duration

	// OnStateChange is invoked when the breaker transitions between states.
	OnStateChange func(name string, from, to gobreaker.State)
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.Name == "" {
		c.Name = "flowbus"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// CircuitBreakerMiddleware fails fast once the rest of the chain has failed
// FailureThreshold times in a row. While open, calls return
// gobreaker.ErrOpenState without running the chain; after ResetTimeout one
// probe is let through and its outcome closes or re-opens the circuit.
func CircuitBreakerMiddleware[E any](cfg CircuitBreakerConfig) Middleware[E] {
	cfg = cfg.withDefaults()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: cfg.OnStateChange,
	})

	return func(ctx context.Context, eventName string, payload any, env E, next func() error) error {
		_, err := breaker.Execute(func() (any, error) {
			return nil, next()
		})
		return err
	}
}
