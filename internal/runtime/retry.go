package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
)

// RetryConfig tunes RetryMiddleware. Zero values fall back to the defaults.
type RetryConfig struct {
	// MaxTries is the total number of attempts including the first. Default 3.
	MaxTries uint

	// InitialInterval is the delay before the first retry; subsequent delays
	// grow exponentially. Default 100ms.
	InitialInterval time.Duration

	// MaxInterval caps the delay between attempts. Default 10s.
	MaxInterval time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	return c
}

// RetryMiddleware re-runs the rest of the chain with exponential backoff when
// it fails with a retryable error. Validation and unknown-event failures are
// deterministic and abort immediately.
func RetryMiddleware[E any](cfg RetryConfig) Middleware[E] {
	cfg = cfg.withDefaults()

	return func(ctx context.Context, eventName string, payload any, env E, next func() error) error {
		operation := func() (struct{}, error) {
			err := next()
			if err != nil && !errspkg.Retryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}

		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = cfg.InitialInterval
		expo.MaxInterval = cfg.MaxInterval

		_, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(expo),
			backoff.WithMaxTries(cfg.MaxTries),
		)
		return err
	}
}
