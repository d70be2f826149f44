package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Delay:    500 * time.Millisecond,
		Backoff:  2,
	}
}

func (r RetryConfig) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Delay
	if r.Backoff >= 1 {
		b.Multiplier = r.Backoff
	}
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retry runs op until it succeeds, fails with a non-transient error or the
// attempts run out. Only errors wrapping ErrTransientStore are retried.
func (m *Manager) retry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := op(ctx)
			if err == nil || errors.Is(err, ErrTransientStore) {
				return err
			}
			return backoff.Permanent(err)
		},
		m.cfg.Retry.policy(ctx),
		func(err error, wait time.Duration) {
			m.log.Warn("transient store error, retrying",
				"op", name,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		},
	)
}
