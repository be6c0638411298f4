package registry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// RetryPolicy controls how deferred setups are re-attempted
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy retries for up to 30 minutes, backing off to 5 minutes between attempts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 10 * time.Second,
		MaxInterval:     5 * time.Minute,
		MaxElapsedTime:  30 * time.Minute,
	}
}

// SetupWithRetry calls Setup until it succeeds, is refused, or the policy gives up.
// Only ErrSetupDeferred is retried; every other error is returned immediately.
func (m *Manager) SetupWithRetry(ctx context.Context, entry Entry, policy RetryPolicy) (*Registry, error) {
	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		bo.MaxInterval = policy.MaxInterval
	}

	attempt := 0
	operation := func() (*Registry, error) {
		attempt++
		reg, err := m.Setup(ctx, entry)
		if err == nil {
			return reg, nil
		}
		if errors.Is(err, ErrSetupDeferred) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"entry_id": entry.ID,
			"attempt":  attempt,
			"retry_in": next,
		}).Warn("Config entry setup deferred, retrying")
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(bo), backoff.WithNotify(notify)}
	if policy.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsedTime))
	}

	return backoff.Retry(ctx, operation, opts...)
}
