// Package retry reruns an aggregate's load-decide-write cycle when the
// store reports an optimistic concurrency conflict. Any other error is
// returned immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcoot/rpsleague/internal/storage"
)

// Config bounds the conflict retry loop
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

// DefaultConfig returns sensible defaults for conflict retries
func DefaultConfig() Config {
	return Config{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		MaxTries:        20,
	}
}

// OnConflict calls fn until it succeeds, fails with an error other than
// storage.ErrVersionConflict, or MaxTries is reached. onConflict, if set,
// is called before each retry.
func OnConflict(ctx context.Context, cfg Config, onConflict func(), fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !errors.Is(err, storage.ErrVersionConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(cfg.MaxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(error, time.Duration) {
			if onConflict != nil {
				onConflict()
			}
		}),
	)
	return err
}
