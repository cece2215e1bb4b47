package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const startupRetryWindow = 15 * time.Second

// connect retries dial with exponential backoff until it succeeds, ctx ends
// or startupRetryWindow has passed.
func connect[T any](ctx context.Context, name string, log zerolog.Logger, dial func() (T, error)) (T, error) {
	var out T
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = startupRetryWindow
	err := backoff.RetryNotify(func() error {
		v, err := dial()
		if err != nil {
			return err
		}
		out = v
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn().Err(err).Str("dependency", name).Dur("retry_in", next).Msg("connect failed, retrying")
	})
	return out, err
}
