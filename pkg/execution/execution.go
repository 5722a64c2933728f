package execution

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
)

// Policy bounds a remote call: how many attempts, and how long each attempt may take.
type Policy struct {
	Attempts uint
	Timeout  time.Duration
}

// DefaultPolicy is used for key-source and export calls that reach AWS.
var DefaultPolicy = Policy{Attempts: 3, Timeout: 5 * time.Second}

// WithTimeout runs fn with a derived context that expires after timeout.
// A zero timeout runs fn with ctx unchanged.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// Do executes fn under p, retrying failed attempts with exponential backoff.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var result T
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(retry.BackOffDelay),
	)
	err := r.Do(func() error {
		res, err := WithTimeout(ctx, p.Timeout, fn)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}
