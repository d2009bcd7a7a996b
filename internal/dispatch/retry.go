package dispatch

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds a retried network step.
type RetryPolicy struct {
	// MaxAttempts counts every call, the first included.
	MaxAttempts     uint
	InitialInterval time.Duration
}

// DefaultRetryPolicy is three attempts starting at 500ms, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
	}
}

func (p RetryPolicy) options(notify backoff.Notify) []backoff.RetryOption {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy().InitialInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.InitialInterval * 8

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return opts
}

// unwrapPermanent strips the backoff marker so callers see the original error.
func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
