package utils

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy describes a capped exponential backoff.  The delay starts at
// Base, doubles after every failed attempt and never exceeds Max.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetry is used for transient database and cache errors.
var DefaultRetry = RetryPolicy{Attempts: 3, Base: 50 * time.Millisecond, Max: time.Second}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.  Retry returns the wrapped
// error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retry runs op until it succeeds, returns a Permanent error, the context
// is done, or the attempts are used up.  The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, op func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	backoff := p.Base
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= p.Attempts {
			return err
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		if backoff < p.Max {
			backoff *= 2
			if backoff > p.Max {
				backoff = p.Max
			}
		}
	}
}
