// Package retry provides the bounded retry policy applied to all outbound I/O.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jpillora/backoff"
)

// Config controls how many times an operation is retried and how long the
// worker sleeps between attempts. The backoff schedule is Base, Base*Factor,
// Base*Factor^2, ... capped at Max.
type Config struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Factor     float64
}

// DefaultConfig retries five times with 2^n-second backoff (2s..32s).
var DefaultConfig = Config{
	MaxRetries: 5,
	Base:       2 * time.Second,
	Max:        32 * time.Second,
	Factor:     2,
}

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable. Do stops immediately and returns
// the wrapped error unchanged, without the ErrExhausted wrapper.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds or the policy is exhausted. A non-nil error is
// treated as transient unless wrapped with Permanent: the result is discarded
// and the operation is retried after the next backoff interval. A nil result
// with a nil error is a success; absence is data, not a failure. The context
// aborts waiting between attempts.
func Do[T any](ctx context.Context, cfg Config, logger *log.Logger, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = log.New(os.Stderr, "retry: ", log.LstdFlags)
	}
	if cfg.MaxRetries < 0 {
		cfg = DefaultConfig
	}

	b := &backoff.Backoff{
		Min:    cfg.Base,
		Max:    cfg.Max,
		Factor: cfg.Factor,
		Jitter: false,
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", name, err)
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			logger.Printf("%s failed permanently: %v", name, pe.err)
			return zero, pe.err
		}
		lastErr = err
		logger.Printf("%s attempt %d/%d failed: %v", name, attempt+1, cfg.MaxRetries+1, err)

		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled during backoff: %w", name, ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s: %w: %w", name, ErrExhausted, lastErr)
}
