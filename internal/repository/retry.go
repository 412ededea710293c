package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/logging"
)

// Retrier re-runs backend calls that failed with a transient error.
type Retrier struct {
	Logger         *zap.Logger
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewRetrier returns the default policy: three attempts, 50ms doubling to 1s.
func NewRetrier(logger *zap.Logger) *Retrier {
	return &Retrier{
		Logger:         logger,
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
// Errors that already carry an apperror kind are returned as is; anything
// else becomes a persistence error tagged with operation.
func (r *Retrier) Do(ctx context.Context, operation, id string, fn func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := r.InitialBackoff
	opLogger := logging.WithOperation(r.Logger, operation, id)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperror.Persistence(operation, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("storage operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == attempts-1 {
			break
		}
		opLogger.Warn("transient storage error", zap.Error(err), zap.Int("attempt", attempt+1))
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	opLogger.Error("storage operation failed", zap.Error(err))
	return apperror.Persistence(operation, err)
}

// DoWrite is Do for writes whose effect may have committed even though the
// attempt reported a transient error. fn is told whether an earlier attempt
// ran, so it can accept "already applied" outcomes such as a duplicate of its
// own key or zero affected rows.
func (r *Retrier) DoWrite(ctx context.Context, operation, id string, fn func(retried bool) error) error {
	attempt := 0
	return r.Do(ctx, operation, id, func() error {
		retried := attempt > 0
		attempt++
		return fn(retried)
	})
}

// MergeKeys appends the keys of batch missing from keys.
func MergeKeys(keys, batch []string) []string {
	for _, k := range batch {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
