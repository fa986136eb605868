package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	"github.com/dalemusser/familyspace/internal/app/system/txn"
	"go.uber.org/zap"
)

// retryableError marks a failure that should be retried even though the
// store did not label it transient.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var r retryableError
	return errors.Is(err, claimstore.ErrConflict) || txn.IsTransient(err) || errors.As(err, &r)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return b
}

// retry runs op until it succeeds, fails with a non-retryable error, or
// uses up the policy's attempts. Exhaustion returns ErrTransientStore.
func (s *Service) retry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			s.metrics.retry(name)
		}
		err := op(ctx)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(s.policy.RetryAttempts)),
	)
	if err != nil && retryable(err) {
		s.log.Warn("recovery operation gave up after retries",
			zap.String("operation", name),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrTransientStore, name, err)
	}
	if err != nil && ctx.Err() != nil && !isServiceError(err) {
		return fmt.Errorf("%w: %s: %v", ErrTransientStore, name, err)
	}
	return err
}

func isServiceError(err error) bool {
	return Kind(err) != "internal"
}

// isRejection reports whether err is a refusal worth an audit entry, as
// opposed to a storage failure.
func isRejection(err error) bool {
	return isServiceError(err) && !errors.Is(err, ErrTransientStore)
}
