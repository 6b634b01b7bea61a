package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/phrazzld/studykit/internal/domain"
)

// DefaultWriteRetryDelay is the pause before the single write retry.
const DefaultWriteRetryDelay = 250 * time.Millisecond

// WriteWithRetry runs write, retrying it once after delay when it fails with
// an unexpected error. Rejections that a retry cannot change (terminal job,
// unknown job, illegal transition, cancelled context) are returned as is.
// A write that fails twice returns an error wrapping ErrStoreWriteFailed.
func WriteWithRetry(ctx context.Context, delay time.Duration, write func(ctx context.Context) error) error {
	if delay <= 0 {
		delay = DefaultWriteRetryDelay
	}
	backoff := retry.WithMaxRetries(1, retry.NewConstant(delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := write(ctx)
		if err == nil || isPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err == nil || isPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreWriteFailed, err)
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrJobTerminal) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidEntity) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
