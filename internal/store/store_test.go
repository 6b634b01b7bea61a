package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/studykit/internal/domain"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"ErrNotFound", ErrNotFound, true},
		{"ErrJobNotFound", ErrJobNotFound, true},
		{"wrapped ErrJobNotFound", fmt.Errorf("load: %w", ErrJobNotFound), true},
		{"terminal is not not-found", ErrJobTerminal, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, IsNotFoundError(tc.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := NewStoreError("job", "update", "failed to set status", cause)

	assert.Equal(t, "update operation on job failed: failed to set status: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NewStoreError("job", "create", "invalid", nil)
	assert.Equal(t, "create operation on job failed: invalid", bare.Error())
}

func TestPredecessors(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []domain.JobStatus{domain.JobStatusCreated}, Predecessors(domain.JobStatusRunning))
	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning}, Predecessors(domain.JobStatusCompleted))
	assert.Equal(t,
		[]domain.JobStatus{domain.JobStatusCreated, domain.JobStatusRunning},
		Predecessors(domain.JobStatusStopped))
	assert.Empty(t, Predecessors(domain.JobStatusCreated))
}

func TestWriteWithRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds first time", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := WriteWithRetry(context.Background(), time.Millisecond, func(context.Context) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retried once then succeeds", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := WriteWithRetry(context.Background(), time.Millisecond, func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("database is locked")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("fails twice", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := WriteWithRetry(context.Background(), time.Millisecond, func(context.Context) error {
			calls++
			return errors.New("database is locked")
		})
		assert.ErrorIs(t, err, ErrStoreWriteFailed)
		assert.Contains(t, err.Error(), "database is locked")
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent rejections are not retried", func(t *testing.T) {
		t.Parallel()
		for _, permanent := range []error{ErrJobTerminal, ErrJobNotFound, domain.ErrInvalidTransition} {
			calls := 0
			err := WriteWithRetry(context.Background(), time.Millisecond, func(context.Context) error {
				calls++
				return fmt.Errorf("set status: %w", permanent)
			})
			assert.ErrorIs(t, err, permanent)
			assert.NotErrorIs(t, err, ErrStoreWriteFailed)
			assert.Equal(t, 1, calls)
		}
	})
}
