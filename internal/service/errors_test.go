package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/store"
)

func TestJobServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *JobServiceError
		expected string
	}{
		{
			name:     "with underlying error",
			err:      &JobServiceError{Operation: "start_job", Message: "failed to save job", Err: errors.New("disk full")},
			expected: "job service start_job failed: failed to save job: disk full",
		},
		{
			name:     "without underlying error",
			err:      &JobServiceError{Operation: "create_service", Message: "runner cannot be nil"},
			expected: "job service create_service failed: runner cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNewJobServiceError(t *testing.T) {
	dbErr := errors.New("connection reset")
	inputErr := fmt.Errorf("%w: document text cannot be empty", domain.ErrInputInvalid)

	tests := []struct {
		name       string
		err        error
		wantNil    bool
		wantSame   error
		wantTarget error
	}{
		{name: "nil error", err: nil, wantNil: true},
		{name: "shutting down passes through", err: fmt.Errorf("wrapped: %w", ErrShuttingDown), wantSame: ErrShuttingDown},
		{name: "job not found passes through", err: store.ErrJobNotFound, wantSame: store.ErrJobNotFound},
		{name: "input errors keep their detail", err: inputErr, wantSame: inputErr},
		{name: "other errors are wrapped", err: dbErr, wantTarget: dbErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewJobServiceError("stop_job", "failed", tt.err)
			switch {
			case tt.wantNil:
				assert.NoError(t, got)
			case tt.wantSame != nil:
				assert.Equal(t, tt.wantSame, got)
			default:
				var serviceErr *JobServiceError
				require.ErrorAs(t, got, &serviceErr)
				assert.Equal(t, "stop_job", serviceErr.Operation)
				assert.ErrorIs(t, got, tt.wantTarget)
			}
		})
	}
}
