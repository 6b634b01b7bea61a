package shared

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var hexTraceID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestTraceID(t *testing.T) {
	t.Parallel()

	t.Run("missing trace ID", func(t *testing.T) {
		assert.Empty(t, GetTraceID(context.Background()))
	})

	t.Run("set and get", func(t *testing.T) {
		ctx := SetTraceID(context.Background())
		traceID := GetTraceID(ctx)
		assert.Regexp(t, hexTraceID, traceID)
	})

	t.Run("unique per call", func(t *testing.T) {
		seen := make(map[string]bool)
		for range 100 {
			id := GetTraceID(SetTraceID(context.Background()))
			assert.False(t, seen[id], "duplicate trace ID %s", id)
			seen[id] = true
		}
	})

	t.Run("fallback is well formed", func(t *testing.T) {
		assert.Regexp(t, hexTraceID, generateFallbackTraceID())
	})
}

func TestOwnerID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uuid.Nil, OwnerID(context.Background()))

	ownerID := uuid.New()
	assert.Equal(t, ownerID, OwnerID(WithOwnerID(context.Background(), ownerID)))

	wrongType := context.WithValue(context.Background(), OwnerIDContextKey, ownerID.String())
	assert.Equal(t, uuid.Nil, OwnerID(wrongType))
}
