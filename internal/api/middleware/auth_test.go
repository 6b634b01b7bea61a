package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/api/shared"
	"github.com/phrazzld/studykit/internal/mocks"
	"github.com/phrazzld/studykit/internal/service/auth"
)

func TestAuthMiddleware_Authenticate(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()

	tests := []struct {
		name            string
		authHeader      string
		validateErr     error
		claims          *auth.Claims
		expectedStatus  int
		expectedOwnerID uuid.UUID
	}{
		{
			name:            "valid token",
			authHeader:      "Bearer valid-token",
			claims:          &auth.Claims{OwnerID: ownerID},
			expectedStatus:  http.StatusOK,
			expectedOwnerID: ownerID,
		},
		{name: "missing auth header", expectedStatus: http.StatusUnauthorized},
		{name: "invalid auth format", authHeader: "InvalidFormat", expectedStatus: http.StatusUnauthorized},
		{name: "empty bearer", authHeader: "Bearer ", expectedStatus: http.StatusUnauthorized},
		{name: "expired token", authHeader: "Bearer expired-token", validateErr: auth.ErrExpiredToken, expectedStatus: http.StatusUnauthorized},
		{name: "invalid token", authHeader: "Bearer invalid-token", validateErr: auth.ErrInvalidToken, expectedStatus: http.StatusUnauthorized},
		{name: "wrong token type", authHeader: "Bearer refresh-token", validateErr: auth.ErrWrongTokenType, expectedStatus: http.StatusUnauthorized},
		{
			name:           "token without owner",
			authHeader:     "Bearer anonymous",
			claims:         &auth.Claims{},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unexpected validation failure",
			authHeader:     "Bearer valid-token",
			validateErr:    errors.New("key store unavailable"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			jwtService := &mocks.MockJWTService{
				ValidateErr: tt.validateErr,
				Claims:      tt.claims,
			}
			middleware := NewAuthMiddleware(jwtService)

			var capturedOwnerID uuid.UUID
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if ownerID, ok := GetOwnerID(r); ok {
					capturedOwnerID = ownerID
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
			if tt.authHeader != "" {
				req.Header.Add("Authorization", tt.authHeader)
			}
			recorder := httptest.NewRecorder()

			middleware.Authenticate(nextHandler).ServeHTTP(recorder, req)

			assert.Equal(t, tt.expectedStatus, recorder.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedOwnerID, capturedOwnerID)
			}
		})
	}
}

func TestGetOwnerID(t *testing.T) {
	t.Parallel()

	t.Run("context with owner ID", func(t *testing.T) {
		ownerID := uuid.New()
		req, err := http.NewRequest(http.MethodGet, "/", nil)
		require.NoError(t, err)
		req = req.WithContext(shared.WithOwnerID(req.Context(), ownerID))

		got, ok := GetOwnerID(req)
		assert.True(t, ok)
		assert.Equal(t, ownerID, got)
	})

	t.Run("context without owner ID", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, "/", nil)
		require.NoError(t, err)
		req = req.WithContext(context.Background())

		got, ok := GetOwnerID(req)
		assert.False(t, ok)
		assert.Equal(t, uuid.Nil, got)
	})
}
