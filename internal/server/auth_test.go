package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		apiKey         string
		authHeader     string
		path           string
		expectedStatus int
	}{
		{
			name:           "no api key configured - allows request",
			apiKey:         "",
			authHeader:     "",
			path:           "/v1/models",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid api key - allows request",
			apiKey:         "secret-key-123",
			authHeader:     "Bearer secret-key-123",
			path:           "/v1/models",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing authorization header - denies request",
			apiKey:         "secret-key-123",
			authHeader:     "",
			path:           "/v1/models",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing bearer prefix - denies request",
			apiKey:         "secret-key-123",
			authHeader:     "secret-key-123",
			path:           "/v1/models",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong key - denies request",
			apiKey:         "secret-key-123",
			authHeader:     "Bearer wrong-key",
			path:           "/v1/models",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "empty bearer token - denies request",
			apiKey:         "secret-key-123",
			authHeader:     "Bearer ",
			path:           "/v1/models",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "skip path - allows request without credentials",
			apiKey:         "secret-key-123",
			authHeader:     "",
			path:           "/health",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			testHandler := func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			}
			mw := AuthMiddleware(tt.apiKey, []string{"/health"})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := mw(testHandler)(c)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, rec.Code)

			if tt.expectedStatus == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), "authentication_error")
			}
		})
	}
}
