package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithRequestID(t *testing.T, header string) (seen string, rec *httptest.ResponseRecorder) {
	t.Helper()
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	if header != "" {
		req.Header.Set(RequestIDHeader, header)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec
}

func TestRequestID_Generated(t *testing.T) {
	seen, rec := serveWithRequestID(t, "")
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	parsed, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestRequestID_ClientSupplied(t *testing.T) {
	tests := []struct {
		name string
		id   string
		keep bool
	}{
		{"spark task id", "spark-app_0042.stage:7", true},
		{"uuid", "0b9a2c1e-3f7d-4a51-9d0e-8f1c2b3a4d5e", true},
		{"max length", strings.Repeat("x", 128), true},
		{"too long", strings.Repeat("x", 129), false},
		{"newline injection", "abc\naudit: forged", false},
		{"spaces", "two words", false},
		{"markup", "<img src=x>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, rec := serveWithRequestID(t, tt.id)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tt.keep {
				assert.Equal(t, tt.id, seen)
			} else {
				assert.NotEqual(t, tt.id, seen)
				assert.NotEmpty(t, seen)
			}
		})
	}
}

func TestRequestIDFromContext_Unset(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
