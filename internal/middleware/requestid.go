package middleware

import (
	"context"
	"net/http"
	"regexp"

	"lake-catalog/internal/domain"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// RequestID tags every request with a correlation id. A well-formed id sent
// by the client is kept so engine-side logs can be joined with audit entries;
// anything else is replaced by a fresh time-ordered id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = domain.NewID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(domain.WithRequestID(r.Context(), id)))
	})
}

// RequestIDFromContext returns the correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	return domain.RequestIDFromContext(ctx)
}
