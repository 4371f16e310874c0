package api

import (
	"context"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Correlation takes the request id from header, or generates one, stores it
// where chi's middleware.GetReqID finds it, and echoes it on the response.
// An empty header name falls back to X-Request-Id.
func Correlation(header string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = chimw.RequestIDHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(header))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(header, id)
			ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationID returns the id attached by Correlation, if any.
func CorrelationID(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}
