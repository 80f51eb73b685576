package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// HTTPMiddleware records request count, duration and errors for m.
// A nil m disables recording.
func HTTPMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			// Normalize path to avoid high cardinality
			path := normalizePath(r)

			m.APIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			m.APIRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())

			if status >= 400 {
				m.APIErrorsTotal.WithLabelValues(categorizeStatus(status)).Inc()
			}
		})
	}
}

// normalizePath extracts route pattern from chi router to avoid high cardinality
func normalizePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	// Unrouted requests: replace ids with a placeholder
	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if _, err := uuid.Parse(part); err == nil && len(part) == 36 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// categorizeStatus categorizes HTTP status codes into error types
func categorizeStatus(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusBadRequest:
		return "bad_request"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
