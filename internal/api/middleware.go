package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/falak/mailrelay/internal/apikey"
	"github.com/falak/mailrelay/internal/metrics"
	"github.com/falak/mailrelay/internal/storage"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// apiKeyFrom returns the authenticated API key of the request
func apiKeyFrom(ctx context.Context) *storage.APIKey {
	k, _ := ctx.Value(apiKeyContextKey).(*storage.APIKey)
	return k
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// apiKeyMiddleware authenticates relay callers and records key usage
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := s.keys.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if !errors.Is(err, apikey.ErrUnauthorized) {
				// Store failures reject the request as well
				s.logger.Error("API key lookup failed", "error", err)
			}
			s.logger.Warn("unauthorized relay request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			metrics.IncAuthFailures("api_key")
			sendError(w, http.StatusUnauthorized, "Invalid or missing API key. Include Authorization header.")
			return
		}

		s.keys.RecordUsage(r.Context(), key.ID)

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionTokens returns the admin token candidates from the session cookie and a bearer header
func (s *Server) sessionTokens(r *http.Request) []string {
	var tokens []string
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		tokens = append(tokens, c.Value)
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if t := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// authenticated reports whether the request carries a valid admin session
func (s *Server) authenticated(r *http.Request) bool {
	for _, token := range s.sessionTokens(r) {
		if _, err := s.sessions.Verify(token); err == nil {
			return true
		}
	}
	return false
}

// sessionMiddleware requires a valid admin session
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticated(r) {
			s.logger.Warn("unauthorized admin request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			metrics.IncAuthFailures("session")
			sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
