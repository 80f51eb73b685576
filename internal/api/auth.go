package api

import (
	"net/http"
	"time"

	"github.com/falak/mailrelay/internal/metrics"
)

// LoginRequest is the request body for POST /auth/login
type LoginRequest struct {
	SiteKey string `json:"siteKey"`
}

// LoginResponse is the response for a successful login
type LoginResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CheckResponse is the response for GET /auth/check
type CheckResponse struct {
	Authenticated bool `json:"authenticated"`
}

// authActionRequest is the request body for POST /api/auth
type authActionRequest struct {
	Action  string `json:"action"`
	SiteKey string `json:"siteKey"`
}

// handleLogin handles POST /auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.login(w, r, req.SiteKey)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, siteKey string) {
	if siteKey == "" {
		sendError(w, http.StatusBadRequest, "Site key is required")
		return
	}

	if !s.sessions.Configured() {
		s.logger.Error("admin login attempted but no site key is configured")
	}

	if !s.sessions.CheckSiteKey(siteKey) {
		metrics.IncAuthFailures("site_key")
		s.logger.Warn("invalid admin site key", "remote_addr", r.RemoteAddr)
		sendError(w, http.StatusUnauthorized, "Invalid site key")
		return
	}

	token, claims, err := s.sessions.Issue()
	if err != nil {
		s.logger.Error("failed to issue session", "error", err)
		sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  claims.Expiry(),
		MaxAge:   int(s.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info("admin logged in", "remote_addr", r.RemoteAddr)
	sendJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Message:   "Logged in successfully",
		Token:     token,
		ExpiresAt: claims.Expiry().UTC(),
	})
}

// handleLogout handles POST /auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	sendJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logged out successfully"})
}

// handleCheck handles GET /auth/check
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, CheckResponse{Authenticated: s.authenticated(r)})
}

// handleAuthAction handles POST /api/auth with an action of login, logout or check
func (s *Server) handleAuthAction(w http.ResponseWriter, r *http.Request) {
	var req authActionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Action {
	case "login":
		s.login(w, r, req.SiteKey)
	case "logout":
		s.handleLogout(w, r)
	case "check":
		s.handleCheck(w, r)
	default:
		sendError(w, http.StatusBadRequest, "Invalid action")
	}
}
