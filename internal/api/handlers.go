package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/falak/mailrelay/internal/metrics"
	"github.com/falak/mailrelay/internal/ratelimit"
	"github.com/falak/mailrelay/internal/relay"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// UsageResponse is the response for GET /relay/send
type UsageResponse struct {
	Message string `json:"message"`
	Usage   string `json:"usage"`
	Auth    string `json:"auth"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MessageResponse acknowledges an admin action
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleSendUsage handles GET /relay/send
func (s *Server) handleSendUsage(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, UsageResponse{
		Message: "Falak Mail Relay API",
		Usage:   "POST /api/send-mail with Authorization header and { to, subject, body, html?, from?, senderName?, replyTo? }",
		Auth:    "Include header: Authorization: Bearer <your-api-key>",
	})
}

// handleSend handles POST /relay/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := relay.DecodeRequest(data)
	if err != nil {
		var verr *relay.ValidationError
		if errors.As(err, &verr) {
			metrics.IncAPIErrors("validation")
			sendError(w, http.StatusBadRequest, verr.Message)
			return
		}
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if s.limiter != nil {
		res, err := s.limiter.Allow(r.Context(), &ratelimit.Request{APIKeyID: key.ID})
		if err != nil {
			s.logger.Error("quota check failed", "api_key_id", key.ID, "error", err)
		} else if !res.Allowed {
			metrics.IncRateLimitExceeded(string(res.DeniedBy))
			s.logger.Warn("API key quota exceeded",
				"api_key_id", key.ID,
				"retry_after", res.RetryAfter,
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			sendError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			return
		}
	}

	result := s.relay.Send(r.Context(), req, key.ID)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	sendJSON(w, status, result)
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// decodeJSON decodes a bounded JSON request body into v
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)).Decode(v)
}
