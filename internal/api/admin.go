package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/falak/mailrelay/internal/apikey"
	"github.com/falak/mailrelay/internal/stats"
	"github.com/falak/mailrelay/internal/storage"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 1000
)

// RateLimitInfo is the backoff state of a provider. BackoffUntil is in epoch
// milliseconds, zero when the provider was never limited.
type RateLimitInfo struct {
	IsLimited    bool  `json:"isLimited"`
	BackoffUntil int64 `json:"backoffUntil"`
}

// StatusResponse is the response for GET /relay/status
type StatusResponse struct {
	Success         bool                     `json:"success"`
	Status          string                   `json:"status"`
	TotalEmailsSent int                      `json:"totalEmailsSent"`
	RateLimits      map[string]RateLimitInfo `json:"rateLimits"`
	Deliverability  *stats.Deliverability    `json:"deliverability"`
	Timestamp       time.Time                `json:"timestamp"`
	Warning         string                   `json:"warning,omitempty"`
}

// KeysResponse is the response for GET /admin/api-keys
type KeysResponse struct {
	Success bool              `json:"success"`
	APIKeys []*storage.APIKey `json:"apiKeys"`
}

// KeyResponse returns a single key
type KeyResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	APIKey  interface{} `json:"apiKey"`
}

// ToggleResponse is the response for POST /admin/api-keys/{id}/toggle
type ToggleResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	IsActive bool   `json:"isActive"`
}

// KeyNameRequest is the request body for creating or renaming a key
type KeyNameRequest struct {
	Name string `json:"name"`
}

// LogsResponse is the response for GET /admin/logs
type LogsResponse struct {
	Success bool                `json:"success"`
	Logs    []*storage.EmailLog `json:"logs"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	Warning string              `json:"warning,omitempty"`
}

// handleStatus handles GET /relay/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hours := stats.DefaultHours
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = min(n, stats.MaxHours)
		}
	}

	now := s.now()
	resp := StatusResponse{
		Success:    true,
		Status:     "healthy",
		RateLimits: s.rateLimits(),
		Timestamp:  now.UTC(),
	}

	total, logs, err := s.deliverabilityLogs(r, now, hours)
	if err != nil {
		s.logger.Error("failed to load logs for status", "error", err)
		resp.Status = "degraded"
		resp.Deliverability = stats.Empty()
		resp.Warning = "Database unavailable"
		sendJSON(w, http.StatusOK, resp)
		return
	}

	resp.TotalEmailsSent = total
	resp.Deliverability = stats.Aggregate(logs, hours, now)
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) deliverabilityLogs(r *http.Request, now time.Time, hours int) (int, []*storage.EmailLog, error) {
	total, err := s.logs.CountLogs(r.Context(), storage.LogFilter{})
	if err != nil {
		return 0, nil, err
	}

	logs, err := s.logs.ListLogs(r.Context(), storage.LogFilter{Since: stats.Cutoff(now, hours)})
	if err != nil {
		return 0, nil, err
	}
	return total, logs, nil
}

func (s *Server) rateLimits() map[string]RateLimitInfo {
	result := make(map[string]RateLimitInfo)
	tracker := s.relay.Tracker()

	for _, p := range s.relay.Providers() {
		st := tracker.Status(p.Name())
		info := RateLimitInfo{IsLimited: st.IsLimited}
		if !st.BackoffUntil.IsZero() {
			info.BackoffUntil = st.BackoffUntil.UnixMilli()
		}
		result[p.Name()] = info
	}
	return result
}

// handleKeysList handles GET /admin/api-keys
func (s *Server) handleKeysList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context(), false)
	if err != nil {
		s.logger.Error("failed to list API keys", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	if keys == nil {
		keys = []*storage.APIKey{}
	}

	sendJSON(w, http.StatusOK, KeysResponse{Success: true, APIKeys: keys})
}

// handleKeysCreate handles POST /admin/api-keys
func (s *Server) handleKeysCreate(w http.ResponseWriter, r *http.Request) {
	var req KeyNameRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := s.keys.Create(r.Context(), req.Name)
	if errors.Is(err, apikey.ErrNameRequired) {
		sendError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if err != nil {
		s.logger.Error("failed to create API key", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	sendJSON(w, http.StatusCreated, KeyResponse{
		Success: true,
		Message: "API key created successfully",
		APIKey:  created,
	})
}

// handleKeysRename handles PUT /admin/api-keys/{id}
func (s *Server) handleKeysRename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req KeyNameRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key, err := s.keys.Rename(r.Context(), id, req.Name)
	if err != nil {
		s.sendKeyError(w, id, "Failed to update API key", err)
		return
	}

	sendJSON(w, http.StatusOK, KeyResponse{
		Success: true,
		Message: "API key updated successfully",
		APIKey:  key,
	})
}

// handleKeysToggle handles POST /admin/api-keys/{id}/toggle
func (s *Server) handleKeysToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	active, err := s.keys.Toggle(r.Context(), id)
	if err != nil {
		s.sendKeyError(w, id, "Failed to update API key", err)
		return
	}

	sendJSON(w, http.StatusOK, ToggleResponse{
		Success:  true,
		Message:  "API key status toggled",
		IsActive: active,
	})
}

// handleKeysRotate handles POST /admin/api-keys/{id}/rotate
func (s *Server) handleKeysRotate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rotated, err := s.keys.Rotate(r.Context(), id)
	if err != nil {
		s.sendKeyError(w, id, "Failed to rotate API key", err)
		return
	}

	sendJSON(w, http.StatusOK, KeyResponse{
		Success: true,
		Message: "API key rotated successfully",
		APIKey:  rotated,
	})
}

// handleKeysDelete handles DELETE /admin/api-keys/{id}
func (s *Server) handleKeysDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.keys.Delete(r.Context(), id); err != nil {
		s.sendKeyError(w, id, "Failed to delete API key", err)
		return
	}
	if s.limiter != nil {
		s.limiter.Forget(id)
	}

	s.logger.Info("API key deleted", "id", id)
	sendJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "API key deleted successfully"})
}

func (s *Server) sendKeyError(w http.ResponseWriter, id, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sendError(w, http.StatusNotFound, "API key not found")
	case errors.Is(err, apikey.ErrNameRequired):
		sendError(w, http.StatusBadRequest, "Name is required")
	default:
		s.logger.Error(message, "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, message)
	}
}

// handleLogsList handles GET /admin/logs
func (s *Server) handleLogsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultLogLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}

	filter := storage.LogFilter{
		Status: storage.LogStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	resp := LogsResponse{Success: true, Logs: []*storage.EmailLog{}, Limit: limit, Offset: offset}

	logs, err := s.logs.ListLogs(r.Context(), filter)
	if err == nil {
		resp.Total, err = s.logs.CountLogs(r.Context(), storage.LogFilter{Status: filter.Status})
	}
	if err != nil {
		s.logger.Error("failed to list logs", "error", err)
		resp.Total = 0
		resp.Warning = "Database unavailable"
		sendJSON(w, http.StatusOK, resp)
		return
	}

	if logs != nil {
		resp.Logs = logs
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleLogsDelete handles DELETE /admin/logs/{id}
func (s *Server) handleLogsDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.logs.DeleteLog(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		sendError(w, http.StatusNotFound, "Log not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete log", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete log")
		return
	}

	sendJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Log deleted successfully"})
}
