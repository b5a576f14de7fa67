package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/chat"
)

// HealthResponse is returned by health endpoints.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status,omitempty"`
	Version string `json:"version,omitempty"`
}

// errorBody is the JSON shape of every failed API call.
type errorBody struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Issues  []chat.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

// writeFailure maps an error from a collaborator onto a JSON response.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ve *chat.ValidationError
	var ae *arena.APIError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, ve.Status, errorBody{Message: ve.Message, Issues: ve.Issues})
	case errors.As(err, &ae):
		status := ae.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		writeError(w, status, ae.Message)
	case errors.Is(err, arena.ErrNotConfigured), errors.Is(err, arena.ErrIdentityNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// decodeJSON reads the request body into v, answering 400 "Invalid JSON" on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true, Status: "ok", Version: s.version})
}

// handlePing is the readiness probe.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success": false,
		"message": "not found",
		"path":    r.URL.Path,
	})
}
