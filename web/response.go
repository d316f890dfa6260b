package web

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// writeJSON writes data as the JSON body of a response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debugw("failed to encode json response", "error", err)
	}
}

// writeJSONError writes a JSON error body with optional per-item details.
func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string, details ...string) {
	s.writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string, details ...string) {
	s.writeJSONError(w, http.StatusBadRequest, msg, details...)
}

func (s *Server) notFound(w http.ResponseWriter, msg string) {
	s.writeJSONError(w, http.StatusNotFound, msg)
}

func (s *Server) internalError(w http.ResponseWriter, msg string) {
	s.writeJSONError(w, http.StatusInternalServerError, msg)
}
