package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"prospect/internal/query"
	"prospect/internal/store"
)

// apiError is the JSON shape of an error response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg})
}

// fail maps internal errors onto HTTP statuses. Store configuration
// problems (a missing composite index) surface as 500 with the message
// intact — the operator needs the index name, not a generic failure.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "document not found")
	case errors.Is(err, query.ErrEmptyTerm):
		writeError(w, http.StatusBadRequest, "empty_query", "search term and filters are all empty")
	case errors.Is(err, store.ErrBadCursor):
		writeError(w, http.StatusBadRequest, "bad_cursor", "cursor is not usable; restart from the first page")
	case errors.Is(err, store.ErrUnsupportedQuery):
		writeError(w, http.StatusBadRequest, "unsupported_query", err.Error())
	case errors.Is(err, store.ErrMissingIndex):
		s.logger.Error("query requires a missing composite index", "error", err)
		writeError(w, http.StatusInternalServerError, "missing_index", err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
