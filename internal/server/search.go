package server

import (
	"net/http"
	"strconv"
	"time"

	"prospect/internal/entity"
	"prospect/internal/query"
)

type searchRequest struct {
	Kind     string              `json:"kind"`
	Term     string              `json:"term"`
	Status   string              `json:"status"`
	Source   string              `json:"source"`
	After    string              `json:"createdAfter"`
	Before   string              `json:"createdBefore"`
	Groups   []query.FilterGroup `json:"groups"`
	PageSize int                 `json:"pageSize"`
	Cursor   string              `json:"cursor"`
}

type searchResponse struct {
	Docs      []docResponse `json:"docs"`
	Cursor    string        `json:"cursor,omitempty"`
	Strategy  string        `json:"strategy"`
	Truncated bool          `json:"truncated,omitempty"`
}

// searchGet serves simple term searches from query parameters.
func (s *Server) searchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := searchRequest{
		Kind:   q.Get("kind"),
		Term:   q.Get("q"),
		Status: q.Get("status"),
		Source: q.Get("source"),
		After:  q.Get("created_after"),
		Before: q.Get("created_before"),
		Cursor: q.Get("cursor"),
	}
	if ps := q.Get("page_size"); ps != "" {
		n, err := strconv.Atoi(ps)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "page_size must be a positive integer")
			return
		}
		req.PageSize = n
	}
	s.search(w, r, req)
}

// searchPost serves filter-group searches from a JSON body.
func (s *Server) searchPost(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed search request")
		return
	}
	for _, g := range req.Groups {
		if g.Op != query.GroupAnd && g.Op != query.GroupOr {
			writeError(w, http.StatusBadRequest, "bad_request", "group op must be \"and\" or \"or\"")
			return
		}
		for _, c := range g.Conditions {
			if _, err := query.ParseOp(string(c.Op)); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error())
				return
			}
		}
	}
	s.search(w, r, req)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, req searchRequest) {
	var kind entity.Kind
	if req.Kind != "" {
		k, err := entity.ParseKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		kind = k
	}

	facets := query.Facets{Status: req.Status, Source: req.Source}
	var err error
	if facets.CreatedAfter, err = parseDate(req.After); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "created_after must be RFC 3339")
		return
	}
	if facets.CreatedBefore, err = parseDate(req.Before); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "created_before must be RFC 3339")
		return
	}

	res, err := s.planner.Search(r.Context(), query.Request{
		Kind:     kind,
		Term:     req.Term,
		Facets:   facets,
		Groups:   req.Groups,
		PageSize: req.PageSize,
		Cursor:   req.Cursor,
	})
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Docs:      toDocResponses(res.Docs),
		Cursor:    res.Cursor,
		Strategy:  res.Strategy.String(),
		Truncated: res.Truncated,
	})
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// rebuildIndex regenerates every index entry from source documents.
// Long-running; guarded by the auth middleware.
func (s *Server) rebuildIndex(w http.ResponseWriter, r *http.Request) {
	if s.maintainer == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "index maintenance is not configured")
		return
	}

	start := time.Now()
	processed, err := s.maintainer.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("index rebuild failed", "processed", processed, "error", err)
		writeJSON(w, http.StatusInternalServerError, struct {
			Success   bool   `json:"success"`
			Processed int    `json:"processed"`
			Error     string `json:"error"`
		}{false, processed, err.Error()})
		return
	}
	if s.planner != nil {
		for _, k := range entity.Kinds() {
			s.planner.Invalidate(k)
		}
	}
	s.logger.Info("index rebuild complete", "processed", processed, "duration", time.Since(start))

	writeJSON(w, http.StatusOK, struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
	}{true, processed})
}
