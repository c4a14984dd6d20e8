package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"prospect/internal/entity"
	"prospect/internal/store"
)

// reservedFields are owned by the index builder; client writes must not
// hand-write them or the builder's next regeneration would be fighting
// the client.
var reservedFields = []string{
	entity.FieldSearchPrefixes,
	entity.FieldSearchKeywords,
	entity.FieldSearchUpdatedAt,
	entity.FullNameField,
}

func sanitize(fields entity.FieldMap) {
	for _, f := range reservedFields {
		delete(fields, f)
	}
}

// afterWrite delivers the change to the index maintainer (when the
// store does not do so itself) and evicts stale search results.
func (s *Server) afterWrite(ctx context.Context, kind entity.Kind, path string, typ store.EventType, before, after entity.FieldMap) {
	if !s.bound && s.maintainer != nil {
		s.maintainer.HandleEvent(ctx, store.Event{
			Type:   typ,
			Path:   path,
			Before: before,
			After:  after,
		})
	}
	if s.planner != nil {
		s.planner.Invalidate(kind)
	}
}

type docResponse struct {
	ID     string          `json:"id"`
	Fields entity.FieldMap `json:"fields"`
}

func toDocResponses(docs []store.Doc) []docResponse {
	out := make([]docResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, docResponse{ID: d.ID, Fields: d.Fields})
	}
	return out
}

func (s *Server) createLead(w http.ResponseWriter, r *http.Request) {
	var fields entity.FieldMap
	// A JSON null decodes into a nil map without error; reject it too.
	if err := decodeBody(r, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON object")
		return
	}
	sanitize(fields)
	if _, ok := fields["created_at"]; !ok {
		fields["created_at"] = time.Now().UTC()
	}

	id := uuid.NewString()
	spec, _ := entity.SpecFor(entity.KindLead)
	path := spec.DocPath(id, id)
	if err := s.store.Set(r.Context(), path, fields, false); err != nil {
		s.fail(w, err)
		return
	}
	s.afterWrite(r.Context(), entity.KindLead, path, store.EventWrite, nil, fields)

	writeJSON(w, http.StatusCreated, docResponse{ID: id, Fields: fields})
}

// getLead returns the lead with its three subcollections, fetched
// concurrently.
func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	spec, _ := entity.SpecFor(entity.KindLead)

	lead, err := s.store.Get(r.Context(), spec.DocPath(id, id))
	if err != nil {
		s.fail(w, err)
		return
	}

	childSpecs := entity.ChildSpecs()
	children := make([][]docResponse, len(childSpecs))
	g, ctx := errgroup.WithContext(r.Context())
	for i, cs := range childSpecs {
		g.Go(func() error {
			page, err := s.store.Run(ctx, store.Query{
				Collection: cs.CollectionPath(id),
				OrderBy:    "created_at",
			})
			if err != nil {
				return err
			}
			children[i] = toDocResponses(page.Docs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ID         string          `json:"id"`
		Fields     entity.FieldMap `json:"fields"`
		Activities []docResponse   `json:"activities"`
		Proposals  []docResponse   `json:"proposals"`
		Contracts  []docResponse   `json:"contracts"`
	}{
		ID:         id,
		Fields:     lead,
		Activities: children[0],
		Proposals:  children[1],
		Contracts:  children[2],
	})
}

func (s *Server) updateLead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	spec, _ := entity.SpecFor(entity.KindLead)
	s.update(w, r, entity.KindLead, spec.DocPath(id, id))
}

func (s *Server) deleteLead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	spec, _ := entity.SpecFor(entity.KindLead)
	s.delete(w, r, entity.KindLead, spec.DocPath(id, id))
}

// childSpec resolves the {collection} path segment.
func childSpec(collection string) (entity.Spec, bool) {
	for _, cs := range entity.ChildSpecs() {
		if cs.Collection == collection {
			return cs, true
		}
	}
	return entity.Spec{}, false
}

func (s *Server) createChild(w http.ResponseWriter, r *http.Request) {
	leadID := r.PathValue("id")
	cs, ok := childSpec(r.PathValue("collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}

	// The parent must exist; orphaned children would never be reachable
	// through the cascade cleanup.
	leadSpec, _ := entity.SpecFor(entity.KindLead)
	if _, err := s.store.Get(r.Context(), leadSpec.DocPath(leadID, leadID)); err != nil {
		s.fail(w, err)
		return
	}

	var fields entity.FieldMap
	if err := decodeBody(r, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON object")
		return
	}
	sanitize(fields)
	if _, ok := fields["created_at"]; !ok {
		fields["created_at"] = time.Now().UTC()
	}

	id := uuid.NewString()
	path := cs.DocPath(leadID, id)
	if err := s.store.Set(r.Context(), path, fields, false); err != nil {
		s.fail(w, err)
		return
	}
	s.afterWrite(r.Context(), cs.Kind, path, store.EventWrite, nil, fields)

	writeJSON(w, http.StatusCreated, docResponse{ID: id, Fields: fields})
}

func (s *Server) getChild(w http.ResponseWriter, r *http.Request) {
	cs, ok := childSpec(r.PathValue("collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}
	id := r.PathValue("childID")
	fields, err := s.store.Get(r.Context(), cs.DocPath(r.PathValue("id"), id))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docResponse{ID: id, Fields: fields})
}

func (s *Server) updateChild(w http.ResponseWriter, r *http.Request) {
	cs, ok := childSpec(r.PathValue("collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}
	s.update(w, r, cs.Kind, cs.DocPath(r.PathValue("id"), r.PathValue("childID")))
}

func (s *Server) deleteChild(w http.ResponseWriter, r *http.Request) {
	cs, ok := childSpec(r.PathValue("collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}
	s.delete(w, r, cs.Kind, cs.DocPath(r.PathValue("id"), r.PathValue("childID")))
}

// update applies a merge write to an existing document.
func (s *Server) update(w http.ResponseWriter, r *http.Request, kind entity.Kind, path string) {
	var patch entity.FieldMap
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON object")
		return
	}
	sanitize(patch)
	if len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "empty patch")
		return
	}

	before, err := s.store.Get(r.Context(), path)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.Set(r.Context(), path, patch, true); err != nil {
		s.fail(w, err)
		return
	}

	after := before.Clone()
	for k, v := range patch {
		after[k] = v
	}
	s.afterWrite(r.Context(), kind, path, store.EventWrite, before, after)

	_, _, id, _ := entity.ParsePath(path)
	writeJSON(w, http.StatusOK, docResponse{ID: id, Fields: after})
}

// delete removes a document. Deleting an absent document succeeds; the
// handler is idempotent like the store underneath it.
func (s *Server) delete(w http.ResponseWriter, r *http.Request, kind entity.Kind, path string) {
	before, err := s.store.Get(r.Context(), path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(w, err)
		return
	}
	if err := s.store.Delete(r.Context(), path); err != nil {
		s.fail(w, err)
		return
	}
	if before != nil {
		s.afterWrite(r.Context(), kind, path, store.EventDelete, before, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}
