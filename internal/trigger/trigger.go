// Package trigger maintains the denormalized search fields and the
// global search index as entities change.
//
// Delivery contract: write events arrive at-least-once and in order per
// document path; different documents' events are handled concurrently
// with no shared mutable state. Handling is idempotent — recomputation
// and upsert repeat safely, delete-then-delete is a no-op.
//
// A failed maintenance step never aborts the delivering mechanism: the
// entity write has already committed by the time the event arrives, so
// errors are logged per entity and swallowed. The bulk Rebuild operation
// exists to repair whatever slipped through.
package trigger

import (
	"context"
	"log/slog"

	"prospect/internal/entity"
	"prospect/internal/indexer"
	"prospect/internal/logging"
	"prospect/internal/store"
)

// Maintainer reacts to entity write events and keeps the search index
// consistent. It is the only component that writes to the global search
// index collection.
type Maintainer struct {
	store   store.Store
	builder *indexer.Builder
	logger  *slog.Logger
}

// NewMaintainer creates a Maintainer.
func NewMaintainer(st store.Store, b *indexer.Builder, logger *slog.Logger) *Maintainer {
	logger = logging.Default(logger)
	return &Maintainer{
		store:   st,
		builder: b,
		logger:  logger.With("component", "trigger"),
	}
}

// Bind subscribes the maintainer to the store's write events when the
// store supports watching. Returns true when bound; otherwise the caller
// must deliver events explicitly via HandleEvent.
func (m *Maintainer) Bind(ctx context.Context) bool {
	w, ok := m.store.(store.Watchable)
	if !ok {
		return false
	}
	w.Watch(func(ev store.Event) {
		m.HandleEvent(ctx, ev)
	})
	return true
}

// HandleEvent dispatches one write event by document path. Paths that do
// not match an entity collection (including the search index itself) are
// ignored, which keeps the maintainer's own writes from fanning out.
func (m *Maintainer) HandleEvent(ctx context.Context, ev store.Event) {
	kind, leadID, id, ok := entity.ParsePath(ev.Path)
	if !ok {
		return
	}
	spec, ok := entity.SpecFor(kind)
	if !ok {
		return
	}

	switch ev.Type {
	case store.EventDelete:
		m.handleDelete(ctx, spec, id)
	default:
		m.handleWrite(ctx, spec, leadID, id, ev.Before, ev.After)
	}
}

// handleWrite recomputes and persists the denormalized fields when a
// watch-list field changed. The entity merge must not clobber unrelated
// fields; the index entry upsert replaces the whole entry.
func (m *Maintainer) handleWrite(ctx context.Context, spec entity.Spec, leadID, id string, before, after entity.FieldMap) {
	if !indexer.ShouldRegenerate(spec, before, after) {
		return
	}

	fields, entry := m.builder.Build(spec, leadID, id, after)

	if err := m.store.Set(ctx, spec.DocPath(leadID, id), fields, true); err != nil {
		m.logger.Error("persist search fields", "kind", spec.Kind, "id", id, "error", err)
		return
	}
	if err := m.store.Set(ctx, entity.IndexDocPath(spec.Kind, id), entry, false); err != nil {
		m.logger.Error("upsert index entry", "kind", spec.Kind, "id", id, "error", err)
	}
}

// handleDelete removes the entity's own index entry. Deleting a lead
// additionally removes every child-referencing entry whose lead_id
// matches: the children may outlive the parent, but their index rows are
// orphans once the parent is gone.
func (m *Maintainer) handleDelete(ctx context.Context, spec entity.Spec, id string) {
	if err := m.store.Delete(ctx, entity.IndexDocPath(spec.Kind, id)); err != nil {
		m.logger.Error("delete index entry", "kind", spec.Kind, "id", id, "error", err)
		return
	}
	if spec.Kind != entity.KindLead {
		return
	}

	page, err := m.store.Run(ctx, store.Query{
		Collection: entity.IndexCollection,
		Where:      store.Equals{Field: entity.EntryLeadID, Value: id},
	})
	if err != nil {
		m.logger.Error("cascade query", "lead", id, "error", err)
		return
	}
	if len(page.Docs) == 0 {
		return
	}

	// A lead can carry more orphaned entries than one batch admits.
	b := m.store.Batch()
	for _, d := range page.Docs {
		b.Delete(d.Path)
		if b.Len() >= store.MaxBatchWrites {
			if err := b.Commit(ctx); err != nil {
				m.logger.Error("cascade delete", "lead", id, "error", err)
				return
			}
			b = m.store.Batch()
		}
	}
	if b.Len() > 0 {
		if err := b.Commit(ctx); err != nil {
			m.logger.Error("cascade delete", "lead", id, "entries", len(page.Docs), "error", err)
		}
	}
}
