package trigger

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"prospect/internal/entity"
	"prospect/internal/store"
)

// Rebuild tuning.
const (
	rebuildPageSize    = 200
	rebuildConcurrency = 8
)

// Rebuild recomputes and upserts every entity's denormalized fields and
// global index entry, unconditionally. Used for backfill and repair.
//
// Leads are paged from the store; each lead and its three child
// collections are processed concurrently with bounded parallelism.
// Upserts accumulate into atomic batches committed independently — a
// failed batch is retried once and then logged; it never rolls back
// previously committed batches or fails the run. Per-entity errors are
// logged and skipped.
//
// Returns the number of index entries processed.
func (m *Maintainer) Rebuild(ctx context.Context) (int, error) {
	bw := newBatchWriter(m)
	var processed int
	var mu sync.Mutex

	count := func(n int) {
		mu.Lock()
		processed += n
		mu.Unlock()
	}

	var cursor *store.Cursor
	for {
		page, err := m.store.Run(ctx, store.Query{
			Collection: entity.LeadCollection,
			Limit:      rebuildPageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return processed, fmt.Errorf("list leads: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rebuildConcurrency)
		for _, lead := range page.Docs {
			g.Go(func() error {
				n, err := m.rebuildLead(gctx, bw, lead)
				count(n)
				if err != nil {
					// Skip the entity, keep the run alive.
					m.logger.Error("rebuild lead", "id", lead.ID, "error", err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return processed, err
		}

		if page.Next == nil {
			break
		}
		cursor = page.Next
	}

	if err := bw.flush(ctx); err != nil {
		return processed, err
	}
	m.logger.Info("rebuild complete", "processed", processed)
	return processed, nil
}

// rebuildLead recomputes the lead's entry plus all child entries. The
// three child collections are fetched concurrently and joined.
func (m *Maintainer) rebuildLead(ctx context.Context, bw *batchWriter, lead store.Doc) (int, error) {
	leadSpec, _ := entity.SpecFor(entity.KindLead)
	fields, entry := m.builder.Build(leadSpec, lead.ID, lead.ID, lead.Fields)
	bw.set(ctx, lead.Path, fields, true)
	bw.set(ctx, entity.IndexDocPath(entity.KindLead, lead.ID), entry, false)
	processed := 1

	children := make([][]store.Doc, len(entity.ChildSpecs()))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range entity.ChildSpecs() {
		g.Go(func() error {
			page, err := m.store.Run(gctx, store.Query{
				Collection: spec.CollectionPath(lead.ID),
			})
			if err != nil {
				return fmt.Errorf("list %s: %w", spec.Collection, err)
			}
			children[i] = page.Docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return processed, err
	}

	for i, spec := range entity.ChildSpecs() {
		for _, child := range children[i] {
			cf, ce := m.builder.Build(spec, lead.ID, child.ID, child.Fields)
			bw.set(ctx, child.Path, cf, true)
			bw.set(ctx, entity.IndexDocPath(spec.Kind, child.ID), ce, false)
			processed++
		}
	}
	return processed, nil
}

// batchWriter accumulates upserts and commits them as atomic batches of
// at most MaxBatchWrites. Batches are independent: a failure is retried
// once at batch granularity, then dropped with a log line.
type batchWriter struct {
	m  *Maintainer
	mu sync.Mutex
	b  store.Batch
}

func newBatchWriter(m *Maintainer) *batchWriter {
	return &batchWriter{m: m, b: m.store.Batch()}
}

func (w *batchWriter) set(ctx context.Context, path string, fields entity.FieldMap, merge bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.b.Set(path, fields, merge)
	if w.b.Len() >= store.MaxBatchWrites {
		w.commitLocked(ctx)
	}
}

func (w *batchWriter) flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.b.Len() > 0 {
		w.commitLocked(ctx)
	}
	return ctx.Err()
}

func (w *batchWriter) commitLocked(ctx context.Context) {
	b := w.b
	w.b = w.m.store.Batch()
	if err := b.Commit(ctx); err == nil {
		return
	}
	if err := b.Commit(ctx); err != nil {
		w.m.logger.Error("rebuild batch failed", "writes", b.Len(), "error", err)
	}
}
