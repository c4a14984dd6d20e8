// Package memory provides an in-memory Store implementation.
//
// It evaluates the full capability model (constraints, ordered scans,
// cursors) over a map, and delivers write events to watchers
// synchronously, in commit order per document path. Intended for tests
// and local single-process mode; nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"prospect/internal/entity"
	"prospect/internal/store"
)

// Store is an in-memory document store.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]entity.FieldMap
	watchers []store.Watcher
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{docs: make(map[string]entity.FieldMap)}
}

// Watch registers a watcher for committed writes. Watchers run
// synchronously after the commit, outside the store lock.
func (s *Store) Watch(w store.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, w)
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, path string) (entity.FieldMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

// Set writes a document and notifies watchers.
func (s *Store) Set(ctx context.Context, path string, fields entity.FieldMap, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	ev := s.applySet(path, fields, merge)
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	notify(watchers, ev)
	return nil
}

// Delete removes a document and notifies watchers. Absent documents are
// a no-op with no event.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	ev, existed := s.applyDelete(path)
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	if existed {
		notify(watchers, ev)
	}
	return nil
}

// applySet mutates under the caller-held lock and returns the event.
func (s *Store) applySet(path string, fields entity.FieldMap, merge bool) store.Event {
	before := s.docs[path]
	var after entity.FieldMap
	if merge && before != nil {
		after = before.Clone()
		for k, v := range fields {
			after[k] = v
		}
	} else {
		after = fields.Clone()
	}
	s.docs[path] = after

	return store.Event{
		Type:   store.EventWrite,
		Path:   path,
		Before: before.Clone(),
		After:  after.Clone(),
	}
}

func (s *Store) applyDelete(path string) (store.Event, bool) {
	before, ok := s.docs[path]
	if !ok {
		return store.Event{}, false
	}
	delete(s.docs, path)
	return store.Event{
		Type:   store.EventDelete,
		Path:   path,
		Before: before.Clone(),
	}, true
}

func (s *Store) snapshotWatchers() []store.Watcher {
	out := make([]store.Watcher, len(s.watchers))
	copy(out, s.watchers)
	return out
}

func notify(watchers []store.Watcher, ev store.Event) {
	for _, w := range watchers {
		w(ev)
	}
}

// Run executes a query over the current document set.
func (s *Store) Run(ctx context.Context, q store.Query) (*store.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.Validate(q.Where); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var docs []store.Doc
	for path, fields := range s.docs {
		if !inCollection(path, q) {
			continue
		}
		if !match(fields, q.Where) {
			continue
		}
		docs = append(docs, store.Doc{
			ID:     path[strings.LastIndexByte(path, '/')+1:],
			Path:   path,
			Fields: fields.Clone(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		return docLess(docs[i], docs[j], q.OrderBy)
	})

	if q.StartAfter != nil {
		docs = afterCursor(docs, q.OrderBy, *q.StartAfter)
	}

	page := &store.Page{}
	if q.Limit > 0 && len(docs) > q.Limit {
		page.Docs = docs[:q.Limit]
		last := page.Docs[len(page.Docs)-1]
		page.Next = &store.Cursor{OrderValue: orderValue(last, q.OrderBy), DocID: last.ID}
	} else {
		page.Docs = docs
	}
	return page, nil
}

// Batch starts an atomic batch. All writes land under one lock; events
// fire after commit in accumulation order.
func (s *Store) Batch() store.Batch {
	return &batch{store: s}
}

type batchOp struct {
	path   string
	fields entity.FieldMap
	merge  bool
	del    bool
}

type batch struct {
	store *Store
	ops   []batchOp
}

func (b *batch) Set(path string, fields entity.FieldMap, merge bool) {
	b.ops = append(b.ops, batchOp{path: path, fields: fields.Clone(), merge: merge})
}

func (b *batch) Delete(path string) {
	b.ops = append(b.ops, batchOp{path: path, del: true})
}

func (b *batch) Len() int { return len(b.ops) }

func (b *batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Enforce the same batch ceiling Firestore does, so an oversized
	// batch fails here instead of only in production.
	if len(b.ops) > store.MaxBatchWrites {
		return fmt.Errorf("memory: batch of %d writes exceeds limit of %d", len(b.ops), store.MaxBatchWrites)
	}

	s := b.store
	s.mu.Lock()
	var events []store.Event
	for _, op := range b.ops {
		if op.del {
			if ev, existed := s.applyDelete(op.path); existed {
				events = append(events, ev)
			}
			continue
		}
		events = append(events, s.applySet(op.path, op.fields, op.merge))
	}
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	for _, ev := range events {
		notify(watchers, ev)
	}
	return nil
}

// inCollection reports whether a document path belongs to the queried
// collection (direct child) or collection group (any parent).
func inCollection(path string, q store.Query) bool {
	parts := strings.Split(path, "/")
	if q.Group != "" {
		return len(parts) >= 2 && parts[len(parts)-2] == q.Group
	}
	prefix := q.Collection + "/"
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return !strings.Contains(path[len(prefix):], "/")
}

// match evaluates a constraint tree against a document.
func match(fields entity.FieldMap, c store.Constraint) bool {
	if c == nil {
		return true
	}
	switch v := c.(type) {
	case store.Equals:
		return compare(fields[v.Field], v.Value) == 0
	case store.Range:
		fv, ok := fields[v.Field]
		if !ok {
			return false
		}
		if v.Low != nil && compare(fv, v.Low) < 0 {
			return false
		}
		if v.High != nil && compare(fv, v.High) > 0 {
			return false
		}
		return true
	case store.ArrayContains:
		for _, e := range fields.Strings(v.Field) {
			if e == v.Value {
				return true
			}
		}
		return false
	case store.And:
		for _, t := range v.Terms {
			if !match(fields, t) {
				return false
			}
		}
		return true
	case store.Or:
		for _, t := range v.Terms {
			if match(fields, t) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compare orders two field values: nil first, then by type
// (string, number, time), mismatched types by string form.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

func orderValue(d store.Doc, orderBy string) any {
	if orderBy == "" {
		return d.ID
	}
	return d.Fields[orderBy]
}

func docLess(a, b store.Doc, orderBy string) bool {
	if c := compare(orderValue(a, orderBy), orderValue(b, orderBy)); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// afterCursor drops everything up to and including the cursor position.
func afterCursor(docs []store.Doc, orderBy string, cur store.Cursor) []store.Doc {
	for i, d := range docs {
		c := compare(orderValue(d, orderBy), cur.OrderValue)
		if c > 0 || (c == 0 && d.ID > cur.DocID) {
			return docs[i:]
		}
	}
	return nil
}
