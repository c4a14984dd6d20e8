// Package store defines the document-store capability model the rest of
// the system is written against: merge-writes, atomic batches, and
// queries limited to equality, a single range field, a single
// array-containment, ordered scans bounded by a sentinel, and
// limit-plus-cursor pagination.
//
// Two implementations exist: memory (tests and local mode) and
// firestore (production). Components depend only on this package.
package store

import (
	"context"
	"errors"

	"prospect/internal/entity"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedQuery marks a constraint combination the store
	// cannot execute. Surfacing it is a programming error in the caller;
	// the planner's construction logic is expected to prevent it.
	ErrUnsupportedQuery = errors.New("unsupported query combination")

	// ErrMissingIndex is returned when the store reports a missing
	// composite index. The wrapped message carries the store's guidance
	// for creating it.
	ErrMissingIndex = errors.New("missing composite index")

	// ErrBadCursor is returned for a cursor that cannot be decoded or
	// references a document that no longer exists.
	ErrBadCursor = errors.New("invalid page cursor")
)

// Doc is one document returned by a query.
type Doc struct {
	ID     string // document id (last path segment)
	Path   string // full document path
	Fields entity.FieldMap
}

// Cursor marks a resume position inside an ordered result set: the order
// field's value and the document id of the last document returned.
type Cursor struct {
	OrderValue any
	DocID      string
}

// Query describes one store query.
type Query struct {
	// Collection is a collection path ("leads", "search_index",
	// "leads/<id>/activities").
	Collection string

	// Group queries the named subcollection across all parents
	// (collection-group semantics). Collection is ignored when set.
	Group string

	// Where is the constraint tree, validated with Validate before
	// execution. Nil matches everything.
	Where Constraint

	// OrderBy names the field results are sorted on. Required when a
	// cursor is used; defaults to document id ordering when empty.
	OrderBy string

	// Limit bounds the page size. Zero means no limit.
	Limit int

	// StartAfter resumes after a previous page's last document.
	StartAfter *Cursor
}

// Page is one page of query results. Next is nil when the result set is
// exhausted.
type Page struct {
	Docs []Doc
	Next *Cursor
}

// Event describes one committed write, delivered to watchers
// at-least-once and in order per document path.
type Event struct {
	Type   EventType
	Path   string
	Before entity.FieldMap // nil on create
	After  entity.FieldMap // nil on delete
}

// EventType discriminates write events.
type EventType int

const (
	EventWrite EventType = iota // create or update
	EventDelete
)

// Watcher receives committed write events.
type Watcher func(Event)

// Store is the document store contract.
type Store interface {
	// Get reads one document. Returns ErrNotFound when absent.
	Get(ctx context.Context, path string) (entity.FieldMap, error)

	// Set writes a document. With merge, existing fields not present in
	// fields are preserved; without, the document is replaced.
	Set(ctx context.Context, path string, fields entity.FieldMap, merge bool) error

	// Delete removes a document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, path string) error

	// Run executes a query and returns one page.
	Run(ctx context.Context, q Query) (*Page, error)

	// Batch starts an atomic write batch. Batches are bounded by
	// MaxBatchWrites; callers split larger work into independent batches.
	Batch() Batch
}

// Watchable is implemented by stores that can deliver write events,
// used to drive the trigger layer.
type Watchable interface {
	Watch(w Watcher)
}

// MaxBatchWrites is the store's per-batch write limit.
const MaxBatchWrites = 500

// Batch accumulates writes committed atomically. A failed batch rolls
// back nothing outside itself.
type Batch interface {
	Set(path string, fields entity.FieldMap, merge bool)
	Delete(path string)
	// Len reports the number of accumulated writes.
	Len() int
	Commit(ctx context.Context) error
}
