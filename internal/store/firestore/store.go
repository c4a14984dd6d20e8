// Package firestore implements the document store on Cloud Firestore.
//
// The capability model in package store mirrors Firestore's own query
// restrictions, so translation is direct: Equals and Range become Where
// filters, ArrayContains becomes an array-contains filter, And/Or become
// composite filters. A FailedPrecondition status from the backend means
// a composite index is missing; the error message from Google carries
// the index-creation link and is preserved verbatim.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	cf "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"prospect/internal/entity"
	"prospect/internal/logging"
	"prospect/internal/store"
)

// Store is a Firestore-backed document store.
type Store struct {
	client *cf.Client
	logger *slog.Logger
}

// Options configures the Firestore connection.
type Options struct {
	ProjectID       string
	CredentialsFile string // empty = ambient credentials
	Logger          *slog.Logger
}

// New connects to Firestore.
func New(ctx context.Context, opts Options) (*Store, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := cf.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	logger := logging.Default(opts.Logger)
	return &Store{
		client: client,
		logger: logger.With("component", "firestore"),
	}, nil
}

// Close releases the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, path string) (entity.FieldMap, error) {
	snap, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return entity.FieldMap(snap.Data()), nil
}

// Set writes a document, merging when requested.
func (s *Store) Set(ctx context.Context, path string, fields entity.FieldMap, merge bool) error {
	var opts []cf.SetOption
	if merge {
		opts = append(opts, cf.MergeAll)
	}
	if _, err := s.client.Doc(path).Set(ctx, map[string]any(fields), opts...); err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes a document. Firestore deletes are idempotent.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.client.Doc(path).Delete(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Run executes a query and returns one page.
func (s *Store) Run(ctx context.Context, q store.Query) (*store.Page, error) {
	if err := store.Validate(q.Where); err != nil {
		return nil, err
	}

	var fq cf.Query
	if q.Group != "" {
		fq = s.client.CollectionGroup(q.Group).Query
	} else {
		fq = s.client.Collection(q.Collection).Query
	}

	if q.Where != nil {
		fq = fq.WhereEntity(toFilter(q.Where))
	}
	if q.OrderBy != "" {
		fq = fq.OrderBy(q.OrderBy, cf.Asc)
	}
	// Document id as tie-breaker keeps cursors stable.
	fq = fq.OrderBy(cf.DocumentID, cf.Asc)
	if q.StartAfter != nil {
		if q.OrderBy != "" {
			fq = fq.StartAfter(q.StartAfter.OrderValue, q.StartAfter.DocID)
		} else {
			fq = fq.StartAfter(q.StartAfter.DocID)
		}
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}

	it := fq.Documents(ctx)
	defer it.Stop()

	page := &store.Page{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		page.Docs = append(page.Docs, store.Doc{
			ID:     snap.Ref.ID,
			Path:   refPath(snap.Ref),
			Fields: entity.FieldMap(snap.Data()),
		})
	}

	if q.Limit > 0 && len(page.Docs) == q.Limit {
		last := page.Docs[len(page.Docs)-1]
		var ov any = last.ID
		if q.OrderBy != "" {
			ov = last.Fields[q.OrderBy]
		}
		page.Next = &store.Cursor{OrderValue: ov, DocID: last.ID}
	}
	return page, nil
}

// Batch starts an atomic write batch.
func (s *Store) Batch() store.Batch {
	return &batch{store: s, wb: s.client.Batch()}
}

type batch struct {
	store *Store
	wb    *cf.WriteBatch
	n     int
}

func (b *batch) Set(path string, fields entity.FieldMap, merge bool) {
	var opts []cf.SetOption
	if merge {
		opts = append(opts, cf.MergeAll)
	}
	b.wb.Set(b.store.client.Doc(path), map[string]any(fields), opts...)
	b.n++
}

func (b *batch) Delete(path string) {
	b.wb.Delete(b.store.client.Doc(path))
	b.n++
}

func (b *batch) Len() int { return b.n }

func (b *batch) Commit(ctx context.Context) error {
	if b.n == 0 {
		return nil
	}
	if _, err := b.wb.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// toFilter translates a constraint tree to a Firestore entity filter.
// Validate has already rejected unsupported combinations.
func toFilter(c store.Constraint) cf.EntityFilter {
	switch v := c.(type) {
	case store.Equals:
		return cf.PropertyFilter{Path: v.Field, Operator: "==", Value: v.Value}
	case store.Range:
		var parts []cf.EntityFilter
		if v.Low != nil {
			parts = append(parts, cf.PropertyFilter{Path: v.Field, Operator: ">=", Value: v.Low})
		}
		if v.High != nil {
			parts = append(parts, cf.PropertyFilter{Path: v.Field, Operator: "<=", Value: v.High})
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return cf.AndFilter{Filters: parts}
	case store.ArrayContains:
		return cf.PropertyFilter{Path: v.Field, Operator: "array-contains", Value: v.Value}
	case store.And:
		return cf.AndFilter{Filters: toFilters(v.Terms)}
	case store.Or:
		return cf.OrFilter{Filters: toFilters(v.Terms)}
	default:
		// Unreachable for validated trees; match nothing rather than panic.
		return cf.PropertyFilter{Path: "__invalid__", Operator: "==", Value: nil}
	}
}

func toFilters(terms []store.Constraint) []cf.EntityFilter {
	out := make([]cf.EntityFilter, len(terms))
	for i, t := range terms {
		out[i] = toFilter(t)
	}
	return out
}

// classify maps backend status codes onto the store error taxonomy.
// FailedPrecondition means a composite index is missing; the message's
// index-creation guidance must reach the operator, not be swallowed.
func classify(err error) error {
	switch status.Code(err) {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", store.ErrMissingIndex, status.Convert(err).Message())
	case codes.NotFound:
		return store.ErrNotFound
	default:
		return err
	}
}

// refPath strips the projects/<p>/databases/<d>/documents/ prefix from a
// document reference, returning the relative path used everywhere else.
func refPath(ref *cf.DocumentRef) string {
	const marker = "/documents/"
	if i := strings.Index(ref.Path, marker); i >= 0 {
		return ref.Path[i+len(marker):]
	}
	return ref.Path
}
