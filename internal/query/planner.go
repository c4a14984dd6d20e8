// Package query plans and executes searches against the document store.
//
// The store cannot do substring search, so the planner emulates it with
// three strategies, tried in order until one yields candidates:
//
//  1. token-array: array-contains on the kind's precomputed token field,
//     AND-combined with native facet filters — the broadest strategy,
//     since token sets include phrase and character prefixes
//  2. range-scan: parallel sentinel-bounded prefix ranges over the
//     kind's normalized scalar fields, unioned and de-duplicated
//  3. a bare array-containment with facets deferred to the post-filter,
//     when strategy 1 was narrowed by facets
//
// One strategy executes per page; the opaque cursor pins the strategy so
// "load more" re-issues it with the position advanced.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"prospect/internal/entity"
	"prospect/internal/logging"
	"prospect/internal/store"
	"prospect/internal/token"
)

// DefaultPageSize bounds a result page when the caller does not choose.
const DefaultPageSize = 20

// ErrEmptyTerm signals that there is nothing to search for. Callers
// render this as "type to search", never as "no results" or a failure.
var ErrEmptyTerm = errors.New("empty search term")

// Strategy identifies which query pattern produced a page.
type Strategy uint8

const (
	StrategyTokens Strategy = iota + 1
	StrategyRange
	StrategyContains
)

func (s Strategy) String() string {
	switch s {
	case StrategyTokens:
		return "tokens"
	case StrategyRange:
		return "range"
	case StrategyContains:
		return "contains"
	default:
		return "unknown"
	}
}

// Facets are the scalar filters AND-combined with the search term.
type Facets struct {
	Status        string
	Source        string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

func (f Facets) empty() bool {
	return f.Status == "" && f.Source == "" && f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero()
}

// Request describes one search.
type Request struct {
	// Kind scopes the search to one entity kind; empty searches the
	// global index across all kinds.
	Kind     entity.Kind
	Term     string
	Facets   Facets
	Groups   []FilterGroup
	PageSize int
	// Cursor resumes a previous page. Opaque; an unusable cursor fails
	// with store.ErrBadCursor.
	Cursor string
}

// Result is one page of matches.
type Result struct {
	Docs     []store.Doc
	Cursor   string // next-page cursor, empty when exhausted
	Strategy Strategy

	// Truncated is set when AND-combined array-contains conditions were
	// only partially pushed to the store: the deferred conditions were
	// checked against a page that the first condition already limited,
	// so true matches beyond the page may be missed.
	Truncated bool
}

// Planner plans and executes searches.
type Planner struct {
	store    store.Store
	logger   *slog.Logger
	cache    *resultCache
	pageSize int
}

// Option configures a Planner.
type Option func(*Planner)

// WithPageSize overrides the default page size.
func WithPageSize(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithCacheSize overrides the memoization cache capacity.
func WithCacheSize(n int) Option {
	return func(p *Planner) { p.cache = newResultCache(n) }
}

// New creates a Planner.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Planner {
	logger = logging.Default(logger)
	p := &Planner{
		store:    st,
		logger:   logger.With("component", "query"),
		cache:    newResultCache(defaultCacheSize),
		pageSize: DefaultPageSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Invalidate evicts memoized results for a kind after a write. The
// global scope is always evicted too, since it spans kinds.
func (p *Planner) Invalidate(kind entity.Kind) {
	p.cache.invalidate(kind)
}

// Search executes one page of a search.
func (p *Planner) Search(ctx context.Context, req Request) (*Result, error) {
	term := token.Normalize(req.Term)
	if term == "" && req.Facets.empty() && len(req.Groups) == 0 {
		return nil, ErrEmptyTerm
	}
	if req.PageSize <= 0 {
		req.PageSize = p.pageSize
	}

	key := cacheKey(req, term)
	if res, ok := p.cache.get(key); ok {
		return res, nil
	}

	res, err := p.search(ctx, req, term)
	if err != nil {
		return nil, err
	}
	p.cache.put(key, res)
	return res, nil
}

func (p *Planner) search(ctx context.Context, req Request, term string) (*Result, error) {
	tgt, err := target(req.Kind)
	if err != nil {
		return nil, err
	}

	// A cursor pins the strategy of the page it came from.
	if req.Cursor != "" {
		pos, err := decodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		return p.runStrategy(ctx, req, term, tgt, pos.Strategy, pos)
	}

	// Pure facet/group queries skip the term strategies.
	if term == "" {
		return p.runStrategy(ctx, req, term, tgt, StrategyTokens, nil)
	}

	// A single short prefix is served straight from the range scan; its
	// candidate set is cheaper than a token-array hit of the same shape.
	if len(term) < 3 && !strings.Contains(term, " ") && len(tgt.rangeFields(term)) > 0 {
		return p.runStrategy(ctx, req, term, tgt, StrategyRange, nil)
	}

	res, err := p.runStrategy(ctx, req, term, tgt, StrategyTokens, nil)
	if err != nil || len(res.Docs) > 0 {
		return res, err
	}

	if len(tgt.rangeFields(term)) > 0 {
		res, err = p.runStrategy(ctx, req, term, tgt, StrategyRange, nil)
		if err != nil || len(res.Docs) > 0 {
			return res, err
		}
	}

	// Bare containment only adds coverage when facets narrowed round 1.
	if !req.Facets.empty() {
		return p.runStrategy(ctx, req, term, tgt, StrategyContains, nil)
	}
	return res, nil
}

func (p *Planner) runStrategy(ctx context.Context, req Request, term string, tgt searchTarget, s Strategy, pos *cursorPayload) (*Result, error) {
	switch s {
	case StrategyRange:
		return p.rangeScan(ctx, req, term, tgt, pos)
	case StrategyContains:
		return p.bareContains(ctx, req, term, tgt, pos)
	default:
		return p.tokenQuery(ctx, req, term, tgt, pos)
	}
}

// tokenQuery is strategy 1: array-contains on the token field plus
// native facets and whatever group conditions translate natively.
func (p *Planner) tokenQuery(ctx context.Context, req Request, term string, tgt searchTarget, pos *cursorPayload) (*Result, error) {
	var terms []store.Constraint
	arrayUsed := false
	if term != "" {
		terms = append(terms, store.ArrayContains{Field: tgt.tokenField, Value: term})
		arrayUsed = true
	}
	facetTerms, orderBy := facetConstraints(req.Facets)
	terms = append(terms, facetTerms...)

	native, deferred := translateGroups(req.Groups, tgt.tokenField, arrayUsed, orderBy != "")
	terms = append(terms, native...)

	q := store.Query{
		Collection: tgt.collection,
		Group:      tgt.group,
		Where:      store.Conj(terms...),
		OrderBy:    orderBy,
		Limit:      req.PageSize,
	}
	if pos != nil && pos.Token != nil {
		q.StartAfter = pos.Token.cursor()
	}

	page, err := p.store.Run(ctx, q)
	if err != nil {
		return nil, p.fail(err, StrategyTokens, q)
	}

	res := &Result{
		Docs:      ApplyFilters(page.Docs, req.Groups),
		Strategy:  StrategyTokens,
		Truncated: deferred,
	}
	if page.Next != nil {
		res.Cursor, err = encodeCursor(&cursorPayload{
			Strategy: StrategyTokens,
			Token:    fromCursor(page.Next),
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// rangeScan is strategy 2: parallel sentinel-bounded prefix ranges over
// the kind's normalized fields, unioned and de-duplicated by id.
func (p *Planner) rangeScan(ctx context.Context, req Request, term string, tgt searchTarget, pos *cursorPayload) (*Result, error) {
	fields := tgt.rangeFields(term)
	if len(fields) == 0 {
		return &Result{Strategy: StrategyRange}, nil
	}

	// Equality facets combine with one range natively; the created-at
	// window would be a second range, so it is applied post-query.
	eqTerms, _ := facetConstraints(Facets{Status: req.Facets.Status, Source: req.Facets.Source})

	pages := make([]*store.Page, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, field := range fields {
		var after *store.Cursor
		if pos != nil {
			if c, ok := pos.Range[field]; ok {
				if c.Done {
					// Fully consumed by earlier pages.
					pages[i] = &store.Page{}
					continue
				}
				after = c.cursor()
			}
		}
		g.Go(func() error {
			q := store.Query{
				Collection: tgt.collection,
				Group:      tgt.group,
				Where:      store.Conj(append([]store.Constraint{store.Prefix(field, term)}, eqTerms...)...),
				OrderBy:    field,
				Limit:      req.PageSize,
				StartAfter: after,
			}
			page, err := p.store.Run(gctx, q)
			if err != nil {
				return p.fail(err, StrategyRange, q)
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A doc matching several scanned fields belongs to the first of them;
	// the other scans skip it. Ownership is deterministic, so the dedupe
	// holds across pages even when the fields' orderings disagree.
	owned := func(d store.Doc, i int) bool {
		for _, earlier := range fields[:i] {
			if strings.HasPrefix(d.Fields.Str(earlier), term) {
				return false
			}
		}
		return true
	}

	// Union under one page budget, recording a resume position for every
	// field — an exhausted field without one would replay from the start
	// on the next page.
	var docs []store.Doc
	next := &cursorPayload{Strategy: StrategyRange, Term: term, Range: map[string]cursorPos{}}
	if pos != nil {
		for f, c := range pos.Range {
			next.Range[f] = c
		}
	}
	more := false
	for i, field := range fields {
		consumed := 0
		for _, d := range pages[i].Docs {
			if len(docs) >= req.PageSize {
				break
			}
			consumed++
			if !owned(d, i) {
				continue
			}
			docs = append(docs, d)
		}
		switch {
		case consumed < len(pages[i].Docs):
			// Page budget ran out mid-field; resume after the last doc
			// consumed, or replay untouched fields whole.
			if consumed > 0 {
				last := pages[i].Docs[consumed-1]
				next.Range[field] = cursorPos{Order: last.Fields[field], DocID: last.ID}
			}
			more = true
		case pages[i].Next != nil:
			next.Range[field] = *fromCursor(pages[i].Next)
			more = true
		default:
			c := next.Range[field]
			if consumed > 0 {
				last := pages[i].Docs[consumed-1]
				c.Order, c.DocID = last.Fields[field], last.ID
			}
			c.Done = true
			next.Range[field] = c
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	docs = applyDateWindow(docs, req.Facets)
	res := &Result{
		Docs:     ApplyFilters(docs, req.Groups),
		Strategy: StrategyRange,
	}
	if more {
		var err error
		res.Cursor, err = encodeCursor(next)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// bareContains is strategy 3: the containment alone, with every facet
// deferred to the post-filter.
func (p *Planner) bareContains(ctx context.Context, req Request, term string, tgt searchTarget, pos *cursorPayload) (*Result, error) {
	q := store.Query{
		Collection: tgt.collection,
		Group:      tgt.group,
		Where:      store.ArrayContains{Field: tgt.tokenField, Value: term},
		Limit:      req.PageSize,
	}
	if pos != nil && pos.Token != nil {
		q.StartAfter = pos.Token.cursor()
	}

	page, err := p.store.Run(ctx, q)
	if err != nil {
		return nil, p.fail(err, StrategyContains, q)
	}

	docs := applyFacetsInMemory(page.Docs, req.Facets)
	res := &Result{
		Docs:     ApplyFilters(docs, req.Groups),
		Strategy: StrategyContains,
	}
	if page.Next != nil {
		res.Cursor, err = encodeCursor(&cursorPayload{
			Strategy: StrategyContains,
			Token:    fromCursor(page.Next),
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// fail logs and annotates a store failure. Missing-index errors carry
// the store's actionable guidance and must not be swallowed.
func (p *Planner) fail(err error, s Strategy, q store.Query) error {
	if errors.Is(err, store.ErrMissingIndex) {
		p.logger.Error("query requires a composite index", "strategy", s.String(), "query", q.Where, "error", err)
		return err
	}
	p.logger.Warn("search query failed", "strategy", s.String(), "error", err)
	return fmt.Errorf("%s query: %w", s, err)
}

// searchTarget resolves where a kind's searchable documents live.
type searchTarget struct {
	collection string
	group      string
	tokenField string
	spec       *entity.Spec
}

func target(kind entity.Kind) (searchTarget, error) {
	if kind == "" {
		// Global search runs over the index collection, which exists so
		// cross-kind search needs no per-kind fan-out.
		return searchTarget{
			collection: entity.IndexCollection,
			tokenField: entity.EntryKeywords,
		}, nil
	}
	spec, ok := entity.SpecFor(kind)
	if !ok {
		return searchTarget{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	tgt := searchTarget{tokenField: spec.TokenField, spec: &spec}
	if spec.Child {
		tgt.group = spec.Collection
	} else {
		tgt.collection = spec.Collection
	}
	return tgt, nil
}

// rangeFields returns the normalized fields eligible for the prefix
// range scan. The email field joins only when the term looks like one.
func (t searchTarget) rangeFields(term string) []string {
	if t.spec == nil {
		return nil
	}
	fields := t.spec.RangeFields
	if t.spec.EmailRange != "" && strings.Contains(term, "@") {
		fields = append(fields[:len(fields):len(fields)], t.spec.EmailRange)
	}
	return fields
}

// facetConstraints translates facets to native constraints and reports
// the order-by field a range facet forces.
func facetConstraints(f Facets) ([]store.Constraint, string) {
	var terms []store.Constraint
	orderBy := ""
	if f.Status != "" {
		terms = append(terms, store.Equals{Field: "status", Value: f.Status})
	}
	if f.Source != "" {
		terms = append(terms, store.Equals{Field: "source", Value: f.Source})
	}
	if !f.CreatedAfter.IsZero() || !f.CreatedBefore.IsZero() {
		r := store.Range{Field: "created_at"}
		if !f.CreatedAfter.IsZero() {
			r.Low = f.CreatedAfter
		}
		if !f.CreatedBefore.IsZero() {
			r.High = f.CreatedBefore
		}
		terms = append(terms, r)
		orderBy = "created_at" // a range field must lead the ordering
	}
	return terms, orderBy
}

func applyFacetsInMemory(docs []store.Doc, f Facets) []store.Doc {
	if f.empty() {
		return docs
	}
	out := docs[:0:0]
	for _, d := range docs {
		if f.Status != "" && d.Fields.Str("status") != f.Status {
			continue
		}
		if f.Source != "" && d.Fields.Str("source") != f.Source {
			continue
		}
		out = append(out, d)
	}
	return applyDateWindow(out, f)
}

func applyDateWindow(docs []store.Doc, f Facets) []store.Doc {
	if f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero() {
		return docs
	}
	out := docs[:0:0]
	for _, d := range docs {
		created := d.Fields.Time("created_at")
		if !f.CreatedAfter.IsZero() && created.Before(f.CreatedAfter) {
			continue
		}
		if !f.CreatedBefore.IsZero() && created.After(f.CreatedBefore) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// translateGroups pushes natively expressible group conditions into the
// store query. Only AND groups translate; OR groups and negations stay
// in the post-filter. One array-contains is allowed per query, so
// further containment conditions are deferred — the returned flag marks
// that recall may be incomplete (the store page was limited by the
// first condition alone).
func translateGroups(groups []FilterGroup, tokenField string, arrayUsed, rangeUsed bool) ([]store.Constraint, bool) {
	var out []store.Constraint
	deferred := false
	for _, g := range groups {
		if !g.Enabled || g.Op == GroupOr {
			continue
		}
		for _, c := range g.active() {
			switch {
			case c.Field == tokenField && (c.Op == OpEquals || c.Op == OpContains):
				v, ok := c.Value.(string)
				if !ok {
					continue
				}
				if arrayUsed {
					deferred = true
					continue
				}
				out = append(out, store.ArrayContains{Field: tokenField, Value: token.Normalize(v)})
				arrayUsed = true
			case c.Op == OpEquals:
				out = append(out, store.Equals{Field: c.Field, Value: c.Value})
			case c.Op == OpStartsWith && !rangeUsed:
				if v, ok := c.Value.(string); ok {
					out = append(out, store.Prefix(c.Field, strings.ToLower(strings.TrimSpace(v))))
					rangeUsed = true
				}
			}
		}
	}
	return out, deferred
}
