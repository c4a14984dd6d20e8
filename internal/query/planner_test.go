package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"prospect/internal/entity"
	"prospect/internal/indexer"
	"prospect/internal/store"
	"prospect/internal/store/memory"
	"prospect/internal/trigger"
)

// fixture wires a memory store with live index maintenance and seeds it.
func fixture(t *testing.T) (*Planner, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	m := trigger.NewMaintainer(st, indexer.New(), nil)
	if !m.Bind(ctx) {
		t.Fatal("bind maintainer")
	}

	seed := []struct {
		path   string
		fields entity.FieldMap
	}{
		{"leads/l1", entity.FieldMap{
			"first_name": "Penelope",
			"last_name":  "Hernandez",
			"email":      "penelope.hernandez@epsilonsolutions.com",
			"company":    "Epsilon Solutions",
			"status":     "new",
			"created_at": time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		}},
		{"leads/l2", entity.FieldMap{
			"first_name": "Ana",
			"last_name":  "Lee",
			"email":      "ana.lee@example.com",
			"status":     "contacted",
			"created_at": time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC),
		}},
		{"leads/l3", entity.FieldMap{
			"first_name": "Bo",
			"last_name":  "Herman",
			"email":      "bo@herman.io",
			"status":     "new",
			"created_at": time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		}},
		{"leads/l1/activities/a1", entity.FieldMap{
			"subject": "Follow up call",
			"notes":   "Discuss renewal pricing",
		}},
		{"leads/l1/proposals/p1", entity.FieldMap{
			"title": "Annual renewal proposal",
		}},
	}
	for _, s := range seed {
		if err := st.Set(ctx, s.path, s.fields, false); err != nil {
			t.Fatal(err)
		}
	}
	return New(st, nil), st
}

func resultIDs(res *Result) []string {
	var out []string
	for _, d := range res.Docs {
		out = append(out, d.ID)
	}
	return out
}

func TestEmptyTerm(t *testing.T) {
	p, _ := fixture(t)
	_, err := p.Search(context.Background(), Request{Kind: entity.KindLead})
	if !errors.Is(err, ErrEmptyTerm) {
		t.Errorf("expected ErrEmptyTerm, got %v", err)
	}
}

// Round-trip: a lead named "Ana Lee" is found by the token-array
// strategy with the exact term and by the range scan with a short
// prefix.
func TestRoundTrip(t *testing.T) {
	p, _ := fixture(t)
	ctx := context.Background()

	res, err := p.Search(ctx, Request{Kind: entity.KindLead, Term: "ana lee"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != StrategyTokens {
		t.Errorf("strategy = %v, want tokens", res.Strategy)
	}
	if got := resultIDs(res); len(got) != 1 || got[0] != "l2" {
		t.Errorf("token strategy returned %v, want [l2]", got)
	}

	res, err = p.Search(ctx, Request{Kind: entity.KindLead, Term: "an"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != StrategyRange {
		t.Errorf("short prefix strategy = %v, want range", res.Strategy)
	}
	found := false
	for _, id := range resultIDs(res) {
		if id == "l2" {
			found = true
		}
	}
	if !found {
		t.Errorf("range strategy missed l2: %v", resultIDs(res))
	}
}

func TestPenelopeScenario(t *testing.T) {
	p, st := fixture(t)
	ctx := context.Background()

	// Token-array query for the full name returns exactly the lead.
	res, err := p.Search(ctx, Request{Kind: entity.KindLead, Term: "penelope hernandez"})
	if err != nil {
		t.Fatal(err)
	}
	if got := resultIDs(res); len(got) != 1 || got[0] != "l1" {
		t.Fatalf("token query returned %v, want [l1]", got)
	}

	// Range scan on the normalized last-name field for "her" finds it
	// too (along with Herman, which also starts with "her").
	res, err = p.Search(ctx, Request{Kind: entity.KindLead, Term: "her"})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, id := range resultIDs(res) {
		seen[id] = true
	}
	if !seen["l1"] {
		t.Errorf("range scan for 'her' missed l1: %v", resultIDs(res))
	}

	// Deleting the lead removes its index entry; a new search finds
	// nothing for this id.
	if err := st.Delete(ctx, "leads/l1"); err != nil {
		t.Fatal(err)
	}
	p.Invalidate(entity.KindLead)

	res, err = p.Search(ctx, Request{Term: "penelope"})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range resultIDs(res) {
		if id == entity.IndexDocID(entity.KindLead, "l1") {
			t.Error("deleted lead still in global index results")
		}
	}
}

func TestGlobalSearch(t *testing.T) {
	p, _ := fixture(t)

	res, err := p.Search(context.Background(), Request{Term: "renewal"})
	if err != nil {
		t.Fatal(err)
	}
	// Activity a1 and proposal p1 both carry the "renewal" keyword.
	seen := map[string]bool{}
	for _, d := range res.Docs {
		seen[d.Fields.Str(entity.EntryType)+"/"+d.Fields.Str(entity.EntryID)] = true
	}
	if !seen["activity/a1"] || !seen["proposal/p1"] {
		t.Errorf("global search missed entries: %v", seen)
	}
}

func TestChildKindSearch(t *testing.T) {
	p, _ := fixture(t)

	res, err := p.Search(context.Background(), Request{Kind: entity.KindActivity, Term: "follow up"})
	if err != nil {
		t.Fatal(err)
	}
	if got := resultIDs(res); len(got) != 1 || got[0] != "a1" {
		t.Errorf("activity search returned %v, want [a1]", got)
	}
}

func TestFacetFilter(t *testing.T) {
	p, _ := fixture(t)
	ctx := context.Background()

	res, err := p.Search(ctx, Request{
		Kind:   entity.KindLead,
		Term:   "her",
		Facets: Facets{Status: "new"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range res.Docs {
		if d.Fields.Str("status") != "new" {
			t.Errorf("facet leak: %v", d.Fields.Str("status"))
		}
	}

	// A facet that matches nothing falls through to the bare-containment
	// strategy, whose in-memory facet check still excludes everything.
	res, err = p.Search(ctx, Request{
		Kind:   entity.KindLead,
		Term:   "penelope hernandez",
		Facets: Facets{Status: "lost"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Docs) != 0 {
		t.Errorf("expected empty result, got %v", resultIDs(res))
	}
}

func TestPagination(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := trigger.NewMaintainer(st, indexer.New(), nil)
	m.Bind(ctx)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = st.Set(ctx, "leads/"+id, entity.FieldMap{
			"first_name": "Sam",
			"last_name":  "Porter" + id,
		}, false)
	}
	p := New(st, nil, WithPageSize(2))

	var all []string
	cursor := ""
	for range 5 {
		res, err := p.Search(ctx, Request{Kind: entity.KindLead, Term: "sam", Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, resultIDs(res)...)
		if res.Cursor == "" {
			break
		}
		cursor = res.Cursor
	}
	if len(all) != 5 {
		t.Errorf("paged %d docs, want 5: %v", len(all), all)
	}
	seen := map[string]bool{}
	for _, id := range all {
		if seen[id] {
			t.Errorf("duplicate id %s across pages", id)
		}
		seen[id] = true
	}
}

// Range-scan pagination: walking pages with a tiny page size must
// return every match exactly once, even when a field's matches are
// exhausted on an early page or a doc matches several scanned fields,
// and no page may exceed the requested size.
func TestRangePagination(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := trigger.NewMaintainer(st, indexer.New(), nil)
	m.Bind(ctx)
	for id, fields := range map[string]entity.FieldMap{
		"r1": {"first_name": "Ana", "last_name": "Anders"}, // matches on both name fields
		"r2": {"first_name": "Andy", "last_name": "Lee"},
		"r3": {"first_name": "Bo", "last_name": "Anderson"},
	} {
		if err := st.Set(ctx, "leads/"+id, fields, false); err != nil {
			t.Fatal(err)
		}
	}
	p := New(st, nil)

	counts := map[string]int{}
	cursor := ""
	exhausted := false
	for range 12 {
		res, err := p.Search(ctx, Request{Kind: entity.KindLead, Term: "an", PageSize: 1, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		if res.Strategy != StrategyRange {
			t.Fatalf("strategy = %v, want range", res.Strategy)
		}
		if len(res.Docs) > 1 {
			t.Fatalf("page of %d docs exceeds page size 1", len(res.Docs))
		}
		for _, id := range resultIDs(res) {
			counts[id]++
		}
		if res.Cursor == "" {
			exhausted = true
			break
		}
		cursor = res.Cursor
	}
	if !exhausted {
		t.Fatal("pagination did not terminate within the page bound")
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		if counts[id] != 1 {
			t.Errorf("doc %s returned %d times across pages; counts: %v", id, counts[id], counts)
		}
	}
}

func TestBadCursor(t *testing.T) {
	p, _ := fixture(t)
	_, err := p.Search(context.Background(), Request{Kind: entity.KindLead, Term: "ana", Cursor: "not-a-cursor!"})
	if !errors.Is(err, store.ErrBadCursor) {
		t.Errorf("expected ErrBadCursor, got %v", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	payload := &cursorPayload{
		Strategy: StrategyRange,
		Term:     "her",
		Range: map[string]cursorPos{
			"last_name_lower":  {Order: "herman", DocID: "l3"},
			"first_name_lower": {Done: true},
		},
	}
	enc, err := encodeCursor(payload)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := decodeCursor(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Strategy != StrategyRange || dec.Term != "her" {
		t.Errorf("decoded %+v", dec)
	}
	pos, ok := dec.Range["last_name_lower"]
	if !ok || pos.DocID != "l3" || pos.Done {
		t.Errorf("range position lost: %+v", dec.Range)
	}
	if done, ok := dec.Range["first_name_lower"]; !ok || !done.Done {
		t.Errorf("exhausted-field marker lost: %+v", dec.Range)
	}
}

// Two AND-combined containment conditions: only the first reaches the
// store; the page is flagged so callers know recall may be incomplete.
func TestDeferredArrayContainsFlagged(t *testing.T) {
	p, _ := fixture(t)

	res, err := p.Search(context.Background(), Request{
		Kind: entity.KindActivity,
		Term: "renewal",
		Groups: []FilterGroup{{Op: GroupAnd, Enabled: true, Conditions: []Condition{
			{Field: entity.FieldSearchKeywords, Op: OpContains, Value: "pricing", Enabled: true},
		}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Error("deferred containment condition must set Truncated")
	}
	if got := resultIDs(res); len(got) != 1 || got[0] != "a1" {
		t.Errorf("got %v, want [a1]", got)
	}
}

func TestCacheInvalidation(t *testing.T) {
	p, st := fixture(t)
	ctx := context.Background()

	res1, err := p.Search(ctx, Request{Kind: entity.KindLead, Term: "ana lee"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res1.Docs) != 1 {
		t.Fatalf("seed query returned %v", resultIDs(res1))
	}

	// Without invalidation the memoized page survives the delete.
	if err := st.Delete(ctx, "leads/l2"); err != nil {
		t.Fatal(err)
	}
	res2, _ := p.Search(ctx, Request{Kind: entity.KindLead, Term: "ana lee"})
	if len(res2.Docs) != 1 {
		t.Fatal("expected memoized page before invalidation")
	}

	p.Invalidate(entity.KindLead)
	res3, err := p.Search(ctx, Request{Kind: entity.KindLead, Term: "ana lee"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res3.Docs) != 0 {
		t.Errorf("stale result after invalidation: %v", resultIDs(res3))
	}
}
