package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"prospect/internal/entity"
	"prospect/internal/store"
)

func TestGetSetMerge(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Get(ctx, "leads/l1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "leads/l1", entity.FieldMap{"first_name": "Ana", "status": "new"}, false); err != nil {
		t.Fatal(err)
	}

	// Merge must not clobber unrelated fields.
	if err := s.Set(ctx, "leads/l1", entity.FieldMap{"status": "contacted"}, true); err != nil {
		t.Fatal(err)
	}

	doc, err := s.Get(ctx, "leads/l1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Str("first_name") != "Ana" || doc.Str("status") != "contacted" {
		t.Errorf("merge lost fields: %v", doc)
	}

	// Replace clobbers.
	if err := s.Set(ctx, "leads/l1", entity.FieldMap{"status": "won"}, false); err != nil {
		t.Fatal(err)
	}
	doc, _ = s.Get(ctx, "leads/l1")
	if doc.Str("first_name") != "" {
		t.Errorf("replace kept old fields: %v", doc)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Set(ctx, "leads/l1", entity.FieldMap{"first_name": "Ana"}, false)

	if err := s.Delete(ctx, "leads/l1"); err != nil {
		t.Fatal(err)
	}
	// Delete-then-delete is a safe no-op.
	if err := s.Delete(ctx, "leads/l1"); err != nil {
		t.Fatal(err)
	}
}

func TestRunConstraints(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed := map[string]entity.FieldMap{
		"leads/l1": {"last_name_lower": "hernandez", "status": "new", "search_prefixes": []string{"pen", "penelope hernandez"}},
		"leads/l2": {"last_name_lower": "lee", "status": "new", "search_prefixes": []string{"ana", "ana lee"}},
		"leads/l3": {"last_name_lower": "herman", "status": "won", "search_prefixes": []string{"bo"}},
	}
	for p, f := range seed {
		_ = s.Set(ctx, p, f, false)
	}

	tests := []struct {
		name  string
		where store.Constraint
		want  []string
	}{
		{
			name:  "equality",
			where: store.Equals{Field: "status", Value: "new"},
			want:  []string{"l1", "l2"},
		},
		{
			name:  "sentinel prefix range",
			where: store.Prefix("last_name_lower", "her"),
			want:  []string{"l3", "l1"}, // herman < hernandez
		},
		{
			name:  "array contains",
			where: store.ArrayContains{Field: "search_prefixes", Value: "penelope hernandez"},
			want:  []string{"l1"},
		},
		{
			name: "conjunction",
			where: store.Conj(
				store.Equals{Field: "status", Value: "new"},
				store.ArrayContains{Field: "search_prefixes", Value: "ana"},
			),
			want: []string{"l2"},
		},
		{
			name: "disjunction of equalities",
			where: store.Or{Terms: []store.Constraint{
				store.Equals{Field: "status", Value: "won"},
				store.Equals{Field: "last_name_lower", Value: "lee"},
			}},
			want: []string{"l3", "l2"},
		},
		{
			name:  "no match",
			where: store.Equals{Field: "status", Value: "lost"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Run(ctx, store.Query{
				Collection: "leads",
				Where:      tt.where,
				OrderBy:    "last_name_lower",
			})
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, d := range page.Docs {
				got = append(got, d.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestRunRejectsUnsupported(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Run(ctx, store.Query{
		Collection: "leads",
		Where: store.Conj(
			store.Range{Field: "a", Low: "x"},
			store.Range{Field: "b", Low: "y"},
		),
	})
	if !errors.Is(err, store.ErrUnsupportedQuery) {
		t.Errorf("two range fields: got %v, want ErrUnsupportedQuery", err)
	}

	_, err = s.Run(ctx, store.Query{
		Collection: "leads",
		Where: store.Conj(
			store.ArrayContains{Field: "a", Value: "x"},
			store.ArrayContains{Field: "a", Value: "y"},
		),
	})
	if !errors.Is(err, store.ErrUnsupportedQuery) {
		t.Errorf("two array-contains: got %v, want ErrUnsupportedQuery", err)
	}
}

func TestRunPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = s.Set(ctx, "leads/"+id, entity.FieldMap{"last_name_lower": id}, false)
	}

	q := store.Query{Collection: "leads", OrderBy: "last_name_lower", Limit: 2}
	var all []string
	var cursor *store.Cursor
	for {
		q.StartAfter = cursor
		page, err := s.Run(ctx, q)
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range page.Docs {
			all = append(all, d.ID)
		}
		if page.Next == nil {
			break
		}
		cursor = page.Next
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(all) != len(want) {
		t.Fatalf("paged through %v, want %v", all, want)
	}
	for i := range all {
		if all[i] != want[i] {
			t.Fatalf("paged through %v, want %v", all, want)
		}
	}
}

func TestCollectionGroup(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Set(ctx, "leads/l1/activities/a1", entity.FieldMap{"subject": "call"}, false)
	_ = s.Set(ctx, "leads/l2/activities/a2", entity.FieldMap{"subject": "mail"}, false)
	_ = s.Set(ctx, "leads/l1/proposals/p1", entity.FieldMap{"title": "q3"}, false)

	page, err := s.Run(ctx, store.Query{Group: "activities"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Docs) != 2 {
		t.Errorf("group query returned %d docs, want 2", len(page.Docs))
	}
}

func TestWatchEvents(t *testing.T) {
	ctx := context.Background()
	s := New()

	var events []store.Event
	s.Watch(func(ev store.Event) { events = append(events, ev) })

	_ = s.Set(ctx, "leads/l1", entity.FieldMap{"first_name": "Ana"}, false)
	_ = s.Set(ctx, "leads/l1", entity.FieldMap{"first_name": "Anna"}, true)
	_ = s.Delete(ctx, "leads/l1")
	_ = s.Delete(ctx, "leads/l1") // absent: no event

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != store.EventWrite || events[0].Before != nil {
		t.Errorf("create event wrong: %+v", events[0])
	}
	if events[1].Before.Str("first_name") != "Ana" || events[1].After.Str("first_name") != "Anna" {
		t.Errorf("update event wrong: %+v", events[1])
	}
	if events[2].Type != store.EventDelete || events[2].After != nil {
		t.Errorf("delete event wrong: %+v", events[2])
	}
}

func TestBatchAtomicCommit(t *testing.T) {
	ctx := context.Background()
	s := New()

	b := s.Batch()
	b.Set("leads/l1", entity.FieldMap{"first_name": "Ana"}, false)
	b.Set("leads/l2", entity.FieldMap{"first_name": "Bo"}, false)
	b.Delete("leads/l3")
	if b.Len() != 3 {
		t.Errorf("Len = %d, want 3", b.Len())
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"l1", "l2"} {
		if _, err := s.Get(ctx, "leads/"+id); err != nil {
			t.Errorf("missing %s after batch: %v", id, err)
		}
	}
}

func TestBatchSizeLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	b := s.Batch()
	for i := 0; i <= store.MaxBatchWrites; i++ {
		b.Set(fmt.Sprintf("leads/l%d", i), entity.FieldMap{"first_name": "Ana"}, false)
	}
	if err := b.Commit(ctx); err == nil {
		t.Fatal("oversized batch committed without error")
	}

	// Nothing from the rejected batch was applied.
	if _, err := s.Get(ctx, "leads/l0"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after rejected batch = %v, want ErrNotFound", err)
	}
}
