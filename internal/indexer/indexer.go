// Package indexer turns an entity's source fields into the denormalized
// search fields persisted on the entity and mirrored into the global
// search index collection.
//
// Builds never fail: absent source fields read as empty strings, and
// partial data still indexes. Output is deterministic for identical
// input except the maintenance timestamps, which come from the injected
// clock.
package indexer

import (
	"strings"
	"time"

	"prospect/internal/entity"
	"prospect/internal/token"
)

// maxScalarPrefixLen caps character prefixes generated from single
// scalar fields (emails, phone digits).
const maxScalarPrefixLen = 40

// ShouldRegenerate reports whether the index fields must be recomputed:
// on create (before nil) or when any watch-list field changed. Skipping
// unrelated edits avoids needless rewrites and breaks trigger
// re-invocation loops.
func ShouldRegenerate(spec entity.Spec, before, after entity.FieldMap) bool {
	if before == nil {
		return true
	}
	for _, f := range spec.WatchFields {
		if entity.FieldChanged(before, after, f) {
			return true
		}
	}
	return false
}

// Builder computes denormalized search fields.
type Builder struct {
	now func() time.Time
}

// New creates a Builder using the wall clock.
func New() *Builder {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Builder with an injected clock, so tests can
// pin the maintenance timestamps.
func NewWithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// Build produces the field map to merge into the entity document and the
// reduced field map for the entity's global search index entry.
func (b *Builder) Build(spec entity.Spec, leadID, id string, after entity.FieldMap) (entity.FieldMap, entity.FieldMap) {
	now := b.now().UTC()

	fields := entity.FieldMap{}
	for _, p := range spec.Projections {
		src := after.Str(p.Src)
		if p.Digits {
			fields[p.Dst] = token.Digits(src)
		} else {
			fields[p.Dst] = token.Normalize(src)
		}
	}

	var displayName string
	if spec.Kind == entity.KindLead {
		displayName = strings.TrimSpace(after.Str("first_name") + " " + after.Str("last_name"))
		fields[entity.FullNameField] = token.Normalize(displayName)
	}

	tokens := b.buildTokens(spec, after, displayName)
	fields[spec.TokenField] = tokens
	fields[entity.FieldSearchUpdatedAt] = now

	entry := entity.FieldMap{
		entity.EntryType:        string(spec.Kind),
		entity.EntryID:          id,
		entity.EntryKeywords:    tokens,
		entity.EntryStatus:      after.Str("status"),
		entity.EntryLastUpdated: now,
	}
	if created := after.Time("created_at"); !created.IsZero() {
		entry[entity.EntryCreatedAt] = created
	} else {
		entry[entity.EntryCreatedAt] = now
	}
	if spec.Child {
		entry[entity.EntryLeadID] = leadID
	} else {
		entry[entity.EntryLeadID] = id
		entry["name"] = displayName
	}
	for dst, src := range spec.Entry {
		if v := after.Str(src); v != "" {
			entry[dst] = v
		}
	}
	return fields, entry
}

// buildTokens generates the kind's token array.
func (b *Builder) buildTokens(spec entity.Spec, after entity.FieldMap, displayName string) []string {
	switch spec.Strategy {
	case entity.StrategyPrefixes:
		lists := make([][]string, 0, len(spec.TokenSrcs)+1)
		if displayName != "" {
			lists = append(lists, token.WordPrefixesOf(displayName))
		}
		for _, src := range spec.TokenSrcs {
			v := after.Str(src)
			switch src {
			case "email":
				lists = append(lists, token.PrefixesOf(v, maxScalarPrefixLen))
			case "phone":
				lists = append(lists, token.PrefixesOf(token.Digits(v), maxScalarPrefixLen))
			default:
				lists = append(lists, token.WordPrefixesOf(v))
			}
		}
		return token.Union(token.MaxPrefixes, lists...)

	default: // StrategyKeywords
		lists := make([][]string, 0, len(spec.TokenSrcs))
		for _, src := range spec.TokenSrcs {
			lists = append(lists, token.KeywordsOf(after.Str(src)))
		}
		return token.Union(token.MaxKeywords, lists...)
	}
}
