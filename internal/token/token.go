// Package token generates search tokens from text fields.
//
// The store only supports equality and range queries on scalar fields
// plus single-constraint array containment, so partial-text search is
// emulated by precomputing token arrays:
//
//   - Prefix sets: every leading substring of a normalized string, for
//     "starts with" and bounded partial-match queries.
//   - Word-prefix sets: contiguous word-range phrases plus character
//     prefixes, for phrase-level prefix search.
//   - Keyword sets: delimiter-split tokens plus adjacent-word bigrams,
//     for "contains word" queries.
//
// All functions are pure and safe for concurrent use. Empty input yields
// an empty result, never an error.
package token

import "strings"

// Set-size caps. Truncation keeps the first N in generation order after
// de-duplication; the cap bounds storage and index cost, it does not
// pick a "best" N.
const (
	MaxPrefixes = 500
	MaxKeywords = 100
)

// Normalize lowercases and trims s, collapses whitespace runs to single
// spaces, and drops bytes outside the allow-list (letters, digits, '@',
// '.', space).
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true // swallow leading whitespace
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case isAllowed(c):
			b.WriteByte(lower(c))
			space = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// PrefixesOf returns every prefix of the normalized text with length
// 1..min(len, maxLen), shortest first.
func PrefixesOf(s string, maxLen int) []string {
	norm := Normalize(s)
	if norm == "" || maxLen <= 0 {
		return nil
	}
	n := min(len(norm), maxLen)
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, norm[:i])
	}
	return out
}

// WordPrefixesOf returns phrase-level prefix tokens for the normalized
// text: the full text first, then every contiguous word range joined by
// single spaces, then character prefixes of each word. De-duplicated,
// capped at MaxPrefixes.
func WordPrefixesOf(s string) []string {
	norm := Normalize(s)
	if norm == "" {
		return nil
	}
	words := strings.Split(norm, " ")

	set := newOrderedSet(MaxPrefixes)
	set.add(norm)

	// Contiguous word ranges: words[i..j] joined by spaces.
	for i := 0; i < len(words); i++ {
		for j := i; j < len(words); j++ {
			set.add(strings.Join(words[i:j+1], " "))
		}
	}

	// Character prefixes of each word.
	for _, w := range words {
		for i := 1; i <= len(w); i++ {
			set.add(w[:i])
		}
	}

	return set.items
}

// keywordDelims is the delimiter class for keyword extraction. Anything
// in this set, or any whitespace, splits tokens.
const keywordDelims = "-_.,;:!?()[]{}'\""

// KeywordsOf returns the keyword set of free text: delimiter-split
// tokens of length >= 2 that are not purely numeric, plus adjacent-word
// bigrams. De-duplicated, capped at MaxKeywords.
func KeywordsOf(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			strings.ContainsRune(keywordDelims, r)
	})

	var qualifying []string
	for _, f := range fields {
		if len(f) < 2 || numeric(f) {
			continue
		}
		qualifying = append(qualifying, f)
	}
	if len(qualifying) == 0 {
		return nil
	}

	set := newOrderedSet(MaxKeywords)
	for _, t := range qualifying {
		set.add(t)
	}
	for i := 0; i+1 < len(qualifying); i++ {
		set.add(qualifying[i] + " " + qualifying[i+1])
	}
	return set.items
}

// Union merges token slices, de-duplicating while preserving first
// occurrence order, capped at limit.
func Union(limit int, lists ...[]string) []string {
	set := newOrderedSet(limit)
	for _, list := range lists {
		for _, t := range list {
			set.add(t)
		}
	}
	return set.items
}

// orderedSet collects strings preserving insertion order up to a cap.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
	cap   int
}

func newOrderedSet(cap int) *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), cap: cap}
}

func (o *orderedSet) add(s string) {
	if s == "" || len(o.items) >= o.cap {
		return
	}
	if _, dup := o.seen[s]; dup {
		return
	}
	o.seen[s] = struct{}{}
	o.items = append(o.items, s)
}

// numeric reports whether s consists only of digits.
func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAllowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '@' || c == '.':
		return true
	default:
		return false
	}
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
