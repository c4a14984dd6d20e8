package store

import (
	"fmt"
	"strings"
)

// MaxSentinel bounds a prefix range-scan: normalized_field >= prefix AND
// normalized_field <= prefix + MaxSentinel covers every string starting
// with the prefix. U+F8FF is the conventional high code point for this.
const MaxSentinel = ""

// Constraint is the interface for all query constraint nodes. The marker
// method keeps the variant set closed, so translation to native store
// queries and to the post-filter can be exhaustive.
type Constraint interface {
	constraint()
	// String returns a human-readable representation for logs and errors.
	String() string
}

// Equals matches documents whose field equals the value exactly.
type Equals struct {
	Field string
	Value any
}

func (Equals) constraint() {}

func (e Equals) String() string { return fmt.Sprintf("%s == %v", e.Field, e.Value) }

// Range matches documents whose field lies inside [Low, High]. A nil
// bound is unbounded on that side. The store supports at most one range
// field per query.
type Range struct {
	Field string
	Low   any // inclusive, nil = unbounded
	High  any // inclusive, nil = unbounded
}

func (Range) constraint() {}

func (r Range) String() string { return fmt.Sprintf("%v <= %s <= %v", r.Low, r.Field, r.High) }

// Prefix builds the sentinel-bounded range covering every string that
// starts with the given prefix.
func Prefix(field, prefix string) Range {
	return Range{Field: field, Low: prefix, High: prefix + MaxSentinel}
}

// ArrayContains matches documents whose array field contains the value.
// The store allows at most one such constraint per query.
type ArrayContains struct {
	Field string
	Value string
}

func (ArrayContains) constraint() {}

func (a ArrayContains) String() string { return fmt.Sprintf("%s array-contains %q", a.Field, a.Value) }

// And is the conjunction of its terms.
// Invariant: len(Terms) >= 1.
type And struct {
	Terms []Constraint
}

func (And) constraint() {}

func (a And) String() string { return "(" + joinTerms(a.Terms, " AND ") + ")" }

// Or is the disjunction of its terms. The store restricts disjunctions
// to equality terms; see Validate.
// Invariant: len(Terms) >= 1.
type Or struct {
	Terms []Constraint
}

func (Or) constraint() {}

func (o Or) String() string { return "(" + joinTerms(o.Terms, " OR ") + ")" }

func joinTerms(terms []Constraint, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, sep)
}

// Conj builds the conjunction of the given terms, flattening the
// degenerate cases: no terms yields nil, one term yields the term.
func Conj(terms ...Constraint) Constraint {
	var kept []Constraint
	for _, t := range terms {
		if t != nil {
			kept = append(kept, t)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Terms: kept}
	}
}

// Validate rejects constraint trees the store cannot execute:
//   - more than one range field per query
//   - more than one array-contains per query
//   - a disjunction containing anything but equality terms
//
// This is a construction-time check. The planner validates before
// issuing a query, so unsupported combinations never reach the store.
func Validate(c Constraint) error {
	if c == nil {
		return nil
	}
	rangeFields := map[string]struct{}{}
	arrayContains := 0
	var walk func(c Constraint, inOr bool) error
	walk = func(c Constraint, inOr bool) error {
		switch v := c.(type) {
		case Equals:
			return nil
		case Range:
			if inOr {
				return fmt.Errorf("%w: range %s inside disjunction", ErrUnsupportedQuery, v.Field)
			}
			rangeFields[v.Field] = struct{}{}
			if len(rangeFields) > 1 {
				return fmt.Errorf("%w: ranges on multiple fields", ErrUnsupportedQuery)
			}
			return nil
		case ArrayContains:
			if inOr {
				return fmt.Errorf("%w: array-contains inside disjunction", ErrUnsupportedQuery)
			}
			arrayContains++
			if arrayContains > 1 {
				return fmt.Errorf("%w: multiple array-contains constraints", ErrUnsupportedQuery)
			}
			return nil
		case And:
			for _, t := range v.Terms {
				if err := walk(t, inOr); err != nil {
					return err
				}
			}
			return nil
		case Or:
			for _, t := range v.Terms {
				if err := walk(t, true); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("%w: unknown constraint %T", ErrUnsupportedQuery, c)
		}
	}
	return walk(c, false)
}
