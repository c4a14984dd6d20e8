package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"prospect/internal/entity"
	"prospect/internal/store"
)

// Op is a post-filter condition operator.
type Op string

const (
	OpEquals      Op = "equals"
	OpContains    Op = "contains"
	OpStartsWith  Op = "starts_with"
	OpEndsWith    Op = "ends_with"
	OpNotEquals   Op = "not_equals"
	OpNotContains Op = "not_contains"
)

// ParseOp validates an operator string.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpNotEquals, OpNotContains:
		return Op(s), nil
	default:
		return "", fmt.Errorf("unknown filter operator %q", s)
	}
}

// GroupOp combines conditions inside a filter group.
type GroupOp string

const (
	GroupAnd GroupOp = "and"
	GroupOr  GroupOp = "or"
)

// Condition is one field-operator-value predicate.
type Condition struct {
	Field   string `json:"field"`
	Op      Op     `json:"op"`
	Value   any    `json:"value"`
	Enabled bool   `json:"enabled"`
}

// empty reports whether the condition carries no value to compare.
func (c Condition) empty() bool {
	if c.Value == nil {
		return true
	}
	if s, ok := c.Value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// FilterGroup is a set of conditions combined by the group operator.
// Groups combine via AND across groups.
type FilterGroup struct {
	Op         GroupOp     `json:"op"`
	Conditions []Condition `json:"conditions"`
	Enabled    bool        `json:"enabled"`
}

// active returns the enabled, non-empty conditions of the group.
func (g FilterGroup) active() []Condition {
	var out []Condition
	for _, c := range g.Conditions {
		if c.Enabled && !c.empty() {
			out = append(out, c)
		}
	}
	return out
}

// ApplyFilters evaluates every enabled filter group against the
// candidate documents and returns the survivors. A group with no
// enabled, non-empty conditions is vacuously true. Deterministic and
// side-effect-free; the store is never touched.
func ApplyFilters(docs []store.Doc, groups []FilterGroup) []store.Doc {
	if len(groups) == 0 {
		return docs
	}
	out := docs[:0:0]
	for _, d := range docs {
		if matchGroups(d.Fields, groups) {
			out = append(out, d)
		}
	}
	return out
}

func matchGroups(fields entity.FieldMap, groups []FilterGroup) bool {
	for _, g := range groups {
		if !g.Enabled {
			continue
		}
		if !matchGroup(fields, g) {
			return false
		}
	}
	return true
}

func matchGroup(fields entity.FieldMap, g FilterGroup) bool {
	conds := g.active()
	if len(conds) == 0 {
		return true // vacuously true
	}
	if g.Op == GroupOr {
		for _, c := range conds {
			if matchCondition(fields, c) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !matchCondition(fields, c) {
			return false
		}
	}
	return true
}

// matchCondition evaluates one condition against the in-memory value.
// String comparison is case-normalized. Array fields match when any
// element satisfies the positive operator.
func matchCondition(fields entity.FieldMap, c Condition) bool {
	want := normalizeValue(c.Value)

	if arr := fields.Strings(c.Field); arr != nil {
		switch c.Op {
		case OpNotEquals, OpNotContains:
			for _, e := range arr {
				if compareStrings(normalizeValue(e), want, positive(c.Op)) {
					return false
				}
			}
			return true
		default:
			for _, e := range arr {
				if compareStrings(normalizeValue(e), want, c.Op) {
					return true
				}
			}
			return false
		}
	}

	got := normalizeValue(fields[c.Field])
	switch c.Op {
	case OpNotEquals:
		return !compareStrings(got, want, OpEquals)
	case OpNotContains:
		return !compareStrings(got, want, OpContains)
	default:
		return compareStrings(got, want, c.Op)
	}
}

// positive maps a negated operator to its positive counterpart.
func positive(op Op) Op {
	switch op {
	case OpNotEquals:
		return OpEquals
	case OpNotContains:
		return OpContains
	default:
		return op
	}
}

func compareStrings(got, want string, op Op) bool {
	switch op {
	case OpEquals:
		return got == want
	case OpContains:
		return strings.Contains(got, want)
	case OpStartsWith:
		return strings.HasPrefix(got, want)
	case OpEndsWith:
		return strings.HasSuffix(got, want)
	default:
		return false
	}
}

// normalizeValue projects any comparable value onto a lowercased,
// trimmed string form so equals works across strings, numbers, and
// dates.
func normalizeValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(n))
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case bool:
		return strconv.FormatBool(n)
	case time.Time:
		return n.UTC().Format(time.RFC3339)
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(n)))
	}
}
