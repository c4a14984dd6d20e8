// Package entity defines the record kinds managed by Prospect and the
// per-kind dispatch table driving search-index maintenance.
//
// A Lead is the top-level record. Activities, proposals, and contracts are
// children keyed by the lead id, each carrying denormalized lead display
// fields so result lists render without a join.
//
// Adding a new child kind is a table addition (a Spec entry), not new
// control flow: the index builder, trigger layer, and query planner all
// consume the Spec.
package entity

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies an entity kind.
type Kind string

const (
	KindLead     Kind = "lead"
	KindActivity Kind = "activity"
	KindProposal Kind = "proposal"
	KindContract Kind = "contract"
)

// Kinds lists all known kinds, leads first.
func Kinds() []Kind {
	return []Kind{KindLead, KindActivity, KindProposal, KindContract}
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLead:
		return KindLead, nil
	case KindActivity:
		return KindActivity, nil
	case KindProposal:
		return KindProposal, nil
	case KindContract:
		return KindContract, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

// FieldMap is the raw document representation: field name to value.
// Values are strings, float64 numbers, bools, time.Time stamps, or
// []string token arrays.
type FieldMap map[string]any

// Str returns the string value of a field, or "" when absent or not a string.
// Missing source fields never fail index builds; they read as empty.
func (f FieldMap) Str(key string) string {
	if f == nil {
		return ""
	}
	s, _ := f[key].(string)
	return s
}

// Strings returns a string-array field, or nil when absent.
func (f FieldMap) Strings(key string) []string {
	if f == nil {
		return nil
	}
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Num returns the numeric value of a field, or 0 when absent.
func (f FieldMap) Num(key string) float64 {
	if f == nil {
		return 0
	}
	switch v := f[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Time returns the time value of a field, or the zero time when absent.
func (f FieldMap) Time(key string) time.Time {
	if f == nil {
		return time.Time{}
	}
	t, _ := f[key].(time.Time)
	return t
}

// Clone returns a shallow copy of the map with token arrays copied.
func (f FieldMap) Clone() FieldMap {
	if f == nil {
		return nil
	}
	out := make(FieldMap, len(f))
	for k, v := range f {
		if arr, ok := v.([]string); ok {
			cp := make([]string, len(arr))
			copy(cp, arr)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// FieldChanged reports whether key differs between before and after.
// Token arrays compare element-wise.
func FieldChanged(before, after FieldMap, key string) bool {
	bv, bok := before[key]
	av, aok := after[key]
	if bok != aok {
		return true
	}
	if !bok {
		return false
	}
	ba, bIsArr := bv.([]string)
	aa, aIsArr := av.([]string)
	if bIsArr || aIsArr {
		if len(ba) != len(aa) {
			return true
		}
		for i := range ba {
			if ba[i] != aa[i] {
				return true
			}
		}
		return false
	}
	return bv != av
}
