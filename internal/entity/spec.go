package entity

import "strings"

// Collection names.
const (
	LeadCollection  = "leads"
	IndexCollection = "search_index"
)

// Denormalized field names owned by the index builder. UI-facing write
// paths must not hand-write these.
const (
	FieldSearchPrefixes  = "search_prefixes"
	FieldSearchKeywords  = "search_keywords"
	FieldSearchUpdatedAt = "search_updated_at"
)

// Global search index entry field names.
const (
	EntryType        = "entity_type"
	EntryID          = "entity_id"
	EntryLeadID      = "lead_id"
	EntryKeywords    = "keywords"
	EntryStatus      = "status"
	EntryCreatedAt   = "created_at"
	EntryLastUpdated = "last_updated_at"
)

// TokenStrategy selects how a kind's search tokens are generated.
type TokenStrategy int

const (
	// StrategyPrefixes produces phrase and character prefixes for short
	// identity fields (names, emails, phones, companies).
	StrategyPrefixes TokenStrategy = iota
	// StrategyKeywords produces delimiter-split tokens plus bigrams for
	// free text (subjects, notes, titles).
	StrategyKeywords
)

// Projection maps a source field to a normalized scalar field.
type Projection struct {
	Src    string
	Dst    string
	Digits bool // keep digits only instead of lowercasing
}

// Spec describes how one entity kind participates in search-index
// maintenance. The trigger layer, index builder, and query planner are
// all driven by this table.
type Spec struct {
	Kind       Kind
	Child      bool
	Collection string // subcollection name for children, "leads" for leads

	// WatchFields are the source fields whose change forces index
	// regeneration. Unrelated field edits are skipped, which also breaks
	// trigger re-invocation loops.
	WatchFields []string

	Strategy    TokenStrategy
	TokenField  string   // search_prefixes or search_keywords
	TokenSrcs   []string // source fields feeding token generation
	Projections []Projection

	// RangeFields are the normalized fields eligible for the prefix
	// range-scan fallback. EmailRange is consulted only when the term
	// contains '@'.
	RangeFields []string
	EmailRange  string

	// Entry maps global-index-entry display fields to source fields.
	Entry map[string]string
}

// FullNameField is the composite projection present on leads only.
const FullNameField = "full_name_lower"

var specs = map[Kind]Spec{
	KindLead: {
		Kind:        KindLead,
		Collection:  LeadCollection,
		WatchFields: []string{"first_name", "last_name", "email", "phone", "company", "status"},
		Strategy:    StrategyPrefixes,
		TokenField:  FieldSearchPrefixes,
		TokenSrcs:   []string{"email", "phone", "company"},
		Projections: []Projection{
			{Src: "first_name", Dst: "first_name_lower"},
			{Src: "last_name", Dst: "last_name_lower"},
			{Src: "email", Dst: "email_lower"},
			{Src: "company", Dst: "company_lower"},
			{Src: "phone", Dst: "phone_digits", Digits: true},
		},
		RangeFields: []string{"first_name_lower", "last_name_lower", FullNameField},
		EmailRange:  "email_lower",
		Entry: map[string]string{
			"email": "email",
			"phone": "phone",
		},
	},
	KindActivity: {
		Kind:        KindActivity,
		Child:       true,
		Collection:  "activities",
		WatchFields: []string{"type", "subject", "notes"},
		Strategy:    StrategyKeywords,
		TokenField:  FieldSearchKeywords,
		TokenSrcs:   []string{"subject", "notes"},
		Projections: []Projection{
			{Src: "subject", Dst: "subject_lower"},
		},
		RangeFields: []string{"subject_lower"},
		Entry: map[string]string{
			"subject": "subject",
			"name":    "lead_name",
			"email":   "lead_email",
		},
	},
	KindProposal: {
		Kind:        KindProposal,
		Child:       true,
		Collection:  "proposals",
		WatchFields: []string{"title", "status"},
		Strategy:    StrategyKeywords,
		TokenField:  FieldSearchKeywords,
		TokenSrcs:   []string{"title"},
		Projections: []Projection{
			{Src: "title", Dst: "title_lower"},
		},
		RangeFields: []string{"title_lower"},
		Entry: map[string]string{
			"title": "title",
			"name":  "lead_name",
			"email": "lead_email",
		},
	},
	KindContract: {
		Kind:        KindContract,
		Child:       true,
		Collection:  "contracts",
		WatchFields: []string{"title", "status"},
		Strategy:    StrategyKeywords,
		TokenField:  FieldSearchKeywords,
		TokenSrcs:   []string{"title"},
		Projections: []Projection{
			{Src: "title", Dst: "title_lower"},
		},
		RangeFields: []string{"title_lower"},
		Entry: map[string]string{
			"title": "title",
			"name":  "lead_name",
			"email": "lead_email",
		},
	},
}

// SpecFor returns the dispatch-table entry for a kind.
func SpecFor(kind Kind) (Spec, bool) {
	s, ok := specs[kind]
	return s, ok
}

// ChildSpecs returns the specs of all child kinds, in a stable order.
func ChildSpecs() []Spec {
	return []Spec{specs[KindActivity], specs[KindProposal], specs[KindContract]}
}

// CollectionPath returns the collection path for this kind under the
// given lead. Leads ignore leadID.
func (s Spec) CollectionPath(leadID string) string {
	if !s.Child {
		return LeadCollection
	}
	return LeadCollection + "/" + leadID + "/" + s.Collection
}

// DocPath returns the full document path for an entity of this kind.
func (s Spec) DocPath(leadID, id string) string {
	return s.CollectionPath(leadID) + "/" + id
}

// IndexDocID returns the deterministic global-index document id for an
// entity. At most one entry exists per logical entity.
func IndexDocID(kind Kind, id string) string {
	return string(kind) + "_" + id
}

// IndexDocPath returns the full path of an entity's global index entry.
func IndexDocPath(kind Kind, id string) string {
	return IndexCollection + "/" + IndexDocID(kind, id)
}

// ParsePath resolves a document path to its kind, lead id, and document
// id. This is the wildcard-path dispatch: "leads/{lead}" and
// "leads/{lead}/<collection>/{id}" are the only recognized shapes.
func ParsePath(path string) (kind Kind, leadID, id string, ok bool) {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 2 && parts[0] == LeadCollection:
		return KindLead, parts[1], parts[1], true
	case len(parts) == 4 && parts[0] == LeadCollection:
		for _, s := range ChildSpecs() {
			if s.Collection == parts[2] {
				return s.Kind, parts[1], parts[3], true
			}
		}
	}
	return "", "", "", false
}
