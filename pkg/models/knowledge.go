package models

import (
	"time"

	"github.com/google/uuid"
)

// Knowledge scopes. Global rows apply to every customer; customer rows
// override and extend them.
const (
	KnowledgeScopeGlobal   = "global"
	KnowledgeScopeCustomer = "customer"
)

// Knowledge entry types.
const (
	KnowledgeTypeTerminology = "terminology"
	KnowledgeTypeCalculation = "calculation"
	KnowledgeTypeProduct     = "product"
	KnowledgeTypeRule        = "rule"
	KnowledgeTypeDocument    = "document"
	KnowledgeTypePreference  = "preference"
)

// ValidKnowledgeTypes contains all valid knowledge type values.
var ValidKnowledgeTypes = []string{
	KnowledgeTypeTerminology,
	KnowledgeTypeCalculation,
	KnowledgeTypeProduct,
	KnowledgeTypeRule,
	KnowledgeTypeDocument,
	KnowledgeTypePreference,
}

// IsValidKnowledgeType checks if the given type is valid.
func IsValidKnowledgeType(t string) bool {
	for _, v := range ValidKnowledgeTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Knowledge entry sources (how the row came to exist).
const (
	KnowledgeSourceSeeded  = "seeded"  // shipped with the product
	KnowledgeSourceManual  = "manual"  // entered by a person through the API
	KnowledgeSourceLearned = "learned" // written by the agent or the extractor
)

// KnowledgeEntry is one terminology/calculation/product/rule/document row.
// Stored in engine_customer_knowledge. CustomerID nil means global scope.
type KnowledgeEntry struct {
	ID              uuid.UUID  `json:"id"`
	CustomerID      *uuid.UUID `json:"customer_id,omitempty"`
	Scope           string     `json:"scope"`
	KnowledgeType   string     `json:"knowledge_type"`
	Key             string     `json:"key"`   // term, product name, calculation name, rule label
	Value           string     `json:"value"` // meaning, formula, mapping, rule text, document body
	MapsToField     *string    `json:"maps_to_field,omitempty"`
	Confidence      float64    `json:"confidence"`
	Source          string     `json:"source"`
	Active          bool       `json:"active"`
	NeedsReview     bool       `json:"needs_review"`
	CustomerVisible bool       `json:"customer_visible"`
	Priority        int        `json:"priority"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsGlobal reports whether the entry applies to every customer.
func (k *KnowledgeEntry) IsGlobal() bool {
	return k.CustomerID == nil
}

// KnowledgeContext is the per-request merge of global and customer rows,
// grouped by type, each group ordered by priority then confidence descending.
type KnowledgeContext struct {
	Terms        []KnowledgeEntry `json:"terms"`
	Calculations []KnowledgeEntry `json:"calculations"`
	Products     []KnowledgeEntry `json:"products"`
	Rules        []KnowledgeEntry `json:"rules"`
	Documents    []KnowledgeEntry `json:"documents"`
	Preferences  []KnowledgeEntry `json:"preferences"`
}

// IsEmpty reports whether the context carries no entries at all.
func (kc *KnowledgeContext) IsEmpty() bool {
	return kc.TotalEntries() == 0
}

// TotalEntries returns the number of entries across all groups.
func (kc *KnowledgeContext) TotalEntries() int {
	return len(kc.Terms) + len(kc.Calculations) + len(kc.Products) +
		len(kc.Rules) + len(kc.Documents) + len(kc.Preferences)
}
