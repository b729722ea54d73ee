package models

import (
	"strings"
	"time"
)

// SchemaSource identifies which metadata tier produced a schema context.
type SchemaSource string

const (
	SchemaSourceCatalog   SchemaSource = "field_catalog"
	SchemaSourceLegacy    SchemaSource = "legacy_columns"
	SchemaSourceProcedure SchemaSource = "stored_procedure"
	SchemaSourceCache     SchemaSource = "cache"
	SchemaSourceDefaults  SchemaSource = "defaults"
)

// SchemaField describes one reportable column of the freight dataset.
// Fetched fresh per request from the metadata tiers; never mutated after the
// request context is built.
type SchemaField struct {
	Name         string `json:"name" yaml:"name"`
	DataType     string `json:"data_type" yaml:"data_type"`
	Groupable    bool   `json:"groupable" yaml:"groupable"`
	Aggregatable bool   `json:"aggregatable" yaml:"aggregatable"`
	Searchable   bool   `json:"searchable" yaml:"searchable"`
	AIContext    string `json:"ai_context,omitempty" yaml:"ai_context"` // business meaning / usage hint for the model
	AdminOnly    bool   `json:"admin_only" yaml:"admin_only"`
}

// DataProfile carries tenant-level aggregate statistics used to make the
// system prompt concrete (shipment volume, carrier spread, date coverage).
type DataProfile struct {
	TotalLoads     int64      `json:"total_loads"`
	DeliveredLoads int64      `json:"delivered_loads"`
	CarrierCount   int64      `json:"carrier_count"`
	OriginStates   []string   `json:"origin_states,omitempty"`
	TopCarriers    []string   `json:"top_carriers,omitempty"`
	EarliestPickup *time.Time `json:"earliest_pickup,omitempty"`
	LatestPickup   *time.Time `json:"latest_pickup,omitempty"`
	Computed       bool       `json:"computed"` // false when profiling failed and zero values are placeholders
}

// SchemaContext is the immutable field + profile bundle built once per agent
// invocation. Source records which tier served the fields.
type SchemaContext struct {
	Fields  []SchemaField `json:"fields"`
	Profile DataProfile   `json:"profile"`
	Source  SchemaSource  `json:"source"`
}

// FieldByName returns the field matching name case-insensitively, or nil.
func (sc *SchemaContext) FieldByName(name string) *SchemaField {
	for i := range sc.Fields {
		if strings.EqualFold(sc.Fields[i].Name, name) {
			return &sc.Fields[i]
		}
	}
	return nil
}

// HasField reports whether a field with the given name exists.
func (sc *SchemaContext) HasField(name string) bool {
	return sc.FieldByName(name) != nil
}

// FieldNames returns all field names in declaration order.
func (sc *SchemaContext) FieldNames() []string {
	names := make([]string, len(sc.Fields))
	for i, f := range sc.Fields {
		names[i] = f.Name
	}
	return names
}

// VisibleFields returns the fields the caller may reference. Non-admin
// callers never see admin-only fields.
func (sc *SchemaContext) VisibleFields(isAdmin bool) []SchemaField {
	if isAdmin {
		return sc.Fields
	}
	visible := make([]SchemaField, 0, len(sc.Fields))
	for _, f := range sc.Fields {
		if !f.AdminOnly {
			visible = append(visible, f)
		}
	}
	return visible
}
