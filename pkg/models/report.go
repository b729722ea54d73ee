package models

import "time"

// ============================================================================
// Section types
// ============================================================================

// Report section types. These are the layout primitives the renderer
// understands; the agent composes reports out of them.
const (
	SectionTypeHero         = "hero"
	SectionTypeStatRow      = "stat-row"
	SectionTypeChart        = "chart"
	SectionTypeTable        = "table"
	SectionTypeMap          = "map"
	SectionTypeHeader       = "header"
	SectionTypeCategoryGrid = "category-grid"
)

// ValidSectionTypes contains all valid section type values.
var ValidSectionTypes = []string{
	SectionTypeHero,
	SectionTypeStatRow,
	SectionTypeChart,
	SectionTypeTable,
	SectionTypeMap,
	SectionTypeHeader,
	SectionTypeCategoryGrid,
}

// IsValidSectionType checks if the given type is valid.
func IsValidSectionType(t string) bool {
	for _, v := range ValidSectionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ============================================================================
// Date ranges
// ============================================================================

// Period presets resolvable to concrete dates relative to "now".
const (
	PeriodLast7      = "last7"
	PeriodLast30     = "last30"
	PeriodLast90     = "last90"
	PeriodLast6Month = "last6months"
	PeriodYTD        = "ytd"
	PeriodLastYear   = "lastYear"
	PeriodAll        = "all"
	PeriodCustom     = "custom"
)

// ValidPeriodPresets contains the resolvable preset values (custom excluded,
// it requires explicit start/end).
var ValidPeriodPresets = []string{
	PeriodLast7,
	PeriodLast30,
	PeriodLast90,
	PeriodLast6Month,
	PeriodYTD,
	PeriodLastYear,
	PeriodAll,
}

// DateRange is a report's time window: a preset name, or custom with
// explicit ISO date bounds.
type DateRange struct {
	Type  string `json:"type"`
	Start string `json:"start,omitempty"` // YYYY-MM-DD, custom only
	End   string `json:"end,omitempty"`   // YYYY-MM-DD, custom only
}

// ============================================================================
// Sections and calculated fields
// ============================================================================

// FilterCondition is one field comparison applied to a section's data.
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator,omitempty"` // eq, neq, gt, gte, lt, lte, like, in; eq when empty
	Value    any    `json:"value"`
}

// SectionConfig holds the per-section settings. Which keys matter depends on
// the section type: charts use groupBy/metric/aggregation/chartType, tables
// use columns, heroes and stat rows use metric/aggregation/label.
type SectionConfig struct {
	GroupBy     string            `json:"groupBy,omitempty"`
	Metric      string            `json:"metric,omitempty"`
	Aggregation string            `json:"aggregation,omitempty"`
	ChartType   string            `json:"chartType,omitempty"`
	Columns     []string          `json:"columns,omitempty"`
	Filters     []FilterCondition `json:"filters,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	SortDir     string            `json:"sortDir,omitempty"`
	Label       string            `json:"label,omitempty"`
}

// NameValue is one row of preview/aggregate data attached to a section.
type NameValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ReportSection is one building block of a report.
type ReportSection struct {
	Type    string        `json:"type"`
	Title   string        `json:"title,omitempty"`
	Config  SectionConfig `json:"config"`
	Data    []NameValue   `json:"data,omitempty"`    // preview sample, attached by the tool layer
	Insight string        `json:"insight,omitempty"` // short model-written observation about the data
}

// CalculatedField is a derived metric defined by a formula over base fields.
type CalculatedField struct {
	Name    string   `json:"name"`
	Formula string   `json:"formula"`
	Fields  []string `json:"fields,omitempty"` // base fields the formula references
}

// ============================================================================
// Draft and definition
// ============================================================================

// DefaultReportTheme is applied when the agent does not pick one.
const DefaultReportTheme = "slate"

// ReportDraft is the mutable work-in-progress report. It lives inside one
// conversation's tool session and is mutated only through tool calls.
type ReportDraft struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Theme            string            `json:"theme"`
	DateRange        DateRange         `json:"dateRange"`
	CalculatedFields []CalculatedField `json:"calculatedFields,omitempty"`
	Sections         []ReportSection   `json:"sections"`
	CreatedAt        time.Time         `json:"-"`
}

// ReportDefinition is the finalized, immutable form of a draft. This is the
// persisted and serialized shape consumed by renderers and exporters.
type ReportDefinition struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Theme            string            `json:"theme"`
	DateRange        DateRange         `json:"dateRange"`
	CalculatedFields []CalculatedField `json:"calculatedFields,omitempty"`
	Sections         []ReportSection   `json:"sections"`
	Summary          string            `json:"summary,omitempty"`
}

// Finalize converts the draft into an immutable definition with the
// agent-supplied summary. No validation happens here.
func (d *ReportDraft) Finalize(summary string) *ReportDefinition {
	return &ReportDefinition{
		ID:               d.ID,
		Name:             d.Name,
		Description:      d.Description,
		Theme:            d.Theme,
		DateRange:        d.DateRange,
		CalculatedFields: d.CalculatedFields,
		Sections:         d.Sections,
		Summary:          summary,
	}
}

// Clone returns a deep copy of the definition. Sanitization and auto-fix
// operate on copies so callers keep the original for audit.
func (r *ReportDefinition) Clone() *ReportDefinition {
	out := *r
	out.CalculatedFields = make([]CalculatedField, len(r.CalculatedFields))
	for i, cf := range r.CalculatedFields {
		out.CalculatedFields[i] = cf
		out.CalculatedFields[i].Fields = append([]string(nil), cf.Fields...)
	}
	out.Sections = make([]ReportSection, len(r.Sections))
	for i, s := range r.Sections {
		out.Sections[i] = s
		out.Sections[i].Config.Columns = append([]string(nil), s.Config.Columns...)
		out.Sections[i].Config.Filters = append([]FilterCondition(nil), s.Config.Filters...)
		out.Sections[i].Data = append([]NameValue(nil), s.Data...)
	}
	return &out
}
