package llm

// Tool names understood by the report builder. The executor dispatches on
// these constants; adding a tool means adding a constant, a definition, and
// a dispatch arm.
const (
	ToolDiscoverTables     = "discover_tables"
	ToolDiscoverFields     = "discover_fields"
	ToolDiscoverJoins      = "discover_joins"
	ToolQueryTable         = "query_table"
	ToolSearchText         = "search_text"
	ToolQueryWithJoin      = "query_with_join"
	ToolAggregate          = "aggregate"
	ToolExploreField       = "explore_field"
	ToolPreviewAggregation = "preview_aggregation"
	ToolComparePeriods     = "compare_periods"
	ToolDetectAnomalies    = "detect_anomalies"
	ToolCreateReportDraft  = "create_report_draft"
	ToolAddSection         = "add_section"
	ToolModifySection      = "modify_section"
	ToolRemoveSection      = "remove_section"
	ToolFinalizeReport     = "finalize_report"
	ToolLearnTerminology   = "learn_terminology"
	ToolLearnPreference    = "learn_preference"
	ToolAskClarification   = "ask_clarification"
)

// ToolDefinition defines a tool that can be called by the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// NewToolDefinition creates a new tool definition with standard JSON Schema parameters.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any)
	for k, v := range properties {
		props[k] = map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
		if len(v.Enum) > 0 {
			props[k].(map[string]any)["enum"] = v.Enum
		}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// GetReportBuilderTools returns the tool definitions for the report builder
// agent: data discovery, querying, derived analysis, report mutation, and
// knowledge learning.
func GetReportBuilderTools() []ToolDefinition {
	return []ToolDefinition{
		NewToolDefinition(
			ToolDiscoverTables,
			"List the queryable tables with row estimates and a short description of each",
			map[string]ParameterProperty{
				"category": {
					Type:        "string",
					Description: "Optional category to filter by (e.g. 'shipments', 'reference')",
				},
			},
			[]string{},
		),
		NewToolDefinition(
			ToolDiscoverFields,
			"List the fields of a table with type, groupable/aggregatable/searchable flags, and business context",
			map[string]ParameterProperty{
				"table_name": {
					Type:        "string",
					Description: "The table to describe",
				},
			},
			[]string{"table_name"},
		),
		NewToolDefinition(
			ToolDiscoverJoins,
			"List the join paths available from a table to related tables",
			map[string]ParameterProperty{
				"table_name": {
					Type:        "string",
					Description: "The base table to find joins for",
				},
			},
			[]string{"table_name"},
		),
		NewToolDefinition(
			ToolQueryTable,
			"Run a filtered query against one table. Supports selecting columns, filtering, grouping with aggregations, ordering, and a row limit",
			map[string]ParameterProperty{
				"table_name": {
					Type:        "string",
					Description: "The table to query",
				},
				"select": {
					Type:        "array",
					Description: "Columns to return. All columns when omitted",
				},
				"filters": {
					Type:        "array",
					Description: "Filter conditions, each {field, operator, value}. Operators: eq, neq, gt, gte, lt, lte, like, in",
				},
				"group_by": {
					Type:        "string",
					Description: "Column to group by. Requires aggregations",
				},
				"aggregations": {
					Type:        "array",
					Description: "Aggregations to compute per group, each {field, func} with func in sum, avg, count, min, max",
				},
				"order_by": {
					Type:        "string",
					Description: "Column or aggregation alias to order by",
				},
				"order_dir": {
					Type:        "string",
					Description: "Sort direction",
					Enum:        []string{"asc", "desc"},
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum rows to return (default 50, max 500)",
				},
			},
			[]string{"table_name"},
		),
		NewToolDefinition(
			ToolSearchText,
			"Full-text search across searchable fields. Use for finding loads by reference number, commodity, city names, or other free text",
			map[string]ParameterProperty{
				"query": {
					Type:        "string",
					Description: "The text to search for",
				},
				"tables": {
					Type:        "array",
					Description: "Tables to search. All searchable tables when omitted",
				},
				"fields": {
					Type:        "array",
					Description: "Fields to search within. All searchable fields when omitted",
				},
				"match_type": {
					Type:        "string",
					Description: "How to match the query text",
					Enum:        []string{"contains", "exact", "prefix"},
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum rows to return (default 25)",
				},
			},
			[]string{"query"},
		),
		NewToolDefinition(
			ToolQueryWithJoin,
			"Query a base table joined to related tables. Use discover_joins first to find valid join paths",
			map[string]ParameterProperty{
				"base_table": {
					Type:        "string",
					Description: "The table to start from",
				},
				"joins": {
					Type:        "array",
					Description: "Tables to join, each a table name from discover_joins",
				},
				"select": {
					Type:        "array",
					Description: "Columns to return, optionally qualified as table.column",
				},
				"filters": {
					Type:        "array",
					Description: "Filter conditions, each {field, operator, value}",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum rows to return (default 50, max 500)",
				},
			},
			[]string{"base_table", "joins"},
		),
		NewToolDefinition(
			ToolAggregate,
			"Group rows by a field and compute one aggregate per group. Returns {name, value} rows sorted by value descending",
			map[string]ParameterProperty{
				"table_name": {
					Type:        "string",
					Description: "The table to aggregate over",
				},
				"group_by": {
					Type:        "string",
					Description: "The field to group by (must be groupable)",
				},
				"metric": {
					Type:        "string",
					Description: "The field to aggregate (must be aggregatable, except for count)",
				},
				"aggregation": {
					Type:        "string",
					Description: "The aggregate function",
					Enum:        []string{"sum", "avg", "count", "min", "max"},
				},
				"filters": {
					Type:        "array",
					Description: "Filter conditions applied before grouping",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum groups to return (default 20)",
				},
			},
			[]string{"table_name", "group_by", "metric", "aggregation"},
		),
		NewToolDefinition(
			ToolExploreField,
			"Inspect a field's most common values with counts. Good first step before filtering or grouping on it",
			map[string]ParameterProperty{
				"field_name": {
					Type:        "string",
					Description: "The field to explore",
				},
				"sample_size": {
					Type:        "integer",
					Description: "How many distinct values to return (default 20)",
				},
			},
			[]string{"field_name"},
		),
		NewToolDefinition(
			ToolPreviewAggregation,
			"Preview an aggregation exactly as a chart section would render it. Use before add_section to sanity-check the data",
			map[string]ParameterProperty{
				"group_by": {
					Type:        "string",
					Description: "The field to group by",
				},
				"metric": {
					Type:        "string",
					Description: "The field to aggregate",
				},
				"aggregation": {
					Type:        "string",
					Description: "The aggregate function (default sum)",
					Enum:        []string{"sum", "avg", "count", "min", "max"},
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum groups to return (default 10)",
				},
			},
			[]string{"group_by", "metric"},
		),
		NewToolDefinition(
			ToolComparePeriods,
			"Compare a metric across two time periods and report the percent change, optionally per group",
			map[string]ParameterProperty{
				"metric": {
					Type:        "string",
					Description: "The field to aggregate in both periods",
				},
				"aggregation": {
					Type:        "string",
					Description: "The aggregate function",
					Enum:        []string{"sum", "avg", "count", "min", "max"},
				},
				"period1": {
					Type:        "string",
					Description: "Baseline period preset (e.g. 'last30' for the window before last)",
				},
				"period2": {
					Type:        "string",
					Description: "Current period preset to compare against the baseline",
				},
				"group_by": {
					Type:        "string",
					Description: "Optional field to break the comparison down by",
				},
			},
			[]string{"metric", "aggregation", "period1", "period2"},
		),
		NewToolDefinition(
			ToolDetectAnomalies,
			"Find groups whose aggregated metric deviates more than 2 standard deviations from the mean across groups",
			map[string]ParameterProperty{
				"metric": {
					Type:        "string",
					Description: "The field to aggregate per group",
				},
				"group_by": {
					Type:        "string",
					Description: "The field to group by (default carrier_name)",
				},
				"sensitivity": {
					Type:        "number",
					Description: "Deviation threshold in standard deviations (default 2)",
				},
				"baseline": {
					Type:        "string",
					Description: "Aggregate used per group before deviation is measured (default avg)",
					Enum:        []string{"sum", "avg", "count"},
				},
			},
			[]string{"metric"},
		),
		NewToolDefinition(
			ToolCreateReportDraft,
			"Start a new report draft. Must be called before any section tools",
			map[string]ParameterProperty{
				"name": {
					Type:        "string",
					Description: "Report title shown to the user",
				},
				"description": {
					Type:        "string",
					Description: "One-line description of what the report covers",
				},
				"theme": {
					Type:        "string",
					Description: "Visual theme name (default slate)",
				},
				"date_range": {
					Type:        "string",
					Description: "Period preset or 'custom:YYYY-MM-DD:YYYY-MM-DD' (default last30)",
				},
			},
			[]string{"name"},
		),
		NewToolDefinition(
			ToolAddSection,
			"Append a section to the draft. Chart sections with groupBy and metric get preview data attached automatically",
			map[string]ParameterProperty{
				"section_type": {
					Type:        "string",
					Description: "The section layout type",
					Enum:        []string{"hero", "stat-row", "chart", "table", "map", "header", "category-grid"},
				},
				"config": {
					Type:        "object",
					Description: "Section settings: groupBy, metric, aggregation, chartType, columns, filters, limit, sortDir, label",
				},
				"title": {
					Type:        "string",
					Description: "Section heading",
				},
				"position": {
					Type:        "integer",
					Description: "Insert position (appends when omitted)",
				},
			},
			[]string{"section_type", "config"},
		),
		NewToolDefinition(
			ToolModifySection,
			"Update an existing section by index. Only the provided keys change",
			map[string]ParameterProperty{
				"section_index": {
					Type:        "integer",
					Description: "Zero-based index of the section to modify",
				},
				"updates": {
					Type:        "object",
					Description: "Fields to change: title, config, insight",
				},
			},
			[]string{"section_index", "updates"},
		),
		NewToolDefinition(
			ToolRemoveSection,
			"Remove a section by index",
			map[string]ParameterProperty{
				"section_index": {
					Type:        "integer",
					Description: "Zero-based index of the section to remove",
				},
			},
			[]string{"section_index"},
		),
		NewToolDefinition(
			ToolFinalizeReport,
			"Finish the draft and return the completed report. Call once the report answers the user's request",
			map[string]ParameterProperty{
				"summary": {
					Type:        "string",
					Description: "Two or three sentences describing what the report shows",
				},
			},
			[]string{"summary"},
		),
		NewToolDefinition(
			ToolLearnTerminology,
			"Remember a term the user taught you, so future conversations understand it",
			map[string]ParameterProperty{
				"term": {
					Type:        "string",
					Description: "The word or phrase the user used",
				},
				"meaning": {
					Type:        "string",
					Description: "What the user said it means",
				},
				"maps_to_field": {
					Type:        "string",
					Description: "The data field this term refers to, when there is one",
				},
				"confidence": {
					Type:        "number",
					Description: "How certain you are, 0 to 1",
				},
			},
			[]string{"term", "meaning", "confidence"},
		),
		NewToolDefinition(
			ToolLearnPreference,
			"Remember a presentation preference the user expressed (chart types, ordering, themes)",
			map[string]ParameterProperty{
				"preference_type": {
					Type:        "string",
					Description: "The kind of preference (e.g. 'chart_type', 'theme', 'sort_order')",
				},
				"key": {
					Type:        "string",
					Description: "What the preference applies to",
				},
				"value": {
					Type:        "string",
					Description: "The preferred choice",
				},
			},
			[]string{"preference_type", "key", "value"},
		),
		NewToolDefinition(
			ToolAskClarification,
			"Ask the user a clarifying question when the request is ambiguous. Ends the current turn",
			map[string]ParameterProperty{
				"question": {
					Type:        "string",
					Description: "The question to ask",
				},
				"options": {
					Type:        "array",
					Description: "Suggested answers to pick from",
				},
				"context": {
					Type:        "string",
					Description: "Why you are asking",
				},
			},
			[]string{"question"},
		),
	}
}
