package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

func testSchema() *models.SchemaContext {
	return &models.SchemaContext{
		Source: models.SchemaSourceDefaults,
		Fields: []models.SchemaField{
			{Name: "load_id", DataType: "text", Searchable: true},
			{Name: "carrier_name", DataType: "text", Groupable: true, Searchable: true},
			{Name: "origin_city", DataType: "text", Groupable: true},
			{Name: "origin_state", DataType: "text", Groupable: true},
			{Name: "retail", DataType: "numeric", Aggregatable: true},
			{Name: "miles", DataType: "numeric", Aggregatable: true},
			{Name: "cost", DataType: "numeric", Aggregatable: true, AdminOnly: true},
			{Name: "pickup_date", DataType: "date", Groupable: true},
			{Name: "status", DataType: "text", Groupable: true},
		},
	}
}

func validReport() *models.ReportDefinition {
	return &models.ReportDefinition{
		ID:        "rpt-1",
		Name:      "Carrier Performance",
		Theme:     "slate",
		DateRange: models.DateRange{Type: models.PeriodLast30},
		Sections: []models.ReportSection{
			{
				Type:   models.SectionTypeHero,
				Title:  "Total Revenue",
				Config: models.SectionConfig{Metric: "retail", Aggregation: "sum"},
			},
			{
				Type:  models.SectionTypeChart,
				Title: "Loads by Carrier",
				Config: models.SectionConfig{
					GroupBy: "carrier_name", Metric: "*", Aggregation: "count", ChartType: "bar",
				},
			},
			{
				Type:   models.SectionTypeTable,
				Title:  "Load Detail",
				Config: models.SectionConfig{Columns: []string{"load_id", "carrier_name", "retail"}},
			},
		},
	}
}

func TestValidate_CleanReport(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())
	issues := svc.Validate(validReport(), testSchema())
	assert.Empty(t, issues)
}

func TestValidate_ReportLevelIssues(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := &models.ReportDefinition{
		Name:      "   ",
		DateRange: models.DateRange{Type: "last2centuries"},
	}
	issues := svc.Validate(report, testSchema())

	codes := issueCodes(issues)
	assert.Contains(t, codes, IssueEmptyName)
	assert.Contains(t, codes, IssueMissingTheme)
	assert.Contains(t, codes, IssueInvalidDateRange)
	assert.Contains(t, codes, IssueNoSections)

	for _, issue := range issues {
		assert.Equal(t, -1, issue.Section, "report-level issues carry section -1")
	}
}

func TestValidate_CustomDateRange(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	tests := []struct {
		name  string
		dr    models.DateRange
		valid bool
	}{
		{"valid custom", models.DateRange{Type: "custom", Start: "2026-01-01", End: "2026-06-30"}, true},
		{"missing end", models.DateRange{Type: "custom", Start: "2026-01-01"}, false},
		{"malformed start", models.DateRange{Type: "custom", Start: "01/01/2026", End: "2026-06-30"}, false},
		{"preset ytd", models.DateRange{Type: models.PeriodYTD}, true},
		{"preset all", models.DateRange{Type: models.PeriodAll}, true},
		{"custom bare", models.DateRange{Type: "custom"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validReport()
			report.DateRange = tt.dr
			issues := svc.Validate(report, testSchema())
			if tt.valid {
				assert.NotContains(t, issueCodes(issues), IssueInvalidDateRange)
			} else {
				assert.Contains(t, issueCodes(issues), IssueInvalidDateRange)
			}
		})
	}
}

func TestValidate_SectionIssues(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	tests := []struct {
		name     string
		section  models.ReportSection
		wantCode string
	}{
		{
			name:     "unknown section type",
			section:  models.ReportSection{Type: "banner"},
			wantCode: IssueInvalidSectionType,
		},
		{
			name:     "chart missing groupBy",
			section:  models.ReportSection{Type: models.SectionTypeChart, Config: models.SectionConfig{Metric: "retail"}},
			wantCode: IssueMissingConfig,
		},
		{
			name:     "table without columns",
			section:  models.ReportSection{Type: models.SectionTypeTable},
			wantCode: IssueMissingConfig,
		},
		{
			name:     "hero without metric",
			section:  models.ReportSection{Type: models.SectionTypeHero},
			wantCode: IssueMissingConfig,
		},
		{
			name:     "map without groupBy",
			section:  models.ReportSection{Type: models.SectionTypeMap},
			wantCode: IssueMissingConfig,
		},
		{
			name: "bad aggregation",
			section: models.ReportSection{Type: models.SectionTypeHero,
				Config: models.SectionConfig{Metric: "retail", Aggregation: "median"}},
			wantCode: IssueInvalidAggregation,
		},
		{
			name: "bad chart type",
			section: models.ReportSection{Type: models.SectionTypeChart,
				Config: models.SectionConfig{GroupBy: "status", Metric: "retail", ChartType: "sparkline"}},
			wantCode: IssueInvalidChartType,
		},
		{
			name: "unknown field",
			section: models.ReportSection{Type: models.SectionTypeHero,
				Config: models.SectionConfig{Metric: "fuel_surcharge", Aggregation: "sum"}},
			wantCode: IssueUnknownField,
		},
		{
			name: "unknown filter field",
			section: models.ReportSection{Type: models.SectionTypeHero,
				Config: models.SectionConfig{Metric: "retail", Aggregation: "sum",
					Filters: []models.FilterCondition{{Field: "temperature", Operator: "gt", Value: 0}}}},
			wantCode: IssueUnknownField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validReport()
			report.Sections = append(report.Sections, tt.section)
			issues := svc.Validate(report, testSchema())
			require.NotEmpty(t, issues)
			assert.Contains(t, issueCodes(issues), tt.wantCode)
			// The offending section is the one we appended.
			for _, issue := range issues {
				assert.Equal(t, len(report.Sections)-1, issue.Section)
			}
		})
	}
}

func TestValidate_CalculatedFieldsAreKnownFields(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := validReport()
	report.CalculatedFields = []models.CalculatedField{
		{Name: "revenue_per_mile", Formula: "retail / miles", Fields: []string{"retail", "miles"}},
	}
	report.Sections = append(report.Sections, models.ReportSection{
		Type:   models.SectionTypeChart,
		Title:  "RPM by Carrier",
		Config: models.SectionConfig{GroupBy: "carrier_name", Metric: "revenue_per_mile", Aggregation: "avg", ChartType: "bar"},
	})

	issues := svc.Validate(report, testSchema())
	assert.Empty(t, issues, "calculated field names count as known fields")
}

func TestValidate_CalculatedFieldDanglingReference(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := validReport()
	report.CalculatedFields = []models.CalculatedField{
		{Name: "phantom_rate", Formula: "fuel_surcharge / miles", Fields: []string{"fuel_surcharge", "miles"}},
	}

	issues := svc.Validate(report, testSchema())
	require.NotEmpty(t, issues)
	assert.Contains(t, issueCodes(issues), IssueUnknownField)
	for _, issue := range issues {
		assert.Equal(t, -1, issue.Section, "calculated-field issues are report-level")
		assert.Contains(t, issue.Message, "fuel_surcharge")
	}

	// With no declared fields, references come from the formula itself.
	report.CalculatedFields[0].Fields = nil
	issues = svc.Validate(report, testSchema())
	assert.Contains(t, issueCodes(issues), IssueUnknownField)
}

func TestAttemptAutoFix_DropsDanglingCalculatedField(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := validReport()
	report.CalculatedFields = []models.CalculatedField{
		{Name: "revenue_per_mile", Formula: "retail / miles", Fields: []string{"retail", "miles"}},
		{Name: "phantom_rate", Formula: "fuel_surcharge / miles", Fields: []string{"fuel_surcharge", "miles"}},
	}
	report.Sections = append(report.Sections, models.ReportSection{
		Type:   models.SectionTypeChart,
		Title:  "Phantom Rate by Carrier",
		Config: models.SectionConfig{GroupBy: "carrier_name", Metric: "phantom_rate", Aggregation: "avg", ChartType: "bar"},
	})

	fixed := svc.AttemptAutoFix(report, testSchema())
	require.NotNil(t, fixed)

	require.Len(t, fixed.CalculatedFields, 1)
	assert.Equal(t, "revenue_per_mile", fixed.CalculatedFields[0].Name)

	// The section built on the dropped field goes with it.
	require.Len(t, fixed.Sections, 3)
	for _, s := range fixed.Sections {
		assert.NotEqual(t, "phantom_rate", s.Config.Metric)
	}
	assert.Empty(t, svc.Validate(fixed, testSchema()))
}

func TestAttemptAutoFix_RepairsFixableIssues(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := validReport()
	report.Name = ""
	report.Theme = ""
	report.DateRange = models.DateRange{Type: "sometime"}
	report.Sections[1].Config.Aggregation = "median"
	report.Sections[1].Config.ChartType = "sparkline"

	fixed := svc.AttemptAutoFix(report, testSchema())
	require.NotNil(t, fixed)

	assert.Equal(t, "Untitled Report", fixed.Name)
	assert.Equal(t, models.DefaultReportTheme, fixed.Theme)
	assert.Equal(t, models.PeriodLast30, fixed.DateRange.Type)
	assert.Equal(t, "count", fixed.Sections[1].Config.Aggregation)
	assert.Equal(t, "bar", fixed.Sections[1].Config.ChartType)

	assert.Empty(t, svc.Validate(fixed, testSchema()))

	// Original is untouched.
	assert.Empty(t, report.Name)
	assert.Equal(t, "median", report.Sections[1].Config.Aggregation)
}

func TestAttemptAutoFix_DropsUnrepairableSections(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := validReport()
	report.Sections = append(report.Sections,
		models.ReportSection{Type: "banner", Title: "Bad Type"},
		models.ReportSection{Type: models.SectionTypeHero, Title: "Ghost Metric",
			Config: models.SectionConfig{Metric: "fuel_surcharge", Aggregation: "sum"}},
	)

	fixed := svc.AttemptAutoFix(report, testSchema())
	require.NotNil(t, fixed)
	require.Len(t, fixed.Sections, 3)
	for _, s := range fixed.Sections {
		assert.NotEqual(t, "banner", s.Type)
		assert.NotEqual(t, "Ghost Metric", s.Title)
	}
}

func TestAttemptAutoFix_NilWhenNothingSurvives(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := &models.ReportDefinition{
		Name:      "Doomed",
		Theme:     "slate",
		DateRange: models.DateRange{Type: models.PeriodLast7},
		Sections: []models.ReportSection{
			{Type: models.SectionTypeChart, Config: models.SectionConfig{}},
		},
	}

	fixed := svc.AttemptAutoFix(report, testSchema())
	assert.Nil(t, fixed, "dropping every section leaves no_sections, which is not fixable")
}

func TestAttemptAutoFix_Idempotent(t *testing.T) {
	svc := NewReportValidationService(zap.NewNop())

	report := validReport()
	report.Theme = ""
	report.Sections[0].Config.Aggregation = "median"

	first := svc.AttemptAutoFix(report, testSchema())
	require.NotNil(t, first)
	second := svc.AttemptAutoFix(first, testSchema())
	require.NotNil(t, second)
	assert.Equal(t, first, second)
}

func issueCodes(issues []ValidationIssue) []string {
	codes := make([]string, len(issues))
	for i, issue := range issues {
		codes[i] = issue.Code
	}
	return codes
}
