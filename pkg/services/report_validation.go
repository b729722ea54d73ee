package services

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// Validation issue codes.
const (
	IssueEmptyName          = "empty_name"
	IssueNoSections         = "no_sections"
	IssueInvalidSectionType = "invalid_section_type"
	IssueUnknownField       = "unknown_field"
	IssueMissingConfig      = "missing_config"
	IssueInvalidAggregation = "invalid_aggregation"
	IssueInvalidChartType   = "invalid_chart_type"
	IssueInvalidDateRange   = "invalid_date_range"
	IssueMissingTheme       = "missing_theme"
)

var validAggregations = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
}

var validChartTypes = map[string]bool{
	"bar": true, "line": true, "pie": true, "donut": true, "area": true,
}

// ValidationIssue is one problem found in a report definition. Section is
// the index of the offending section, or -1 for report-level issues.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Section int    `json:"section"`
	Fixable bool   `json:"fixable"`
}

// ReportValidationService checks finished definitions for structural
// problems before they are persisted or returned, and attempts one
// mechanical repair pass.
type ReportValidationService interface {
	// Validate returns all issues found. An empty slice means the
	// definition is renderable.
	Validate(report *models.ReportDefinition, schema *models.SchemaContext) []ValidationIssue

	// AttemptAutoFix applies one repair pass to a copy of the definition:
	// defaults for missing theme/name/date range, safe substitutes for bad
	// aggregations and chart types, and removal of sections that cannot be
	// repaired. Returns nil when the result still fails validation. Running
	// it on an already-fixed definition changes nothing.
	AttemptAutoFix(report *models.ReportDefinition, schema *models.SchemaContext) *models.ReportDefinition
}

type reportValidationService struct {
	logger *zap.Logger
}

// NewReportValidationService creates a new ReportValidationService.
func NewReportValidationService(logger *zap.Logger) ReportValidationService {
	return &reportValidationService{logger: logger.Named("report_validation")}
}

var _ ReportValidationService = (*reportValidationService)(nil)

func (s *reportValidationService) Validate(report *models.ReportDefinition, schema *models.SchemaContext) []ValidationIssue {
	issues := make([]ValidationIssue, 0)

	if strings.TrimSpace(report.Name) == "" {
		issues = append(issues, ValidationIssue{
			Code: IssueEmptyName, Message: "report name is empty", Section: -1, Fixable: true,
		})
	}
	if report.Theme == "" {
		issues = append(issues, ValidationIssue{
			Code: IssueMissingTheme, Message: "report theme is not set", Section: -1, Fixable: true,
		})
	}
	if !validDateRange(report.DateRange) {
		issues = append(issues, ValidationIssue{
			Code:    IssueInvalidDateRange,
			Message: fmt.Sprintf("date range %q is not a known preset or valid custom range", report.DateRange.Type),
			Section: -1, Fixable: true,
		})
	}
	if len(report.Sections) == 0 {
		issues = append(issues, ValidationIssue{
			Code: IssueNoSections, Message: "report has no sections", Section: -1, Fixable: false,
		})
	}

	calcFields := make(map[string]bool, len(report.CalculatedFields))
	for _, cf := range report.CalculatedFields {
		calcFields[strings.ToLower(cf.Name)] = true
	}
	fieldKnown := func(name string) bool {
		return schema.HasField(name) || calcFields[strings.ToLower(name)]
	}

	for _, cf := range report.CalculatedFields {
		for _, ref := range calculatedFieldRefs(&cf) {
			if fieldKnown(ref) {
				continue
			}
			issues = append(issues, ValidationIssue{
				Code:    IssueUnknownField,
				Message: fmt.Sprintf("calculated field %q references unknown field %q", cf.Name, ref),
				Section: -1, Fixable: false,
			})
		}
	}

	for i, section := range report.Sections {
		issues = append(issues, validateSection(i, &section, fieldKnown)...)
	}

	return issues
}

// calculatedFieldRefs returns the base fields a calculated field depends on.
// Declared Fields are authoritative; when absent the formula's identifier
// tokens are used, skipping numeric literals.
func calculatedFieldRefs(cf *models.CalculatedField) []string {
	if len(cf.Fields) > 0 {
		return cf.Fields
	}
	var refs []string
	for _, tok := range formulaTokens(cf.Formula) {
		if tok[0] >= '0' && tok[0] <= '9' {
			continue
		}
		refs = append(refs, tok)
	}
	return refs
}

func validateSection(idx int, section *models.ReportSection, fieldKnown func(string) bool) []ValidationIssue {
	var issues []ValidationIssue

	if !models.IsValidSectionType(section.Type) {
		issues = append(issues, ValidationIssue{
			Code:    IssueInvalidSectionType,
			Message: fmt.Sprintf("unknown section type %q", section.Type),
			Section: idx, Fixable: false,
		})
		return issues
	}

	cfg := section.Config
	switch section.Type {
	case models.SectionTypeChart:
		if cfg.GroupBy == "" || cfg.Metric == "" {
			issues = append(issues, ValidationIssue{
				Code:    IssueMissingConfig,
				Message: "chart section requires groupBy and metric",
				Section: idx, Fixable: false,
			})
		}
		if cfg.ChartType != "" && !validChartTypes[cfg.ChartType] {
			issues = append(issues, ValidationIssue{
				Code:    IssueInvalidChartType,
				Message: fmt.Sprintf("unknown chart type %q", cfg.ChartType),
				Section: idx, Fixable: true,
			})
		}
	case models.SectionTypeTable:
		if len(cfg.Columns) == 0 {
			issues = append(issues, ValidationIssue{
				Code:    IssueMissingConfig,
				Message: "table section requires columns",
				Section: idx, Fixable: false,
			})
		}
	case models.SectionTypeHero, models.SectionTypeStatRow:
		if cfg.Metric == "" {
			issues = append(issues, ValidationIssue{
				Code:    IssueMissingConfig,
				Message: fmt.Sprintf("%s section requires a metric", section.Type),
				Section: idx, Fixable: false,
			})
		}
	case models.SectionTypeCategoryGrid, models.SectionTypeMap:
		if cfg.GroupBy == "" {
			issues = append(issues, ValidationIssue{
				Code:    IssueMissingConfig,
				Message: fmt.Sprintf("%s section requires groupBy", section.Type),
				Section: idx, Fixable: false,
			})
		}
	}

	if cfg.Aggregation != "" && !validAggregations[cfg.Aggregation] {
		issues = append(issues, ValidationIssue{
			Code:    IssueInvalidAggregation,
			Message: fmt.Sprintf("unknown aggregation %q", cfg.Aggregation),
			Section: idx, Fixable: true,
		})
	}

	// count works over any field, including "*"
	for _, ref := range sectionFieldRefs(&cfg) {
		if ref == "*" || fieldKnown(ref) {
			continue
		}
		issues = append(issues, ValidationIssue{
			Code:    IssueUnknownField,
			Message: fmt.Sprintf("field %q does not exist", ref),
			Section: idx, Fixable: false,
		})
	}

	return issues
}

func sectionFieldRefs(cfg *models.SectionConfig) []string {
	refs := make([]string, 0, 4+len(cfg.Columns)+len(cfg.Filters))
	if cfg.GroupBy != "" {
		refs = append(refs, cfg.GroupBy)
	}
	if cfg.Metric != "" {
		refs = append(refs, cfg.Metric)
	}
	refs = append(refs, cfg.Columns...)
	for _, f := range cfg.Filters {
		if f.Field != "" {
			refs = append(refs, f.Field)
		}
	}
	return refs
}

func validDateRange(dr models.DateRange) bool {
	if dr.Type == models.PeriodCustom {
		if _, err := time.Parse("2006-01-02", dr.Start); err != nil {
			return false
		}
		if _, err := time.Parse("2006-01-02", dr.End); err != nil {
			return false
		}
		return true
	}
	for _, preset := range models.ValidPeriodPresets {
		if dr.Type == preset {
			return true
		}
	}
	return false
}

func (s *reportValidationService) AttemptAutoFix(report *models.ReportDefinition, schema *models.SchemaContext) *models.ReportDefinition {
	fixed := report.Clone()

	if strings.TrimSpace(fixed.Name) == "" {
		fixed.Name = "Untitled Report"
	}
	if fixed.Theme == "" {
		fixed.Theme = models.DefaultReportTheme
	}
	if !validDateRange(fixed.DateRange) {
		fixed.DateRange = models.DateRange{Type: models.PeriodLast30}
	}

	// Calculated fields with dangling references go first; sections that
	// depended on them are then dropped by the same unknown-field check.
	calcFields := make(map[string]bool, len(fixed.CalculatedFields))
	for _, cf := range fixed.CalculatedFields {
		calcFields[strings.ToLower(cf.Name)] = true
	}
	keptCalc := fixed.CalculatedFields[:0]
	for i := range fixed.CalculatedFields {
		cf := fixed.CalculatedFields[i]
		ok := true
		for _, ref := range calculatedFieldRefs(&cf) {
			if !schema.HasField(ref) && !calcFields[strings.ToLower(ref)] {
				ok = false
				break
			}
		}
		if !ok {
			s.logger.Debug("auto-fix dropped calculated field with unknown reference",
				zap.String("name", cf.Name))
			delete(calcFields, strings.ToLower(cf.Name))
			continue
		}
		keptCalc = append(keptCalc, cf)
	}
	fixed.CalculatedFields = keptCalc

	fieldKnown := func(name string) bool {
		return schema.HasField(name) || calcFields[strings.ToLower(name)]
	}

	kept := fixed.Sections[:0]
	for i := range fixed.Sections {
		section := fixed.Sections[i]
		if section.Config.Aggregation != "" && !validAggregations[section.Config.Aggregation] {
			section.Config.Aggregation = "count"
		}
		if section.Type == models.SectionTypeChart &&
			section.Config.ChartType != "" && !validChartTypes[section.Config.ChartType] {
			section.Config.ChartType = "bar"
		}
		if len(validateSection(0, &section, fieldKnown)) > 0 {
			s.logger.Debug("auto-fix dropped unrepairable section",
				zap.String("title", section.Title),
				zap.String("type", section.Type))
			continue
		}
		kept = append(kept, section)
	}
	fixed.Sections = kept

	if len(s.Validate(fixed, schema)) > 0 {
		return nil
	}
	return fixed
}
