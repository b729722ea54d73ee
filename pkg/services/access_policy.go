package services

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// restrictedFields are margin-revealing columns that only admin callers may
// reference. The warehouse layer refuses to select them for non-admins; this
// policy is the second, authoritative gate over finished report definitions,
// since the model can write a field name into a definition without ever
// querying it.
var restrictedFields = map[string]string{
	"cost":              "amount paid to the carrier",
	"margin":            "retail minus carrier cost",
	"avg_cost_per_mile": "average carrier cost per mile",
}

// EnforcementResult is the outcome of screening a report definition.
type EnforcementResult struct {
	Allowed    bool                     // true when nothing was removed
	Sanitized  *models.ReportDefinition // definition with offending parts removed
	Violations []AccessViolation
}

// AccessViolation records one restricted-field reference found during
// enforcement.
type AccessViolation struct {
	Field        string
	SectionTitle string // empty for calculated-field violations
	Location     string // metric, groupBy, columns, filters, formula
}

// AccessPolicy decides which fields a caller may reference and strips
// restricted references from report definitions. Prompt instructions steer
// the model away from restricted fields, but the code path is what actually
// enforces the rule.
type AccessPolicy interface {
	// FieldAllowed reports whether the caller may reference the field.
	FieldAllowed(field string, isAdmin bool) bool

	// RestrictedFieldNames returns the restricted field names, for building
	// warehouse query guards and prompt text.
	RestrictedFieldNames() []string

	// PromptInstructions renders the access rules for the system prompt.
	PromptInstructions(isAdmin bool) string

	// Enforce screens a finished definition. Admin callers pass through
	// untouched. For everyone else, sections referencing a restricted field
	// anywhere in their config are removed wholesale, as are calculated
	// fields whose formula or field list touches one. The input is never
	// mutated.
	Enforce(report *models.ReportDefinition, isAdmin bool) *EnforcementResult
}

type accessPolicy struct {
	logger *zap.Logger
}

// NewAccessPolicy creates a new AccessPolicy.
func NewAccessPolicy(logger *zap.Logger) AccessPolicy {
	return &accessPolicy{logger: logger.Named("access_policy")}
}

var _ AccessPolicy = (*accessPolicy)(nil)

func (p *accessPolicy) FieldAllowed(field string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	_, restricted := restrictedFields[strings.ToLower(strings.TrimSpace(field))]
	return !restricted
}

func (p *accessPolicy) RestrictedFieldNames() []string {
	names := make([]string, 0, len(restrictedFields))
	for name := range restrictedFields {
		names = append(names, name)
	}
	return names
}

func (p *accessPolicy) PromptInstructions(isAdmin bool) string {
	if isAdmin {
		return "## Field Access\n\nYou are assisting an administrator. All fields, including cost, margin, and avg_cost_per_mile, are available.\n"
	}

	var b strings.Builder
	b.WriteString("## Field Access\n\n")
	b.WriteString("The following fields are NOT available and must never appear in any section, filter, column list, or formula:\n")
	for name, meaning := range restrictedFields {
		b.WriteString(fmt.Sprintf("- %s (%s)\n", name, meaning))
	}
	b.WriteString("\nIf the user asks for cost, margin, or profitability data, explain that those figures are not available in their reports and offer revenue-side alternatives.\n")
	b.WriteString("Revenue fields ARE accessible: retail (billed amount) and accessorial_total are not cost fields and may be used freely.\n")
	return b.String()
}

func (p *accessPolicy) Enforce(report *models.ReportDefinition, isAdmin bool) *EnforcementResult {
	if isAdmin {
		return &EnforcementResult{Allowed: true, Sanitized: report.Clone()}
	}

	sanitized := report.Clone()
	var violations []AccessViolation

	kept := sanitized.Sections[:0]
	for _, section := range sanitized.Sections {
		if v := sectionViolation(&section); v != nil {
			violations = append(violations, *v)
			continue
		}
		kept = append(kept, section)
	}
	sanitized.Sections = kept

	keptCF := sanitized.CalculatedFields[:0]
	for _, cf := range sanitized.CalculatedFields {
		if field := calculatedFieldViolation(&cf); field != "" {
			violations = append(violations, AccessViolation{Field: field, Location: "formula"})
			continue
		}
		keptCF = append(keptCF, cf)
	}
	sanitized.CalculatedFields = keptCF

	if len(violations) > 0 {
		p.logger.Warn("removed restricted field references from report",
			zap.String("report_id", report.ID),
			zap.Int("violations", len(violations)))
	}

	return &EnforcementResult{
		Allowed:    len(violations) == 0,
		Sanitized:  sanitized,
		Violations: violations,
	}
}

// sectionViolation returns the first restricted reference in a section's
// config, or nil.
func sectionViolation(section *models.ReportSection) *AccessViolation {
	cfg := section.Config
	if isRestricted(cfg.Metric) {
		return &AccessViolation{Field: normalizeField(cfg.Metric), SectionTitle: section.Title, Location: "metric"}
	}
	if isRestricted(cfg.GroupBy) {
		return &AccessViolation{Field: normalizeField(cfg.GroupBy), SectionTitle: section.Title, Location: "groupBy"}
	}
	for _, col := range cfg.Columns {
		if isRestricted(col) {
			return &AccessViolation{Field: normalizeField(col), SectionTitle: section.Title, Location: "columns"}
		}
	}
	for _, f := range cfg.Filters {
		if isRestricted(f.Field) {
			return &AccessViolation{Field: normalizeField(f.Field), SectionTitle: section.Title, Location: "filters"}
		}
	}
	return nil
}

// calculatedFieldViolation returns the restricted field a calculated field
// references, or "". Formulas are free text, so the check scans for
// restricted names as word tokens in addition to the declared field list.
func calculatedFieldViolation(cf *models.CalculatedField) string {
	for _, f := range cf.Fields {
		if isRestricted(f) {
			return normalizeField(f)
		}
	}
	for _, token := range formulaTokens(cf.Formula) {
		if isRestricted(token) {
			return normalizeField(token)
		}
	}
	return ""
}

func isRestricted(field string) bool {
	if field == "" {
		return false
	}
	_, ok := restrictedFields[normalizeField(field)]
	return ok
}

func normalizeField(field string) string {
	return strings.ToLower(strings.TrimSpace(field))
}

// formulaTokens splits a formula into identifier tokens.
func formulaTokens(formula string) []string {
	return strings.FieldsFunc(formula, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return false
		}
		return true
	})
}
