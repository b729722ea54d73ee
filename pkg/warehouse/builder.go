package warehouse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/sqlguard"
)

// ErrMissingCustomerScope is returned when a query is built without a
// customer ID. Every warehouse statement is scoped to exactly one customer.
var ErrMissingCustomerScope = errors.New("warehouse query requires a customer scope")

// InjectionError reports a model-supplied value that failed SQL injection
// screening. Callers log these to the security audit trail.
type InjectionError struct {
	Check *sqlguard.InjectionCheckResult
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("parameter %q failed SQL injection screening (fingerprint %s)", e.Check.ParamName, e.Check.Fingerprint)
}

// Filter is a single WHERE predicate taken from tool arguments.
// Supported operators: eq, neq, gt, gte, lt, lte, like, in.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Aggregation is a single aggregate expression taken from tool arguments.
// Supported functions: count, sum, avg, min, max. Field "*" is only valid
// with count.
type Aggregation struct {
	Func  string `json:"func"`
	Field string `json:"field"`
	Alias string `json:"alias,omitempty"`
}

// Text search match modes.
const (
	MatchContains = "contains"
	MatchExact    = "exact"
	MatchPrefix   = "prefix"
)

// TextSearch is an OR group of LIKE predicates over text columns, taken
// from the search_text tool. The term is bound once and compared against
// every listed field.
type TextSearch struct {
	Fields []string
	Term   string
	Match  string // contains when empty
}

// QuerySpec describes a single-table SELECT over the warehouse. When
// GroupBy or Aggregations is non-empty the statement groups by GroupBy
// and selects the group columns plus the aggregate expressions; Fields is
// ignored in that case. Otherwise the statement selects Fields, or every
// column the caller may see when Fields is empty.
type QuerySpec struct {
	Table        string
	Fields       []string
	Filters      []Filter
	DateField    string    // period column; empty uses the table default
	PeriodStart  time.Time // inclusive
	PeriodEnd    time.Time // exclusive
	Search       *TextSearch
	GroupBy      []string
	Aggregations []Aggregation
	OrderBy      string // must name a selected column or aggregate alias
	OrderDesc    bool
	Limit        int
}

var comparisonOps = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

var aggregateFuncs = map[string]string{
	"count": "COUNT",
	"sum":   "SUM",
	"avg":   "AVG",
	"min":   "MIN",
	"max":   "MAX",
}

// Builder renders QuerySpecs into parameterized SQL for one dialect.
// Values are always bound as parameters, never interpolated; identifiers
// are validated against the catalog and quoted by the dialect.
type Builder struct {
	catalog *Catalog
	dialect Dialect
}

// NewBuilder creates a query builder over the given catalog and dialect.
func NewBuilder(catalog *Catalog, dialect Dialect) *Builder {
	return &Builder{catalog: catalog, dialect: dialect}
}

// Build renders spec into SQL with positional parameters. The statement is
// always scoped to customerID via the table's scope column as $1.
// Restricted columns are rejected anywhere in the spec unless
// includeRestricted is set.
func (b *Builder) Build(customerID uuid.UUID, includeRestricted bool, spec *QuerySpec) (string, []any, error) {
	if customerID == uuid.Nil {
		return "", nil, ErrMissingCustomerScope
	}

	if err := sqlguard.RequireIdentifier("table", spec.Table); err != nil {
		return "", nil, err
	}
	table, ok := b.catalog.Table(spec.Table)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTable, spec.Table)
	}

	resolve := func(name string) (*FieldDef, error) {
		if err := sqlguard.RequireIdentifier("field", name); err != nil {
			return nil, err
		}
		f, ok := table.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", apperrors.ErrUnknownField, table.Name, name)
		}
		if f.Restricted && !includeRestricted {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrRestrictedField, name)
		}
		return f, nil
	}

	// SELECT list. Names in orderable are valid ORDER BY targets.
	var selectCols, groupCols []string
	orderable := make(map[string]bool)

	if len(spec.GroupBy) > 0 || len(spec.Aggregations) > 0 {
		for _, name := range spec.GroupBy {
			f, err := resolve(name)
			if err != nil {
				return "", nil, err
			}
			quoted := b.dialect.QuoteIdentifier(f.Name)
			selectCols = append(selectCols, quoted)
			groupCols = append(groupCols, quoted)
			orderable[f.Name] = true
		}
		for _, agg := range spec.Aggregations {
			fn, ok := aggregateFuncs[agg.Func]
			if !ok {
				return "", nil, fmt.Errorf("unsupported aggregate function %q", agg.Func)
			}
			var expr string
			if agg.Field == "*" {
				if agg.Func != "count" {
					return "", nil, fmt.Errorf("aggregate %q requires a named field", agg.Func)
				}
				expr = "COUNT(*)"
			} else {
				f, err := resolve(agg.Field)
				if err != nil {
					return "", nil, err
				}
				if (agg.Func == "sum" || agg.Func == "avg") && f.Type != FieldTypeNumeric {
					return "", nil, fmt.Errorf("cannot %s non-numeric field %q", agg.Func, agg.Field)
				}
				expr = fmt.Sprintf("%s(%s)", fn, b.dialect.QuoteIdentifier(f.Name))
			}
			alias := agg.Alias
			if alias == "" {
				alias = defaultAlias(agg)
			}
			if err := sqlguard.RequireIdentifier("alias", alias); err != nil {
				return "", nil, err
			}
			selectCols = append(selectCols, fmt.Sprintf("%s AS %s", expr, b.dialect.QuoteIdentifier(alias)))
			orderable[alias] = true
		}
	} else {
		names := spec.Fields
		if len(names) == 0 {
			names = table.FieldNames(includeRestricted)
		}
		for _, name := range names {
			f, err := resolve(name)
			if err != nil {
				return "", nil, err
			}
			selectCols = append(selectCols, b.dialect.QuoteIdentifier(f.Name))
			orderable[f.Name] = true
		}
	}
	if len(selectCols) == 0 {
		return "", nil, fmt.Errorf("query on %q selects no columns", table.Name)
	}

	// WHERE clause. The customer scope is always the first condition and
	// the first parameter. The ID travels as a string so both drivers can
	// bind it.
	params := []any{customerID.String()}
	conds := []string{fmt.Sprintf("%s = $1", b.dialect.QuoteIdentifier(table.ScopeColumn))}

	if !spec.PeriodStart.IsZero() || !spec.PeriodEnd.IsZero() {
		dateName := spec.DateField
		if dateName == "" {
			dateName = table.DateColumn
		}
		if dateName == "" {
			return "", nil, fmt.Errorf("table %q has no date column for period filtering", table.Name)
		}
		f, err := resolve(dateName)
		if err != nil {
			return "", nil, err
		}
		if f.Type != FieldTypeDate {
			return "", nil, fmt.Errorf("field %q is not a date column", dateName)
		}
		quoted := b.dialect.QuoteIdentifier(f.Name)
		if !spec.PeriodStart.IsZero() {
			params = append(params, spec.PeriodStart)
			conds = append(conds, fmt.Sprintf("%s >= $%d", quoted, len(params)))
		}
		if !spec.PeriodEnd.IsZero() {
			params = append(params, spec.PeriodEnd)
			conds = append(conds, fmt.Sprintf("%s < $%d", quoted, len(params)))
		}
	}

	for _, flt := range spec.Filters {
		f, err := resolve(flt.Field)
		if err != nil {
			return "", nil, err
		}
		if check := sqlguard.CheckParameterForInjection(flt.Field, flt.Value); check != nil {
			return "", nil, &InjectionError{Check: check}
		}
		quoted := b.dialect.QuoteIdentifier(f.Name)

		switch flt.Op {
		case "like":
			term, _ := flt.Value.(string)
			term = sqlguard.NormalizeSearchTerm(term)
			if term == "" {
				return "", nil, fmt.Errorf("like filter on %q requires a string value", flt.Field)
			}
			params = append(params, "%"+term+"%")
			conds = append(conds, fmt.Sprintf("LOWER(%s) LIKE LOWER($%d)", quoted, len(params)))
		case "in":
			items, ok := toSlice(flt.Value)
			if !ok || len(items) == 0 {
				return "", nil, fmt.Errorf("in filter on %q requires a non-empty array", flt.Field)
			}
			placeholders := make([]string, 0, len(items))
			for _, item := range items {
				if check := sqlguard.CheckParameterForInjection(flt.Field, item); check != nil {
					return "", nil, &InjectionError{Check: check}
				}
				params = append(params, item)
				placeholders = append(placeholders, fmt.Sprintf("$%d", len(params)))
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", quoted, strings.Join(placeholders, ", ")))
		default:
			op, ok := comparisonOps[flt.Op]
			if !ok {
				return "", nil, fmt.Errorf("unsupported filter operator %q", flt.Op)
			}
			params = append(params, flt.Value)
			conds = append(conds, fmt.Sprintf("%s %s $%d", quoted, op, len(params)))
		}
	}

	if spec.Search != nil {
		cond, err := b.buildSearchCondition(table, spec.Search, &params, resolve)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectCols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.dialect.QuoteIdentifier(table.Name))
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conds, " AND "))
	if len(groupCols) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groupCols, ", "))
	}

	if spec.OrderBy != "" {
		if err := sqlguard.RequireIdentifier("order_by", spec.OrderBy); err != nil {
			return "", nil, err
		}
		if !orderable[spec.OrderBy] {
			return "", nil, fmt.Errorf("%w: order_by %q is not in the select list", apperrors.ErrUnknownField, spec.OrderBy)
		}
		dir := "ASC"
		if spec.OrderDesc {
			dir = "DESC"
		}
		sb.WriteString(fmt.Sprintf(" ORDER BY %s %s", b.dialect.QuoteIdentifier(spec.OrderBy), dir))
	}

	return b.dialect.ApplyLimit(sb.String(), clampLimit(spec.Limit)), params, nil
}

// buildSearchCondition renders the OR group for a text search. The term is
// screened and bound as one parameter shared by every field comparison.
func (b *Builder) buildSearchCondition(table *TableDef, search *TextSearch, params *[]any, resolve func(string) (*FieldDef, error)) (string, error) {
	term := sqlguard.NormalizeSearchTerm(search.Term)
	if term == "" {
		return "", fmt.Errorf("search requires a non-empty term")
	}
	if check := sqlguard.CheckParameterForInjection("query", term); check != nil {
		return "", &InjectionError{Check: check}
	}
	if sqlguard.ContainsStatementSeparator(term) {
		return "", fmt.Errorf("search term contains a statement separator")
	}

	fieldNames := search.Fields
	if len(fieldNames) == 0 {
		for _, f := range table.Fields(false) {
			if f.Type == FieldTypeText {
				fieldNames = append(fieldNames, f.Name)
			}
		}
	}
	if len(fieldNames) == 0 {
		return "", fmt.Errorf("table %q has no searchable fields", table.Name)
	}

	var bound string
	switch search.Match {
	case MatchExact:
		bound = term
	case MatchPrefix:
		bound = term + "%"
	case MatchContains, "":
		bound = "%" + term + "%"
	default:
		return "", fmt.Errorf("unsupported match type %q", search.Match)
	}
	*params = append(*params, bound)
	placeholder := len(*params)

	ors := make([]string, 0, len(fieldNames))
	for _, name := range fieldNames {
		f, err := resolve(name)
		if err != nil {
			return "", err
		}
		if f.Type != FieldTypeText {
			return "", fmt.Errorf("field %q is not searchable text", name)
		}
		ors = append(ors, fmt.Sprintf("LOWER(%s) LIKE LOWER($%d)", b.dialect.QuoteIdentifier(f.Name), placeholder))
	}
	return "(" + strings.Join(ors, " OR ") + ")", nil
}

// JoinQuerySpec describes a SELECT over a base table joined to related
// tables along catalog join paths. Columns may be qualified as
// "table.column"; bare names resolve against the base table first, then
// the joined tables in order.
type JoinQuerySpec struct {
	BaseTable string
	Joins     []string
	Fields    []string
	Filters   []Filter
	Limit     int
}

// BuildJoin renders spec into SQL with positional parameters. Every joined
// table is re-scoped to the same customer so a join can never widen the
// visible rows beyond the caller's tenant.
func (b *Builder) BuildJoin(customerID uuid.UUID, includeRestricted bool, spec *JoinQuerySpec) (string, []any, error) {
	if customerID == uuid.Nil {
		return "", nil, ErrMissingCustomerScope
	}

	if err := sqlguard.RequireIdentifier("table", spec.BaseTable); err != nil {
		return "", nil, err
	}
	base, ok := b.catalog.Table(spec.BaseTable)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTable, spec.BaseTable)
	}
	if len(spec.Joins) == 0 {
		return "", nil, fmt.Errorf("joined query requires at least one join table")
	}

	joined := make([]*TableDef, 0, len(spec.Joins))
	joinDefs := make([]*JoinDef, 0, len(spec.Joins))
	for _, name := range spec.Joins {
		if err := sqlguard.RequireIdentifier("table", name); err != nil {
			return "", nil, err
		}
		jd, ok := base.Join(name)
		if !ok {
			return "", nil, fmt.Errorf("%w: no join path from %s to %s", apperrors.ErrUnknownTable, base.Name, name)
		}
		t, ok := b.catalog.Table(name)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTable, name)
		}
		joined = append(joined, t)
		joinDefs = append(joinDefs, jd)
	}

	// resolveQualified finds a column by bare or table-qualified name across
	// the base and joined tables, enforcing the restricted flag.
	resolveQualified := func(name string) (*TableDef, *FieldDef, error) {
		tableName := ""
		colName := name
		if dot := strings.IndexByte(name, '.'); dot >= 0 {
			tableName = name[:dot]
			colName = name[dot+1:]
		}
		if err := sqlguard.RequireIdentifier("field", colName); err != nil {
			return nil, nil, err
		}
		candidates := append([]*TableDef{base}, joined...)
		for _, t := range candidates {
			if tableName != "" && t.Name != tableName {
				continue
			}
			if f, ok := t.Field(colName); ok {
				if f.Restricted && !includeRestricted {
					return nil, nil, fmt.Errorf("%w: %s", apperrors.ErrRestrictedField, colName)
				}
				return t, f, nil
			}
		}
		return nil, nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownField, name)
	}

	qualify := func(t *TableDef, f *FieldDef) string {
		return b.dialect.QuoteIdentifier(t.Name) + "." + b.dialect.QuoteIdentifier(f.Name)
	}

	var selectCols []string
	if len(spec.Fields) > 0 {
		for _, name := range spec.Fields {
			t, f, err := resolveQualified(name)
			if err != nil {
				return "", nil, err
			}
			selectCols = append(selectCols, qualify(t, f))
		}
	} else {
		for _, f := range base.Fields(includeRestricted) {
			field := f
			selectCols = append(selectCols, qualify(base, &field))
		}
		for _, t := range joined {
			for _, f := range t.Fields(includeRestricted) {
				field := f
				selectCols = append(selectCols, fmt.Sprintf("%s AS %s", qualify(t, &field),
					b.dialect.QuoteIdentifier(t.Name+"_"+f.Name)))
			}
		}
	}

	params := []any{customerID.String()}
	conds := []string{fmt.Sprintf("%s.%s = $1",
		b.dialect.QuoteIdentifier(base.Name), b.dialect.QuoteIdentifier(base.ScopeColumn))}

	for _, flt := range spec.Filters {
		t, f, err := resolveQualified(flt.Field)
		if err != nil {
			return "", nil, err
		}
		if check := sqlguard.CheckParameterForInjection(flt.Field, flt.Value); check != nil {
			return "", nil, &InjectionError{Check: check}
		}
		quoted := qualify(t, f)
		switch flt.Op {
		case "like":
			term, _ := flt.Value.(string)
			term = sqlguard.NormalizeSearchTerm(term)
			if term == "" {
				return "", nil, fmt.Errorf("like filter on %q requires a string value", flt.Field)
			}
			params = append(params, "%"+term+"%")
			conds = append(conds, fmt.Sprintf("LOWER(%s) LIKE LOWER($%d)", quoted, len(params)))
		default:
			op, ok := comparisonOps[flt.Op]
			if !ok {
				return "", nil, fmt.Errorf("unsupported filter operator %q", flt.Op)
			}
			params = append(params, flt.Value)
			conds = append(conds, fmt.Sprintf("%s %s $%d", quoted, op, len(params)))
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectCols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.dialect.QuoteIdentifier(base.Name))
	for i, t := range joined {
		jd := joinDefs[i]
		local, ok := base.Field(jd.LocalColumn)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", apperrors.ErrUnknownField, base.Name, jd.LocalColumn)
		}
		foreign, ok := t.Field(jd.ForeignColumn)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", apperrors.ErrUnknownField, t.Name, jd.ForeignColumn)
		}
		sb.WriteString(fmt.Sprintf(" JOIN %s ON %s = %s AND %s.%s = %s.%s",
			b.dialect.QuoteIdentifier(t.Name),
			qualify(base, local), qualify(t, foreign),
			b.dialect.QuoteIdentifier(t.Name), b.dialect.QuoteIdentifier(t.ScopeColumn),
			b.dialect.QuoteIdentifier(base.Name), b.dialect.QuoteIdentifier(base.ScopeColumn)))
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conds, " AND "))

	return b.dialect.ApplyLimit(sb.String(), clampLimit(spec.Limit)), params, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRowLimit
	}
	if limit > MaxRowLimit {
		return MaxRowLimit
	}
	return limit
}

func defaultAlias(agg Aggregation) string {
	if agg.Field == "*" {
		return "count_all"
	}
	return agg.Func + "_" + agg.Field
}

func toSlice(v any) ([]any, bool) {
	switch vv := v.(type) {
	case []any:
		return vv, true
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
