package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/audit"
	"github.com/lanewise-ai/lanewise-engine/pkg/jsonutil"
	"github.com/lanewise-ai/lanewise-engine/pkg/llm"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
	"github.com/lanewise-ai/lanewise-engine/pkg/warehouse"
)

// Tool execution limits.
const (
	DefaultToolTimeout        = 15 * time.Second
	DefaultQueryLimit         = 50
	MaxQueryLimit             = 500
	DefaultSearchLimit        = 25
	DefaultAggregateLimit     = 20
	DefaultExploreLimit       = 20
	DefaultPreviewLimit       = 10
	DefaultAnomalySensitivity = 2.0
)

// ClarificationRequest is the question the agent wants to put to the user
// instead of finishing a report.
type ClarificationRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Context  string   `json:"context,omitempty"`
}

// ToolSession is the mutable state of one report conversation: who is
// asking, the draft under construction, and the record of every tool call.
// Sessions are single-goroutine; the loop executes tools sequentially.
type ToolSession struct {
	CustomerID    uuid.UUID
	IsAdmin       bool
	ClientIP      string
	Draft         *models.ReportDraft
	FinalReport   *models.ReportDefinition
	Clarification *ClarificationRequest
	Executions    []models.ToolExecution
}

// ReportToolExecutor implements the report builder's tool surface over the
// warehouse and knowledge store. It is stateless between sessions; bind it
// to one with ForSession.
type ReportToolExecutor struct {
	exec      warehouse.Executor
	catalog   *warehouse.Catalog
	builder   *warehouse.Builder
	knowledge repositories.KnowledgeRepository
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
	timeout   time.Duration
}

// NewReportToolExecutor creates a new ReportToolExecutor.
func NewReportToolExecutor(
	exec warehouse.Executor,
	catalog *warehouse.Catalog,
	knowledge repositories.KnowledgeRepository,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) *ReportToolExecutor {
	return &ReportToolExecutor{
		exec:      exec,
		catalog:   catalog,
		builder:   warehouse.NewBuilder(catalog, exec),
		knowledge: knowledge,
		auditor:   auditor,
		logger:    logger.Named("report_tools"),
		timeout:   DefaultToolTimeout,
	}
}

// ForSession returns an llm.ToolExecutor bound to one session's state.
func (e *ReportToolExecutor) ForSession(session *ToolSession) llm.ToolExecutor {
	return &sessionExecutor{exec: e, session: session}
}

type sessionExecutor struct {
	exec    *ReportToolExecutor
	session *ToolSession
}

func (s *sessionExecutor) ExecuteTool(ctx context.Context, name string, arguments string) (string, error) {
	return s.exec.execute(ctx, s.session, name, arguments)
}

// toolError is the failure shape returned to the model. Tool failures never
// abort the loop; the model reads the error and adjusts.
type toolError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func toolErrorJSON(msg string) string {
	out, _ := json.Marshal(toolError{Success: false, Error: msg})
	return string(out)
}

func (e *ReportToolExecutor) execute(ctx context.Context, session *ToolSession, name string, arguments string) (result string, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked",
				zap.String("tool", name),
				zap.Any("panic", r))
			result = toolErrorJSON(fmt.Sprintf("tool %s failed unexpectedly", name))
			err = nil
		}
		exec := models.ToolExecution{
			Tool:       name,
			Input:      json.RawMessage(arguments),
			StartedAt:  started,
			DurationMs: time.Since(started).Milliseconds(),
		}
		var te toolError
		if json.Unmarshal([]byte(result), &te) == nil && te.Error != "" {
			exec.Error = te.Error
		} else {
			exec.Success = true
			exec.Result = json.RawMessage(result)
		}
		session.Executions = append(session.Executions, exec)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, toolErr := e.dispatch(ctx, session, name, json.RawMessage(arguments))
	if toolErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return toolErrorJSON("timeout"), nil
		}
		e.handleSecurityErrors(ctx, session, name, toolErr)
		return toolErrorJSON(toolErr.Error()), nil
	}

	out, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return toolErrorJSON("failed to serialize tool result"), nil
	}
	return string(out), nil
}

// handleSecurityErrors writes audit events for failures that indicate the
// model (or whoever is steering it) tried something it should not have.
func (e *ReportToolExecutor) handleSecurityErrors(ctx context.Context, session *ToolSession, tool string, err error) {
	var injErr *warehouse.InjectionError
	if errors.As(err, &injErr) {
		e.auditor.LogInjectionAttempt(ctx, session.CustomerID, audit.SQLInjectionDetails{
			ParamName:   injErr.Check.ParamName,
			ParamValue:  fmt.Sprintf("%v", injErr.Check.ParamValue),
			Fingerprint: injErr.Check.Fingerprint,
			ToolName:    tool,
		}, session.ClientIP)
		return
	}
	if errors.Is(err, apperrors.ErrRestrictedField) {
		e.auditor.LogAccessViolation(ctx, session.CustomerID, "", audit.AccessViolationDetails{
			Field: restrictedFieldFromError(err),
			Stage: "tool",
		}, session.ClientIP)
	}
}

func restrictedFieldFromError(err error) string {
	// errors are shaped "field %q: <sentinel text>"; best effort extraction
	msg := err.Error()
	if i := strings.Index(msg, `"`); i >= 0 {
		if j := strings.Index(msg[i+1:], `"`); j >= 0 {
			return msg[i+1 : i+1+j]
		}
	}
	return ""
}

func (e *ReportToolExecutor) dispatch(ctx context.Context, session *ToolSession, name string, args json.RawMessage) (any, error) {
	switch name {
	case llm.ToolDiscoverTables:
		return e.discoverTables(ctx, session, args)
	case llm.ToolDiscoverFields:
		return e.discoverFields(session, args)
	case llm.ToolDiscoverJoins:
		return e.discoverJoins(args)
	case llm.ToolQueryTable:
		return e.queryTable(ctx, session, args)
	case llm.ToolSearchText:
		return e.searchText(ctx, session, args)
	case llm.ToolQueryWithJoin:
		return e.queryWithJoin(ctx, session, args)
	case llm.ToolAggregate:
		return e.aggregate(ctx, session, args)
	case llm.ToolExploreField:
		return e.exploreField(ctx, session, args)
	case llm.ToolPreviewAggregation:
		return e.previewAggregation(ctx, session, args)
	case llm.ToolComparePeriods:
		return e.comparePeriods(ctx, session, args)
	case llm.ToolDetectAnomalies:
		return e.detectAnomalies(ctx, session, args)
	case llm.ToolCreateReportDraft:
		return e.createReportDraft(session, args)
	case llm.ToolAddSection:
		return e.addSection(ctx, session, args)
	case llm.ToolModifySection:
		return e.modifySection(session, args)
	case llm.ToolRemoveSection:
		return e.removeSection(session, args)
	case llm.ToolFinalizeReport:
		return e.finalizeReport(session, args)
	case llm.ToolLearnTerminology:
		return e.learnTerminology(ctx, session, args)
	case llm.ToolLearnPreference:
		return e.learnPreference(ctx, session, args)
	case llm.ToolAskClarification:
		return e.askClarification(session, args)
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

// ============================================================================
// Discovery tools
// ============================================================================

func (e *ReportToolExecutor) discoverTables(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	type tableInfo struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		RowCount    int64    `json:"row_count"`
		RowMeaning  string   `json:"row_meaning"`
		JoinsTo     []string `json:"joins_to,omitempty"`
	}

	out := make([]tableInfo, 0, len(e.catalog.Tables()))
	for _, t := range e.catalog.Tables() {
		info := tableInfo{
			Name:        t.Name,
			Description: t.Description,
			RowMeaning:  fmt.Sprintf("one %s per row", inflection.Singular(t.Name)),
		}
		for _, j := range t.Joins() {
			info.JoinsTo = append(info.JoinsTo, j.Table)
		}
		res, err := e.run(ctx, session, &warehouse.QuerySpec{
			Table:        t.Name,
			Aggregations: []warehouse.Aggregation{{Func: "count", Field: "*", Alias: "n"}},
		})
		if err == nil && len(res.Rows) > 0 {
			if n, ok := res.Rows[0]["n"].(int64); ok {
				info.RowCount = n
			}
		}
		out = append(out, info)
	}
	return map[string]any{"tables": out}, nil
}

func (e *ReportToolExecutor) discoverFields(session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		TableName string `json:"table_name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	table, ok := e.catalog.Table(in.TableName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownTable, in.TableName)
	}

	type fieldInfo struct {
		Name         string `json:"name"`
		Type         string `json:"type"`
		Groupable    bool   `json:"groupable"`
		Aggregatable bool   `json:"aggregatable"`
		Searchable   bool   `json:"searchable"`
		Description  string `json:"description"`
	}

	fields := table.Fields(session.IsAdmin)
	out := make([]fieldInfo, len(fields))
	for i, f := range fields {
		out[i] = fieldInfo{
			Name:         f.Name,
			Type:         f.Type,
			Groupable:    f.Type != warehouse.FieldTypeNumeric,
			Aggregatable: f.Type == warehouse.FieldTypeNumeric,
			Searchable:   f.Type == warehouse.FieldTypeText,
			Description:  f.Description,
		}
	}
	return map[string]any{"table": table.Name, "fields": out}, nil
}

func (e *ReportToolExecutor) discoverJoins(args json.RawMessage) (any, error) {
	var in struct {
		TableName string `json:"table_name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	table, ok := e.catalog.Table(in.TableName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownTable, in.TableName)
	}

	type joinInfo struct {
		Table       string `json:"table"`
		On          string `json:"on"`
		Description string `json:"description"`
	}
	out := make([]joinInfo, 0, len(table.Joins()))
	for _, j := range table.Joins() {
		out = append(out, joinInfo{
			Table:       j.Table,
			On:          fmt.Sprintf("%s.%s = %s.%s", table.Name, j.LocalColumn, j.Table, j.ForeignColumn),
			Description: j.Description,
		})
	}
	return map[string]any{"base_table": table.Name, "joins": out}, nil
}

// ============================================================================
// Query tools
// ============================================================================

// filterArg is the tool-facing filter shape; the operator key differs from
// the warehouse one.
type filterArg struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

func toWarehouseFilters(in []filterArg) []warehouse.Filter {
	out := make([]warehouse.Filter, len(in))
	for i, f := range in {
		op := f.Operator
		if op == "" {
			op = "eq"
		}
		out[i] = warehouse.Filter{Field: f.Field, Op: op, Value: f.Value}
	}
	return out
}

func (e *ReportToolExecutor) queryTable(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		TableName    string          `json:"table_name"`
		Select       []string        `json:"select"`
		Filters      []filterArg     `json:"filters"`
		GroupBy      string          `json:"group_by"`
		Aggregations []struct {
			Field string `json:"field"`
			Func  string `json:"func"`
			Alias string `json:"alias"`
		} `json:"aggregations"`
		OrderBy  string          `json:"order_by"`
		OrderDir string          `json:"order_dir"`
		Limit    json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	spec := &warehouse.QuerySpec{
		Table:     in.TableName,
		Fields:    in.Select,
		Filters:   toWarehouseFilters(in.Filters),
		OrderBy:   in.OrderBy,
		OrderDesc: strings.EqualFold(in.OrderDir, "desc"),
		Limit:     clampToolLimit(flexInt(in.Limit, DefaultQueryLimit)),
	}
	if in.GroupBy != "" {
		spec.GroupBy = []string{in.GroupBy}
	}
	for _, a := range in.Aggregations {
		spec.Aggregations = append(spec.Aggregations, warehouse.Aggregation{
			Func: a.Func, Field: a.Field, Alias: a.Alias,
		})
	}

	res, err := e.run(ctx, session, spec)
	if err != nil {
		return nil, err
	}
	return queryPayload(res), nil
}

func (e *ReportToolExecutor) searchText(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		Query     string          `json:"query"`
		Tables    []string        `json:"tables"`
		Fields    []string        `json:"fields"`
		MatchType string          `json:"match_type"`
		Limit     json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	tables := in.Tables
	if len(tables) == 0 {
		for _, t := range e.catalog.Tables() {
			tables = append(tables, t.Name)
		}
	}
	limit := flexInt(in.Limit, DefaultSearchLimit)
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	type tableHits struct {
		Table string           `json:"table"`
		Rows  []map[string]any `json:"rows"`
	}
	results := make([]tableHits, 0, len(tables))
	total := 0
	for _, tableName := range tables {
		if total >= limit {
			break
		}
		res, err := e.run(ctx, session, &warehouse.QuerySpec{
			Table: tableName,
			Search: &warehouse.TextSearch{
				Fields: in.Fields,
				Term:   in.Query,
				Match:  in.MatchType,
			},
			Limit: limit - total,
		})
		if err != nil {
			// A field list that only fits one table should not sink the
			// whole search.
			if len(in.Fields) > 0 && errors.Is(err, apperrors.ErrUnknownField) {
				continue
			}
			return nil, err
		}
		if res.RowCount == 0 {
			continue
		}
		results = append(results, tableHits{Table: tableName, Rows: res.Rows})
		total += res.RowCount
	}

	return map[string]any{"query": in.Query, "total_rows": total, "results": results}, nil
}

func (e *ReportToolExecutor) queryWithJoin(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		BaseTable string          `json:"base_table"`
		Joins     []string        `json:"joins"`
		Select    []string        `json:"select"`
		Filters   []filterArg     `json:"filters"`
		Limit     json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	query, params, err := e.builder.BuildJoin(session.CustomerID, session.IsAdmin, &warehouse.JoinQuerySpec{
		BaseTable: in.BaseTable,
		Joins:     in.Joins,
		Fields:    in.Select,
		Filters:   toWarehouseFilters(in.Filters),
		Limit:     clampToolLimit(flexInt(in.Limit, DefaultQueryLimit)),
	})
	if err != nil {
		return nil, err
	}
	res, err := e.exec.QueryWithParams(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return queryPayload(res), nil
}

func (e *ReportToolExecutor) aggregate(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		TableName   string          `json:"table_name"`
		GroupBy     string          `json:"group_by"`
		Metric      string          `json:"metric"`
		Aggregation string          `json:"aggregation"`
		Filters     []filterArg     `json:"filters"`
		Limit       json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	rows, err := e.groupedMetric(ctx, session, groupedMetricSpec{
		Table:       in.TableName,
		GroupBy:     in.GroupBy,
		Metric:      in.Metric,
		Aggregation: in.Aggregation,
		Filters:     toWarehouseFilters(in.Filters),
		Limit:       flexInt(in.Limit, DefaultAggregateLimit),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"group_by": in.GroupBy, "metric": in.Metric, "rows": rows}, nil
}

func (e *ReportToolExecutor) exploreField(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		FieldName  string          `json:"field_name"`
		SampleSize json.RawMessage `json:"sample_size"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	table := e.tableForField(in.FieldName, session.IsAdmin)
	if table == "" {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, in.FieldName)
	}

	rows, err := e.groupedMetric(ctx, session, groupedMetricSpec{
		Table:       table,
		GroupBy:     in.FieldName,
		Metric:      "*",
		Aggregation: "count",
		Limit:       flexInt(in.SampleSize, DefaultExploreLimit),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"field": in.FieldName, "table": table, "values": rows}, nil
}

func (e *ReportToolExecutor) previewAggregation(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		GroupBy     string          `json:"group_by"`
		Metric      string          `json:"metric"`
		Aggregation string          `json:"aggregation"`
		Limit       json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Aggregation == "" {
		in.Aggregation = "sum"
	}

	spec := groupedMetricSpec{
		Table:       warehouse.TableLoads,
		GroupBy:     in.GroupBy,
		Metric:      in.Metric,
		Aggregation: in.Aggregation,
		Limit:       flexInt(in.Limit, DefaultPreviewLimit),
	}
	if session.Draft != nil {
		window, err := ResolveDateRange(session.Draft.DateRange, time.Now())
		if err == nil {
			spec.PeriodStart = window.Start
			spec.PeriodEnd = window.End
		}
	}

	rows, err := e.groupedMetric(ctx, session, spec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"group_by": in.GroupBy, "metric": in.Metric, "aggregation": in.Aggregation, "rows": rows}, nil
}

func (e *ReportToolExecutor) comparePeriods(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		Metric      string `json:"metric"`
		Aggregation string `json:"aggregation"`
		Period1     string `json:"period1"`
		Period2     string `json:"period2"`
		GroupBy     string `json:"group_by"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	baseline, current, err := ResolveComparisonPeriods(in.Period1, in.Period2, time.Now())
	if err != nil {
		return nil, err
	}

	if in.GroupBy == "" {
		baseVal, err := e.scalarMetric(ctx, session, in.Metric, in.Aggregation, baseline)
		if err != nil {
			return nil, err
		}
		curVal, err := e.scalarMetric(ctx, session, in.Metric, in.Aggregation, current)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"metric":         in.Metric,
			"baseline":       periodPayload(baseline, baseVal),
			"current":        periodPayload(current, curVal),
			"percent_change": percentChange(baseVal, curVal),
		}, nil
	}

	baseRows, err := e.groupedMetric(ctx, session, groupedMetricSpec{
		Table: warehouse.TableLoads, GroupBy: in.GroupBy, Metric: in.Metric,
		Aggregation: in.Aggregation, PeriodStart: baseline.Start, PeriodEnd: baseline.End,
		Limit: DefaultAggregateLimit,
	})
	if err != nil {
		return nil, err
	}
	curRows, err := e.groupedMetric(ctx, session, groupedMetricSpec{
		Table: warehouse.TableLoads, GroupBy: in.GroupBy, Metric: in.Metric,
		Aggregation: in.Aggregation, PeriodStart: current.Start, PeriodEnd: current.End,
		Limit: DefaultAggregateLimit,
	})
	if err != nil {
		return nil, err
	}

	baseByName := make(map[string]float64, len(baseRows))
	for _, r := range baseRows {
		baseByName[r.Name] = r.Value
	}
	type groupChange struct {
		Name          string  `json:"name"`
		Baseline      float64 `json:"baseline"`
		Current       float64 `json:"current"`
		PercentChange float64 `json:"percent_change"`
	}
	changes := make([]groupChange, 0, len(curRows))
	for _, r := range curRows {
		base := baseByName[r.Name]
		changes = append(changes, groupChange{
			Name: r.Name, Baseline: base, Current: r.Value,
			PercentChange: percentChange(base, r.Value),
		})
	}
	return map[string]any{"metric": in.Metric, "group_by": in.GroupBy, "groups": changes}, nil
}

func (e *ReportToolExecutor) detectAnomalies(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		Metric      string          `json:"metric"`
		GroupBy     string          `json:"group_by"`
		Sensitivity json.RawMessage `json:"sensitivity"`
		Baseline    string          `json:"baseline"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.GroupBy == "" {
		in.GroupBy = "carrier_name"
	}
	if in.Baseline == "" {
		in.Baseline = "avg"
	}
	sensitivity := flexFloat(in.Sensitivity, DefaultAnomalySensitivity)
	if sensitivity <= 0 {
		sensitivity = DefaultAnomalySensitivity
	}

	rows, err := e.groupedMetric(ctx, session, groupedMetricSpec{
		Table: warehouse.TableLoads, GroupBy: in.GroupBy, Metric: in.Metric,
		Aggregation: in.Baseline, Limit: warehouse.MaxRowLimit,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{"anomalies": []any{}, "groups_examined": 0}, nil
	}

	var sum float64
	for _, r := range rows {
		sum += r.Value
	}
	mean := sum / float64(len(rows))
	var variance float64
	for _, r := range rows {
		d := r.Value - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(rows)))

	type anomaly struct {
		Name       string  `json:"name"`
		Value      float64 `json:"value"`
		Mean       float64 `json:"mean"`
		Deviations float64 `json:"deviations"`
	}
	anomalies := []anomaly{}
	if stddev > 0 {
		for _, r := range rows {
			dev := (r.Value - mean) / stddev
			// Deviations are compared at three decimals so groups sitting on
			// the threshold are flagged rather than lost to float error.
			if math.Round(math.Abs(dev)*1000)/1000 >= sensitivity {
				anomalies = append(anomalies, anomaly{
					Name: r.Name, Value: r.Value, Mean: mean, Deviations: dev,
				})
			}
		}
	}
	return map[string]any{
		"metric":          in.Metric,
		"group_by":        in.GroupBy,
		"groups_examined": len(rows),
		"mean":            mean,
		"stddev":          stddev,
		"anomalies":       anomalies,
	}, nil
}

// ============================================================================
// Report mutation tools
// ============================================================================

func (e *ReportToolExecutor) createReportDraft(session *ToolSession, args json.RawMessage) (any, error) {
	if session.Draft != nil {
		return nil, apperrors.ErrDraftAlreadyExists
	}

	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Theme       string `json:"theme"`
		DateRange   string `json:"date_range"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("report name must not be empty")
	}

	dateRange, err := ParseDateRangeArg(in.DateRange)
	if err != nil {
		return nil, err
	}
	theme := in.Theme
	if theme == "" {
		theme = models.DefaultReportTheme
	}

	session.Draft = &models.ReportDraft{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Theme:       theme,
		DateRange:   dateRange,
		Sections:    []models.ReportSection{},
		CreatedAt:   time.Now(),
	}
	return map[string]any{
		"success":    true,
		"draft_id":   session.Draft.ID,
		"name":       session.Draft.Name,
		"date_range": session.Draft.DateRange,
	}, nil
}

func (e *ReportToolExecutor) addSection(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	if session.Draft == nil {
		return nil, apperrors.ErrNoActiveDraft
	}

	var in struct {
		SectionType string               `json:"section_type"`
		Config      models.SectionConfig `json:"config"`
		Title       string               `json:"title"`
		Position    json.RawMessage      `json:"position"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if !models.IsValidSectionType(in.SectionType) {
		return nil, fmt.Errorf("unknown section type %q (valid: %s)",
			in.SectionType, strings.Join(models.ValidSectionTypes, ", "))
	}
	if field := e.restrictedInConfig(&in.Config, session.IsAdmin); field != "" {
		return nil, fmt.Errorf("field %q: %w", field, apperrors.ErrRestrictedField)
	}

	section := models.ReportSection{
		Type:   in.SectionType,
		Title:  in.Title,
		Config: in.Config,
	}

	// Charts get a data preview so the model sees what it just built.
	if in.SectionType == models.SectionTypeChart && in.Config.GroupBy != "" && in.Config.Metric != "" {
		agg := in.Config.Aggregation
		if agg == "" {
			agg = "sum"
		}
		window, _ := ResolveDateRange(session.Draft.DateRange, time.Now())
		rows, err := e.groupedMetric(ctx, session, groupedMetricSpec{
			Table: warehouse.TableLoads, GroupBy: in.Config.GroupBy,
			Metric: in.Config.Metric, Aggregation: agg,
			PeriodStart: window.Start, PeriodEnd: window.End,
			Limit: DefaultPreviewLimit,
		})
		if err == nil {
			section.Data = rows
		}
	}

	position := flexInt(in.Position, len(session.Draft.Sections))
	if position < 0 || position > len(session.Draft.Sections) {
		position = len(session.Draft.Sections)
	}
	session.Draft.Sections = append(session.Draft.Sections, models.ReportSection{})
	copy(session.Draft.Sections[position+1:], session.Draft.Sections[position:])
	session.Draft.Sections[position] = section

	return map[string]any{
		"success":       true,
		"section_index": position,
		"section_count": len(session.Draft.Sections),
		"preview":       section.Data,
	}, nil
}

func (e *ReportToolExecutor) modifySection(session *ToolSession, args json.RawMessage) (any, error) {
	if session.Draft == nil {
		return nil, apperrors.ErrNoActiveDraft
	}

	var in struct {
		SectionIndex json.RawMessage `json:"section_index"`
		Updates      struct {
			Title   *string               `json:"title"`
			Config  *models.SectionConfig `json:"config"`
			Insight *string               `json:"insight"`
		} `json:"updates"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	idx := flexInt(in.SectionIndex, -1)
	if idx < 0 || idx >= len(session.Draft.Sections) {
		return nil, fmt.Errorf("%w: %d (sections: %d)", apperrors.ErrSectionIndexOutOfRange, idx, len(session.Draft.Sections))
	}

	section := &session.Draft.Sections[idx]
	if in.Updates.Title != nil {
		section.Title = *in.Updates.Title
	}
	if in.Updates.Config != nil {
		if field := e.restrictedInConfig(in.Updates.Config, session.IsAdmin); field != "" {
			return nil, fmt.Errorf("field %q: %w", field, apperrors.ErrRestrictedField)
		}
		section.Config = *in.Updates.Config
		section.Data = nil // stale preview
	}
	if in.Updates.Insight != nil {
		section.Insight = *in.Updates.Insight
	}
	return map[string]any{"success": true, "section_index": idx}, nil
}

func (e *ReportToolExecutor) removeSection(session *ToolSession, args json.RawMessage) (any, error) {
	if session.Draft == nil {
		return nil, apperrors.ErrNoActiveDraft
	}

	var in struct {
		SectionIndex json.RawMessage `json:"section_index"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	idx := flexInt(in.SectionIndex, -1)
	if idx < 0 || idx >= len(session.Draft.Sections) {
		return nil, fmt.Errorf("%w: %d (sections: %d)", apperrors.ErrSectionIndexOutOfRange, idx, len(session.Draft.Sections))
	}

	session.Draft.Sections = append(session.Draft.Sections[:idx], session.Draft.Sections[idx+1:]...)
	return map[string]any{"success": true, "section_count": len(session.Draft.Sections)}, nil
}

func (e *ReportToolExecutor) finalizeReport(session *ToolSession, args json.RawMessage) (any, error) {
	if session.Draft == nil {
		return nil, apperrors.ErrNoActiveDraft
	}

	var in struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(session.Draft.Sections) == 0 {
		return nil, fmt.Errorf("cannot finalize an empty report; add at least one section")
	}

	session.FinalReport = session.Draft.Finalize(in.Summary)
	return map[string]any{
		"success":  true,
		"report":   session.FinalReport,
		"sections": len(session.FinalReport.Sections),
	}, nil
}

// restrictedInConfig returns the first restricted field a non-admin config
// references, or "".
func (e *ReportToolExecutor) restrictedInConfig(cfg *models.SectionConfig, isAdmin bool) string {
	if isAdmin {
		return ""
	}
	check := func(name string) bool {
		if name == "" {
			return false
		}
		for _, t := range e.catalog.Tables() {
			if f, ok := t.Field(strings.ToLower(strings.TrimSpace(name))); ok && f.Restricted {
				return true
			}
		}
		return false
	}
	if check(cfg.Metric) {
		return cfg.Metric
	}
	if check(cfg.GroupBy) {
		return cfg.GroupBy
	}
	for _, c := range cfg.Columns {
		if check(c) {
			return c
		}
	}
	for _, f := range cfg.Filters {
		if check(f.Field) {
			return f.Field
		}
	}
	return ""
}

// ============================================================================
// Learning and clarification tools
// ============================================================================

func (e *ReportToolExecutor) learnTerminology(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		Term        string          `json:"term"`
		Meaning     string          `json:"meaning"`
		MapsToField string          `json:"maps_to_field"`
		Confidence  json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Term) == "" || strings.TrimSpace(in.Meaning) == "" {
		return nil, fmt.Errorf("term and meaning must not be empty")
	}

	confidence := flexFloat(in.Confidence, models.LearningConfidenceDefault)
	active := confidence >= models.LearningConfidenceActiveThreshold
	cid := session.CustomerID
	entry := &models.KnowledgeEntry{
		CustomerID:      &cid,
		Scope:           models.KnowledgeScopeCustomer,
		KnowledgeType:   models.KnowledgeTypeTerminology,
		Key:             strings.ToLower(strings.TrimSpace(in.Term)),
		Value:           in.Meaning,
		Confidence:      confidence,
		Source:          models.KnowledgeSourceLearned,
		Active:          active,
		NeedsReview:     !active,
		CustomerVisible: true,
	}
	if in.MapsToField != "" {
		entry.MapsToField = &in.MapsToField
	}
	if err := e.knowledge.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save terminology: %w", err)
	}
	return map[string]any{"success": true, "term": entry.Key, "active": active}, nil
}

func (e *ReportToolExecutor) learnPreference(ctx context.Context, session *ToolSession, args json.RawMessage) (any, error) {
	var in struct {
		PreferenceType string          `json:"preference_type"`
		Key            string          `json:"key"`
		Value          json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	value := jsonutil.FlexibleStringValue(in.Value)
	if in.PreferenceType == "" || in.Key == "" || value == "" {
		return nil, fmt.Errorf("preference_type, key, and value must not be empty")
	}

	cid := session.CustomerID
	entry := &models.KnowledgeEntry{
		CustomerID:      &cid,
		Scope:           models.KnowledgeScopeCustomer,
		KnowledgeType:   models.KnowledgeTypePreference,
		Key:             fmt.Sprintf("%s:%s", in.PreferenceType, strings.ToLower(in.Key)),
		Value:           value,
		Confidence:      models.LearningConfidenceDefault,
		Source:          models.KnowledgeSourceLearned,
		Active:          true,
		CustomerVisible: true,
	}
	if err := e.knowledge.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save preference: %w", err)
	}
	return map[string]any{"success": true, "key": entry.Key}, nil
}

func (e *ReportToolExecutor) askClarification(session *ToolSession, args json.RawMessage) (any, error) {
	var in ClarificationRequest
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	session.Clarification = &in
	return map[string]any{
		"success": true,
		"note":    "Clarification recorded. End your response by asking the user this question.",
	}, nil
}

// ============================================================================
// Shared query helpers
// ============================================================================

func (e *ReportToolExecutor) run(ctx context.Context, session *ToolSession, spec *warehouse.QuerySpec) (*warehouse.QueryResult, error) {
	query, params, err := e.builder.Build(session.CustomerID, session.IsAdmin, spec)
	if err != nil {
		return nil, err
	}
	res, err := e.exec.QueryWithParams(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return res, nil
}

type groupedMetricSpec struct {
	Table       string
	GroupBy     string
	Metric      string
	Aggregation string
	Filters     []warehouse.Filter
	PeriodStart time.Time
	PeriodEnd   time.Time
	Limit       int
}

// groupedMetric runs the one-group-one-value query that backs aggregate,
// explore_field, previews, comparisons, and anomaly detection. Rows come
// back sorted by value descending.
func (e *ReportToolExecutor) groupedMetric(ctx context.Context, session *ToolSession, spec groupedMetricSpec) ([]models.NameValue, error) {
	if spec.GroupBy == "" {
		return nil, fmt.Errorf("group_by must not be empty")
	}
	limit := spec.Limit
	if limit <= 0 {
		limit = DefaultAggregateLimit
	}

	res, err := e.run(ctx, session, &warehouse.QuerySpec{
		Table:       spec.Table,
		Filters:     spec.Filters,
		PeriodStart: spec.PeriodStart,
		PeriodEnd:   spec.PeriodEnd,
		GroupBy:     []string{spec.GroupBy},
		Aggregations: []warehouse.Aggregation{
			{Func: spec.Aggregation, Field: spec.Metric, Alias: "value"},
		},
		OrderBy:   "value",
		OrderDesc: true,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]models.NameValue, 0, len(res.Rows))
	for _, row := range res.Rows {
		rows = append(rows, models.NameValue{
			Name:  fmt.Sprintf("%v", row[spec.GroupBy]),
			Value: asFloat64(row["value"]),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Value > rows[j].Value })
	return rows, nil
}

// scalarMetric aggregates one metric over a time window without grouping.
func (e *ReportToolExecutor) scalarMetric(ctx context.Context, session *ToolSession, metric, aggregation string, window PeriodWindow) (float64, error) {
	res, err := e.run(ctx, session, &warehouse.QuerySpec{
		Table:       warehouse.TableLoads,
		PeriodStart: window.Start,
		PeriodEnd:   window.End,
		Aggregations: []warehouse.Aggregation{
			{Func: aggregation, Field: metric, Alias: "value"},
		},
	})
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return asFloat64(res.Rows[0]["value"]), nil
}

func (e *ReportToolExecutor) tableForField(field string, isAdmin bool) string {
	for _, t := range e.catalog.Tables() {
		if f, ok := t.Field(field); ok {
			if f.Restricted && !isAdmin {
				return ""
			}
			return t.Name
		}
	}
	return ""
}

func queryPayload(res *warehouse.QueryResult) map[string]any {
	return map[string]any{
		"columns":   res.Columns,
		"rows":      res.Rows,
		"row_count": res.RowCount,
	}
}

func periodPayload(w PeriodWindow, value float64) map[string]any {
	out := map[string]any{"preset": w.Preset, "value": value}
	if !w.Start.IsZero() {
		out["start"] = w.Start.Format("2006-01-02")
	}
	if !w.End.IsZero() {
		out["end"] = w.End.Format("2006-01-02")
	}
	return out
}

// percentChange returns 0 when the baseline is not positive, so empty prior
// periods read as "no change" rather than infinite growth.
func percentChange(baseline, current float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (current - baseline) / baseline * 100
}

func clampToolLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func flexInt(raw json.RawMessage, def int) int {
	s := jsonutil.FlexibleStringValue(raw)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func flexFloat(raw json.RawMessage, def float64) float64 {
	s := jsonutil.FlexibleStringValue(raw)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
