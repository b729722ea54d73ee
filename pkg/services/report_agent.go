package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/audit"
	"github.com/lanewise-ai/lanewise-engine/pkg/llm"
	"github.com/lanewise-ai/lanewise-engine/pkg/logging"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
)

// GenerateReportRequest is one agent invocation: a prompt, the prior
// conversation, and the caller's identity.
type GenerateReportRequest struct {
	CustomerID uuid.UUID
	UserID     *string
	IsAdmin    bool
	ClientIP   string
	Prompt     string
	History    []models.ConversationMessage
}

// GenerateReportResult is what came out of one invocation: a finished
// report, a clarifying question, or just conversation.
type GenerateReportResult struct {
	Report         *models.ReportDefinition `json:"report,omitempty"`
	ReportID       *uuid.UUID               `json:"report_id,omitempty"`
	Message        string                   `json:"message"`
	Clarification  *ClarificationRequest    `json:"clarification,omitempty"`
	ToolExecutions []models.ToolExecution   `json:"tool_executions"`
	Iterations     int                      `json:"iterations"`
	Usage          llm.TokenUsage           `json:"usage"`
	LearningsSaved int                      `json:"learnings_saved"`
}

// ReportAgentService drives the report-building agent end to end: context
// compilation, the tool loop, output validation and access enforcement,
// persistence, learning extraction, and the audit trail.
type ReportAgentService interface {
	GenerateReport(ctx context.Context, req *GenerateReportRequest) (*GenerateReportResult, error)
}

type reportAgentService struct {
	chat        llm.ChatClient
	tools       *ReportToolExecutor
	schema      SchemaContextService
	knowledge   KnowledgeContextService
	policy      AccessPolicy
	validator   ReportValidationService
	learning    LearningExtractionService
	reports     repositories.ReportRepository
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
	temperature float64
}

// NewReportAgentService creates a new ReportAgentService.
func NewReportAgentService(
	chat llm.ChatClient,
	tools *ReportToolExecutor,
	schema SchemaContextService,
	knowledge KnowledgeContextService,
	policy AccessPolicy,
	validator ReportValidationService,
	learning LearningExtractionService,
	reports repositories.ReportRepository,
	auditor *audit.SecurityAuditor,
	temperature float64,
	logger *zap.Logger,
) ReportAgentService {
	return &reportAgentService{
		chat:        chat,
		tools:       tools,
		schema:      schema,
		knowledge:   knowledge,
		policy:      policy,
		validator:   validator,
		learning:    learning,
		reports:     reports,
		auditor:     auditor,
		temperature: temperature,
		logger:      logger.Named("report_agent"),
	}
}

var _ ReportAgentService = (*reportAgentService)(nil)

func (s *reportAgentService) GenerateReport(ctx context.Context, req *GenerateReportRequest) (*GenerateReportResult, error) {
	started := time.Now()
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}

	s.logger.Info("report generation requested",
		zap.String("customer_id", req.CustomerID.String()),
		zap.Bool("is_admin", req.IsAdmin),
		zap.String("prompt", logging.SanitizePrompt(req.Prompt)))

	record := &models.ReportAuditRecord{
		CustomerID: req.CustomerID,
		UserID:     req.UserID,
		Prompt:     req.Prompt,
		Model:      s.chat.GetModel(),
	}
	defer func() {
		record.DurationMs = time.Since(started).Milliseconds()
		if err := s.reports.SaveAuditRecord(ctx, record); err != nil {
			s.logger.Error("failed to write report audit record",
				zap.String("customer_id", req.CustomerID.String()),
				zap.Error(err))
		}
	}()

	schemaCtx, knowledgeCtx, err := s.compileContexts(ctx, req)
	if err != nil {
		return nil, err
	}

	session := &ToolSession{
		CustomerID: req.CustomerID,
		IsAdmin:    req.IsAdmin,
		ClientIP:   req.ClientIP,
	}

	messages := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Prompt})

	loopResult, err := s.chat.RunToolLoop(ctx, &llm.ToolLoopRequest{
		SystemPrompt: s.buildSystemPrompt(schemaCtx, knowledgeCtx, req.IsAdmin),
		Messages:     messages,
		Tools:        llm.GetReportBuilderTools(),
		Temperature:  s.temperature,
	}, s.tools.ForSession(session))

	record.ToolCallCount = len(session.Executions)
	if err != nil {
		llmErr := llm.ClassifyError(err)
		s.logger.Error("tool loop failed",
			zap.String("customer_id", req.CustomerID.String()),
			zap.String("error_type", string(llmErr.Type)),
			zap.Error(err))
		return nil, llmErr
	}
	record.ToolCallCount = loopResult.ToolCallCount

	result := &GenerateReportResult{
		Message:        cleanResponseText(loopResult.Content),
		ToolExecutions: session.Executions,
		Iterations:     loopResult.Iterations,
		Usage:          loopResult.Usage,
	}

	if session.Clarification != nil {
		result.Clarification = session.Clarification
		if result.Message == "" {
			result.Message = session.Clarification.Question
		}
		s.saveLearnings(ctx, req, loopResult.Content, result)
		return result, nil
	}

	report := s.extractReport(session, loopResult.Content)
	if report == nil {
		// Conversational turn with no report; still a valid outcome.
		s.saveLearnings(ctx, req, loopResult.Content, result)
		return result, nil
	}

	report, err = s.validateReport(report, schemaCtx)
	if err != nil {
		return nil, err
	}

	enforcement := s.policy.Enforce(report, req.IsAdmin)
	record.ViolationCount = len(enforcement.Violations)
	for _, v := range enforcement.Violations {
		s.auditor.LogAccessViolation(ctx, req.CustomerID, report.ID, audit.AccessViolationDetails{
			Field:        v.Field,
			SectionTitle: v.SectionTitle,
			Stage:        "validator",
		}, req.ClientIP)
	}
	report = enforcement.Sanitized
	if len(report.Sections) == 0 {
		return nil, &ReportRejectedError{Reason: "report could not be produced: every section referenced unavailable fields"}
	}

	stored := &models.StoredReport{
		ID:         uuid.New(),
		CustomerID: req.CustomerID,
		Name:       report.Name,
		Definition: report,
		CreatedBy:  req.UserID,
	}
	if report.ID == "" {
		report.ID = stored.ID.String()
	}
	if err := s.reports.SaveReport(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	record.Success = true
	reportID := stored.ID.String()
	record.ReportID = &reportID
	s.auditor.LogReportGeneration(ctx, req.CustomerID, reportID, true, req.ClientIP)

	result.Report = report
	result.ReportID = &stored.ID
	s.saveLearnings(ctx, req, loopResult.Content, result)

	s.logger.Info("report generated",
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("report_id", reportID),
		zap.Int("sections", len(report.Sections)),
		zap.Int("tool_calls", record.ToolCallCount),
		zap.Int("violations", record.ViolationCount),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()))

	return result, nil
}

// compileContexts builds the schema and knowledge contexts concurrently;
// both are needed before the first completion round.
func (s *reportAgentService) compileContexts(ctx context.Context, req *GenerateReportRequest) (*models.SchemaContext, *models.KnowledgeContext, error) {
	var (
		wg           sync.WaitGroup
		schemaCtx    *models.SchemaContext
		schemaErr    error
		knowledgeCtx *models.KnowledgeContext
		knowledgeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		schemaCtx, schemaErr = s.schema.Compile(ctx, req.CustomerID)
	}()
	go func() {
		defer wg.Done()
		knowledgeCtx, knowledgeErr = s.knowledge.Compile(ctx, req.CustomerID, req.IsAdmin)
	}()
	wg.Wait()

	if schemaErr != nil {
		return nil, nil, fmt.Errorf("failed to compile schema context: %w", schemaErr)
	}
	if knowledgeErr != nil {
		// Knowledge is additive; a report without it is still a report.
		s.logger.Warn("knowledge context unavailable, continuing without it",
			zap.String("customer_id", req.CustomerID.String()),
			zap.Error(knowledgeErr))
		knowledgeCtx = &models.KnowledgeContext{}
	}
	return schemaCtx, knowledgeCtx, nil
}

func (s *reportAgentService) buildSystemPrompt(schemaCtx *models.SchemaContext, knowledgeCtx *models.KnowledgeContext, isAdmin bool) string {
	var b strings.Builder

	b.WriteString(`You are a freight analytics report builder. You answer questions about a customer's shipment data and build visual reports from it using the provided tools.

Work in this order:
1. Understand the request. If it is ambiguous, call ask_clarification instead of guessing.
2. Explore the data with the discovery and query tools before committing to a layout.
3. Call create_report_draft, then add sections that answer the request. Preview aggregations before charting them.
4. Call finalize_report with a short summary once the report is complete.

`)
	b.WriteString(s.schema.FormatForPrompt(schemaCtx, isAdmin))
	b.WriteString("\n")
	b.WriteString(s.policy.PromptInstructions(isAdmin))
	if kb := s.knowledge.FormatForPrompt(knowledgeCtx); kb != "" {
		b.WriteString("\n")
		b.WriteString(kb)
	}
	b.WriteString(`
## Response Format

After finalize_report, reply with a short message for the user. If for any reason you produce report JSON directly instead of using the tools, wrap it in <report_json> tags.
When the user teaches you something durable about their business that no tool captured, emit it inside <learning_flag> tags as a JSON array of {type, key, value, confidence} objects.
`)
	return b.String()
}

// extractReport picks the definitive report out of a finished session:
// finalize_report wins, then a tagged JSON block, then a bare JSON object
// with a "sections" key.
func (s *reportAgentService) extractReport(session *ToolSession, content string) *models.ReportDefinition {
	if session.FinalReport != nil {
		return session.FinalReport
	}

	if block, ok := llm.ExtractTagBlock(content, "report_json"); ok {
		if report := parseReportJSON(block); report != nil {
			return report
		}
	}
	if block, ok := llm.FindJSONObjectWithKey(content, "sections"); ok {
		return parseReportJSON(block)
	}
	return nil
}

func parseReportJSON(block string) *models.ReportDefinition {
	var report models.ReportDefinition
	if err := json.Unmarshal([]byte(block), &report); err != nil {
		return nil
	}
	if len(report.Sections) == 0 {
		return nil
	}
	return &report
}

// validateReport runs validation with one auto-fix attempt.
func (s *reportAgentService) validateReport(report *models.ReportDefinition, schemaCtx *models.SchemaContext) (*models.ReportDefinition, error) {
	issues := s.validator.Validate(report, schemaCtx)
	if len(issues) == 0 {
		return report, nil
	}

	if fixed := s.validator.AttemptAutoFix(report, schemaCtx); fixed != nil {
		s.logger.Info("report repaired by auto-fix",
			zap.String("report", report.Name),
			zap.Int("issues", len(issues)))
		return fixed, nil
	}

	msgs := make([]string, len(issues))
	for i, issue := range issues {
		msgs[i] = issue.Message
	}
	return nil, &ReportRejectedError{
		Reason: fmt.Sprintf("generated report failed validation: %s", strings.Join(msgs, "; ")),
	}
}

// ReportRejectedError describes a generation failure whose message is safe
// to show the requester, like validation output or access restrictions.
// Other failures keep their detail in logs only.
type ReportRejectedError struct {
	Reason string
}

func (e *ReportRejectedError) Error() string {
	return e.Reason
}

// saveLearnings persists whatever the conversation taught us. Failures are
// logged and swallowed; learning never breaks a report response.
func (s *reportAgentService) saveLearnings(ctx context.Context, req *GenerateReportRequest, response string, result *GenerateReportResult) {
	conversation := append(append([]models.ConversationMessage{}, req.History...),
		models.ConversationMessage{Role: models.RoleUser, Content: req.Prompt})

	learnings := s.learning.Extract(conversation, result.Report != nil)
	learnings = append(learnings, s.learning.ParseLearningFlags(response)...)
	if len(learnings) == 0 {
		return
	}

	saved, err := s.learning.Persist(ctx, req.CustomerID, learnings)
	if err != nil {
		s.logger.Warn("failed to persist learnings",
			zap.String("customer_id", req.CustomerID.String()),
			zap.Error(err))
		return
	}
	result.LearningsSaved = saved
}

// cleanResponseText strips machine-facing tag blocks from the model's final
// message before it reaches the user.
func cleanResponseText(content string) string {
	return strings.TrimSpace(llm.StripTagBlocks(content, "report_json", "learning_flag", "tool_call"))
}
