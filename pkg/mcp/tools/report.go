package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/llm"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/services"
)

// ReportToolDeps contains dependencies for the report MCP tools.
type ReportToolDeps struct {
	BaseToolDeps
	AgentService  services.ReportAgentService
	SchemaService services.SchemaContextService
}

// RegisterReportTools registers the report engine's MCP tools.
func RegisterReportTools(s *server.MCPServer, deps *ReportToolDeps) {
	registerGenerateReportTool(s, deps)
	registerListReportFieldsTool(s, deps)
}

func registerGenerateReportTool(s *server.MCPServer, deps *ReportToolDeps) {
	tool := mcp.NewTool(
		"generate_report",
		mcp.WithDescription(
			"Build a freight analytics report from a natural-language request. "+
				"The engine explores the shipment warehouse, assembles sections (charts, tables, hero metrics), "+
				"validates them against the live schema, and stores the finished report. "+
				"Returns the report definition, or a clarification question when the request is ambiguous. "+
				"Example: prompt='Show me carrier performance for the last quarter, grouped by lane'",
		),
		mcp.WithString(
			"prompt",
			mcp.Required(),
			mcp.Description("Natural-language description of the report to build"),
		),
		mcp.WithString(
			"history",
			mcp.Description("Optional - prior conversation turns as a JSON array of {role, content} objects, oldest first"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		access, err := AcquireToolAccess(ctx, &deps.BaseToolDeps)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer access.Cleanup()

		prompt, err := req.RequireString("prompt")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if strings.TrimSpace(prompt) == "" {
			return NewErrorResult("invalid_parameters", "parameter 'prompt' cannot be empty"), nil
		}

		var history []models.ConversationMessage
		if raw := getOptionalString(req, "history"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &history); err != nil {
				return NewErrorResult("invalid_parameters", fmt.Sprintf("parameter 'history' is not a valid message array: %v", err)), nil
			}
		}

		genReq := &services.GenerateReportRequest{
			CustomerID: access.CustomerID,
			IsAdmin:    access.IsAdmin,
			Prompt:     prompt,
			History:    history,
		}
		if access.UserID != "" {
			genReq.UserID = &access.UserID
		}

		result, err := deps.AgentService.GenerateReport(access.TenantCtx, genReq)
		if err != nil {
			var llmErr *llm.Error
			if errors.As(err, &llmErr) {
				return NewErrorResult("model_error", llmErr.UserSafeMessage()), nil
			}
			deps.Logger.Error("MCP report generation failed",
				zap.String("customer_id", access.CustomerID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("report generation failed: %w", err)
		}

		payload := map[string]any{
			"message": result.Message,
		}
		if result.Clarification != nil {
			payload["clarification"] = result.Clarification
		}
		if result.Report != nil {
			payload["report"] = result.Report
		}
		if result.ReportID != nil {
			payload["report_id"] = result.ReportID.String()
		}

		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, _ := args[key].(string)
	return val
}

func registerListReportFieldsTool(s *server.MCPServer, deps *ReportToolDeps) {
	tool := mcp.NewTool(
		"list_report_fields",
		mcp.WithDescription(
			"List the fields available for building reports against the shipment warehouse, "+
				"with their data types and whether each can be grouped, aggregated, or searched. "+
				"Use this before generate_report to see what the data can answer.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		access, err := AcquireToolAccess(ctx, &deps.BaseToolDeps)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer access.Cleanup()

		fields, source, err := deps.SchemaService.ResolveFields(access.TenantCtx, access.CustomerID)
		if err != nil {
			deps.Logger.Error("MCP field listing failed",
				zap.String("customer_id", access.CustomerID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("failed to resolve report fields: %w", err)
		}

		sc := &models.SchemaContext{Fields: fields, Source: source}
		visible := sc.VisibleFields(access.IsAdmin)

		jsonBytes, err := json.Marshal(map[string]any{
			"fields": visible,
			"source": source,
			"total":  len(visible),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field list: %w", err)
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}
