package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
	"github.com/lanewise-ai/lanewise-engine/pkg/database"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// AuditLogger writes MCP audit events to the database asynchronously.
type AuditLogger struct {
	scopes *database.TenantScopeProvider
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger that records MCP events.
func NewAuditLogger(db *database.DB, logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		scopes: database.NewTenantScopeProvider(db),
		logger: logger.Named("mcp-audit"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	startTime, _ := a.loadAndDeleteStart(id)
	durationMs := int(time.Since(startTime).Milliseconds())

	event := a.buildEvent(ctx, req)
	event.EventType = models.MCPEventToolCall
	event.WasSuccessful = true
	event.DurationMs = &durationMs
	event.ResultSummary = summarizeResult(result)

	classifyToolCallSecurity(event, result)

	go a.record(event)
}

func (a *AuditLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}

	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	startTime, _ := a.loadAndDeleteStart(id)
	durationMs := int(time.Since(startTime).Milliseconds())

	event := a.buildEvent(ctx, req)
	event.EventType = models.MCPEventToolError
	event.WasSuccessful = false
	event.DurationMs = &durationMs

	errMsg := err.Error()
	event.ErrorMessage = &errMsg

	classifyErrorSecurity(event, errMsg)

	go a.record(event)
}

func (a *AuditLogger) loadAndDeleteStart(id any) (time.Time, bool) {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time), true
	}
	return time.Now(), false
}

func (a *AuditLogger) buildEvent(ctx context.Context, req *mcplib.CallToolRequest) *models.MCPAuditEvent {
	event := &models.MCPAuditEvent{
		SecurityLevel: models.MCPSecurityNormal,
	}

	toolName := req.Params.Name
	event.ToolName = &toolName
	event.RequestParams = sanitizeParams(req.Params.Arguments)

	if claims, ok := auth.GetClaims(ctx); ok {
		event.UserID = claims.Subject
		if claims.Email != "" {
			event.UserEmail = &claims.Email
		}
		if cid, err := uuid.Parse(claims.CustomerID); err == nil {
			event.CustomerID = cid
		}
	}

	return event
}

// record writes the audit event to the database asynchronously.
// Uses a fresh tenant connection to avoid races with the caller's connection.
func (a *AuditLogger) record(event *models.MCPAuditEvent) {
	if event.CustomerID == uuid.Nil {
		a.logger.Warn("Skipping MCP audit event: no customer ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tenantCtx, cleanup, err := a.scopes.WithTenantScope(ctx, event.CustomerID)
	if err != nil {
		a.logger.Warn("Failed to record MCP audit event: could not acquire tenant scope",
			zap.Error(err),
			zap.String("customer_id", event.CustomerID.String()))
		return
	}
	defer cleanup()

	scope, _ := database.GetTenantScope(tenantCtx)

	query := `
		INSERT INTO engine_mcp_audit_log (
			customer_id, user_id, user_email,
			event_type, tool_name, request_params,
			was_successful, error_message, result_summary,
			duration_ms, security_level, security_flags,
			client_info
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = scope.Conn.Exec(tenantCtx, query,
		event.CustomerID,
		event.UserID,
		event.UserEmail,
		event.EventType,
		event.ToolName,
		marshalJSON(event.RequestParams),
		event.WasSuccessful,
		event.ErrorMessage,
		marshalJSON(event.ResultSummary),
		event.DurationMs,
		event.SecurityLevel,
		event.SecurityFlags,
		marshalJSON(event.ClientInfo),
	)
	if err != nil {
		a.logger.Error("Failed to record MCP audit event",
			zap.Error(err),
			zap.String("customer_id", event.CustomerID.String()),
			zap.String("event_type", event.EventType))
	}
}

// maxParamSize is the maximum size of string parameters stored in audit logs.
const maxParamSize = 10240 // 10KB

// sensitiveParamKeys are parameter names whose values are hashed before storage.
var sensitiveParamKeys = map[string]bool{
	"password": true,
	"token":    true,
	"secret":   true,
	"api_key":  true,
	"apikey":   true,
}

// sanitizeParams sanitizes request parameters before storing in the audit log:
// long strings are truncated and sensitive values are hashed.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if sensitiveParamKeys[strings.ToLower(key)] {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		if len(val) > maxParamSize {
			return val[:maxParamSize] + "...[truncated]"
		}
		return val
	case map[string]any:
		nested := make(map[string]any, len(val))
		for k, v := range val {
			nested[k] = sanitizeValue(k, v)
		}
		return nested
	default:
		return value
	}
}

// hashSensitiveValue returns a SHA-256 hash prefix for sensitive values,
// allowing correlation across audit entries without storing the actual value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// summarizeResult creates a compact summary of the tool result.
func summarizeResult(result *mcplib.CallToolResult) map[string]any {
	if result == nil {
		return nil
	}

	summary := map[string]any{
		"is_error": result.IsError,
	}

	if len(result.Content) > 0 {
		summary["content_count"] = len(result.Content)
		for _, c := range result.Content {
			if tc, ok := c.(mcplib.TextContent); ok {
				text := tc.Text
				if len(text) > 200 {
					text = text[:200] + "...[truncated]"
				}
				summary["preview"] = text
				break
			}
		}
	}

	return summary
}

// RecordAuthFailure logs a failed MCP authentication attempt.
// Called from the MCP auth path when authentication fails.
func (a *AuditLogger) RecordAuthFailure(customerID uuid.UUID, userID, reason, clientIP string) {
	event := &models.MCPAuditEvent{
		CustomerID:    customerID,
		UserID:        userID,
		EventType:     models.MCPEventAuthFailure,
		WasSuccessful: false,
		ErrorMessage:  &reason,
		SecurityLevel: models.MCPSecurityWarning,
		SecurityFlags: []string{"auth_failure"},
		ClientInfo: map[string]any{
			"client_ip": clientIP,
		},
	}

	go a.record(event)
}

// classifyToolCallSecurity inspects a failed tool result for security-relevant
// patterns (injection screening reports surface as error JSON in the response).
func classifyToolCallSecurity(event *models.MCPAuditEvent, result *mcplib.CallToolResult) {
	if result == nil || !result.IsError {
		return
	}

	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		text := strings.ToLower(tc.Text)

		if strings.Contains(text, "injection") {
			event.EventType = models.MCPEventSQLInjectionAttempt
			event.SecurityLevel = models.MCPSecurityCritical
			event.SecurityFlags = append(event.SecurityFlags, "sql_injection_attempt")
			return
		}
		if strings.Contains(text, "restricted field") || strings.Contains(text, "authentication_required") {
			event.SecurityLevel = models.MCPSecurityWarning
			event.SecurityFlags = append(event.SecurityFlags, "unauthorized_access")
			return
		}
	}
}

// classifyErrorSecurity upgrades the event's security classification when the
// error message matches a security-relevant pattern.
func classifyErrorSecurity(event *models.MCPAuditEvent, errMsg string) {
	lower := strings.ToLower(errMsg)

	if strings.Contains(lower, "injection") {
		event.EventType = models.MCPEventSQLInjectionAttempt
		event.SecurityLevel = models.MCPSecurityCritical
		event.SecurityFlags = append(event.SecurityFlags, "sql_injection_attempt")
	} else if strings.Contains(lower, "authentication") || strings.Contains(lower, "unauthorized") {
		event.SecurityLevel = models.MCPSecurityWarning
		event.SecurityFlags = append(event.SecurityFlags, "auth_failure")
	} else if strings.Contains(lower, "rate limit") {
		event.EventType = models.MCPEventRateLimitHit
		event.SecurityLevel = models.MCPSecurityWarning
		event.SecurityFlags = append(event.SecurityFlags, "rate_limit")
	}
}

// marshalJSON converts a map to JSON bytes, returning nil for empty maps.
func marshalJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
