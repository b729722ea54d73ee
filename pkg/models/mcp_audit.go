package models

import (
	"time"

	"github.com/google/uuid"
)

// MCP audit event types.
const (
	MCPEventToolCall            = "tool_call"
	MCPEventToolError           = "tool_error"
	MCPEventAuthFailure         = "auth_failure"
	MCPEventSQLInjectionAttempt = "sql_injection_attempt"
	MCPEventRateLimitHit        = "rate_limit_hit"
)

// MCP security classification levels.
const (
	MCPSecurityNormal   = "normal"
	MCPSecurityWarning  = "warning"
	MCPSecurityCritical = "critical"
)

// MCPAuditEvent represents a single entry in the MCP audit log.
type MCPAuditEvent struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`

	// Who
	UserID    string  `json:"user_id"`
	UserEmail *string `json:"user_email,omitempty"`

	// What
	EventType string  `json:"event_type"`
	ToolName  *string `json:"tool_name,omitempty"`

	// Request details
	RequestParams map[string]any `json:"request_params,omitempty"`

	// Response details
	WasSuccessful bool           `json:"was_successful"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	ResultSummary map[string]any `json:"result_summary,omitempty"`

	// Performance
	DurationMs *int `json:"duration_ms,omitempty"`

	// Security classification
	SecurityLevel string   `json:"security_level"`
	SecurityFlags []string `json:"security_flags,omitempty"`

	// Context
	ClientInfo map[string]any `json:"client_info,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
