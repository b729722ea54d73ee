// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection detects SQL injection
	// patterns in model-supplied tool arguments.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventAccessViolation is logged when a report references fields the
	// requesting user is not allowed to see.
	EventAccessViolation SecurityEventType = "access_violation"
	// EventReportGeneration is logged for completed report generation runs.
	EventReportGeneration SecurityEventType = "report_generation"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	CustomerID uuid.UUID         `json:"customer_id"`
	ReportID   string            `json:"report_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
	ToolName    string `json:"tool_name"`
}

// AccessViolationDetails describes a restricted-field reference that was
// blocked. Stage records where the block happened: "tool" for rejected tool
// arguments, "validator" for sections removed from a finished report.
type AccessViolationDetails struct {
	Field        string `json:"field"`
	SectionTitle string `json:"section_title,omitempty"`
	Stage        string `json:"stage"`
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	// Create a child logger with security-specific namespace for SIEM parsing
	securityLogger := logger.Named("security_audit")
	return &SecurityAuditor{logger: securityLogger}
}

// LogInjectionAttempt records a detected SQL injection attempt with full context.
// This is logged at ERROR level with "critical" severity for immediate alerting.
//
// The context is used to extract user ID from JWT claims if available.
// Client IP should be extracted from the HTTP request (typically r.RemoteAddr).
func (a *SecurityAuditor) LogInjectionAttempt(
	ctx context.Context,
	customerID uuid.UUID,
	details SQLInjectionDetails,
	clientIP string,
) {
	// Extract user ID from context if available
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventSQLInjectionAttempt,
		CustomerID: customerID,
		UserID:     userID,
		ClientIP:   clientIP,
		Details:    details,
		Severity:   "critical",
	}

	// Serialize event to JSON for SIEM ingestion
	// Ignoring error as marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	// Log at ERROR level to ensure visibility in monitoring systems
	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("customer_id", customerID.String()),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("tool_name", details.ToolName),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "critical"),
	)
}

// LogAccessViolation records a restricted-field reference that was blocked.
// Logged at WARN level: the enforcement layer already removed the offending
// content, so this is a signal for review rather than an active breach.
func (a *SecurityAuditor) LogAccessViolation(
	ctx context.Context,
	customerID uuid.UUID,
	reportID string,
	details AccessViolationDetails,
	clientIP string,
) {
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventAccessViolation,
		CustomerID: customerID,
		ReportID:   reportID,
		UserID:     userID,
		ClientIP:   clientIP,
		Details:    details,
		Severity:   "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Access policy violation blocked",
		zap.String("event_json", string(eventJSON)),
		zap.String("customer_id", customerID.String()),
		zap.String("report_id", reportID),
		zap.String("field", details.Field),
		zap.String("stage", details.Stage),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "warning"),
	)
}

// LogReportGeneration records a completed report generation run for audit trail.
// This is logged at INFO level and complements the database audit record.
func (a *SecurityAuditor) LogReportGeneration(
	ctx context.Context,
	customerID uuid.UUID,
	reportID string,
	success bool,
	clientIP string,
) {
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventReportGeneration,
		CustomerID: customerID,
		ReportID:   reportID,
		UserID:     userID,
		ClientIP:   clientIP,
		Details: map[string]bool{
			"success": success,
		},
		Severity: "info",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Report generated",
		zap.String("event_json", string(eventJSON)),
		zap.String("customer_id", customerID.String()),
		zap.String("report_id", reportID),
		zap.Bool("success", success),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "info"),
	)
}
