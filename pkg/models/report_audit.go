package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportAuditRecord is one row per agent invocation, written whether or not
// a report came out. Stored in engine_report_audit.
type ReportAuditRecord struct {
	ID             uuid.UUID `json:"id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	UserID         *string   `json:"user_id,omitempty"` // subject from JWT, nil for service calls
	Prompt         string    `json:"prompt"`
	Success        bool      `json:"success"`
	ReportID       *string   `json:"report_id,omitempty"`
	ToolCallCount  int       `json:"tool_call_count"`
	ViolationCount int       `json:"violation_count"`
	Model          string    `json:"model"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// StoredReport is a finalized report definition persisted for history and
// re-rendering. Stored in engine_reports with the definition as JSONB.
type StoredReport struct {
	ID         uuid.UUID         `json:"id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	Name       string            `json:"name"`
	Definition *ReportDefinition `json:"definition"`
	CreatedBy  *string           `json:"created_by,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
