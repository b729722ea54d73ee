package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/database"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// ReportRepository provides data access for finalized reports and the
// per-invocation audit trail.
type ReportRepository interface {
	SaveReport(ctx context.Context, report *models.StoredReport) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.StoredReport, error)
	ListReports(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.StoredReport, error)
	DeleteReport(ctx context.Context, id uuid.UUID) error
	SaveAuditRecord(ctx context.Context, record *models.ReportAuditRecord) error
	ListAuditRecords(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.ReportAuditRecord, error)
}

type reportRepository struct{}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository() ReportRepository {
	return &reportRepository{}
}

var _ ReportRepository = (*reportRepository)(nil)

// DefaultListLimit bounds history listings when the caller does not ask
// for a specific page size.
const DefaultListLimit = 50

func (r *reportRepository) SaveReport(ctx context.Context, report *models.StoredReport) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	definitionJSON, err := json.Marshal(report.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal report definition: %w", err)
	}

	query := `
		INSERT INTO engine_reports (id, customer_id, name, definition, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition`

	_, err = scope.Conn.Exec(ctx, query,
		report.ID, report.CustomerID, report.Name, definitionJSON,
		report.CreatedBy, report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	return nil
}

func (r *reportRepository) GetReport(ctx context.Context, id uuid.UUID) (*models.StoredReport, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, customer_id, name, definition, created_by, created_at
		FROM engine_reports
		WHERE id = $1`

	report, err := scanStoredReport(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return report, nil
}

func (r *reportRepository) ListReports(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.StoredReport, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, customer_id, name, definition, created_by, created_at
		FROM engine_reports
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]*models.StoredReport, 0)
	for rows.Next() {
		report, err := scanStoredReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}

func (r *reportRepository) DeleteReport(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM engine_reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: report %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *reportRepository) SaveAuditRecord(ctx context.Context, record *models.ReportAuditRecord) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO engine_report_audit (
			id, customer_id, user_id, prompt, success, report_id,
			tool_call_count, violation_count, model, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := scope.Conn.Exec(ctx, query,
		record.ID, record.CustomerID, record.UserID, record.Prompt,
		record.Success, record.ReportID, record.ToolCallCount,
		record.ViolationCount, record.Model, record.DurationMs, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report audit record: %w", err)
	}

	return nil
}

func (r *reportRepository) ListAuditRecords(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.ReportAuditRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, customer_id, user_id, prompt, success, report_id,
			tool_call_count, violation_count, model, duration_ms, created_at
		FROM engine_report_audit
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list report audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ReportAuditRecord, 0)
	for rows.Next() {
		var rec models.ReportAuditRecord
		err := rows.Scan(
			&rec.ID, &rec.CustomerID, &rec.UserID, &rec.Prompt, &rec.Success,
			&rec.ReportID, &rec.ToolCallCount, &rec.ViolationCount, &rec.Model,
			&rec.DurationMs, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report audit record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report audit records: %w", err)
	}

	return records, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanStoredReport(row pgx.Row) (*models.StoredReport, error) {
	var report models.StoredReport
	var definitionJSON []byte

	err := row.Scan(
		&report.ID, &report.CustomerID, &report.Name, &definitionJSON,
		&report.CreatedBy, &report.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	if len(definitionJSON) > 0 {
		report.Definition = &models.ReportDefinition{}
		if err := json.Unmarshal(definitionJSON, report.Definition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report definition: %w", err)
		}
	}

	return &report, nil
}
