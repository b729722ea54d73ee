package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/database"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// FeedbackRepository provides data access for correction records captured
// from report conversations. Corrections stay pending until a reviewer
// approves or rejects them.
type FeedbackRepository interface {
	Create(ctx context.Context, feedback *models.ReportFeedback) error
	Get(ctx context.Context, id uuid.UUID) (*models.ReportFeedback, error)
	ListByStatus(ctx context.Context, customerID uuid.UUID, status string) ([]*models.ReportFeedback, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type feedbackRepository struct{}

// NewFeedbackRepository creates a new FeedbackRepository.
func NewFeedbackRepository() FeedbackRepository {
	return &feedbackRepository{}
}

var _ FeedbackRepository = (*feedbackRepository)(nil)

func (r *feedbackRepository) Create(ctx context.Context, feedback *models.ReportFeedback) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if feedback.ID == uuid.Nil {
		feedback.ID = uuid.New()
	}
	if feedback.Status == "" {
		feedback.Status = models.FeedbackStatusPending
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO engine_report_feedback (id, customer_id, text, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := scope.Conn.Exec(ctx, query,
		feedback.ID, feedback.CustomerID, feedback.Text, feedback.Status, feedback.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create feedback: %w", err)
	}

	return nil
}

func (r *feedbackRepository) Get(ctx context.Context, id uuid.UUID) (*models.ReportFeedback, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, customer_id, text, status, created_at, reviewed_at
		FROM engine_report_feedback
		WHERE id = $1`

	feedback, err := scanFeedbackRow(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return feedback, nil
}

func (r *feedbackRepository) ListByStatus(ctx context.Context, customerID uuid.UUID, status string) ([]*models.ReportFeedback, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, customer_id, text, status, created_at, reviewed_at
		FROM engine_report_feedback
		WHERE customer_id = $1 AND status = $2
		ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, customerID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ReportFeedback, 0)
	for rows.Next() {
		feedback, err := scanFeedbackRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, feedback)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback: %w", err)
	}

	return records, nil
}

// UpdateStatus moves a feedback record out of review. The reviewed_at
// timestamp is stamped on the transition.
func (r *feedbackRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if status != models.FeedbackStatusApproved && status != models.FeedbackStatusRejected {
		return fmt.Errorf("invalid feedback status %q", status)
	}

	query := `
		UPDATE engine_report_feedback
		SET status = $2, reviewed_at = NOW()
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update feedback status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: feedback %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func scanFeedbackRow(row pgx.Row) (*models.ReportFeedback, error) {
	var feedback models.ReportFeedback
	err := row.Scan(
		&feedback.ID, &feedback.CustomerID, &feedback.Text,
		&feedback.Status, &feedback.CreatedAt, &feedback.ReviewedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan feedback: %w", err)
	}
	return &feedback, nil
}
