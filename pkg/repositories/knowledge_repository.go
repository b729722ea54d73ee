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

// KnowledgeRepository provides data access for knowledge entries. Reads
// return global rows (customer_id NULL) alongside the customer's own rows;
// merging and precedence happen in the service layer.
type KnowledgeRepository interface {
	Upsert(ctx context.Context, entry *models.KnowledgeEntry) error
	Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeEntry, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.KnowledgeEntry, error)
	ListByType(ctx context.Context, customerID uuid.UUID, knowledgeType string) ([]*models.KnowledgeEntry, error)
	ListNeedingReview(ctx context.Context, customerID uuid.UUID) ([]*models.KnowledgeEntry, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type knowledgeRepository struct{}

// NewKnowledgeRepository creates a new KnowledgeRepository.
func NewKnowledgeRepository() KnowledgeRepository {
	return &knowledgeRepository{}
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)

const knowledgeColumns = `id, customer_id, scope, knowledge_type, key, value, maps_to_field,
		confidence, source, active, needs_review, customer_visible, priority,
		created_at, updated_at`

func (r *knowledgeRepository) Upsert(ctx context.Context, entry *models.KnowledgeEntry) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	entry.UpdatedAt = now
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
		entry.CreatedAt = now
	}
	if entry.Scope == "" {
		entry.Scope = models.KnowledgeScopeCustomer
		if entry.CustomerID == nil {
			entry.Scope = models.KnowledgeScopeGlobal
		}
	}

	query := `
		INSERT INTO engine_customer_knowledge (
			` + knowledgeColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (customer_id, knowledge_type, key)
		DO UPDATE SET
			value = EXCLUDED.value,
			maps_to_field = EXCLUDED.maps_to_field,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			active = EXCLUDED.active,
			needs_review = EXCLUDED.needs_review,
			customer_visible = EXCLUDED.customer_visible,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := scope.Conn.QueryRow(ctx, query,
		entry.ID, entry.CustomerID, entry.Scope, entry.KnowledgeType, entry.Key,
		entry.Value, entry.MapsToField, entry.Confidence, entry.Source,
		entry.Active, entry.NeedsReview, entry.CustomerVisible, entry.Priority,
		entry.CreatedAt, entry.UpdatedAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge entry: %w", err)
	}

	return nil
}

func (r *knowledgeRepository) Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + knowledgeColumns + `
		FROM engine_customer_knowledge
		WHERE id = $1`

	entry, err := scanKnowledgeRow(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return entry, nil
}

func (r *knowledgeRepository) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.KnowledgeEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + knowledgeColumns + `
		FROM engine_customer_knowledge
		WHERE (customer_id IS NULL OR customer_id = $1) AND active = TRUE
		ORDER BY priority DESC, confidence DESC, key`

	return r.queryEntries(ctx, scope, query, customerID)
}

func (r *knowledgeRepository) ListByType(ctx context.Context, customerID uuid.UUID, knowledgeType string) ([]*models.KnowledgeEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + knowledgeColumns + `
		FROM engine_customer_knowledge
		WHERE (customer_id IS NULL OR customer_id = $1) AND knowledge_type = $2
		ORDER BY priority DESC, confidence DESC, key`

	return r.queryEntries(ctx, scope, query, customerID, knowledgeType)
}

func (r *knowledgeRepository) ListNeedingReview(ctx context.Context, customerID uuid.UUID) ([]*models.KnowledgeEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + knowledgeColumns + `
		FROM engine_customer_knowledge
		WHERE customer_id = $1 AND needs_review = TRUE
		ORDER BY created_at DESC`

	return r.queryEntries(ctx, scope, query, customerID)
}

func (r *knowledgeRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_customer_knowledge
		SET active = $2, needs_review = FALSE, updated_at = NOW()
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to update knowledge entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: knowledge entry %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *knowledgeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM engine_customer_knowledge WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: knowledge entry %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *knowledgeRepository) queryEntries(ctx context.Context, scope *database.TenantScope, query string, args ...any) ([]*models.KnowledgeEntry, error) {
	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.KnowledgeEntry, 0)
	for rows.Next() {
		e, err := scanKnowledgeRows(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge entries: %w", err)
	}

	return entries, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanKnowledgeRow(row pgx.Row) (*models.KnowledgeEntry, error) {
	var e models.KnowledgeEntry

	err := row.Scan(
		&e.ID, &e.CustomerID, &e.Scope, &e.KnowledgeType, &e.Key, &e.Value,
		&e.MapsToField, &e.Confidence, &e.Source, &e.Active, &e.NeedsReview,
		&e.CustomerVisible, &e.Priority, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
	}

	return &e, nil
}

func scanKnowledgeRows(rows pgx.Rows) (*models.KnowledgeEntry, error) {
	var e models.KnowledgeEntry

	err := rows.Scan(
		&e.ID, &e.CustomerID, &e.Scope, &e.KnowledgeType, &e.Key, &e.Value,
		&e.MapsToField, &e.Confidence, &e.Source, &e.Active, &e.NeedsReview,
		&e.CustomerVisible, &e.Priority, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
	}

	return &e, nil
}
