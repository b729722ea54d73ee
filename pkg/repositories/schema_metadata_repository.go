package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lanewise-ai/lanewise-engine/pkg/database"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// SchemaMetadataRepository reads the reportable field list from the engine
// store. Three tiers exist because deployments migrate at different speeds:
// the rich catalog is authoritative where present, older deployments only
// carry the legacy column list plus a side context table, and the oldest
// expose nothing but the get_report_fields() procedure. Each method returns
// an empty slice (not an error) when its tier simply has no rows, so the
// caller can fall through the chain.
type SchemaMetadataRepository interface {
	// FieldCatalog reads the tier-1 rich metadata table.
	FieldCatalog(ctx context.Context) ([]models.SchemaField, error)

	// LegacyColumns reads the tier-2 column list joined to the side context
	// table. Flags are derived from the declared data type; context rows
	// contribute the AI hint and the admin-only tag.
	LegacyColumns(ctx context.Context) ([]models.SchemaField, error)

	// ProcedureFields calls the tier-3 get_report_fields() procedure.
	ProcedureFields(ctx context.Context) ([]models.SchemaField, error)
}

type schemaMetadataRepository struct{}

// NewSchemaMetadataRepository creates a new SchemaMetadataRepository.
func NewSchemaMetadataRepository() SchemaMetadataRepository {
	return &schemaMetadataRepository{}
}

var _ SchemaMetadataRepository = (*schemaMetadataRepository)(nil)

func (r *schemaMetadataRepository) FieldCatalog(ctx context.Context) ([]models.SchemaField, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT field_name, data_type, groupable, aggregatable, searchable,
		       COALESCE(ai_context, ''), admin_only
		FROM engine_field_catalog
		ORDER BY display_order, field_name`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read field catalog: %w", err)
	}
	defer rows.Close()

	return scanSchemaFields(rows)
}

func (r *schemaMetadataRepository) LegacyColumns(ctx context.Context) ([]models.SchemaField, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT c.column_name,
		       c.data_type,
		       c.data_type IN ('text', 'date', 'boolean'),
		       c.data_type = 'numeric',
		       c.data_type = 'text',
		       COALESCE(x.ai_context, ''),
		       COALESCE(x.admin_only, FALSE)
		FROM engine_report_columns c
		LEFT JOIN engine_field_context x ON x.column_name = c.column_name
		ORDER BY c.ordinal_position, c.column_name`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy columns: %w", err)
	}
	defer rows.Close()

	return scanSchemaFields(rows)
}

func (r *schemaMetadataRepository) ProcedureFields(ctx context.Context) ([]models.SchemaField, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT field_name, data_type, groupable, aggregatable, searchable,
		       ai_context, admin_only
		FROM get_report_fields()`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to call get_report_fields: %w", err)
	}
	defer rows.Close()

	return scanSchemaFields(rows)
}

func scanSchemaFields(rows pgx.Rows) ([]models.SchemaField, error) {
	fields := make([]models.SchemaField, 0)
	for rows.Next() {
		var f models.SchemaField
		if err := rows.Scan(&f.Name, &f.DataType, &f.Groupable, &f.Aggregatable,
			&f.Searchable, &f.AIContext, &f.AdminOnly); err != nil {
			return nil, fmt.Errorf("failed to scan schema field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema fields: %w", err)
	}
	return fields, nil
}
