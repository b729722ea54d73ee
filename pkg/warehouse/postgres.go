//go:build postgres || all_drivers

package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lanewise-ai/lanewise-engine/pkg/config"
)

func init() {
	RegisterDriver("postgres", newPostgresExecutor)
}

// postgresExecutor runs warehouse queries over a pgx connection pool.
type postgresExecutor struct {
	pool *pgxpool.Pool
}

func newPostgresExecutor(ctx context.Context, cfg *config.WarehouseConfig) (Executor, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolMaxConns)
	poolCfg.MinConns = int32(cfg.PoolMinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}
	return &postgresExecutor{pool: pool}, nil
}

// QueryWithParams executes a parameterized SELECT and collects all rows.
// pgx handles parameterized queries natively, preventing SQL injection.
func (e *postgresExecutor) QueryWithParams(ctx context.Context, sqlQuery string, params []any) (*QueryResult, error) {
	rows, err := e.pool.Query(ctx, sqlQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = ColumnInfo{
			Name: string(fd.Name),
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// QuoteIdentifier safely quotes a SQL identifier to prevent SQL injection.
// Uses pgx's built-in identifier sanitization.
func (e *postgresExecutor) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// ApplyLimit appends a LIMIT clause, clamped to MaxRowLimit.
func (e *postgresExecutor) ApplyLimit(selectSQL string, limit int) string {
	if limit <= 0 || limit > MaxRowLimit {
		limit = MaxRowLimit
	}
	return fmt.Sprintf("%s LIMIT %d", selectSQL, limit)
}

func (e *postgresExecutor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

func (e *postgresExecutor) Close() error {
	e.pool.Close()
	return nil
}

// pgTypeNameFromOID maps PostgreSQL type OIDs to human-readable type names.
// This covers the most common types; unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	default:
		return "UNKNOWN"
	}
}

// Ensure postgresExecutor implements Executor at compile time.
var _ Executor = (*postgresExecutor)(nil)
