//go:build mssql || all_drivers

package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/lanewise-ai/lanewise-engine/pkg/config"
)

func init() {
	RegisterDriver("mssql", newMSSQLExecutor)
}

// mssqlExecutor runs warehouse queries against SQL Server, the usual
// backing store when the warehouse is a customer's TMS replica.
type mssqlExecutor struct {
	db *sql.DB
}

func newMSSQLExecutor(ctx context.Context, cfg *config.WarehouseConfig) (Executor, error) {
	db, err := sql.Open("sqlserver", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolMaxConns)
	db.SetMaxIdleConns(cfg.PoolMinConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}
	return &mssqlExecutor{db: db}, nil
}

// QueryWithParams executes a parameterized SELECT and collects all rows.
// PostgreSQL-style positional placeholders ($1, $2, ...) are converted to
// SQL Server named parameters (@p1, @p2, ...).
func (e *mssqlExecutor) QueryWithParams(ctx context.Context, sqlQuery string, params []any) (*QueryResult, error) {
	converted := convertPlaceholders(sqlQuery)

	namedParams := make([]any, len(params))
	for i, param := range params {
		namedParams[i] = sql.Named(fmt.Sprintf("p%d", i+1), param)
	}

	rows, err := e.db.QueryContext(ctx, converted, namedParams...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = ColumnInfo{
			Name: colName,
			Type: sqlServerTypeName(columnTypes[i].DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			// Text columns come back as []byte; convert to string.
			if b, ok := val.([]byte); ok && isSQLServerStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
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
// Uses SQL Server's square bracket syntax and escapes ] as ]].
func (e *mssqlExecutor) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// ApplyLimit rewrites the leading SELECT into SELECT TOP (n), clamped to
// MaxRowLimit. Statements that do not begin with SELECT are wrapped in a
// bounded subquery instead.
func (e *mssqlExecutor) ApplyLimit(selectSQL string, limit int) string {
	if limit <= 0 || limit > MaxRowLimit {
		limit = MaxRowLimit
	}
	trimmed := strings.TrimSpace(selectSQL)
	if len(trimmed) >= 7 && strings.EqualFold(trimmed[:7], "SELECT ") {
		return fmt.Sprintf("SELECT TOP (%d) %s", limit, trimmed[7:])
	}
	return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", limit, trimmed)
}

func (e *mssqlExecutor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *mssqlExecutor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// convertPlaceholders rewrites PostgreSQL-style positional parameters
// ($1, $2, ...) to SQL Server named parameters (@p1, @p2, ...).
func convertPlaceholders(query string) string {
	return placeholderPattern.ReplaceAllStringFunc(query, func(match string) string {
		num, err := strconv.Atoi(match[1:])
		if err != nil {
			return match
		}
		return fmt.Sprintf("@p%d", num)
	})
}

// sqlServerTypeName maps SQL Server type names to the standard names used
// across warehouse drivers.
func sqlServerTypeName(sqlServerType string) string {
	switch strings.ToUpper(sqlServerType) {
	case "TINYINT":
		return "TINYINT"
	case "SMALLINT":
		return "SMALLINT"
	case "INT":
		return "INTEGER"
	case "BIGINT":
		return "BIGINT"
	case "DECIMAL", "NUMERIC":
		return "NUMERIC"
	case "MONEY", "SMALLMONEY":
		return "MONEY"
	case "FLOAT":
		return "DOUBLE PRECISION"
	case "REAL":
		return "REAL"
	case "CHAR", "NCHAR":
		return "CHAR"
	case "VARCHAR", "NVARCHAR":
		return "VARCHAR"
	case "TEXT", "NTEXT":
		return "TEXT"
	case "DATE":
		return "DATE"
	case "TIME":
		return "TIME"
	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return "TIMESTAMP"
	case "DATETIMEOFFSET":
		return "TIMESTAMP WITH TIME ZONE"
	case "BIT":
		return "BOOLEAN"
	case "UNIQUEIDENTIFIER":
		return "UUID"
	default:
		return strings.ToUpper(sqlServerType)
	}
}

// isSQLServerStringType returns true for SQL Server string column types.
func isSQLServerStringType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "TEXT", "NTEXT":
		return true
	}
	return false
}

// Ensure mssqlExecutor implements Executor at compile time.
var _ Executor = (*mssqlExecutor)(nil)
