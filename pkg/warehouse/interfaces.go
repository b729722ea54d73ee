// Package warehouse provides read-only access to a customer's freight
// warehouse: the loads, carriers, and accessorials tables that report
// tools query. Every statement is produced by Builder from a validated
// QuerySpec and scoped to a single customer; model-authored SQL is never
// executed. Drivers are compiled in via build tags (postgres, mssql,
// all_drivers) and self-register in init().
package warehouse

import "context"

const (
	// MaxRowLimit is the hard cap on rows any warehouse query may return.
	MaxRowLimit = 1000

	// DefaultRowLimit applies when a query does not request an explicit limit.
	DefaultRowLimit = 100
)

// ColumnInfo describes a single column in a query result.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult contains rows returned from a warehouse query.
type QueryResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Dialect abstracts the SQL differences between warehouse drivers.
type Dialect interface {
	// QuoteIdentifier safely quotes a SQL identifier for the dialect.
	QuoteIdentifier(name string) string

	// ApplyLimit renders a row bound onto a SELECT statement. The input
	// must begin with the SELECT keyword; the limit is clamped to
	// MaxRowLimit.
	ApplyLimit(selectSQL string, limit int) string
}

// Executor runs parameterized SELECT statements against the warehouse.
// Statements use $1, $2, etc. for parameter placeholders; drivers
// translate to their native parameter style as needed.
type Executor interface {
	Dialect

	// QueryWithParams executes a parameterized SELECT and collects all rows.
	QueryWithParams(ctx context.Context, sqlQuery string, params []any) (*QueryResult, error)

	// Ping verifies the warehouse connection is alive.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
