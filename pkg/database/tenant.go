package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantScope wraps a connection with customer context and ensures cleanup.
// The connection has app.current_customer_id set for RLS policy evaluation,
// so every query on it only sees the customer's rows.
type TenantScope struct {
	Conn *pgxpool.Conn
}

// Close resets customer context and releases connection to pool.
// This MUST be called to prevent customer context from leaking to the next request.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	// Reset the customer context before returning connection to pool
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_customer_id")
	s.Conn.Release()
}

// WithTenant acquires a connection and sets the customer context for RLS.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, customerID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_customer_id', $1, false)", customerID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn}, nil
}

// WithoutTenant acquires a connection without customer context.
// Use this for operations that span customers, such as global knowledge
// seeding and feedback review queues.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &TenantScope{Conn: conn}, nil
}
