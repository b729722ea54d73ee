// Package tools provides the MCP tool surface of the report engine.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
	"github.com/lanewise-ai/lanewise-engine/pkg/database"
)

// ToolAccessError represents an actionable error that should be returned as a
// JSON result to the MCP client, not as a Go error, so the calling model can
// see it and adjust.
type ToolAccessError struct {
	Code    string
	Message string
	// MCPResult contains the pre-built MCP response for this error
	MCPResult *mcp.CallToolResult
}

func (e *ToolAccessError) Error() string {
	return e.Message
}

// AsToolAccessResult converts a ToolAccessError to its MCP result, or returns
// nil for other errors:
//
//	access, err := AcquireToolAccess(ctx, deps)
//	if err != nil {
//	    if result := AsToolAccessResult(err); result != nil {
//	        return result, nil
//	    }
//	    return nil, err
//	}
func AsToolAccessResult(err error) *mcp.CallToolResult {
	var accessErr *ToolAccessError
	if errors.As(err, &accessErr) {
		return accessErr.MCPResult
	}
	return nil
}

func newToolAccessError(code, message string) *ToolAccessError {
	return &ToolAccessError{
		Code:      code,
		Message:   message,
		MCPResult: NewErrorResult(code, message),
	}
}

// BaseToolDeps provides the common dependencies every MCP tool needs.
type BaseToolDeps struct {
	DB     *database.DB
	Logger *zap.Logger
}

// ToolAccess is the result of a successful access check: the caller's
// identity plus a tenant-scoped context whose connection pins the customer's
// row-level security settings.
type ToolAccess struct {
	CustomerID uuid.UUID
	IsAdmin    bool
	UserID     string
	TenantCtx  context.Context
	Cleanup    func()
}

// AcquireToolAccess authenticates the MCP caller and opens a tenant scope for
// their customer. Authentication problems come back as ToolAccessError so
// handlers can surface them as JSON results; database failures are plain
// Go errors.
func AcquireToolAccess(ctx context.Context, deps *BaseToolDeps) (*ToolAccess, error) {
	claims, ok := auth.GetClaims(ctx)
	if !ok {
		return nil, newToolAccessError("authentication_required", "authentication required")
	}

	customerID, err := uuid.Parse(claims.CustomerID)
	if err != nil {
		return nil, newToolAccessError("invalid_customer_id", fmt.Sprintf("invalid customer ID: %v", err))
	}

	scope, err := deps.DB.WithTenant(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}

	return &ToolAccess{
		CustomerID: customerID,
		IsAdmin:    claims.IsAdmin(),
		UserID:     claims.Subject,
		TenantCtx:  database.SetTenantScope(ctx, scope),
		Cleanup:    scope.Close,
	}, nil
}
