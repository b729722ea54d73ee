// Package auth provides context helpers for extracting authentication information
// from request contexts. These helpers simplify access to JWT claims that are
// injected by the auth middleware.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
// Use this when you only need the user ID and can handle empty string gracefully.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// GetCustomerIDFromContext extracts the customer ID from JWT claims in the context.
// Returns uuid.Nil if not authenticated or claims are missing.
// Use this when you only need the customer ID and can handle uuid.Nil gracefully.
func GetCustomerIDFromContext(ctx context.Context) uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil
	}

	if claims.CustomerID == "" {
		return uuid.Nil
	}

	customerID, err := uuid.Parse(claims.CustomerID)
	if err != nil {
		return uuid.Nil
	}

	return customerID
}

// IsAdminFromContext reports whether the authenticated user has the admin role.
// Returns false when no claims are present, so callers default to the
// restricted view.
func IsAdminFromContext(ctx context.Context) bool {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return false
	}
	return claims.IsAdmin()
}

// RequireUserIDFromContext extracts the user ID from context and returns an error if not found.
// Use this when user ID is required for the operation.
func RequireUserIDFromContext(ctx context.Context) (string, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// RequireCustomerIDFromContext extracts the customer ID from context and returns an error if not found.
// Use this when customer ID is required for the operation.
func RequireCustomerIDFromContext(ctx context.Context) (uuid.UUID, error) {
	customerID := GetCustomerIDFromContext(ctx)
	if customerID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("customer ID not found in context")
	}
	return customerID, nil
}

// RequireClaimsFromContext extracts both customer ID and user ID from context with validation.
// Returns an error if either is missing or invalid.
func RequireClaimsFromContext(ctx context.Context) (customerID uuid.UUID, userID string, err error) {
	return ExtractClaimsFromContext(ctx)
}
