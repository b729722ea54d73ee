// Package auth provides JWT-based authentication for lanewise-engine.
// It validates tokens issued by the lanewise identity service using JWKS endpoints.
package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// RoleAdmin marks users who can see restricted fields (costs, margins) and
// manage knowledge entries for their customer.
const RoleAdmin = "admin"

// Claims represents the JWT claims structure from the lanewise identity service.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.)
// and adds custom claims for customer context.
type Claims struct {
	jwt.RegisteredClaims
	CustomerID string   `json:"cid,omitempty"`   // Customer UUID
	Email      string   `json:"email,omitempty"` // User email address
	Roles      []string `json:"roles,omitempty"` // User roles within the customer
}

// IsAdmin reports whether the claims carry the admin role.
func (c *Claims) IsAdmin() bool {
	return slices.Contains(c.Roles, RoleAdmin)
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// ExtractClaimsFromContext extracts customer ID and user ID from JWT claims in context.
// Returns error if not authenticated or claims are invalid.
func ExtractClaimsFromContext(ctx context.Context) (uuid.UUID, string, error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil, "", fmt.Errorf("authentication required: no claims in context")
	}

	if claims.CustomerID == "" {
		return uuid.Nil, "", fmt.Errorf("missing customer ID in JWT claims")
	}

	customerID, err := uuid.Parse(claims.CustomerID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid customer ID format: %w", err)
	}

	userID := claims.Subject
	if userID == "" {
		return uuid.Nil, "", fmt.Errorf("missing user ID in JWT claims")
	}

	return customerID, userID, nil
}
