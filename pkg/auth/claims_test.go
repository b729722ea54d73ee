package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestGetClaims_Success(t *testing.T) {
	claims := &Claims{CustomerID: "test-customer"}
	claims.Subject = "user-123"

	ctx := context.WithValue(context.Background(), ClaimsKey, claims)

	got, ok := GetClaims(ctx)
	if !ok {
		t.Fatal("expected claims to be found")
	}
	if got.Subject != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", got.Subject)
	}
	if got.CustomerID != "test-customer" {
		t.Errorf("expected customer ID 'test-customer', got %q", got.CustomerID)
	}
}

func TestGetClaims_NotFound(t *testing.T) {
	ctx := context.Background()

	_, ok := GetClaims(ctx)
	if ok {
		t.Error("expected claims to not be found")
	}
}

func TestGetClaims_WrongType(t *testing.T) {
	// Context has wrong type for claims key
	ctx := context.WithValue(context.Background(), ClaimsKey, "not-a-claims-struct")

	_, ok := GetClaims(ctx)
	if ok {
		t.Error("expected claims to not be found when wrong type")
	}
}

func TestGetToken_Success(t *testing.T) {
	ctx := context.WithValue(context.Background(), TokenKey, "test-token-abc123")

	got, ok := GetToken(ctx)
	if !ok {
		t.Fatal("expected token to be found")
	}
	if got != "test-token-abc123" {
		t.Errorf("expected 'test-token-abc123', got %q", got)
	}
}

func TestGetToken_NotFound(t *testing.T) {
	ctx := context.Background()

	_, ok := GetToken(ctx)
	if ok {
		t.Error("expected token to not be found")
	}
}

func TestIsAdmin(t *testing.T) {
	admin := &Claims{Roles: []string{"viewer", "admin"}}
	if !admin.IsAdmin() {
		t.Error("expected IsAdmin=true for roles containing admin")
	}

	viewer := &Claims{Roles: []string{"viewer"}}
	if viewer.IsAdmin() {
		t.Error("expected IsAdmin=false for non-admin roles")
	}

	empty := &Claims{}
	if empty.IsAdmin() {
		t.Error("expected IsAdmin=false for empty roles")
	}
}

func TestExtractClaimsFromContext(t *testing.T) {
	customerID := uuid.New()
	claims := &Claims{CustomerID: customerID.String()}
	claims.Subject = "user-abc"
	ctx := context.WithValue(context.Background(), ClaimsKey, claims)

	gotCustomer, gotUser, err := ExtractClaimsFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCustomer != customerID {
		t.Errorf("expected customer ID %s, got %s", customerID, gotCustomer)
	}
	if gotUser != "user-abc" {
		t.Errorf("expected user ID 'user-abc', got %q", gotUser)
	}
}

func TestExtractClaimsFromContext_MissingClaims(t *testing.T) {
	_, _, err := ExtractClaimsFromContext(context.Background())
	if err == nil {
		t.Error("expected error when no claims in context")
	}
}

func TestExtractClaimsFromContext_InvalidCustomerID(t *testing.T) {
	claims := &Claims{CustomerID: "not-a-uuid"}
	claims.Subject = "user-abc"
	ctx := context.WithValue(context.Background(), ClaimsKey, claims)

	_, _, err := ExtractClaimsFromContext(ctx)
	if err == nil {
		t.Error("expected error for malformed customer ID")
	}
}
