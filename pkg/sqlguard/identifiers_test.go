package sqlguard

import (
	"strings"
	"testing"
)

func TestValidIdentifier(t *testing.T) {
	valid := []string{
		"loads",
		"carrier_name",
		"total_cost",
		"_internal",
		"field2",
		"OriginState",
	}
	for _, s := range valid {
		if !ValidIdentifier(s) {
			t.Errorf("ValidIdentifier(%q) = false, want true", s)
		}
	}

	invalid := []string{
		"",
		"2field",
		"carrier-name",
		"loads; DROP TABLE loads",
		"carrier name",
		`"quoted"`,
		"table.column",
		strings.Repeat("a", MaxIdentifierLength+1),
	}
	for _, s := range invalid {
		if ValidIdentifier(s) {
			t.Errorf("ValidIdentifier(%q) = true, want false", s)
		}
	}
}

func TestRequireIdentifier(t *testing.T) {
	if err := RequireIdentifier("field", "carrier_name"); err != nil {
		t.Errorf("unexpected error for valid identifier: %v", err)
	}

	err := RequireIdentifier("field", "cost; DROP TABLE loads")
	if err == nil {
		t.Fatal("expected error for invalid identifier")
	}
	if !strings.Contains(err.Error(), "field") {
		t.Errorf("error should name the identifier kind: %v", err)
	}
}

func TestRequireIdentifier_TruncatesLongValues(t *testing.T) {
	long := strings.Repeat("x", 200) + "'; DROP TABLE loads"
	err := RequireIdentifier("table", long)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > 150 {
		t.Errorf("error message too long (%d chars), hostile value not truncated", len(err.Error()))
	}
}

func TestContainsStatementSeparator(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"plain search term", false},
		{"term; DROP TABLE loads", true},
		{"O'Brien's Freight", false},
		{"'a;b'", false},
		{"'it''s fine; really'", false},
		{"'unterminated; literal", false},
		{"end'; DELETE FROM loads", true},
	}
	for _, tt := range tests {
		if got := ContainsStatementSeparator(tt.input); got != tt.want {
			t.Errorf("ContainsStatementSeparator(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeSearchTerm(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  walmart  ", "walmart"},
		{"walmart;", "walmart"},
		{"walmart ; ", "walmart"},
		{"a;b", "a;b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSearchTerm(tt.input); got != tt.want {
			t.Errorf("NormalizeSearchTerm(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
