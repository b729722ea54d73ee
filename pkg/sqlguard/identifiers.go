package sqlguard

import (
	"fmt"
	"strings"
)

// MaxIdentifierLength caps field and table names. Postgres truncates at 63
// bytes; anything longer is not a real identifier in our schemas.
const MaxIdentifierLength = 63

// ValidIdentifier reports whether s is safe to use as a SQL identifier:
// non-empty, starts with a letter or underscore, contains only letters,
// digits, and underscores. Model-supplied field and table names must pass
// this before they are matched against the catalog.
func ValidIdentifier(s string) bool {
	if s == "" || len(s) > MaxIdentifierLength {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// RequireIdentifier returns an error naming the rejected value when s is not
// a valid identifier. The value is truncated in the message so a hostile
// string cannot flood logs.
func RequireIdentifier(kind, s string) error {
	if ValidIdentifier(s) {
		return nil
	}
	display := s
	if len(display) > 40 {
		display = display[:40] + "..."
	}
	return fmt.Errorf("invalid %s %q: identifiers may contain only letters, digits, and underscores", kind, display)
}

// ContainsStatementSeparator reports whether s carries a semicolon outside of
// single-quoted literals. Used as a belt-and-braces check on free-text search
// values before they are bound as query parameters.
func ContainsStatementSeparator(s string) bool {
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			// A doubled quote inside a literal is an escaped quote.
			if inString && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
			continue
		}
		if c == ';' && !inString {
			return true
		}
	}
	return false
}

// NormalizeSearchTerm trims whitespace and strips a trailing semicolon from a
// free-text search value. Values that still contain statement separators or
// injection patterns after normalization should be rejected by the caller.
func NormalizeSearchTerm(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}
