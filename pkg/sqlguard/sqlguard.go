// Package sqlguard enforces the read-only query policy of the repository
// layer. Every statement passes through ValidateReadOnly before it reaches a
// backend driver, regardless of which backend executes it.
package sqlguard

import (
	"strings"
	"unicode"

	apperrors "datalens/pkg/errors"
)

const (
	// DefaultLimit is applied when a caller does not request a row limit.
	DefaultLimit = 1000
	// MaxLimit is the hard ceiling; requests above it are capped.
	MaxLimit = 50000
)

// forbiddenKeywords are rejected anywhere in a statement, including inside
// common table expressions. Matching is per whole token, so identifiers such
// as created_at never trip the guard.
var forbiddenKeywords = map[string]struct{}{
	"INSERT":   {},
	"UPDATE":   {},
	"DELETE":   {},
	"REPLACE":  {},
	"MERGE":    {},
	"DROP":     {},
	"ALTER":    {},
	"CREATE":   {},
	"TRUNCATE": {},
}

// ForbiddenKeywords returns the rejected keyword list in stable order.
// The security analyzer shares this list with the runtime guard.
func ForbiddenKeywords() []string {
	return []string{"INSERT", "UPDATE", "DELETE", "REPLACE", "MERGE", "DROP", "ALTER", "CREATE", "TRUNCATE"}
}

// ValidateReadOnly rejects any statement whose first keyword is not SELECT
// or WITH, and any statement containing a write keyword outside string
// literals, quoted identifiers, or comments.
func ValidateReadOnly(sql string) error {
	toks := tokenize(sql)
	if len(toks) == 0 {
		return apperrors.NewValidationError("empty statement")
	}

	head := strings.ToUpper(toks[0])
	if head != "SELECT" && head != "WITH" {
		return apperrors.NewForbiddenStatementError(head)
	}

	for _, tok := range toks[1:] {
		up := strings.ToUpper(tok)
		if _, bad := forbiddenKeywords[up]; bad {
			return apperrors.NewForbiddenStatementError(up)
		}
	}
	return nil
}

// EffectiveLimit normalizes a requested row limit. Negative values select
// the default; values above the ceiling are capped, which the caller must
// report as a truncated result.
func EffectiveLimit(requested int) (limit int, capped bool) {
	switch {
	case requested < 0:
		return DefaultLimit, false
	case requested > MaxLimit:
		return MaxLimit, true
	default:
		return requested, false
	}
}

// tokenize extracts bare word tokens from a statement, skipping single-quoted
// literals (with '' escapes), double-quoted and backtick-quoted identifiers,
// line comments, and block comments.
func tokenize(sql string) []string {
	var toks []string
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			toks = append(toks, word.String())
			word.Reset()
		}
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case r == '\'':
			flush()
			for i++; i < len(runes); i++ {
				if runes[i] == '\'' {
					// '' escapes a quote inside the literal
					if i+1 < len(runes) && runes[i+1] == '\'' {
						i++
						continue
					}
					break
				}
			}
		case r == '"' || r == '`':
			quote := r
			flush()
			for i++; i < len(runes); i++ {
				if runes[i] == quote {
					break
				}
			}
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i += 2; i < len(runes) && runes[i] != '\n'; i++ {
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			for i += 2; i+1 < len(runes); i++ {
				if runes[i] == '*' && runes[i+1] == '/' {
					i++
					break
				}
			}
		case unicode.IsLetter(r) || r == '_' || (word.Len() > 0 && unicode.IsDigit(r)):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return toks
}
