package session

import (
	"github.com/koustreak/conduit/internal/errs"
)

// PlaceholderStyle identifies the bind placeholder syntax of a dialect.
type PlaceholderStyle int

const (
	// StyleQuestion counts ? placeholders (SQLite, MySQL).
	StyleQuestion PlaceholderStyle = iota

	// StyleDollar counts $1…$N placeholders (Postgres). The parameter
	// count is the highest index used, so repeating $1 needs one value.
	StyleDollar
)

// CheckBinding enforces the binding contract: the number of placeholders in
// stmt must exactly match the number of supplied bind values. Drivers call
// it before starting a transaction, so a mismatch never changes the
// connection's transaction state.
func CheckBinding(stmt string, style PlaceholderStyle, args []any) error {
	n := CountPlaceholders(stmt, style)
	if n != len(args) {
		return errs.Newf(errs.ErrKindBindingMismatch,
			"statement has %d placeholders but %d bind values were supplied", n, len(args))
	}
	return nil
}

// CountPlaceholders returns the number of bind parameters stmt expects.
//
// The scanner understands enough SQL lexing to never count placeholder
// characters inside 'string literals', "quoted identifiers", `backtick
// identifiers`, -- line comments, /* block comments */ or Postgres
// $tag$ dollar-quoted strings $tag$. Anything it cannot parse is treated
// as plain statement text and forwarded to the store untouched.
func CountPlaceholders(stmt string, style PlaceholderStyle) int {
	count := 0
	maxIdx := 0

	for i := 0; i < len(stmt); {
		c := stmt[i]
		switch {
		case c == '\'':
			i = skipQuoted(stmt, i, '\'')
		case c == '"':
			i = skipQuoted(stmt, i, '"')
		case c == '`':
			i = skipQuoted(stmt, i, '`')
		case c == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
			i = skipLineComment(stmt, i)
		case c == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
			i = skipBlockComment(stmt, i)
		case c == '?' && style == StyleQuestion:
			count++
			i++
		case c == '$' && style == StyleDollar:
			if n, next, ok := scanDollarIndex(stmt, i); ok {
				if n > maxIdx {
					maxIdx = n
				}
				i = next
			} else if next, ok := skipDollarQuoted(stmt, i); ok {
				i = next
			} else {
				i++
			}
		default:
			i++
		}
	}

	if style == StyleDollar {
		return maxIdx
	}
	return count
}

// skipQuoted advances past a quoted region opened at stmt[start]. A doubled
// quote character ('' or "") is an escape, not a terminator. An unterminated
// region runs to the end of the statement — the store will reject it.
func skipQuoted(stmt string, start int, quote byte) int {
	i := start + 1
	for i < len(stmt) {
		if stmt[i] == quote {
			if i+1 < len(stmt) && stmt[i+1] == quote {
				i += 2 // escaped quote
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func skipLineComment(stmt string, start int) int {
	for i := start + 2; i < len(stmt); i++ {
		if stmt[i] == '\n' {
			return i + 1
		}
	}
	return len(stmt)
}

func skipBlockComment(stmt string, start int) int {
	for i := start + 2; i+1 < len(stmt); i++ {
		if stmt[i] == '*' && stmt[i+1] == '/' {
			return i + 2
		}
	}
	return len(stmt)
}

// scanDollarIndex parses $N at stmt[start]. Returns the index value and the
// position after the digits, or ok=false when $ is not followed by a digit.
func scanDollarIndex(stmt string, start int) (n, next int, ok bool) {
	i := start + 1
	for i < len(stmt) && stmt[i] >= '0' && stmt[i] <= '9' {
		n = n*10 + int(stmt[i]-'0')
		i++
	}
	if i == start+1 {
		return 0, 0, false
	}
	return n, i, true
}

// skipDollarQuoted advances past a Postgres dollar-quoted string such as
// $$…$$ or $body$…$body$ opened at stmt[start]. Returns ok=false when the
// text at start is not a valid opening tag.
func skipDollarQuoted(stmt string, start int) (int, bool) {
	i := start + 1
	for i < len(stmt) && isTagChar(stmt[i]) {
		i++
	}
	if i >= len(stmt) || stmt[i] != '$' {
		return 0, false
	}
	tag := stmt[start : i+1] // includes both $ delimiters

	body := i + 1
	for body < len(stmt) {
		if stmt[body] == '$' && body+len(tag) <= len(stmt) && stmt[body:body+len(tag)] == tag {
			return body + len(tag), true
		}
		body++
	}
	return len(stmt), true // unterminated; let the store complain
}

func isTagChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
