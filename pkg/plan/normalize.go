package plan

import (
	"regexp"
	"strings"

	"github.com/go-pkgz/stringutils"
)

// quotedLit matches a whole single-quoted sql string, a doubled quote inside is escaped
const quotedLit = `'(?:[^']|'')*'`

var (
	whereRe   = regexp.MustCompile(`(?i)^(.* where )(.*)$`)
	unequalRe = regexp.MustCompile(`(?i)!=\s*(?:` + quotedLit + `|[-'_.[:alnum:]]+)| not in\s*\((?:` + quotedLit + `|[^)])+\)\s*`)
	equalRe   = regexp.MustCompile(`(?i)\s*(?:=|==|>\s*=|<\s*=|>|<)\s*(?:` + quotedLit + `|[-'_.[:alnum:]]+)` +
		`| in\s*\((?:` + quotedLit + `|[-_.,\s[:alnum:]])+\)`)
	stmtTableRe = regexp.MustCompile(`(?is)^\s*(?:UPDATE(?:\s+OR\s+[a-z]+)?|DELETE\s+FROM)\s+([^\s(]+)(.*)$`)
	stmtWhereRe = regexp.MustCompile(`(?is)\swhere\s+(.+)$`)
)

// Normalize collapses whitespace and replaces literal values in the WHERE clause with placeholders.
// Returns normalized query and true if the WHERE clause compares with embedded literals
// instead of bound parameters. Negative comparisons (!= x, NOT IN (...)) are normalized
// but not reported as embedded.
func Normalize(query string) (normalized string, embedded bool) {
	normalized = stringutils.NormalizeWhitespace(query)

	m := whereRe.FindStringSubmatch(normalized)
	if m == nil {
		return normalized, false
	}
	prefix, where := m[1], m[2]
	where = unequalRe.ReplaceAllString(where, " != ? ")
	if equalRe.MatchString(where) {
		embedded = true
		where = equalRe.ReplaceAllString(where, " = ?")
	}
	return stringutils.NormalizeWhitespace(prefix + where), embedded
}

// SelectFor makes SELECT * query over the table with optional where clause
func SelectFor(table, where string) string {
	if where == "" {
		return "SELECT * FROM " + table
	}
	return "SELECT * FROM " + table + " WHERE " + where
}

// SelectFromStatement derives an equivalent SELECT from UPDATE or DELETE statement,
// using the statement's table and WHERE clause. Returns false if the statement can't be parsed.
func SelectFromStatement(stmt string) (string, bool) {
	m := stmtTableRe.FindStringSubmatch(stmt)
	if m == nil {
		return "", false
	}
	table, rest := m[1], m[2]
	if w := stmtWhereRe.FindStringSubmatch(rest); w != nil {
		return SelectFor(table, strings.TrimSpace(w[1])), true
	}
	return SelectFor(table, ""), true
}

// placeholders counts positional "?" parameters outside of quoted literals
func placeholders(query string) int {
	var n int
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
		}
	}
	return n
}
