// Package sqlutil implements the SQL pagination/EXPLAIN rewriter and the
// statement splitter (sections 4.3 and 4.4 of the gateway specification).
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	selectLikePattern  = regexp.MustCompile(`(?is)^\s*(select|with|show|describe|explain)\b`)
	hasLimitPattern    = regexp.MustCompile(`(?is)\blimit\b|\bfetch\s+first\b`)
	hasOffsetPattern   = regexp.MustCompile(`(?is)\boffset\b`)
	trailingSemiPat    = regexp.MustCompile(`;\s*$`)
	explainPgPattern   = `EXPLAIN (ANALYZE, COSTS, BUFFERS) `
	explainMySQLPrefix = `EXPLAIN `
)

// containsTopLevelSemicolonBeforeEnd reports whether s contains a ';' that
// is not merely a single trailing terminator (i.e. more than one statement).
func containsTopLevelSemicolonBeforeEnd(s string) bool {
	statements := SplitStatements(s)
	return len(statements) > 1
}

// Rewrite applies the pagination rewriter: it appends LIMIT/OFFSET to a
// single SELECT-like statement, or leaves s untouched when it is empty,
// multi-statement, already paginated, or not SELECT-like.
func Rewrite(s string, limit, offset, defaultLimit int) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	if containsTopLevelSemicolonBeforeEnd(trimmed) {
		return s
	}

	if hasLimitPattern.MatchString(trimmed) {
		return s
	}

	if !selectLikePattern.MatchString(trimmed) {
		return s
	}

	hadSemicolon := trailingSemiPat.MatchString(s)
	body := trailingSemiPat.ReplaceAllString(s, "")

	if limit <= 0 {
		limit = defaultLimit
	}

	body = fmt.Sprintf("%s LIMIT %d", body, limit)

	if offset > 0 && !hasOffsetPattern.MatchString(trimmed) {
		body = fmt.Sprintf("%s OFFSET %d", body, offset)
	}

	if hadSemicolon {
		body += ";"
	}

	return body
}

// RewriteExplain replaces a SELECT-like statement with its EXPLAIN form for
// the target dialect ("postgresql" or "mysql").
func RewriteExplain(s string, dialect string) string {
	trimmed := strings.TrimSpace(s)
	if !selectLikePattern.MatchString(trimmed) {
		return s
	}

	hadSemicolon := trailingSemiPat.MatchString(s)
	body := trailingSemiPat.ReplaceAllString(s, "")

	prefix := explainMySQLPrefix
	if dialect == "postgresql" {
		prefix = explainPgPattern
	}

	body = prefix + strings.TrimSpace(body)

	if hadSemicolon {
		body += ";"
	}

	return body
}

// IsSelectLike reports whether s begins with a read-only keyword eligible
// for pagination or EXPLAIN rewriting.
func IsSelectLike(s string) bool {
	return selectLikePattern.MatchString(strings.TrimSpace(s))
}
