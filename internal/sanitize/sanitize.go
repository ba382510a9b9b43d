// Package sanitize implements the Query Validator & Sanitizer (section 4.6
// of the gateway specification): structural limits and dialect-specific
// dangerous-pattern rejection applied before every execution.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/querygate/gateway/internal/adapter"
	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/mongoshell"
)

// Limits bundles the configurable thresholds read from environment.
type Limits struct {
	MaxLength int
	MaxDepth  int
}

var sqlDangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*drop\s+(table|database)\b`),
	regexp.MustCompile(`(?i);\s*truncate\b`),
	regexp.MustCompile(`(?i);\s*delete\s+from\b`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
	regexp.MustCompile(`(?i)\b(alter|create)\s+(database|schema|user|role)\b`),
	regexp.MustCompile(`(?i)\bgrant\b`),
	regexp.MustCompile(`(?i)\brevoke\b`),
	regexp.MustCompile(`(?i)\bexec(ute)?\s*\(`),
	regexp.MustCompile(`(?i)\bsp_\w+`),
}

var mysqlExtraPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bload(\s+|_)(data|file)\b`),
	regexp.MustCompile(`(?i)\binto\s+outfile\b`),
}

var postgresExtraPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcopy\b.*\bfrom\s+program\b`),
	regexp.MustCompile(`(?i)\bpg_read_file\s*\(`),
}

var mongoDangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$where\b`),
	regexp.MustCompile(`\$eval\b`),
	regexp.MustCompile(`\$function\b`),
	regexp.MustCompile(`(?i)db\.eval\s*\(`),
	regexp.MustCompile(`(?i)db\.runCommand\s*\(`),
}

// Validate runs steps 1-4 of the validator against query for dialect,
// enforced only when isDefaultConnection is true for the dangerous-pattern
// step, per section 4.6 step 3.
func Validate(query string, dialect adapter.Kind, isDefaultConnection bool, limits Limits) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return apperrors.New(apperrors.KindValidation, "query must not be empty")
	}

	if len(query) > limits.MaxLength {
		return apperrors.Newf(apperrors.KindValidation, "query exceeds maximum length of %d characters", limits.MaxLength)
	}

	if depth := maxParenDepth(query); depth > limits.MaxDepth {
		return apperrors.Newf(apperrors.KindValidation, "query nesting depth %d exceeds maximum of %d", depth, limits.MaxDepth)
	}

	if isDefaultConnection {
		if err := checkDangerousPatterns(query, dialect); err != nil {
			return err
		}
	}

	if dialect == adapter.KindMongoDB {
		parsed, err := mongoshell.Parse(query)
		if err != nil {
			return apperrors.Wrap(apperrors.KindValidation, "failed to parse mongo query", err)
		}

		if isDefaultConnection && argsContainDangerousOperator(parsed.Args) {
			return apperrors.New(apperrors.KindValidation, "query contains a forbidden operator ($where/$eval/$function)")
		}
	}

	return nil
}

func checkDangerousPatterns(query string, dialect adapter.Kind) error {
	switch dialect {
	case adapter.KindMongoDB:
		for _, p := range mongoDangerousPatterns {
			if p.MatchString(query) {
				return apperrors.New(apperrors.KindValidation, "query contains a forbidden mongo operator or command")
			}
		}

	case adapter.KindMySQL:
		if err := matchAny(query, sqlDangerousPatterns); err != nil {
			return err
		}

		return matchAny(query, mysqlExtraPatterns)

	case adapter.KindPostgreSQL:
		if err := matchAny(query, sqlDangerousPatterns); err != nil {
			return err
		}

		return matchAny(query, postgresExtraPatterns)
	}

	return nil
}

func matchAny(query string, patterns []*regexp.Regexp) error {
	for _, p := range patterns {
		if p.MatchString(query) {
			return apperrors.New(apperrors.KindValidation, "query matches a disallowed pattern")
		}
	}

	return nil
}

func argsContainDangerousOperator(args []any) bool {
	for _, a := range args {
		if containsDangerousKey(a) {
			return true
		}
	}

	return false
}

func containsDangerousKey(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		for k, sub := range val {
			if k == "$where" || k == "$eval" || k == "$function" {
				return true
			}

			if containsDangerousKey(sub) {
				return true
			}
		}
	case []any:
		for _, sub := range val {
			if containsDangerousKey(sub) {
				return true
			}
		}
	}

	return false
}

// maxParenDepth returns the deepest nesting of balanced parentheses in s,
// ignoring quoted string literals so string contents don't skew the count.
func maxParenDepth(s string) int {
	depth, maxDepth := 0, 0

	var inString byte

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString != 0 {
			if c == '\\' {
				i++
				continue
			}

			if c == inString {
				inString = 0
			}

			continue
		}

		switch c {
		case '\'', '"':
			inString = c
		case '(':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}

	return maxDepth
}

// referenceSlotNames are the AST slots the isolated-export database-scope
// check inspects for a database/schema reference, per 4.6 step 5.
var referenceSlotNames = map[string]bool{"db": true, "schema": true, "database": true}

// ExtractReferencedDatabases returns the string values stored under keys
// named db/schema/database anywhere in a parsed Mongo query's arguments,
// nested documents and arrays included. No handler calls it; the isolated
// scope check uses ExtractSQLDatabaseReferences for SQL dialects only.
// For SQL, callers should use a regex-based best-effort extraction since
// no SQL AST is built in this gateway (see ExtractSQLDatabaseReferences).
func ExtractReferencedDatabases(args []any) []string {
	var out []string

	for _, a := range args {
		collectReferencedDatabases(a, &out)
	}

	return out
}

func collectReferencedDatabases(v any, out *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, sub := range val {
			if referenceSlotNames[k] {
				if s, ok := sub.(string); ok {
					*out = append(*out, s)
				}
			}

			collectReferencedDatabases(sub, out)
		}
	case []any:
		for _, sub := range val {
			collectReferencedDatabases(sub, out)
		}
	}
}

var sqlDBReferencePattern = regexp.MustCompile(`(?i)\b(?:use|from|into|update|join)\s+` +
	`(?:` + "`" + `?)([a-zA-Z_][a-zA-Z0-9_]*)` + "`?" + `\.`)

// ExtractSQLDatabaseReferences best-effort scans sql for
// `<database>.<table>`-qualified references, used by the isolated MySQL
// export guard (step 5): MySQL allows cross-database qualified names and
// the gateway must reject any that fall outside the session's own
// database.
func ExtractSQLDatabaseReferences(sql string) []string {
	matches := sqlDBReferencePattern.FindAllStringSubmatch(sql, -1)

	seen := map[string]bool{}

	var out []string

	for _, m := range matches {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	return out
}

// CheckIsolatedDatabaseScope enforces step 5: every database referenced by
// the query must be either the session's own userDatabase or the
// explicitly selected database.
func CheckIsolatedDatabaseScope(referenced []string, userDatabase, selectedDatabase string) error {
	allowed := map[string]bool{userDatabase: true}
	if selectedDatabase != "" {
		allowed[selectedDatabase] = true
	}

	for _, name := range referenced {
		if !allowed[name] {
			return apperrors.Newf(apperrors.KindForbidden, "query references database %q outside the isolated session's scope", name)
		}
	}

	return nil
}
