package adapter

import (
	"regexp"
	"strings"
)

var destructivePatterns = []struct {
	operation string
	pattern   *regexp.Regexp
}{
	{"DROP DATABASE", regexp.MustCompile(`(?i)\bdrop\s+database\b`)},
	{"DROP SCHEMA", regexp.MustCompile(`(?i)\bdrop\s+schema\b`)},
	{"DROP TABLE", regexp.MustCompile(`(?i)\bdrop\s+table\b`)},
	{"DROP VIEW", regexp.MustCompile(`(?i)\bdrop\s+view\b`)},
	{"DROP INDEX", regexp.MustCompile(`(?i)\bdrop\s+index\b`)},
	{"DROP FUNCTION", regexp.MustCompile(`(?i)\bdrop\s+function\b`)},
	{"DROP PROCEDURE", regexp.MustCompile(`(?i)\bdrop\s+procedure\b`)},
	{"DROP TRIGGER", regexp.MustCompile(`(?i)\bdrop\s+trigger\b`)},
	{"TRUNCATE TABLE", regexp.MustCompile(`(?i)\btruncate\s+table\b`)},
}

var deleteFromPattern = regexp.MustCompile(`(?i)\bdelete\s+from\b`)
var whereFalsePattern = regexp.MustCompile(`(?i)\bwhere\s+1\s*=\s*0\b`)

// ClassifyDestructiveSQL reports whether sql matches a destructive pattern
// requiring simulation on a default connection, per 4.2.1 step 1, and the
// human-readable operation name to embed in the simulated row.
func ClassifyDestructiveSQL(sql string) (operation string, destructive bool) {
	trimmed := strings.TrimSpace(sql)

	for _, p := range destructivePatterns {
		if p.pattern.MatchString(trimmed) {
			return p.operation, true
		}
	}

	if deleteFromPattern.MatchString(trimmed) && !whereFalsePattern.MatchString(trimmed) {
		return "DELETE FROM", true
	}

	return "", false
}

// SimulatedRow builds the synthetic success row returned for a destructive
// statement on a default connection lacking allowDestructive, per section 7.
func SimulatedRow(operation string) *QueryResult {
	return &QueryResult{
		Rows: []map[string]any{
			{
				"acknowledged": true,
				"simulated":    true,
				"operation":    operation,
				"message":      "Destructive operation simulated; no changes were made.",
			},
		},
		Columns: []Column{
			{Name: "acknowledged", Type: "boolean"},
			{Name: "simulated", Type: "boolean"},
			{Name: "operation", Type: "string"},
			{Name: "message", Type: "string"},
		},
		RowCount: 1,
	}
}
