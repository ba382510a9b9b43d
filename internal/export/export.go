// Package export streams a validated query result to the wire as CSV or
// JSON (section 4.10 of the gateway specification), executed without a
// default row limit.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/querygate/gateway/internal/adapter"
	"github.com/querygate/gateway/internal/apperrors"
)

// Format is the requested export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates the requested export format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", apperrors.Newf(apperrors.KindValidation, "unsupported export format %q", s)
	}
}

// Write streams result to w in the requested format.
func Write(w io.Writer, result *adapter.QueryResult, format Format) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, result)
	case FormatJSON:
		return writeJSON(w, result)
	default:
		return apperrors.Newf(apperrors.KindValidation, "unsupported export format %q", format)
	}
}

func columnNames(result *adapter.QueryResult) []string {
	if len(result.Columns) > 0 {
		names := make([]string, len(result.Columns))
		for i, c := range result.Columns {
			names[i] = c.Name
		}

		return names
	}

	seen := map[string]bool{}

	var names []string

	for _, row := range result.Rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}

	sort.Strings(names)

	return names
}

// writeCSV renders the header row from the declared columns (or the union
// of keys if absent), coercing every cell to string and escaping by
// doubling `"` and wrapping when the cell contains `,`, `"`, or a newline.
func writeCSV(w io.Writer, result *adapter.QueryResult) error {
	names := columnNames(result)

	if _, err := io.WriteString(w, joinCSVRow(names)+"\r\n"); err != nil {
		return err
	}

	for _, row := range result.Rows {
		cells := make([]string, len(names))
		for i, name := range names {
			cells[i] = csvCell(row[name])
		}

		if _, err := io.WriteString(w, joinCSVRow(cells)+"\r\n"); err != nil {
			return err
		}
	}

	return nil
}

func joinCSVRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = escapeCSVField(c)
	}

	return strings.Join(escaped, ",")
}

func escapeCSVField(field string) string {
	if strings.ContainsAny(field, ",\"\n\r") {
		return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
	}

	return field
}

func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}

		return string(raw)
	default:
		raw, err := json.Marshal(val)
		if err == nil {
			return string(raw)
		}

		return fmt.Sprintf("%v", val)
	}
}

// writeJSON renders rows as a single top-level array in rendered order.
func writeJSON(w io.Writer, result *adapter.QueryResult) error {
	enc := json.NewEncoder(w)

	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}

	return enc.Encode(rows)
}
