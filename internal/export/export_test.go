package export_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/gateway/internal/adapter"
	"github.com/querygate/gateway/internal/export"
)

func sampleResult() *adapter.QueryResult {
	return &adapter.QueryResult{
		Columns: []adapter.Column{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}},
		Rows: []map[string]any{
			{"id": float64(1), "name": "Ann"},
			{"id": float64(2), "name": `Say "hi", bye`},
		},
		RowCount: 2,
	}
}

func TestWriteCSVEscapesSpecialCharacters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, sampleResult(), export.FormatCSV))

	out := buf.String()
	assert.Contains(t, out, "id,name\r\n")
	assert.Contains(t, out, `"Say ""hi"", bye"`)
}

func TestWriteJSONProducesArray(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, sampleResult(), export.FormatJSON))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	assert.Len(t, rows, 2)
	assert.Equal(t, "Ann", rows[0]["name"])
}

func TestParseFormatRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := export.ParseFormat("xml")
	require.Error(t, err)
}

func TestColumnNamesFallsBackToKeyUnion(t *testing.T) {
	t.Parallel()

	result := &adapter.QueryResult{
		Rows: []map[string]any{
			{"a": 1, "b": 2},
			{"b": 3, "c": 4},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, result, export.FormatCSV))
	assert.Contains(t, buf.String(), "a,b,c\r\n")
}
