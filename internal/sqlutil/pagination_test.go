package sqlutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/gateway/internal/sqlutil"
)

func TestRewrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		in           string
		limit        int
		offset       int
		defaultLimit int
		want         string
	}{
		{
			name:         "appends limit",
			in:           "SELECT * FROM t",
			limit:        50,
			defaultLimit: 1000,
			want:         "SELECT * FROM t LIMIT 50",
		},
		{
			name:         "preserves trailing semicolon",
			in:           "SELECT * FROM t;",
			limit:        50,
			defaultLimit: 1000,
			want:         "SELECT * FROM t LIMIT 50;",
		},
		{
			name:         "already limited is a no-op",
			in:           "SELECT * FROM t LIMIT 5",
			limit:        50,
			defaultLimit: 1000,
			want:         "SELECT * FROM t LIMIT 5",
		},
		{
			name:         "multi-statement is a no-op",
			in:           "SELECT 1; SELECT 2",
			limit:        50,
			defaultLimit: 1000,
			want:         "SELECT 1; SELECT 2",
		},
		{
			name:         "offset appended only when positive",
			in:           "SELECT * FROM t",
			limit:        10,
			offset:       20,
			defaultLimit: 1000,
			want:         "SELECT * FROM t LIMIT 10 OFFSET 20",
		},
		{
			name:         "non select-like is a no-op",
			in:           "UPDATE t SET a = 1",
			limit:        10,
			defaultLimit: 1000,
			want:         "UPDATE t SET a = 1",
		},
		{
			name:         "empty input is a no-op",
			in:           "",
			limit:        10,
			defaultLimit: 1000,
			want:         "",
		},
		{
			name:         "zero limit falls back to default",
			in:           "SELECT * FROM t",
			defaultLimit: 1000,
			want:         "SELECT * FROM t LIMIT 1000",
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := sqlutil.Rewrite(tt.in, tt.limit, tt.offset, tt.defaultLimit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRewriteExplain(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"EXPLAIN (ANALYZE, COSTS, BUFFERS) SELECT * FROM t",
		sqlutil.RewriteExplain("SELECT * FROM t", "postgresql"))

	assert.Equal(t,
		"EXPLAIN SELECT * FROM t",
		sqlutil.RewriteExplain("SELECT * FROM t", "mysql"))
}
