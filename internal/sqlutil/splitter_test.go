package sqlutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/gateway/internal/sqlutil"
)

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "simple two statements",
			in:   "SELECT 1; SELECT 2",
			want: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name: "semicolon inside single-quoted string preserved",
			in:   "INSERT INTO t VALUES ('a;b')",
			want: []string{"INSERT INTO t VALUES ('a;b')"},
		},
		{
			name: "dollar-quoted function body with internal semicolon",
			in:   "INSERT INTO t VALUES ('a;b'); CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$ LANGUAGE plpgsql; SELECT 1",
			want: []string{
				"INSERT INTO t VALUES ('a;b')",
				"CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$ LANGUAGE plpgsql",
				"SELECT 1",
			},
		},
		{
			name: "tagged dollar quote",
			in:   "CREATE FUNCTION f() AS $tag$ a; b $tag$ LANGUAGE sql; SELECT 2",
			want: []string{
				"CREATE FUNCTION f() AS $tag$ a; b $tag$ LANGUAGE sql",
				"SELECT 2",
			},
		},
		{
			name: "line comment containing semicolon",
			in:   "SELECT 1 -- trailing; comment\n; SELECT 2",
			want: []string{"SELECT 1 -- trailing; comment", "SELECT 2"},
		},
		{
			name: "block comment containing semicolon",
			in:   "SELECT 1 /* a; b */; SELECT 2",
			want: []string{"SELECT 1 /* a; b */", "SELECT 2"},
		},
		{
			name: "trailing whitespace and empty statements dropped",
			in:   "SELECT 1;;  ",
			want: []string{"SELECT 1"},
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := sqlutil.SplitStatements(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}
