package sanitize_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/gateway/internal/adapter"
	"github.com/querygate/gateway/internal/sanitize"
)

var defaultLimits = sanitize.Limits{MaxLength: 100000, MaxDepth: 10}

func TestValidateRejectsEmpty(t *testing.T) {
	t.Parallel()

	err := sanitize.Validate("   ", adapter.KindPostgreSQL, true, defaultLimits)
	require.Error(t, err)
}

func TestValidateRejectsTooLong(t *testing.T) {
	t.Parallel()

	limits := sanitize.Limits{MaxLength: 10, MaxDepth: 10}
	err := sanitize.Validate("select 1 from t", adapter.KindPostgreSQL, true, limits)
	require.Error(t, err)
}

func TestValidateRejectsExcessiveNesting(t *testing.T) {
	t.Parallel()

	limits := sanitize.Limits{MaxLength: 100000, MaxDepth: 3}
	query := "select " + strings.Repeat("(", 5) + "1" + strings.Repeat(")", 5)

	err := sanitize.Validate(query, adapter.KindPostgreSQL, true, limits)
	require.Error(t, err)
}

func TestValidateRejectsTrailingDropOnDefaultConnection(t *testing.T) {
	t.Parallel()

	err := sanitize.Validate("select 1; drop table users", adapter.KindPostgreSQL, true, defaultLimits)
	require.Error(t, err)
}

func TestValidateAllowsTrailingDropOnNonDefaultConnection(t *testing.T) {
	t.Parallel()

	err := sanitize.Validate("select 1; drop table users", adapter.KindPostgreSQL, false, defaultLimits)
	assert.NoError(t, err)
}

func TestValidateRejectsMySQLLoadFile(t *testing.T) {
	t.Parallel()

	err := sanitize.Validate("select load_file('/etc/passwd')", adapter.KindMySQL, true, defaultLimits)
	require.Error(t, err)
}

func TestValidateRejectsPostgresCopyFromProgram(t *testing.T) {
	t.Parallel()

	err := sanitize.Validate("copy t from program 'cat /etc/passwd'", adapter.KindPostgreSQL, true, defaultLimits)
	require.Error(t, err)
}

func TestValidateRejectsMongoWhere(t *testing.T) {
	t.Parallel()

	err := sanitize.Validate(`db.users.find({$where: "this.a == this.b"})`, adapter.KindMongoDB, true, defaultLimits)
	require.Error(t, err)
}

func TestValidateAcceptsOrdinaryQuery(t *testing.T) {
	t.Parallel()

	err := sanitize.Validate("select id, name from users where id = 1", adapter.KindPostgreSQL, true, defaultLimits)
	assert.NoError(t, err)
}

func TestExtractSQLDatabaseReferences(t *testing.T) {
	t.Parallel()

	refs := sanitize.ExtractSQLDatabaseReferences("select * from otherdb.users join thisdb.accounts on 1=1")
	assert.ElementsMatch(t, []string{"otherdb", "thisdb"}, refs)
}

func TestCheckIsolatedDatabaseScopeRejectsOutsideReference(t *testing.T) {
	t.Parallel()

	err := sanitize.CheckIsolatedDatabaseScope([]string{"otherdb"}, "u_abc123", "")
	require.Error(t, err)
}

func TestCheckIsolatedDatabaseScopeAllowsOwnDatabase(t *testing.T) {
	t.Parallel()

	err := sanitize.CheckIsolatedDatabaseScope([]string{"u_abc123"}, "u_abc123", "")
	assert.NoError(t, err)
}
