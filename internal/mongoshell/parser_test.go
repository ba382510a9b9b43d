package mongoshell_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/querygate/gateway/internal/mongoshell"
)

func TestParseProjection(t *testing.T) {
	t.Parallel()

	q, err := mongoshell.Parse(`db.students.find({}, { name: 1, _id: 0 })`)
	require.NoError(t, err)

	assert.Equal(t, mongoshell.TargetCollection, q.Target)
	assert.Equal(t, "students", q.Collection)
	assert.Equal(t, "find", q.Operation)
	require.Len(t, q.Args, 2)
	assert.Equal(t, map[string]any{}, q.Args[0])
	assert.True(t, mongoshell.IsProjectionArg(q.Args[1]))
}

func TestParseFindSingleArgIsNotProjection(t *testing.T) {
	t.Parallel()

	q, err := mongoshell.Parse(`db.students.find({})`)
	require.NoError(t, err)
	require.Len(t, q.Args, 1)
}

func TestParseFindWithOperators(t *testing.T) {
	t.Parallel()

	q, err := mongoshell.Parse(`db.students.find({age:{$gt:10}}).sort({name:1}).limit(5)`)
	require.NoError(t, err)

	assert.Equal(t, "students", q.Collection)
	assert.Equal(t, "find", q.Operation)

	filter, ok := q.Args[0].(map[string]any)
	require.True(t, ok)

	age, ok := filter["age"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(10), age["$gt"])

	require.Len(t, q.Chain, 2)
	assert.Equal(t, "sort", q.Chain[0].Name)
	assert.Equal(t, "limit", q.Chain[1].Name)
}

func TestParseObjectIdAndRegex(t *testing.T) {
	t.Parallel()

	q, err := mongoshell.Parse(`db.users.find({_id: ObjectId("5f8d0d55b54764421b7156c3"), name: /^ann/i})`)
	require.NoError(t, err)

	filter, ok := q.Args[0].(map[string]any)
	require.True(t, ok)

	_, isOID := filter["_id"].(primitive.ObjectID)
	assert.True(t, isOID)

	_, hasName := filter["name"]
	assert.True(t, hasName)
}

func TestParseShowCommands(t *testing.T) {
	t.Parallel()

	q, err := mongoshell.Parse("show dbs")
	require.NoError(t, err)
	assert.Equal(t, mongoshell.TargetAdmin, q.Target)
	assert.Equal(t, "listDatabases", q.Operation)

	q2, err := mongoshell.Parse("show collections")
	require.NoError(t, err)
	assert.Equal(t, mongoshell.TargetDB, q2.Target)
	assert.Equal(t, "listCollections", q2.Operation)
}

func TestParseUse(t *testing.T) {
	t.Parallel()

	q, err := mongoshell.Parse("use analytics")
	require.NoError(t, err)
	assert.Equal(t, "use", q.Operation)
	assert.Equal(t, "analytics", q.Database)
}

func TestParseDeprecatedOperation(t *testing.T) {
	t.Parallel()

	_, err := mongoshell.Parse(`db.students.update({}, {$set:{a:1}})`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updateOne")
}

func TestParseLengthRejected(t *testing.T) {
	t.Parallel()

	_, err := mongoshell.Parse(`db.students.find({}).length`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "countDocuments")
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	original := `db.students.find({name: "Ann"}).sort({name: 1}).limit(5)`

	q1, err := mongoshell.Parse(original)
	require.NoError(t, err)

	emitted := mongoshell.Emit(q1)

	q2, err := mongoshell.Parse(emitted)
	require.NoError(t, err)

	assert.Equal(t, q1, q2)
}
