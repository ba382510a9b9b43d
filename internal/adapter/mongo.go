package adapter

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/mongoshell"
)

var mongoDestructiveOps = map[string]bool{
	"dropDatabase":   true,
	"dropCollection": true,
	"drop":           true,
}

var mongoDangerousPattern = []string{"$where", "$eval", "$function"}

// MongoAdapter implements Adapter for MongoDB, dispatching the Mongo Shell
// Parser's AST onto driver operations (section 4.2.2).
type MongoAdapter struct {
	Logger mlog.Logger

	mu               sync.Mutex
	client           *mongo.Client
	connected        bool
	defaultDatabase  string
	isDefaultConn    bool
	allowDestruct    bool
	querySession     mongo.Session
	defaultLimit     int
	schemaSampleSize int
	queryTimeout     time.Duration
}

// NewMongoAdapter builds a Mongo adapter for one session. schemaSampleSize
// bounds how many documents GetColumns samples to infer field types;
// values <= 0 fall back to 100.
func NewMongoAdapter(logger mlog.Logger, isDefaultConn, allowDestructive bool, defaultLimit int, schemaSampleSize int, queryTimeout time.Duration) *MongoAdapter {
	if schemaSampleSize <= 0 {
		schemaSampleSize = 100
	}

	return &MongoAdapter{
		Logger:           logger,
		isDefaultConn:    isDefaultConn,
		allowDestruct:    allowDestructive,
		defaultLimit:     defaultLimit,
		schemaSampleSize: schemaSampleSize,
		queryTimeout:     queryTimeout,
	}
}

func (a *MongoAdapter) Connect(ctx context.Context, connectionURL string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionURL))
	if err != nil {
		return apperrors.Wrap(apperrors.KindClientInput, "failed to connect to mongodb", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return apperrors.Wrap(apperrors.KindClientInput, "failed to ping mongodb", err)
	}

	a.mu.Lock()
	a.client = client
	a.connected = true
	a.defaultDatabase = defaultDatabaseFromURI(connectionURL)
	a.mu.Unlock()

	a.Logger.Infof("mongo adapter connected")

	return nil
}

func (a *MongoAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	session := a.querySession
	a.client = nil
	a.connected = false
	a.querySession = nil
	a.mu.Unlock()

	if session != nil {
		session.AbortTransaction(ctx) //nolint:errcheck
		session.EndSession(ctx)
	}

	if client == nil {
		return nil
	}

	return client.Disconnect(ctx)
}

func (a *MongoAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.connected
}

func (a *MongoAdapter) HealthCheck(ctx context.Context) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		a.Logger.Warnf("mongo health check failed, marking disconnected: %v", err)

		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
	}
}

func (a *MongoAdapter) ExecuteQuery(ctx context.Context, query string, database string, opts QueryOptions) (*QueryResult, error) {
	parsed, err := mongoshell.Parse(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "failed to parse mongo query", err)
	}

	a.mu.Lock()
	client := a.client
	session := a.querySession
	defaultDB := a.defaultDatabase
	a.mu.Unlock()

	if client == nil {
		return nil, apperrors.New(apperrors.KindExecution, "adapter not connected")
	}

	dbName := firstNonEmpty(parsed.Database, database, defaultDB)

	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	if session != nil {
		ctx = mongo.NewSessionContext(ctx, session)
	}

	if mongoDestructiveOps[parsed.Operation] && a.isDefaultConn && !a.allowDestruct && !opts.AllowDestructive {
		return SimulatedRow(parsed.Operation), nil
	}

	switch parsed.Target {
	case mongoshell.TargetAdmin:
		return a.dispatchAdmin(ctx, client, parsed)
	case mongoshell.TargetDB:
		return a.dispatchDB(ctx, client, dbName, parsed)
	default:
		return a.dispatchCollection(ctx, client, dbName, parsed, opts)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func (a *MongoAdapter) dispatchAdmin(ctx context.Context, client *mongo.Client, q *mongoshell.Query) (*QueryResult, error) {
	switch q.Operation {
	case "listDatabases":
		result, err := client.ListDatabases(ctx, bson.M{})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		rows := make([]map[string]any, 0, len(result.Databases))
		for _, db := range result.Databases {
			rows = append(rows, map[string]any{"name": db.Name, "sizeOnDisk": db.SizeOnDisk, "empty": db.Empty})
		}

		return rowsResult(rows), nil

	case "stats":
		var out bson.M
		if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}}).Decode(&out); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{out}), nil

	default:
		return nil, apperrors.New(apperrors.KindValidation, "unsupported admin operation: "+q.Operation)
	}
}

func (a *MongoAdapter) dispatchDB(ctx context.Context, client *mongo.Client, dbName string, q *mongoshell.Query) (*QueryResult, error) {
	db := client.Database(dbName)

	switch q.Operation {
	case "use":
		return rowsResult([]map[string]any{{"switchedTo": q.Database}}), nil

	case "stats":
		var out bson.M
		if err := db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&out); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{out}), nil

	case "listDatabases":
		names, err := client.ListDatabaseNames(ctx, bson.M{})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		rows := make([]map[string]any, len(names))
		for i, n := range names {
			rows[i] = map[string]any{"name": n}
		}

		return rowsResult(rows), nil

	case "dropDatabase":
		if err := db.Drop(ctx); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "operation": "dropDatabase"}}), nil

	case "dropCollection":
		name, ok := firstArgString(q.Args)
		if !ok {
			return nil, apperrors.New(apperrors.KindClientInput, "dropCollection requires a collection name")
		}

		if err := db.Collection(name).Drop(ctx); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "operation": "dropCollection"}}), nil

	case "createCollection":
		name, ok := firstArgString(q.Args)
		if !ok {
			return nil, apperrors.New(apperrors.KindClientInput, "createCollection requires a name")
		}

		if err := db.CreateCollection(ctx, name); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "operation": "createCollection"}}), nil

	case "listCollections", "getCollectionNames":
		names, err := db.ListCollectionNames(ctx, bson.M{})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		rows := make([]map[string]any, len(names))
		for i, n := range names {
			rows[i] = map[string]any{"name": n}
		}

		return rowsResult(rows), nil

	default:
		return nil, apperrors.New(apperrors.KindValidation, "unsupported db operation: "+q.Operation)
	}
}

func firstArgString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}

	s, ok := args[0].(string)
	return s, ok
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}

	return nil
}

func asDoc(v any) bson.M {
	m, ok := v.(map[string]any)
	if !ok {
		return bson.M{}
	}

	return bson.M(m)
}

func (a *MongoAdapter) dispatchCollection(ctx context.Context, client *mongo.Client, dbName string, q *mongoshell.Query, opts QueryOptions) (*QueryResult, error) {
	coll := client.Database(dbName).Collection(q.Collection)

	switch q.Operation {
	case "find":
		return a.execFind(ctx, coll, q, opts)
	case "findOne":
		filter := asDoc(argAt(q.Args, 0))

		var out bson.M
		if err := coll.FindOne(ctx, filter).Decode(&out); err != nil {
			if err == mongo.ErrNoDocuments {
				return rowsResult(nil), nil
			}

			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{out}), nil

	case "aggregate":
		return a.execAggregate(ctx, coll, q, opts)

	case "countDocuments", "count":
		filter := asDoc(argAt(q.Args, 0))

		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"count": n}}), nil

	case "estimatedDocumentCount":
		n, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"count": n}}), nil

	case "insertOne":
		doc := asDoc(argAt(q.Args, 0))

		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "insertedId": res.InsertedID}}), nil

	case "insertMany":
		docs := toInterfaceSlice(argAt(q.Args, 0))

		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "insertedIds": res.InsertedIDs}}), nil

	case "updateOne", "updateMany":
		filter := asDoc(argAt(q.Args, 0))
		update := asDoc(argAt(q.Args, 1))

		var (
			res *mongo.UpdateResult
			err error
		)

		if q.Operation == "updateOne" {
			res, err = coll.UpdateOne(ctx, filter, update)
		} else {
			res, err = coll.UpdateMany(ctx, filter, update)
		}

		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{
			"acknowledged": true, "matchedCount": res.MatchedCount,
			"modifiedCount": res.ModifiedCount, "upsertedId": res.UpsertedID,
		}}), nil

	case "replaceOne":
		filter := asDoc(argAt(q.Args, 0))
		replacement := asDoc(argAt(q.Args, 1))

		res, err := coll.ReplaceOne(ctx, filter, replacement)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "matchedCount": res.MatchedCount, "modifiedCount": res.ModifiedCount}}), nil

	case "deleteOne", "deleteMany":
		filter := asDoc(argAt(q.Args, 0))

		var (
			res *mongo.DeleteResult
			err error
		)

		if q.Operation == "deleteOne" {
			res, err = coll.DeleteOne(ctx, filter)
		} else {
			res, err = coll.DeleteMany(ctx, filter)
		}

		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "deletedCount": res.DeletedCount}}), nil

	case "findOneAndUpdate":
		filter := asDoc(argAt(q.Args, 0))
		update := asDoc(argAt(q.Args, 1))

		var out bson.M
		if err := coll.FindOneAndUpdate(ctx, filter, update).Decode(&out); err != nil {
			if err == mongo.ErrNoDocuments {
				return rowsResult(nil), nil
			}

			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{out}), nil

	case "findOneAndDelete":
		filter := asDoc(argAt(q.Args, 0))

		var out bson.M
		if err := coll.FindOneAndDelete(ctx, filter).Decode(&out); err != nil {
			if err == mongo.ErrNoDocuments {
				return rowsResult(nil), nil
			}

			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{out}), nil

	case "findOneAndReplace":
		filter := asDoc(argAt(q.Args, 0))
		replacement := asDoc(argAt(q.Args, 1))

		var out bson.M
		if err := coll.FindOneAndReplace(ctx, filter, replacement).Decode(&out); err != nil {
			if err == mongo.ErrNoDocuments {
				return rowsResult(nil), nil
			}

			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{out}), nil

	case "distinct":
		field, _ := firstArgString(q.Args)
		filter := asDoc(argAt(q.Args, 1))

		values, err := coll.Distinct(ctx, field, filter)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		rows := make([]map[string]any, len(values))
		for i, v := range values {
			rows[i] = map[string]any{field: v}
		}

		return rowsResult(rows), nil

	case "createIndex":
		keys := asDoc(argAt(q.Args, 0))

		name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "name": name}}), nil

	case "listIndexes", "getIndexes":
		cursor, err := coll.Indexes().List(ctx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}
		defer cursor.Close(ctx)

		var rows []map[string]any
		if err := cursor.All(ctx, &rows); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult(rows), nil

	case "dropIndex":
		name, _ := firstArgString(q.Args)

		if _, err := coll.Indexes().DropOne(ctx, name); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "operation": "dropIndex"}}), nil

	case "drop":
		if err := coll.Drop(ctx); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{"acknowledged": true, "operation": "drop"}}), nil

	case "stats":
		var out bson.M
		if err := client.Database(dbName).RunCommand(ctx, bson.D{{Key: "collStats", Value: q.Collection}}).Decode(&out); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{out}), nil

	case "bulkWrite":
		models, err := bulkWriteModels(argAt(q.Args, 0))
		if err != nil {
			return nil, err
		}

		res, err := coll.BulkWrite(ctx, models)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}

		return rowsResult([]map[string]any{{
			"acknowledged":  true,
			"insertedCount": res.InsertedCount,
			"matchedCount":  res.MatchedCount,
			"modifiedCount": res.ModifiedCount,
			"deletedCount":  res.DeletedCount,
			"upsertedCount": res.UpsertedCount,
		}}), nil

	default:
		return nil, apperrors.New(apperrors.KindValidation, "unsupported collection operation: "+q.Operation)
	}
}

// bulkWriteModels translates the shell bulkWrite array (each element a
// single-key document naming the write model: insertOne, updateOne,
// updateMany, deleteOne, deleteMany, replaceOne) into driver write models.
func bulkWriteModels(v any) ([]mongo.WriteModel, error) {
	ops, ok := v.([]any)
	if !ok {
		return nil, apperrors.New(apperrors.KindClientInput, "bulkWrite requires an array of operation documents")
	}

	models := make([]mongo.WriteModel, 0, len(ops))

	for _, raw := range ops {
		op, ok := raw.(map[string]any)
		if !ok || len(op) != 1 {
			return nil, apperrors.New(apperrors.KindClientInput, "each bulkWrite operation must be a single-key document")
		}

		for name, spec := range op {
			body := asDoc(spec)

			switch name {
			case "insertOne":
				models = append(models, mongo.NewInsertOneModel().SetDocument(asDoc(body["document"])))
			case "updateOne":
				model := mongo.NewUpdateOneModel().SetFilter(asDoc(body["filter"])).SetUpdate(asDoc(body["update"]))
				if upsert, ok := body["upsert"].(bool); ok {
					model.SetUpsert(upsert)
				}

				models = append(models, model)
			case "updateMany":
				model := mongo.NewUpdateManyModel().SetFilter(asDoc(body["filter"])).SetUpdate(asDoc(body["update"]))
				if upsert, ok := body["upsert"].(bool); ok {
					model.SetUpsert(upsert)
				}

				models = append(models, model)
			case "deleteOne":
				models = append(models, mongo.NewDeleteOneModel().SetFilter(asDoc(body["filter"])))
			case "deleteMany":
				models = append(models, mongo.NewDeleteManyModel().SetFilter(asDoc(body["filter"])))
			case "replaceOne":
				model := mongo.NewReplaceOneModel().SetFilter(asDoc(body["filter"])).SetReplacement(asDoc(body["replacement"]))
				if upsert, ok := body["upsert"].(bool); ok {
					model.SetUpsert(upsert)
				}

				models = append(models, model)
			default:
				return nil, apperrors.Newf(apperrors.KindClientInput, "unsupported bulkWrite operation %q", name)
			}
		}
	}

	return models, nil
}

func toInterfaceSlice(v any) []interface{} {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]interface{}, len(arr))
	for i, item := range arr {
		out[i] = item
	}

	return out
}

func (a *MongoAdapter) execFind(ctx context.Context, coll *mongo.Collection, q *mongoshell.Query, opts QueryOptions) (*QueryResult, error) {
	filter := asDoc(argAt(q.Args, 0))

	findOpts := options.Find()

	if len(q.Args) > 1 && mongoshell.IsProjectionArg(q.Args[1]) {
		findOpts.SetProjection(asDoc(q.Args[1]))
	}

	limitSet := false

	for _, c := range q.Chain {
		switch c.Name {
		case "sort":
			findOpts.SetSort(asDoc(argAt(c.Args, 0)))
		case "limit":
			if n, ok := toInt64(argAt(c.Args, 0)); ok {
				findOpts.SetLimit(n)
				limitSet = true
			}
		case "skip":
			if n, ok := toInt64(argAt(c.Args, 0)); ok {
				findOpts.SetSkip(n)
			}
		case "project":
			findOpts.SetProjection(asDoc(argAt(c.Args, 0)))
		}
	}

	if !limitSet && !opts.NoDefaultLimit {
		findOpts.SetLimit(int64(a.defaultLimit))
	}

	if opts.Explain {
		return a.explainCommand(ctx, coll, bson.D{{Key: "find", Value: coll.Name()}, {Key: "filter", Value: filter}})
	}

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}
	defer cursor.Close(ctx)

	var rows []map[string]any
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	return rowsResult(rows), nil
}

func (a *MongoAdapter) execAggregate(ctx context.Context, coll *mongo.Collection, q *mongoshell.Query, opts QueryOptions) (*QueryResult, error) {
	pipeline := toInterfaceSlice(argAt(q.Args, 0))

	if opts.Explain {
		return a.explainCommand(ctx, coll, bson.D{{Key: "aggregate", Value: coll.Name()}, {Key: "pipeline", Value: pipeline}, {Key: "cursor", Value: bson.M{}}})
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}
	defer cursor.Close(ctx)

	var rows []map[string]any
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	return rowsResult(rows), nil
}

func (a *MongoAdapter) explainCommand(ctx context.Context, coll *mongo.Collection, cmd bson.D) (*QueryResult, error) {
	explainCmd := bson.D{{Key: "explain", Value: cmd}}

	var out bson.M
	if err := coll.Database().RunCommand(ctx, explainCmd).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	return rowsResult([]map[string]any{out}), nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func rowsResult(rows []map[string]any) *QueryResult {
	return &QueryResult{Rows: rows, Columns: inferColumns(rows), RowCount: len(rows)}
}

// inferColumns infers the union of top-level keys across rows, using the
// first document where each key is defined to determine a representative
// type, per section 4.2.2.
func inferColumns(rows []map[string]any) []Column {
	order := []string{}
	seen := map[string]bool{}
	types := map[string]string{}

	for _, row := range rows {
		for k, v := range row {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
				types[k] = bsonTypeName(v)
			}
		}
	}

	cols := make([]Column, len(order))
	for i, k := range order {
		cols[i] = Column{Name: k, Type: types[k]}
	}

	return cols
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime:
		return "date"
	case primitive.Regex:
		return "regex"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int32:
		return "number"
	case int64:
		return "long"
	case float64, float32:
		return "double"
	case map[string]any, bson.M:
		return "object"
	case []any:
		return "array"
	default:
		return "unknown"
	}
}

func (a *MongoAdapter) GetDatabases(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	return client.ListDatabaseNames(ctx, bson.M{})
}

func (a *MongoAdapter) GetTables(ctx context.Context, database string) ([]TableInfo, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	names, err := client.Database(database).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	out := make([]TableInfo, len(names))
	for i, n := range names {
		out[i] = TableInfo{Name: n, Kind: "table"}
	}

	return out, nil
}

// GetColumns infers field names/types by sampling up to schemaSampleSize
// documents from the collection (there is no fixed schema to introspect).
func (a *MongoAdapter) GetColumns(ctx context.Context, database, table string) ([]ColumnInfo, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	coll := client.Database(database).Collection(table)

	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetLimit(int64(a.schemaSampleSize)))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}
	defer cursor.Close(ctx)

	var rows []map[string]any
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	cols := inferColumns(rows)
	out := make([]ColumnInfo, len(cols))

	for i, c := range cols {
		out[i] = ColumnInfo{Name: c.Name, Type: c.Type, Nullable: true, PrimaryKey: c.Name == "_id"}
	}

	return out, nil
}

func (a *MongoAdapter) GetServerVersion(ctx context.Context) (string, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	var out bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&out); err != nil {
		return "", apperrors.Wrap(apperrors.KindExecution, "failed to read server version", err)
	}

	if v, ok := out["version"].(string); ok {
		return v, nil
	}

	return "unknown", nil
}

func (a *MongoAdapter) BeginTransaction(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.querySession != nil {
		return apperrors.New(apperrors.KindClientInput, "a transaction is already active")
	}

	session, err := a.client.StartSession()
	if err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to start session", err)
	}

	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return apperrors.Wrap(apperrors.KindExecution, "failed to start transaction", err)
	}

	a.querySession = session

	return nil
}

func (a *MongoAdapter) CommitTransaction(ctx context.Context) error {
	a.mu.Lock()
	session := a.querySession
	a.querySession = nil
	a.mu.Unlock()

	if session == nil {
		return apperrors.New(apperrors.KindClientInput, "no active transaction")
	}

	defer session.EndSession(ctx)

	if err := session.CommitTransaction(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to commit transaction", err)
	}

	return nil
}

func (a *MongoAdapter) RollbackTransaction(ctx context.Context) error {
	a.mu.Lock()
	session := a.querySession
	a.querySession = nil
	a.mu.Unlock()

	if session == nil {
		return apperrors.New(apperrors.KindClientInput, "no active transaction")
	}

	defer session.EndSession(ctx)

	if err := session.AbortTransaction(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to rollback transaction", err)
	}

	return nil
}

func (a *MongoAdapter) IsTransactionActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.querySession != nil
}

// CleanupDatabase is a no-op for Mongo; isolation databases are not used
// for the document engine (section 4.1).
func (a *MongoAdapter) CleanupDatabase(ctx context.Context, database string) error {
	return nil
}

func (a *MongoAdapter) DropAllUserDatabases(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	names, err := client.ListDatabaseNames(ctx, bson.M{})
	if err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to list databases", err)
	}

	for _, name := range names {
		if len(name) < 2 || name[:2] != "u_" {
			continue
		}

		if err := client.Database(name).Drop(ctx); err != nil {
			a.Logger.Errorf("failed to drop mongo database %s: %v", name, err)
		}
	}

	return nil
}

func defaultDatabaseFromURI(uri string) string {
	// A minimal extraction: the path segment of a mongodb:// URI after the
	// host list and before any query string.
	schemeSep := "://"
	idx := indexOf(uri, schemeSep)
	if idx < 0 {
		return ""
	}

	rest := uri[idx+len(schemeSep):]

	slash := indexOf(rest, "/")
	if slash < 0 {
		return ""
	}

	rest = rest[slash+1:]

	if q := indexOf(rest, "?"); q >= 0 {
		rest = rest[:q]
	}

	return rest
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}

	return -1
}

// ContainsDangerousMongoOperator reports whether v (already parsed)
// contains a forbidden operator anywhere in its structure. The sanitizer
// does not call it; it applies the same rule (4.6 step 3) through its own
// containsDangerousKey.
func ContainsDangerousMongoOperator(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		for k, sub := range val {
			for _, bad := range mongoDangerousPattern {
				if k == bad {
					return true
				}
			}

			if ContainsDangerousMongoOperator(sub) {
				return true
			}
		}
	case []any:
		for _, sub := range val {
			if ContainsDangerousMongoOperator(sub) {
				return true
			}
		}
	}

	return false
}
