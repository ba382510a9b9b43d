package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/sqlutil"
)

// pgTypeNames maps the pgx driver's type codes (as surfaced by
// sql.ColumnType.DatabaseTypeName()) to human-readable names, per section
// 4.2.1 step 6. Unrecognized codes render as "unknown(<code>)".
var pgTypeNames = map[string]string{
	"BOOL":        "boolean",
	"INT8":        "bigint",
	"INT2":        "smallint",
	"INT4":        "integer",
	"TEXT":        "text",
	"JSON":        "json",
	"FLOAT4":      "real",
	"FLOAT8":      "double precision",
	"BPCHAR":      "char",
	"VARCHAR":     "varchar",
	"DATE":        "date",
	"TIMESTAMP":   "timestamp",
	"TIMESTAMPTZ": "timestamptz",
	"NUMERIC":     "numeric",
	"UUID":        "uuid",
	"JSONB":       "jsonb",
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// PostgresAdapter implements Adapter for PostgreSQL.
type PostgresAdapter struct {
	Logger mlog.Logger

	mu            sync.Mutex
	pool          *sql.DB
	connected     bool
	isDefaultConn bool
	allowDestruct bool
	tx            *sql.Tx
	connectionURL string
	defaultLimit  int
}

// NewPostgresAdapter builds a Postgres adapter for one session. defaultLimit
// is the implicit row cap applied to statements that omit LIMIT/OFFSET;
// values <= 0 fall back to 1000.
func NewPostgresAdapter(logger mlog.Logger, isDefaultConn, allowDestructive bool, defaultLimit int) *PostgresAdapter {
	if defaultLimit <= 0 {
		defaultLimit = 1000
	}

	return &PostgresAdapter{
		Logger:        logger,
		isDefaultConn: isDefaultConn,
		allowDestruct: allowDestructive,
		defaultLimit:  defaultLimit,
	}
}

func (a *PostgresAdapter) Connect(ctx context.Context, connectionURL string) error {
	pool, err := sql.Open("pgx", connectionURL)
	if err != nil {
		return apperrors.Wrap(apperrors.KindClientInput, "failed to open postgres connection", err)
	}

	pool.SetMaxOpenConns(PoolMaxConns)
	pool.SetConnMaxIdleTime(PoolIdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, PoolConnectTimout)
	defer cancel()

	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return apperrors.Wrap(apperrors.KindClientInput, "failed to connect to postgres", err)
	}

	a.mu.Lock()
	a.pool = pool
	a.connected = true
	a.connectionURL = connectionURL
	a.mu.Unlock()

	a.Logger.Infof("postgres adapter connected")

	return nil
}

func (a *PostgresAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tx != nil {
		_ = a.tx.Rollback()
		a.tx = nil
	}

	a.connected = false

	if a.pool == nil {
		return nil
	}

	err := a.pool.Close()
	a.pool = nil

	return err
}

func (a *PostgresAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.connected
}

// HealthCheck issues SELECT 1; on failure it marks the adapter disconnected
// so the next request surfaces a clean error, per section 4.2.
func (a *PostgresAdapter) HealthCheck(ctx context.Context) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	if pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := pool.ExecContext(ctx, "SELECT 1"); err != nil {
		a.Logger.Warnf("postgres health check failed, marking disconnected: %v", err)

		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
	}
}

func (a *PostgresAdapter) ExecuteQuery(ctx context.Context, query string, database string, opts QueryOptions) (*QueryResult, error) {
	if a.isDefaultConn && !opts.AllowDestructive && !a.allowDestruct {
		if op, destructive := ClassifyDestructiveSQL(query); destructive {
			return SimulatedRow(op), nil
		}
	}

	a.mu.Lock()
	pool := a.pool
	tx := a.tx
	connected := a.connected
	a.mu.Unlock()

	if pool == nil || !connected {
		return nil, apperrors.New(apperrors.KindExecution, "adapter not connected")
	}

	exec := func(execCtx context.Context, stmt string) (*sql.Rows, error) {
		if tx != nil {
			return tx.QueryContext(execCtx, stmt)
		}

		return pool.QueryContext(execCtx, stmt)
	}

	if database != "" {
		setStmt := fmt.Sprintf(`SET search_path TO %s, public`, quoteIdent(database))
		if _, err := execNonQuery(ctx, pool, tx, setStmt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}
	}

	timeoutMs := DefaultQueryTimeout.Milliseconds()
	if _, err := execNonQuery(ctx, pool, tx, fmt.Sprintf("SET statement_timeout = %d", timeoutMs)); err != nil {
		a.Logger.Warnf("failed to set statement_timeout: %v", err)
	}

	statement := query
	if opts.Explain && sqlutil.IsSelectLike(query) {
		statement = sqlutil.RewriteExplain(query, "postgresql")
	} else if !opts.NoDefaultLimit {
		statement = sqlutil.Rewrite(query, opts.Limit, opts.Offset, a.defaultLimit)
	}

	start := time.Now()

	rows, err := exec(ctx, statement)
	if err != nil {
		return a.executeNonQuery(ctx, pool, tx, statement, start, err)
	}
	defer rows.Close()

	result, err := rowsToResult(rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	return result, nil
}

// executeNonQuery falls back to Exec for statements that return no rows
// (INSERT/UPDATE/DDL). Every Query failure is retried as Exec; queryErr,
// the original Query error, is not inspected, and only the Exec error is
// surfaced.
func (a *PostgresAdapter) executeNonQuery(ctx context.Context, pool *sql.DB, tx *sql.Tx, statement string, start time.Time, queryErr error) (*QueryResult, error) {
	var (
		res sql.Result
		err error
	)

	if tx != nil {
		res, err = tx.ExecContext(ctx, statement)
	} else {
		res, err = pool.ExecContext(ctx, statement)
	}

	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	affected, _ := res.RowsAffected()

	return &QueryResult{
		Rows: []map[string]any{
			{"affectedRows": affected, "acknowledged": true},
		},
		Columns:         []Column{{Name: "affectedRows", Type: "bigint"}, {Name: "acknowledged", Type: "boolean"}},
		RowCount:        1,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func execNonQuery(ctx context.Context, pool *sql.DB, tx *sql.Tx, stmt string) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, stmt)
	}

	return pool.ExecContext(ctx, stmt)
}

func rowsToResult(rows *sql.Rows) (*QueryResult, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]Column, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = Column{Name: ct.Name(), Type: pgDriverTypeName(ct)}
	}

	var out []map[string]any

	for rows.Next() {
		values := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(colTypes))
		for i, ct := range colTypes {
			row[ct.Name()] = values[i]
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{Rows: out, Columns: columns, RowCount: len(out)}, nil
}

func pgDriverTypeName(ct *sql.ColumnType) string {
	code := ct.DatabaseTypeName()
	if code == "" {
		return "unknown(0)"
	}

	if name, ok := pgTypeNames[code]; ok {
		return name
	}

	return fmt.Sprintf("unknown(%s)", code)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *PostgresAdapter) GetDatabases(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	rows, err := pool.QueryContext(ctx, `SELECT schema_name FROM information_schema.schemata WHERE schema_name NOT LIKE 'pg_%' AND schema_name NOT IN ('information_schema')`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, "failed to list schemas", err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

func (a *PostgresAdapter) GetTables(ctx context.Context, database string) ([]TableInfo, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	schema := database
	if schema == "" {
		schema = "public"
	}

	rows, err := pool.QueryContext(ctx, `
		SELECT table_name, table_type FROM information_schema.tables
		WHERE table_schema = $1`, schema)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, "failed to list tables", err)
	}
	defer rows.Close()

	var out []TableInfo

	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, err
		}

		k := "table"
		if kind == "VIEW" {
			k = "view"
		}

		out = append(out, TableInfo{Name: name, Kind: k})
	}

	return out, rows.Err()
}

func (a *PostgresAdapter) GetColumns(ctx context.Context, database, table string) ([]ColumnInfo, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	schema := database
	if schema == "" {
		schema = "public"
	}

	rows, err := pool.QueryContext(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable,
			COALESCE(pk.is_pk, false) AS is_pk
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_pk
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, "failed to list columns", err)
	}
	defer rows.Close()

	var out []ColumnInfo

	for rows.Next() {
		var name, dtype, nullable string
		var isPK bool
		if err := rows.Scan(&name, &dtype, &nullable, &isPK); err != nil {
			return nil, err
		}

		out = append(out, ColumnInfo{Name: name, Type: dtype, Nullable: nullable == "YES", PrimaryKey: isPK})
	}

	return out, rows.Err()
}

func (a *PostgresAdapter) GetServerVersion(ctx context.Context) (string, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	var version string
	if err := pool.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", apperrors.Wrap(apperrors.KindExecution, "failed to read server version", err)
	}

	return version, nil
}

func (a *PostgresAdapter) BeginTransaction(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tx != nil {
		return apperrors.New(apperrors.KindClientInput, "a transaction is already active")
	}

	tx, err := a.pool.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to begin transaction", err)
	}

	a.tx = tx

	return nil
}

func (a *PostgresAdapter) CommitTransaction(ctx context.Context) error {
	a.mu.Lock()
	tx := a.tx
	a.tx = nil
	a.mu.Unlock()

	if tx == nil {
		return apperrors.New(apperrors.KindClientInput, "no active transaction")
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to commit transaction", err)
	}

	return nil
}

func (a *PostgresAdapter) RollbackTransaction(ctx context.Context) error {
	a.mu.Lock()
	tx := a.tx
	a.tx = nil
	a.mu.Unlock()

	if tx == nil {
		return apperrors.New(apperrors.KindClientInput, "no active transaction")
	}

	if err := tx.Rollback(); err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to rollback transaction", err)
	}

	return nil
}

func (a *PostgresAdapter) IsTransactionActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.tx != nil
}

func (a *PostgresAdapter) CleanupDatabase(ctx context.Context, database string) error {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	_, err := pool.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, quoteIdent(database)))

	return err
}

func (a *PostgresAdapter) DropAllUserDatabases(ctx context.Context) error {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	rows, err := pool.QueryContext(ctx, `SELECT datname FROM pg_database WHERE datname LIKE 'u\_%' ESCAPE '\'`)
	if err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to list user databases", err)
	}

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}

		names = append(names, name)
	}

	rows.Close()

	for _, name := range names {
		terminateStmt := `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`
		if _, err := pool.ExecContext(ctx, terminateStmt, name); err != nil {
			a.Logger.Errorf("failed to terminate connections to %s: %v", name, err)
		}

		if _, err := pool.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, quoteIdent(name))); err != nil {
			a.Logger.Errorf("failed to drop database %s: %v", name, err)
		}
	}

	return nil
}

// IsValidIdentifier reports whether name is safe to interpolate as a bare
// SQL identifier ([A-Za-z0-9_]+), used before USE/CREATE DATABASE on MySQL.
func IsValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ProvisionIsolationDatabase creates database if it does not already exist,
// run against an already-connected administrative adapter (path=/postgres),
// used by the session manager during isolation provisioning (4.1). Postgres
// has no CREATE DATABASE IF NOT EXISTS, so existence is checked first.
func (a *PostgresAdapter) ProvisionIsolationDatabase(ctx context.Context, database string) error {
	if !IsValidIdentifier(database) {
		return apperrors.New(apperrors.KindClientInput, "invalid database name")
	}

	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	var exists bool
	if err := pool.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists); err != nil {
		return apperrors.Wrap(apperrors.KindExecution, "failed to check database existence", err)
	}

	if exists {
		return nil
	}

	_, err := pool.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", quoteIdent(database)))

	return err
}
