package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/sqlutil"
)

var mysqlSystemDatabases = map[string]bool{
	"information_schema": true,
	"mysql":               true,
	"performance_schema":  true,
	"sys":                 true,
}

// MySQLAdapter implements Adapter for MySQL.
type MySQLAdapter struct {
	Logger mlog.Logger

	mu            sync.Mutex
	pool          *sql.DB
	connected     bool
	isDefaultConn bool
	allowDestruct bool
	tx            *sql.Tx
	defaultLimit  int
}

// NewMySQLAdapter builds a MySQL adapter for one session. defaultLimit is
// the implicit row cap applied to statements that omit LIMIT/OFFSET; values
// <= 0 fall back to 1000.
func NewMySQLAdapter(logger mlog.Logger, isDefaultConn, allowDestructive bool, defaultLimit int) *MySQLAdapter {
	if defaultLimit <= 0 {
		defaultLimit = 1000
	}

	return &MySQLAdapter{
		Logger:        logger,
		isDefaultConn: isDefaultConn,
		allowDestruct: allowDestructive,
		defaultLimit:  defaultLimit,
	}
}

func (a *MySQLAdapter) Connect(ctx context.Context, connectionURL string) error {
	pool, err := sql.Open("mysql", strings.TrimPrefix(connectionURL, "mysql://"))
	if err != nil {
		return apperrors.Wrap(apperrors.KindClientInput, "failed to open mysql connection", err)
	}

	pool.SetMaxOpenConns(PoolMaxConns)
	pool.SetConnMaxIdleTime(PoolIdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, PoolConnectTimout)
	defer cancel()

	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return apperrors.Wrap(apperrors.KindClientInput, "failed to connect to mysql", err)
	}

	a.mu.Lock()
	a.pool = pool
	a.connected = true
	a.mu.Unlock()

	a.Logger.Infof("mysql adapter connected")

	return nil
}

func (a *MySQLAdapter) Disconnect(ctx context.Context) error {
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

func (a *MySQLAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.connected
}

func (a *MySQLAdapter) HealthCheck(ctx context.Context) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	if pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := pool.ExecContext(ctx, "SELECT 1"); err != nil {
		a.Logger.Warnf("mysql health check failed, marking disconnected: %v", err)

		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
	}
}

func (a *MySQLAdapter) ExecuteQuery(ctx context.Context, query string, database string, opts QueryOptions) (*QueryResult, error) {
	if a.isDefaultConn && !opts.AllowDestructive && !a.allowDestruct {
		if op, destructive := ClassifyDestructiveSQL(query); destructive {
			return SimulatedRow(op), nil
		}
	}

	a.mu.Lock()
	pool := a.pool
	tx := a.tx
	a.mu.Unlock()

	if pool == nil {
		return nil, apperrors.New(apperrors.KindExecution, "adapter not connected")
	}

	if database != "" {
		if !IsValidIdentifier(database) {
			return nil, apperrors.New(apperrors.KindClientInput, "invalid database name")
		}

		useStmt := "USE `" + database + "`"
		if _, err := execMySQLNonQuery(ctx, pool, tx, useStmt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
		}
	}

	if _, err := execMySQLNonQuery(ctx, pool, tx, fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME=%d", DefaultQueryTimeout.Milliseconds())); err != nil {
		a.Logger.Warnf("failed to set MAX_EXECUTION_TIME: %v", err)
	}

	statement := query
	if opts.Explain && sqlutil.IsSelectLike(query) {
		statement = sqlutil.RewriteExplain(query, "mysql")
	} else if !opts.NoDefaultLimit {
		statement = sqlutil.Rewrite(query, opts.Limit, opts.Offset, a.defaultLimit)
	}

	start := time.Now()

	var rows *sql.Rows

	var err error

	if tx != nil {
		rows, err = tx.QueryContext(ctx, statement)
	} else {
		rows, err = pool.QueryContext(ctx, statement)
	}

	if err != nil {
		return a.executeNonQuery(ctx, pool, tx, statement, start)
	}
	defer rows.Close()

	result, err := rowsToResult(rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.SanitizeDriverMessage(err.Error()), err)
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	return result, nil
}

func (a *MySQLAdapter) executeNonQuery(ctx context.Context, pool *sql.DB, tx *sql.Tx, statement string, start time.Time) (*QueryResult, error) {
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
	insertID, _ := res.LastInsertId()

	return &QueryResult{
		Rows: []map[string]any{
			{"affectedRows": affected, "insertId": insertID, "acknowledged": true},
		},
		Columns: []Column{
			{Name: "affectedRows", Type: "bigint"},
			{Name: "insertId", Type: "bigint"},
			{Name: "acknowledged", Type: "boolean"},
		},
		RowCount:        1,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func execMySQLNonQuery(ctx context.Context, pool *sql.DB, tx *sql.Tx, stmt string) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, stmt)
	}

	return pool.ExecContext(ctx, stmt)
}

func (a *MySQLAdapter) GetDatabases(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	rows, err := pool.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, "failed to list databases", err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		if !mysqlSystemDatabases[name] {
			names = append(names, name)
		}
	}

	return names, rows.Err()
}

func (a *MySQLAdapter) GetTables(ctx context.Context, database string) ([]TableInfo, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	rows, err := pool.QueryContext(ctx, `
		SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = ?`, database)
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

func (a *MySQLAdapter) GetColumns(ctx context.Context, database, table string) ([]ColumnInfo, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	rows, err := pool.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_key
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, database, table)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, "failed to list columns", err)
	}
	defer rows.Close()

	var out []ColumnInfo

	for rows.Next() {
		var name, dtype, nullable, key string
		if err := rows.Scan(&name, &dtype, &nullable, &key); err != nil {
			return nil, err
		}

		out = append(out, ColumnInfo{Name: name, Type: dtype, Nullable: nullable == "YES", PrimaryKey: key == "PRI"})
	}

	return out, rows.Err()
}

func (a *MySQLAdapter) GetServerVersion(ctx context.Context) (string, error) {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	var version string
	if err := pool.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", apperrors.Wrap(apperrors.KindExecution, "failed to read server version", err)
	}

	return version, nil
}

func (a *MySQLAdapter) BeginTransaction(ctx context.Context) error {
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

func (a *MySQLAdapter) CommitTransaction(ctx context.Context) error {
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

func (a *MySQLAdapter) RollbackTransaction(ctx context.Context) error {
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

func (a *MySQLAdapter) IsTransactionActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.tx != nil
}

func (a *MySQLAdapter) CleanupDatabase(ctx context.Context, database string) error {
	if !IsValidIdentifier(database) {
		return apperrors.New(apperrors.KindClientInput, "invalid database name")
	}

	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	_, err := pool.ExecContext(ctx, "DROP DATABASE IF EXISTS `"+database+"`")

	return err
}

func (a *MySQLAdapter) DropAllUserDatabases(ctx context.Context) error {
	names, err := a.GetDatabases(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	for _, name := range names {
		if !strings.HasPrefix(name, "u_") {
			continue
		}

		if _, err := pool.ExecContext(ctx, "DROP DATABASE IF EXISTS `"+name+"`"); err != nil {
			a.Logger.Errorf("failed to drop database %s: %v", name, err)
		}
	}

	return nil
}

// ProvisionIsolationDatabase runs `CREATE DATABASE IF NOT EXISTS` against an
// already-connected root adapter, used by the session manager during
// isolation provisioning (4.1).
func (a *MySQLAdapter) ProvisionIsolationDatabase(ctx context.Context, database string) error {
	if !IsValidIdentifier(database) {
		return apperrors.New(apperrors.KindClientInput, "invalid database name")
	}

	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	_, err := pool.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS `"+database+"`")

	return err
}
