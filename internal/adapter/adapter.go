// Package adapter defines the uniform database adapter contract (section
// 4.2 of the gateway specification) and its three concrete
// implementations: PostgreSQL, MySQL, and MongoDB.
package adapter

import (
	"context"
	"time"
)

// Kind enumerates the supported database engines.
type Kind string

const (
	KindPostgreSQL Kind = "postgresql"
	KindMySQL      Kind = "mysql"
	KindMongoDB    Kind = "mongodb"
)

// Column describes one output column of a QueryResult.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the normalized shape every adapter returns, regardless of
// engine: an ordered sequence of row mappings plus column metadata.
type QueryResult struct {
	Rows            []map[string]any `json:"rows"`
	Columns         []Column         `json:"columns"`
	RowCount        int              `json:"rowCount"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
}

// QueryOptions carries the recognized per-call tuning knobs.
type QueryOptions struct {
	Limit            int
	Offset           int
	Explain          bool
	UserID           string
	IsIsolated       bool
	UserDatabase     string
	AllowDestructive bool
	// NoDefaultLimit disables the adapter's implicit row cap, used by
	// the export path which must stream every matching row.
	NoDefaultLimit bool
}

// TableInfo describes one table or view returned by getTables.
type TableInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "table" or "view"
}

// ColumnInfo describes one column returned by getColumns.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primaryKey"`
}

// Adapter is the polymorphic contract every engine implementation
// satisfies. Instances are exclusively owned by a single Session and are
// not safe for concurrent use.
type Adapter interface {
	Connect(ctx context.Context, connectionURL string) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context)

	ExecuteQuery(ctx context.Context, query string, database string, opts QueryOptions) (*QueryResult, error)

	GetDatabases(ctx context.Context) ([]string, error)
	GetTables(ctx context.Context, database string) ([]TableInfo, error)
	GetColumns(ctx context.Context, database, table string) ([]ColumnInfo, error)
	GetServerVersion(ctx context.Context) (string, error)

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	IsTransactionActive() bool

	CleanupDatabase(ctx context.Context, database string) error
	DropAllUserDatabases(ctx context.Context) error
}

// HealthCheckInterval is how often a live adapter's health is probed.
const HealthCheckInterval = 60 * time.Second

// DefaultQueryTimeout is the per-query ceiling absent an explicit config.
const DefaultQueryTimeout = 30 * time.Second

// PoolMaxConns and PoolIdleTimeout bound SQL adapter connection pools.
const (
	PoolMaxConns      = 5
	PoolIdleTimeout   = 30 * time.Second
	PoolConnectTimout = 10 * time.Second
)
