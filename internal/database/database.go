// Package database abstracts the relational backing store the migration
// engine reconciles against.
//
// All layers above this package talk only to the DB interface — they never
// import the postgres or mysql packages directly. The engine needs three
// things from a store: run queries (position bookkeeping), run statements
// (the reference runner's DDL), and introspect structure (schema
// verification).
package database

import "context"

// DB is the central contract for all backing-store operations.
type DB interface {
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) (Row, error)

	// Exec executes a statement that returns no rows (DDL, INSERT, DELETE)
	// and reports the number of rows affected (0 for DDL).
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// ListTables returns all user-defined table names in the current schema.
	ListTables(ctx context.Context) ([]string, error)

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// InspectSchema returns the full structure of the live store.
	// This is an expensive operation — callers should cache the result.
	InspectSchema(ctx context.Context) (*Schema, error)
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}

// --- introspection value types ---

// Schema is the full introspected structure of the live store.
// A pure value snapshot: built once per inspection, never mutated.
type Schema struct {
	Tables map[string]*TableInfo
}

// TableInfo describes a table and its columns.
type TableInfo struct {
	Name        string
	Columns     []*ColumnInfo
	PrimaryKey  []string
	ForeignKeys []*ForeignKey
}

// ColumnInfo describes a single column in a table.
type ColumnInfo struct {
	Name      string
	DataType  string // dialect spelling: text, int4, varchar(255), …
	Nullable  bool
	Default   *string // nil if no default
	IsPrimary bool
	IsUnique  bool
}

// ForeignKey describes a reference from a column to another table.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}
