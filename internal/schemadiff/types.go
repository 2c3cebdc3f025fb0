// Package schemadiff compares the schema the domain layer declares against
// the schema the live store actually has, and reports the difference as
// data.
//
// The comparison is two-sided (missing and extra, tables and columns) plus
// type checking with dialect tolerance: introspection and declarations
// frequently disagree on cosmetic type spelling without any real
// incompatibility, and the verifier's job is to surface real drift, not
// cosmetic noise.
package schemadiff

import "context"

// Description is a pure value snapshot of a schema: table names, and per
// table the (column name → type string) mapping. Two instances exist at any
// time — declared and actual — and neither is ever mutated.
type Description struct {
	Tables map[string]Table
}

// Table holds the columns of one table.
type Table struct {
	Columns map[string]string // column name → type string, dialect spelling
}

// DeclaredProvider supplies the schema the application's domain model
// declares.
type DeclaredProvider interface {
	DeclaredSchema(ctx context.Context) (Description, error)
}

// ActualProvider supplies the schema the live store actually has,
// via introspection.
type ActualProvider interface {
	ActualSchema(ctx context.Context) (Description, error)
}

// ColumnRef names a column within a table.
type ColumnRef struct {
	Table  string
	Column string
}

// TypeMismatch reports a column whose declared and actual types are not
// equivalent even after normalization and family matching.
type TypeMismatch struct {
	Table    string
	Column   string
	Expected string // declared spelling
	Actual   string // introspected spelling
}

// Diff is the structured difference between a declared and an actual
// Description. All slices are sorted for deterministic output.
type Diff struct {
	MissingTables  []string       // declared but absent from the store
	ExtraTables    []string       // in the store but undeclared
	MissingColumns []ColumnRef    // declared but absent
	ExtraColumns   []ColumnRef    // present but undeclared
	TypeMismatches []TypeMismatch // declared and actual types disagree
}

// Match reports whether the two schemas are structurally equivalent:
// true iff every diff list is empty.
func (d *Diff) Match() bool {
	return len(d.MissingTables) == 0 &&
		len(d.ExtraTables) == 0 &&
		len(d.MissingColumns) == 0 &&
		len(d.ExtraColumns) == 0 &&
		len(d.TypeMismatches) == 0
}
