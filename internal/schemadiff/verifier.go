package schemadiff

import "sort"

// Verifier produces the Diff between a declared and an actual Description.
// It never mutates its inputs and holds no state besides configuration, so
// one instance can serve any number of comparisons.
type Verifier struct {
	// bookkeepingTable is the engine's own position-tracking table. It lives
	// in the store but is never declared by the domain model, so it is
	// excluded from ExtraTables.
	bookkeepingTable string
}

// NewVerifier creates a Verifier that ignores the given bookkeeping table
// ("" to ignore nothing).
func NewVerifier(bookkeepingTable string) *Verifier {
	return &Verifier{bookkeepingTable: bookkeepingTable}
}

// Compare diffs declared against actual. Table and column differences are
// set differences; columns present on both sides are type-checked with
// normalization and family tolerance.
func (v *Verifier) Compare(declared, actual Description) *Diff {
	d := &Diff{}

	for name := range declared.Tables {
		if _, ok := actual.Tables[name]; !ok {
			d.MissingTables = append(d.MissingTables, name)
		}
	}
	for name := range actual.Tables {
		if name == v.bookkeepingTable {
			continue
		}
		if _, ok := declared.Tables[name]; !ok {
			d.ExtraTables = append(d.ExtraTables, name)
		}
	}

	for name, decl := range declared.Tables {
		act, ok := actual.Tables[name]
		if !ok {
			continue
		}
		v.compareColumns(d, name, decl, act)
	}

	sort.Strings(d.MissingTables)
	sort.Strings(d.ExtraTables)
	sortColumnRefs(d.MissingColumns)
	sortColumnRefs(d.ExtraColumns)
	sort.Slice(d.TypeMismatches, func(i, j int) bool {
		a, b := d.TypeMismatches[i], d.TypeMismatches[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})

	return d
}

func (v *Verifier) compareColumns(d *Diff, table string, decl, act Table) {
	for col, declType := range decl.Columns {
		actType, ok := act.Columns[col]
		if !ok {
			d.MissingColumns = append(d.MissingColumns, ColumnRef{Table: table, Column: col})
			continue
		}
		if !typesEquivalent(declType, actType) {
			d.TypeMismatches = append(d.TypeMismatches, TypeMismatch{
				Table:    table,
				Column:   col,
				Expected: declType,
				Actual:   actType,
			})
		}
	}
	for col := range act.Columns {
		if _, ok := decl.Columns[col]; !ok {
			d.ExtraColumns = append(d.ExtraColumns, ColumnRef{Table: table, Column: col})
		}
	}
}

func sortColumnRefs(refs []ColumnRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Table != refs[j].Table {
			return refs[i].Table < refs[j].Table
		}
		return refs[i].Column < refs[j].Column
	})
}
