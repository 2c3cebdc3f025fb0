// Package runner defines the contract between the migration manager and
// the execution engine that actually mutates the backing store, plus a
// reference implementation that executes manifest SQL directly.
//
// The manager computes plans (which revisions, in which order) from the
// revision graph; the runner only executes them. Any external runner can be
// substituted by implementing these interfaces.
package runner

import (
	"context"

	"github.com/datakeel/migrec/internal/revision"
)

// Report describes what a runner call actually did. On failure the report
// still lists the revisions that completed before the error.
type Report struct {
	Applied    []string // revision ids applied, in execution order
	RolledBack []string // revision ids rolled back, in execution order
	Output     string   // free-form runner output, surfaced to callers
}

// Runner executes structural changes against the backing store.
type Runner interface {
	// Apply executes the given revisions in order (parents first) and
	// records each as applied.
	Apply(ctx context.Context, plan []*revision.Record) (*Report, error)

	// Rollback reverses the given revisions in order (children first) and
	// removes each from the applied record.
	Rollback(ctx context.Context, plan []*revision.Record) (*Report, error)

	// DropAll destroys every structural object in the backing store,
	// including the position bookkeeping. Not recoverable.
	DropAll(ctx context.Context) error

	// Materialize creates a new revision definition with the given parent
	// and description and returns its identity. Validating the definition's
	// contents is not the manager's concern.
	Materialize(ctx context.Context, parentID, description string) (*revision.Record, error)
}

// PositionStore reports the revision id(s) the backing store currently
// records as applied: zero for an empty store, one for a linear history,
// several when independent heads were applied.
type PositionStore interface {
	Positions(ctx context.Context) ([]string, error)
}
