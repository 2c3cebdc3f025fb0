package manager

import (
	"github.com/datakeel/migrec/internal/integrity"
	"github.com/datakeel/migrec/internal/revision"
	"github.com/datakeel/migrec/internal/schemadiff"
	"github.com/datakeel/migrec/internal/state"
)

// OperationResult reports the outcome of a mutating operation. Expected
// failure modes (preconditions, runner failures, drift) land in Errors with
// Success false — they are never returned as Go errors, so callers always
// get a full picture of what happened before the failure.
type OperationResult struct {
	Success bool

	// AppliedCount and AppliedIDs describe what the runner applied,
	// including partial progress before a failure.
	AppliedCount int
	AppliedIDs   []string

	// RolledBackIDs describes what the runner rolled back (rollback and
	// refresh operations).
	RolledBackIDs []string

	// Target is the revision the store was asked to downgrade to
	// (rollback only).
	Target string

	// Destroyed is set once Fresh has completed its destructive step.
	// When Success is false it distinguishes "drop failed, store unchanged"
	// (false) from "drop succeeded, reapply failed, store is empty" (true) —
	// the caller's remediation differs.
	Destroyed bool

	Errors   []string
	Warnings []string
}

// CreateResult reports the outcome of materializing a new revision.
type CreateResult struct {
	Success  bool
	Record   *revision.Record
	Errors   []string
	Warnings []string
}

// StatusReport is the read-only migration state of the backing store.
type StatusReport struct {
	State        *state.State
	LoadWarnings []revision.LoadWarning
}

// VerifyReport combines every read-only check: chain integrity, schema
// diff, and position drift. It reports; it never halts — callers decide
// what, if anything, blocks on which finding.
type VerifyReport struct {
	Integrity    *integrity.Result
	Schema       *schemadiff.Diff
	Orphaned     []string
	LoadWarnings []revision.LoadWarning
}

// Clean reports whether nothing at all was found: the chain is intact, the
// schemas match, and the store reports no unknown positions.
func (r *VerifyReport) Clean() bool {
	return r.Integrity.Valid &&
		len(r.Integrity.Warnings) == 0 &&
		r.Schema.Match() &&
		len(r.Orphaned) == 0 &&
		len(r.LoadWarnings) == 0
}

func failed(msgs ...string) *OperationResult {
	return &OperationResult{Success: false, Errors: msgs}
}
