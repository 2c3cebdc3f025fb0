// Package revision models the directed history of schema-change units and
// the graph queries the rest of the engine is built on.
//
// Records are immutable once loaded and are re-derived from their source on
// every run — the graph is never persisted. All traversals are iterative and
// cycle-guarded, so a corrupted history (loops, dangling parents) can be
// represented and inspected instead of crashing the walk.
package revision

// Record is a single revision: an identified schema-change unit with at
// most one parent. Created by Load; never mutated afterwards.
type Record struct {
	// ID uniquely identifies the revision. Opaque to the engine.
	ID string

	// ParentID is the id of the preceding revision, or "" for a root.
	ParentID string

	// SourceRef names the originating definition (file path or object key).
	SourceRef string

	// Description is optional free text from the manifest.
	Description string

	// Up and Down hold the forward and reverse SQL statements.
	// The engine never executes these itself — they are carried for
	// whichever runner implementation is wired in.
	Up   []string
	Down []string
}

// IsRoot reports whether the record has no parent.
func (r *Record) IsRoot() bool {
	return r.ParentID == ""
}
