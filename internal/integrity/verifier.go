// Package integrity validates the structural well-formedness of a revision
// graph: single root, no cycles, everything reachable from the root.
//
// Validation is independent of any backing-store state — it inspects only
// the id→parent relation. Violations are reported as data, never panics;
// the engine keeps functioning for the connected portion of the history.
package integrity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datakeel/migrec/internal/revision"
)

// Result reports the outcome of an integrity check. Valid is true iff there
// are zero root-count and cycle errors; connectivity problems are warnings
// only.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Verifier checks a revision graph for structural corruption. Stateless;
// construct one per call-site as needed.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify runs every check and reports all findings — checks are never
// short-circuited, so one corruption does not hide another.
func (v *Verifier) Verify(g *revision.Graph) *Result {
	res := &Result{}

	if g.Len() == 0 {
		res.Valid = true
		res.Warnings = append(res.Warnings, "no revisions loaded")
		return res
	}

	v.checkRoots(g, res)
	v.checkCycles(g, res)
	v.checkConnectivity(g, res)

	res.Valid = len(res.Errors) == 0
	return res
}

// checkRoots verifies exactly one record has no parent. Zero roots also
// covers the pure-cycle history where every record claims a parent.
func (v *Verifier) checkRoots(g *revision.Graph, res *Result) {
	roots := g.Roots()
	switch {
	case len(roots) == 0:
		res.Errors = append(res.Errors,
			"no root revision: every record has a parent, so the history has no entry point")
	case len(roots) > 1:
		ids := make([]string, len(roots))
		for i, r := range roots {
			ids[i] = r.ID
		}
		res.Errors = append(res.Errors,
			fmt.Sprintf("multiple root revisions: %s", strings.Join(ids, ", ")))
	}
}

// Walk states for cycle detection.
const (
	unvisited = iota
	inProgress
	done
)

// checkCycles detects loops in the parent relation. The walk starts from
// every record, not just detected roots, so a rootless pure cycle is still
// found. Explicit iterative walk with a visited map — a history tens of
// thousands of revisions deep must not exhaust the stack.
func (v *Verifier) checkCycles(g *revision.Graph, res *Result) {
	state := make(map[string]int, g.Len())

	for _, start := range g.IDs() {
		if state[start] != unvisited {
			continue
		}

		var path []string
		index := make(map[string]int) // id → position in path
		cur := start
		for {
			rec, ok := g.Get(cur)
			if !ok {
				break // dangling parent, reported by checkConnectivity
			}
			if state[cur] == inProgress {
				// cur is on the current path: everything from its first
				// occurrence to the end of the path forms the cycle.
				members := append([]string(nil), path[index[cur]:]...)
				sort.Strings(members)
				res.Errors = append(res.Errors,
					fmt.Sprintf("cycle in revision history: %s", strings.Join(members, " -> ")))
				break
			}
			if state[cur] == done {
				break
			}
			state[cur] = inProgress
			index[cur] = len(path)
			path = append(path, cur)
			if rec.ParentID == "" {
				break
			}
			cur = rec.ParentID
		}

		for _, id := range path {
			state[id] = done
		}
	}
}

// checkConnectivity reports records a forward walk from the roots never
// reaches, plus parent references that point at nothing. Both are warnings:
// the connected portion of the history remains usable.
func (v *Verifier) checkConnectivity(g *revision.Graph, res *Result) {
	reached := make(map[string]bool, g.Len())
	for _, root := range g.Roots() {
		for _, rec := range g.Descendants(root.ID) {
			reached[rec.ID] = true
		}
	}

	for _, id := range g.IDs() {
		rec, _ := g.Get(id)
		if rec.ParentID != "" {
			if _, ok := g.Get(rec.ParentID); !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("revision %q references unknown parent %q", id, rec.ParentID))
				continue
			}
		}
		if !reached[id] {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("revision %q is not reachable from the root", id))
		}
	}
}
