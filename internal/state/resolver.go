// Package state computes the migration state of a backing store: which
// revisions it has applied, which it still owes, and which of its reported
// positions no longer exist in the source tree (drift).
//
// Everything here is a pure in-memory computation over a revision graph —
// the resolver does no I/O and holds no mutable state between calls.
package state

import (
	"sort"

	"github.com/datakeel/migrec/internal/revision"
)

// Position is the revision id(s) the backing store currently reports as
// applied. Legitimately a set: independently applied heads each contribute
// a tip.
type Position []string

// State is the derived migration state. Never stored — recomputed from the
// graph and position on every call.
type State struct {
	// Applied holds the revisions the store has, oldest first: the union of
	// ancestor chains from each position back to a root.
	Applied []*revision.Record

	// Pending holds the revisions reachable from a head but not applied,
	// ordered so a record's parent always precedes it.
	Pending []*revision.Record

	// Orphaned holds position ids absent from the graph — the store believes
	// it applied something the current source tree no longer contains.
	Orphaned []string
}

// AppliedIDs returns the ids of Applied, in order.
func (s *State) AppliedIDs() []string { return ids(s.Applied) }

// PendingIDs returns the ids of Pending, in order.
func (s *State) PendingIDs() []string { return ids(s.Pending) }

func ids(recs []*revision.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

// Resolver computes migration states against one revision graph.
type Resolver struct {
	graph *revision.Graph
}

// NewResolver creates a Resolver over the given graph.
func NewResolver(g *revision.Graph) *Resolver {
	return &Resolver{graph: g}
}

// Resolve partitions the graph against the given position.
//
// Positions present in the graph contribute their full ancestor chain to
// Applied; positions absent from the graph land in Orphaned, untouched —
// drift is surfaced, never silently discarded. Pending is everything on a
// path to a head that is not applied. An empty position means nothing is
// applied and every reachable revision is pending. When every position is
// orphaned, Applied stays empty: the resolver fabricates no fallback.
func (r *Resolver) Resolve(pos Position) *State {
	st := &State{}

	appliedDepth := make(map[string]int)
	seenPos := make(map[string]bool)
	orphaned := make(map[string]bool)

	for _, id := range pos {
		if seenPos[id] {
			continue
		}
		seenPos[id] = true

		if _, ok := r.graph.Get(id); !ok {
			orphaned[id] = true
			continue
		}
		for depth, rec := range r.graph.Ancestors(id) {
			if _, ok := appliedDepth[rec.ID]; !ok {
				appliedDepth[rec.ID] = depth
				st.Applied = append(st.Applied, rec)
			}
		}
	}

	pendingDepth := make(map[string]int)
	for _, head := range r.graph.Heads() {
		for depth, rec := range r.graph.Ancestors(head.ID) {
			if _, applied := appliedDepth[rec.ID]; applied {
				continue
			}
			if _, ok := pendingDepth[rec.ID]; !ok {
				pendingDepth[rec.ID] = depth
				st.Pending = append(st.Pending, rec)
			}
		}
	}

	sortByDepth(st.Applied, appliedDepth)
	sortByDepth(st.Pending, pendingDepth)

	for id := range orphaned {
		st.Orphaned = append(st.Orphaned, id)
	}
	sort.Strings(st.Orphaned)

	return st
}

// sortByDepth orders records by topological distance from the root so the
// oldest revision comes first; ties break by id for determinism.
func sortByDepth(recs []*revision.Record, depth map[string]int) {
	sort.Slice(recs, func(i, j int) bool {
		di, dj := depth[recs[i].ID], depth[recs[j].ID]
		if di != dj {
			return di < dj
		}
		return recs[i].ID < recs[j].ID
	})
}
