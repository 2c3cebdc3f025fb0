package revision

import "sort"

// Graph is an immutable, queryable view of the id→parent relation across a
// set of Records. It is reconstructed purely from that relation — the order
// definitions were read in is irrelevant.
//
// A well-formed history has exactly one root, no cycles, and every record
// reachable from the root. Graph does not assume any of that: it represents
// whatever it was given, and the integrity package reports violations.
type Graph struct {
	records  map[string]*Record
	children map[string][]string // parent id → sorted child ids
	ids      []string            // all ids, sorted
}

// NewGraph builds a Graph from the given records. Records with a duplicate
// id are dropped (the loader reports those as warnings before we get here;
// the first definition wins).
func NewGraph(records []*Record) *Graph {
	g := &Graph{
		records:  make(map[string]*Record, len(records)),
		children: make(map[string][]string),
	}

	for _, r := range records {
		if _, dup := g.records[r.ID]; dup {
			continue
		}
		g.records[r.ID] = r
		g.ids = append(g.ids, r.ID)
	}

	for _, id := range g.ids {
		r := g.records[id]
		if r.ParentID != "" {
			g.children[r.ParentID] = append(g.children[r.ParentID], id)
		}
	}

	sort.Strings(g.ids)
	for _, kids := range g.children {
		sort.Strings(kids)
	}
	return g
}

// Len returns the number of records in the graph.
func (g *Graph) Len() int {
	return len(g.records)
}

// IDs returns every record id, sorted.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Get returns the record with the given id, if present.
func (g *Graph) Get(id string) (*Record, bool) {
	r, ok := g.records[id]
	return r, ok
}

// Roots returns all records with no parent, sorted by id.
// A well-formed history has exactly one.
func (g *Graph) Roots() []*Record {
	var roots []*Record
	for _, id := range g.ids {
		if g.records[id].IsRoot() {
			roots = append(roots, g.records[id])
		}
	}
	return roots
}

// Heads returns all records that are nobody's parent (the tips of the
// history), sorted by id. Forked histories legitimately have several.
func (g *Graph) Heads() []*Record {
	var heads []*Record
	for _, id := range g.ids {
		if len(g.children[id]) == 0 {
			heads = append(heads, g.records[id])
		}
	}
	return heads
}

// ParentOf returns the parent record of id. ok is false when id is unknown,
// id is a root, or the parent id dangles (references a missing record).
func (g *Graph) ParentOf(id string) (*Record, bool) {
	r, ok := g.records[id]
	if !ok || r.ParentID == "" {
		return nil, false
	}
	p, ok := g.records[r.ParentID]
	return p, ok
}

// ChildrenOf returns the records whose parent is id, sorted by id.
func (g *Graph) ChildrenOf(id string) []*Record {
	kids := g.children[id]
	out := make([]*Record, 0, len(kids))
	for _, kid := range kids {
		out = append(out, g.records[kid])
	}
	return out
}

// Ancestors returns id and all its predecessors back to its root, ordered
// root-first. Returns nil when id is unknown. The walk is iterative and
// stops at dangling parents or when a cycle closes on itself, so a
// corrupted history cannot hang or overflow it.
func (g *Graph) Ancestors(id string) []*Record {
	r, ok := g.records[id]
	if !ok {
		return nil
	}

	var chain []*Record // tip-first while walking up
	visited := make(map[string]bool)
	for r != nil && !visited[r.ID] {
		visited[r.ID] = true
		chain = append(chain, r)
		if r.ParentID == "" {
			break
		}
		r = g.records[r.ParentID] // nil when the parent dangles
	}

	// Reverse to root-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Descendants returns id and everything reachable forward from it, ordered
// so that a record's parent always precedes it. Returns nil when id is
// unknown. Iterative breadth-first walk; since every record has a single
// parent, visit order is already topological.
func (g *Graph) Descendants(id string) []*Record {
	if _, ok := g.records[id]; !ok {
		return nil
	}

	var out []*Record
	visited := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, g.records[cur])
		for _, kid := range g.children[cur] {
			if !visited[kid] {
				visited[kid] = true
				queue = append(queue, kid)
			}
		}
	}
	return out
}

// Path returns the parent-chain path from ancestor `from` down to `to`,
// inclusive on both ends. Returns nil when either id is unknown or `from`
// is not an ancestor of `to`. Used for diagnostics only.
func (g *Graph) Path(from, to string) []*Record {
	if _, ok := g.records[from]; !ok {
		return nil
	}
	r, ok := g.records[to]
	if !ok {
		return nil
	}

	var rev []*Record // to-first while walking up
	visited := make(map[string]bool)
	for r != nil && !visited[r.ID] {
		visited[r.ID] = true
		rev = append(rev, r)
		if r.ID == from {
			// Reverse to from-first order.
			for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
				rev[i], rev[j] = rev[j], rev[i]
			}
			return rev
		}
		if r.ParentID == "" {
			break
		}
		r = g.records[r.ParentID]
	}
	return nil
}
