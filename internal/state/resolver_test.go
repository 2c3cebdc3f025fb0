package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakeel/migrec/internal/revision"
)

func rec(id, parent string) *revision.Record {
	return &revision.Record{ID: id, ParentID: parent}
}

// linear is the canonical R1 → R2 → R3 history used throughout.
func linear() *revision.Graph {
	return revision.NewGraph([]*revision.Record{
		rec("r1", ""), rec("r2", "r1"), rec("r3", "r2"),
	})
}

func TestResolve_LinearHistory(t *testing.T) {
	tests := []struct {
		name         string
		position     Position
		wantApplied  []string
		wantPending  []string
		wantOrphaned []string
	}{
		{
			name:        "empty position: everything pending",
			position:    nil,
			wantApplied: nil,
			wantPending: []string{"r1", "r2", "r3"},
		},
		{
			name:        "store at r2: r3 owed",
			position:    Position{"r2"},
			wantApplied: []string{"r1", "r2"},
			wantPending: []string{"r3"},
		},
		{
			name:        "store at head: nothing owed",
			position:    Position{"r3"},
			wantApplied: []string{"r1", "r2", "r3"},
			wantPending: nil,
		},
		{
			name:         "unknown position is orphaned, graph untouched",
			position:     Position{"ghost"},
			wantApplied:  nil,
			wantPending:  []string{"r1", "r2", "r3"},
			wantOrphaned: []string{"ghost"},
		},
		{
			name:         "mixed known and orphaned",
			position:     Position{"r2", "ghost"},
			wantApplied:  []string{"r1", "r2"},
			wantPending:  []string{"r3"},
			wantOrphaned: []string{"ghost"},
		},
		{
			name:        "duplicate position ids collapse",
			position:    Position{"r2", "r2"},
			wantApplied: []string{"r1", "r2"},
			wantPending: []string{"r3"},
		},
	}

	r := NewResolver(linear())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := r.Resolve(tt.position)
			assert.Equal(t, tt.wantApplied, sliceOrNil(st.AppliedIDs()))
			assert.Equal(t, tt.wantPending, sliceOrNil(st.PendingIDs()))
			assert.Equal(t, tt.wantOrphaned, sliceOrNil(st.Orphaned))
		})
	}
}

func TestResolve_ForkedHistory(t *testing.T) {
	g := revision.NewGraph([]*revision.Record{
		rec("r1", ""),
		rec("r2", "r1"),
		rec("r3a", "r2"),
		rec("r3b", "r2"),
	})
	r := NewResolver(g)

	t.Run("one branch applied leaves the other pending", func(t *testing.T) {
		st := r.Resolve(Position{"r3a"})
		assert.Equal(t, []string{"r1", "r2", "r3a"}, st.AppliedIDs())
		assert.Equal(t, []string{"r3b"}, st.PendingIDs())
	})

	t.Run("both heads applied", func(t *testing.T) {
		st := r.Resolve(Position{"r3a", "r3b"})
		assert.Equal(t, []string{"r1", "r2", "r3a", "r3b"}, st.AppliedIDs())
		assert.Empty(t, st.PendingIDs())
	})

	t.Run("position below the fork owes both branches", func(t *testing.T) {
		st := r.Resolve(Position{"r2"})
		assert.Equal(t, []string{"r3a", "r3b"}, st.PendingIDs())
	})
}

func TestResolve_PartitionIsDisjoint(t *testing.T) {
	r := NewResolver(linear())

	for _, pos := range []Position{nil, {"r1"}, {"r2"}, {"r3"}, {"ghost"}, {"r2", "ghost"}} {
		st := r.Resolve(pos)

		seen := make(map[string]bool)
		for _, id := range st.AppliedIDs() {
			seen[id] = true
		}
		for _, id := range st.PendingIDs() {
			assert.False(t, seen[id], "revision %s in both applied and pending for position %v", id, pos)
		}
	}
}

func TestResolve_AllPositionsOrphaned(t *testing.T) {
	st := NewResolver(linear()).Resolve(Position{"ghost-a", "ghost-b"})

	assert.Empty(t, st.Applied, "no fallback is fabricated for orphaned positions")
	assert.Equal(t, []string{"ghost-a", "ghost-b"}, st.Orphaned)
	assert.Equal(t, []string{"r1", "r2", "r3"}, st.PendingIDs())
}

func TestResolve_EmptyGraph(t *testing.T) {
	st := NewResolver(revision.NewGraph(nil)).Resolve(Position{"ghost"})

	assert.Empty(t, st.Applied)
	assert.Empty(t, st.Pending)
	assert.Equal(t, []string{"ghost"}, st.Orphaned)
}

func TestResolve_PendingOrderIsParentFirst(t *testing.T) {
	// Ensure ordering holds regardless of id spelling: z1 is the root.
	g := revision.NewGraph([]*revision.Record{
		rec("z1", ""), rec("a2", "z1"), rec("m3", "a2"),
	})

	st := NewResolver(g).Resolve(nil)
	require.Equal(t, []string{"z1", "a2", "m3"}, st.PendingIDs(),
		"order must be topological, not lexicographic")
}

func sliceOrNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
