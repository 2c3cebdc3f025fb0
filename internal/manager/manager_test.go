package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakeel/migrec/internal/revision"
	"github.com/datakeel/migrec/internal/runner"
	"github.com/datakeel/migrec/internal/schemadiff"
)

// --- fakes ---

type fakeSource struct {
	defs []revision.Definition
	err  error
}

func (s *fakeSource) Definitions(ctx context.Context) ([]revision.Definition, error) {
	return s.defs, s.err
}

type fakePositions struct {
	pos []string
	err error
}

func (p *fakePositions) Positions(ctx context.Context) ([]string, error) {
	return p.pos, p.err
}

// fakeRunner records every call and can be scripted to fail partway.
type fakeRunner struct {
	applied    []string
	rolledBack []string
	dropped    bool

	failApplyAt    string // revision id whose apply fails
	failRollbackAt string
	dropErr        error
	panicOnApply   bool

	materialized *revision.Record
}

func (r *fakeRunner) Apply(ctx context.Context, plan []*revision.Record) (*runner.Report, error) {
	if r.panicOnApply {
		panic("runner exploded")
	}
	report := &runner.Report{}
	for _, rec := range plan {
		if rec.ID == r.failApplyAt {
			return report, fmt.Errorf("up statement failed for %s", rec.ID)
		}
		r.applied = append(r.applied, rec.ID)
		report.Applied = append(report.Applied, rec.ID)
	}
	return report, nil
}

func (r *fakeRunner) Rollback(ctx context.Context, plan []*revision.Record) (*runner.Report, error) {
	report := &runner.Report{}
	for _, rec := range plan {
		if rec.ID == r.failRollbackAt {
			return report, fmt.Errorf("down statement failed for %s", rec.ID)
		}
		r.rolledBack = append(r.rolledBack, rec.ID)
		report.RolledBack = append(report.RolledBack, rec.ID)
	}
	return report, nil
}

func (r *fakeRunner) DropAll(ctx context.Context) error {
	if r.dropErr != nil {
		return r.dropErr
	}
	r.dropped = true
	return nil
}

func (r *fakeRunner) Materialize(ctx context.Context, parentID, description string) (*revision.Record, error) {
	r.materialized = &revision.Record{ID: "new-rev", ParentID: parentID, Description: description}
	return r.materialized, nil
}

type fakeDeclared struct{ d schemadiff.Description }

func (f *fakeDeclared) DeclaredSchema(ctx context.Context) (schemadiff.Description, error) {
	return f.d, nil
}

type fakeActual struct{ d schemadiff.Description }

func (f *fakeActual) ActualSchema(ctx context.Context) (schemadiff.Description, error) {
	return f.d, nil
}

// --- helpers ---

func manifest(id, parent string) revision.Definition {
	data := "id: " + id + "\n"
	if parent != "" {
		data += "parent: " + parent + "\n"
	}
	data += "up:\n  - SELECT 1\ndown:\n  - SELECT 1\n"
	return revision.Definition{Ref: id + ".yaml", Data: []byte(data)}
}

// chain is the canonical R1 → R2 → R3 source tree.
func chain() *fakeSource {
	return &fakeSource{defs: []revision.Definition{
		manifest("r1", ""), manifest("r2", "r1"), manifest("r3", "r2"),
	}}
}

func newManager(src revision.Source, pos []string, run *fakeRunner) *Manager {
	return New(&Config{
		Source:    src,
		Positions: &fakePositions{pos: pos},
		Runner:    run,
		Declared:  &fakeDeclared{d: schemadiff.Description{Tables: map[string]schemadiff.Table{}}},
		Actual:    &fakeActual{d: schemadiff.Description{Tables: map[string]schemadiff.Table{}}},
	})
}

// --- Status / Verify ---

func TestStatus_PartitionsState(t *testing.T) {
	mgr := newManager(chain(), []string{"r2"}, &fakeRunner{})

	report, err := mgr.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"r1", "r2"}, report.State.AppliedIDs())
	assert.Equal(t, []string{"r3"}, report.State.PendingIDs())
	assert.Empty(t, report.State.Orphaned)
}

func TestStatus_SourceFailure(t *testing.T) {
	mgr := newManager(&fakeSource{err: errors.New("disk gone")}, nil, &fakeRunner{})

	_, err := mgr.Status(context.Background())
	assert.Error(t, err)
}

func TestVerify_CleanState(t *testing.T) {
	mgr := newManager(chain(), []string{"r3"}, &fakeRunner{})

	report, err := mgr.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestVerify_ReportsWithoutActing(t *testing.T) {
	// Orphaned position plus a schema mismatch: both reported, nothing done.
	run := &fakeRunner{}
	mgr := New(&Config{
		Source:    chain(),
		Positions: &fakePositions{pos: []string{"ghost"}},
		Runner:    run,
		Declared: &fakeDeclared{d: schemadiff.Description{Tables: map[string]schemadiff.Table{
			"users": {Columns: map[string]string{"id": "uuid"}},
		}}},
		Actual: &fakeActual{d: schemadiff.Description{Tables: map[string]schemadiff.Table{}}},
	})

	report, err := mgr.Verify(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Clean())
	assert.Equal(t, []string{"ghost"}, report.Orphaned)
	assert.Equal(t, []string{"users"}, report.Schema.MissingTables)
	assert.True(t, report.Integrity.Valid)
	assert.Empty(t, run.applied, "verify must not mutate")
	assert.Empty(t, run.rolledBack)
}

// --- Apply ---

func TestApply_AppliesPendingInOrder(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), []string{"r1"}, run)

	res := mgr.Apply(context.Background())
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 2, res.AppliedCount)
	assert.Equal(t, []string{"r2", "r3"}, res.AppliedIDs)
	assert.Equal(t, []string{"r2", "r3"}, run.applied)
}

func TestApply_NothingPendingSucceedsWithWarning(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), []string{"r3"}, run)

	res := mgr.Apply(context.Background())
	assert.True(t, res.Success)
	assert.Zero(t, res.AppliedCount)
	assert.Empty(t, run.applied)

	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "nothing to apply")
}

func TestApply_OrphanedPositionBlocks(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), []string{"ghost"}, run)

	res := mgr.Apply(context.Background())
	assert.False(t, res.Success)
	assert.Empty(t, run.applied)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "ghost")
}

func TestApply_PartialFailureReportsProgress(t *testing.T) {
	run := &fakeRunner{failApplyAt: "r3"}
	mgr := newManager(chain(), nil, run)

	res := mgr.Apply(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, []string{"r1", "r2"}, res.AppliedIDs)
	assert.Equal(t, 2, res.AppliedCount)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "runner failed")
}

func TestApply_RunnerPanicBecomesError(t *testing.T) {
	run := &fakeRunner{panicOnApply: true}
	mgr := newManager(chain(), nil, run)

	res := mgr.Apply(context.Background())
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "runner panic")
}

// --- Rollback ---

func TestRollback_StepsBackAlongTheChain(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), []string{"r3"}, run)

	res := mgr.Rollback(context.Background(), 2)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "r1", res.Target)
	assert.Equal(t, []string{"r3", "r2"}, res.RolledBackIDs, "children roll back first")
	assert.Equal(t, []string{"r3", "r2"}, run.rolledBack)
}

func TestRollback_Preconditions(t *testing.T) {
	tests := []struct {
		name      string
		pos       []string
		steps     int
		wantError string
	}{
		{"zero steps", []string{"r3"}, 0, "must be positive"},
		{"negative steps", []string{"r3"}, -1, "must be positive"},
		{"nothing applied", nil, 1, "nothing to roll back"},
		{"steps exceed history", []string{"r2"}, 5, "only 2 revision(s) applied"},
		{"steps would remove the root", []string{"r1"}, 1, "before the root"},
		{"full teardown refused", []string{"r3"}, 3, "before the root"},
		{"orphaned position blocks", []string{"ghost"}, 1, "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &fakeRunner{}
			mgr := newManager(chain(), tt.pos, run)

			res := mgr.Rollback(context.Background(), tt.steps)
			assert.False(t, res.Success)
			assert.Empty(t, run.rolledBack, "preconditions must fail before any runner call")
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, strings.Join(res.Errors, "; "), tt.wantError)
		})
	}
}

func TestRollback_MultipleAppliedHeadsIsAmbiguous(t *testing.T) {
	src := &fakeSource{defs: []revision.Definition{
		manifest("r1", ""), manifest("r2a", "r1"), manifest("r2b", "r1"),
	}}
	run := &fakeRunner{}
	mgr := newManager(src, []string{"r2a", "r2b"}, run)

	res := mgr.Rollback(context.Background(), 1)
	assert.False(t, res.Success)
	assert.Empty(t, run.rolledBack)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "ambiguous")
}

func TestRollback_RunnerFailureReportsProgress(t *testing.T) {
	run := &fakeRunner{failRollbackAt: "r2"}
	mgr := newManager(chain(), []string{"r3"}, run)

	res := mgr.Rollback(context.Background(), 2)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"r3"}, res.RolledBackIDs)
}

// --- Fresh ---

func TestFresh_DropsAndRebuildsFromRoot(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), []string{"r2"}, run)

	res := mgr.Fresh(context.Background())
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.True(t, res.Destroyed)
	assert.True(t, run.dropped)
	assert.Equal(t, []string{"r1", "r2", "r3"}, res.AppliedIDs)
}

func TestFresh_DropFailureLeavesStoreIntact(t *testing.T) {
	run := &fakeRunner{dropErr: errors.New("insufficient privileges")}
	mgr := newManager(chain(), []string{"r2"}, run)

	res := mgr.Fresh(context.Background())
	assert.False(t, res.Success)
	assert.False(t, res.Destroyed)
	assert.Empty(t, run.applied)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "backing store unchanged")
}

func TestFresh_ReapplyFailureReportsDestruction(t *testing.T) {
	run := &fakeRunner{failApplyAt: "r2"}
	mgr := newManager(chain(), []string{"r3"}, run)

	res := mgr.Fresh(context.Background())
	assert.False(t, res.Success)
	assert.True(t, res.Destroyed, "caller must learn the store is gone")
	assert.Equal(t, []string{"r1"}, res.AppliedIDs)
}

// --- Refresh ---

func TestRefresh_FullRoundTrip(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), []string{"r3"}, run)

	res := mgr.Refresh(context.Background())
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, []string{"r3", "r2", "r1"}, res.RolledBackIDs)
	assert.Equal(t, []string{"r1", "r2", "r3"}, res.AppliedIDs)
}

func TestRefresh_RollbackFailureSkipsApply(t *testing.T) {
	run := &fakeRunner{failRollbackAt: "r1"}
	mgr := newManager(chain(), []string{"r3"}, run)

	res := mgr.Refresh(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, []string{"r3", "r2"}, res.RolledBackIDs)
	assert.Empty(t, run.applied, "apply leg must not run after a failed rollback")
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "apply skipped")
}

func TestRefresh_NothingAppliedJustApplies(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), nil, run)

	res := mgr.Refresh(context.Background())
	require.True(t, res.Success)
	assert.Empty(t, res.RolledBackIDs)
	assert.Equal(t, []string{"r1", "r2", "r3"}, res.AppliedIDs)
}

func TestRefresh_OrphanedPositionBlocks(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), []string{"r2", "ghost"}, run)

	res := mgr.Refresh(context.Background())
	assert.False(t, res.Success)
	assert.Empty(t, run.rolledBack)
	assert.Empty(t, run.applied)
}

// --- Create ---

func TestCreate_UsesHeadAsParent(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(chain(), nil, run)

	res := mgr.Create(context.Background(), "add sessions table")
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.NotNil(t, res.Record)
	assert.Equal(t, "r3", res.Record.ParentID)
	assert.Equal(t, "add sessions table", res.Record.Description)
}

func TestCreate_EmptyTreeCreatesRoot(t *testing.T) {
	run := &fakeRunner{}
	mgr := newManager(&fakeSource{}, nil, run)

	res := mgr.Create(context.Background(), "initial schema")
	require.True(t, res.Success)
	assert.Empty(t, res.Record.ParentID)
}

func TestCreate_MultipleHeadsIsAmbiguous(t *testing.T) {
	src := &fakeSource{defs: []revision.Definition{
		manifest("r1", ""), manifest("r2a", "r1"), manifest("r2b", "r1"),
	}}
	run := &fakeRunner{}
	mgr := newManager(src, nil, run)

	res := mgr.Create(context.Background(), "new work")
	assert.False(t, res.Success)
	assert.Nil(t, run.materialized)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "ambiguous")
}
