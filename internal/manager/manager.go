// Package manager orchestrates the migration engine: it composes the
// loader, integrity verifier, state resolver, and schema verifier, and is
// the only component that talks to the migration runner. Everything else in
// the engine is pure or read-only.
//
// The manager provides no mutual exclusion. Apply, Rollback, Fresh, and
// Refresh each read the store position and then act on it; two processes
// doing that concurrently race. Callers serialize externally — for
// Postgres, postgres.AdvisoryLock exists for exactly that.
package manager

import (
	"context"
	"fmt"

	"github.com/datakeel/migrec/internal/integrity"
	"github.com/datakeel/migrec/internal/logger"
	"github.com/datakeel/migrec/internal/revision"
	"github.com/datakeel/migrec/internal/runner"
	"github.com/datakeel/migrec/internal/schemadiff"
	"github.com/datakeel/migrec/internal/state"
)

// Config wires a Manager's collaborators. Everything is injected — no
// globals, no hidden singletons — so independent managers can run against
// independent graphs in the same process.
type Config struct {
	Source    revision.Source
	Positions runner.PositionStore
	Runner    runner.Runner
	Declared  schemadiff.DeclaredProvider
	Actual    schemadiff.ActualProvider

	// BookkeepingTable is excluded from the schema diff's extra tables.
	// Defaults to runner.DefaultPositionTable.
	BookkeepingTable string

	Logger *logger.Logger
}

// Manager exposes the migration operations. All methods are synchronous
// call-and-return; the only blocking points are the injected collaborators.
type Manager struct {
	source    revision.Source
	positions runner.PositionStore
	run       runner.Runner
	declared  schemadiff.DeclaredProvider
	actual    schemadiff.ActualProvider
	checker   *integrity.Verifier
	differ    *schemadiff.Verifier
	log       *logger.Logger
}

// New creates a Manager from the given config.
func New(cfg *Config) *Manager {
	table := cfg.BookkeepingTable
	if table == "" {
		table = runner.DefaultPositionTable
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		source:    cfg.Source,
		positions: cfg.Positions,
		run:       cfg.Runner,
		declared:  cfg.Declared,
		actual:    cfg.Actual,
		checker:   integrity.NewVerifier(),
		differ:    schemadiff.NewVerifier(table),
		log:       log,
	}
}

// --- read-only operations ---

// Status loads the revision graph, reads the store position, and resolves
// the applied/pending/orphaned partition. Mutates nothing.
func (m *Manager) Status(ctx context.Context) (*StatusReport, error) {
	_, warns, st, err := m.loadState(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{State: st, LoadWarnings: warns}, nil
}

// Verify runs every read-only check: chain integrity, declared-vs-actual
// schema diff, and position drift. Findings are reported, never acted on.
func (m *Manager) Verify(ctx context.Context) (*VerifyReport, error) {
	graph, warns, st, err := m.loadState(ctx)
	if err != nil {
		return nil, err
	}

	declared, err := m.declared.DeclaredSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading declared schema: %w", err)
	}
	actual, err := m.actual.ActualSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspecting live schema: %w", err)
	}

	return &VerifyReport{
		Integrity:    m.checker.Verify(graph),
		Schema:       m.differ.Compare(declared, actual),
		Orphaned:     st.Orphaned,
		LoadWarnings: warns,
	}, nil
}

// --- mutating operations ---

// Apply advances the backing store to all current heads. With nothing
// pending it succeeds trivially with a warning. Orphaned positions block
// the operation: the store's state cannot be explained by the current
// source tree, and advancing on top of unexplained state is how drift
// becomes damage.
func (m *Manager) Apply(ctx context.Context) *OperationResult {
	_, warns, st, err := m.loadState(ctx)
	if err != nil {
		return failed(fmt.Sprintf("cannot resolve migration state: %v", err))
	}

	res := &OperationResult{Warnings: warningStrings(warns)}

	if len(st.Orphaned) > 0 {
		res.Errors = append(res.Errors, orphanError(st.Orphaned))
		return res
	}
	if len(st.Pending) == 0 {
		res.Success = true
		res.Warnings = append(res.Warnings, "nothing to apply: backing store is up to date")
		return res
	}

	report, err := m.guardedApply(ctx, st.Pending)
	res.AppliedIDs = report.Applied
	res.AppliedCount = len(report.Applied)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("runner failed: %v", err))
		return res
	}

	res.Success = true
	m.log.With().Int("applied", res.AppliedCount).Logger().Info("apply complete")
	return res
}

// Rollback downgrades the store by the given number of steps along the
// applied chain. It fails fast — before any runner call — when steps
// exceeds or exhausts the applied history, or when the applied set
// branches into multiple heads and the target is ambiguous.
func (m *Manager) Rollback(ctx context.Context, steps int) *OperationResult {
	if steps <= 0 {
		return failed(fmt.Sprintf("rollback steps must be positive, got %d", steps))
	}

	graph, warns, st, err := m.loadState(ctx)
	if err != nil {
		return failed(fmt.Sprintf("cannot resolve migration state: %v", err))
	}

	res := &OperationResult{Warnings: warningStrings(warns)}

	if len(st.Orphaned) > 0 {
		res.Errors = append(res.Errors, orphanError(st.Orphaned))
		return res
	}
	if len(st.Applied) == 0 {
		res.Errors = append(res.Errors, "nothing to roll back: no revisions are applied")
		return res
	}
	if tips := appliedTips(graph, st.Applied); len(tips) > 1 {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"applied history has multiple heads (%v): rollback target is ambiguous", tips))
		return res
	}
	if steps > len(st.Applied) {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"cannot roll back %d step(s): only %d revision(s) applied", steps, len(st.Applied)))
		return res
	}
	if steps == len(st.Applied) {
		res.Errors = append(res.Errors,
			"rollback target would be before the root revision; use Refresh or Fresh to rebuild from scratch")
		return res
	}

	targetIdx := len(st.Applied) - 1 - steps
	target := st.Applied[targetIdx]
	undo := reverse(st.Applied[targetIdx+1:])

	report, err := m.guardedRollback(ctx, undo)
	res.Target = target.ID
	res.RolledBackIDs = report.RolledBack
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("runner failed: %v", err))
		return res
	}

	res.Success = true
	m.log.With().Str("target", target.ID).Int("steps", steps).Logger().Info("rollback complete")
	return res
}

// Fresh destroys all structural state and rebuilds from the root. The one
// operation with no recovery path: Destroyed on the result tells the
// caller whether the destructive step completed before any failure.
func (m *Manager) Fresh(ctx context.Context) *OperationResult {
	res := &OperationResult{}

	if err := m.guardedDropAll(ctx); err != nil {
		res.Errors = append(res.Errors,
			fmt.Sprintf("drop failed, backing store unchanged: %v", err))
		return res
	}
	res.Destroyed = true

	graph, warns, err := revision.Load(ctx, m.source)
	res.Warnings = warningStrings(warns)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"backing store was destroyed but revisions could not be loaded: %v", err))
		return res
	}

	plan := state.NewResolver(graph).Resolve(nil).Pending
	report, err := m.guardedApply(ctx, plan)
	res.AppliedIDs = report.Applied
	res.AppliedCount = len(report.Applied)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"backing store was destroyed but reapply failed: %v", err))
		return res
	}

	res.Success = true
	m.log.With().Int("applied", res.AppliedCount).Logger().Info("fresh rebuild complete")
	return res
}

// Refresh rolls back the entire applied set and reapplies everything.
// If the rollback leg fails, apply never runs.
func (m *Manager) Refresh(ctx context.Context) *OperationResult {
	graph, warns, st, err := m.loadState(ctx)
	if err != nil {
		return failed(fmt.Sprintf("cannot resolve migration state: %v", err))
	}

	res := &OperationResult{Warnings: warningStrings(warns)}

	if len(st.Orphaned) > 0 {
		res.Errors = append(res.Errors, orphanError(st.Orphaned))
		return res
	}

	if len(st.Applied) > 0 {
		report, err := m.guardedRollback(ctx, reverse(st.Applied))
		res.RolledBackIDs = report.RolledBack
		if err != nil {
			res.Errors = append(res.Errors,
				fmt.Sprintf("rollback leg failed, apply skipped: %v", err))
			return res
		}
	}

	plan := state.NewResolver(graph).Resolve(nil).Pending
	report, err := m.guardedApply(ctx, plan)
	res.AppliedIDs = report.Applied
	res.AppliedCount = len(report.Applied)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("apply leg failed: %v", err))
		return res
	}

	res.Success = true
	m.log.With().Int("applied", res.AppliedCount).Logger().Info("refresh complete")
	return res
}

// Create asks the runner to materialize a new revision definition on top of
// the current head. The manager only determines the parent and returns the
// identity; validating the definition is the runner's domain. Multiple
// heads make the parent ambiguous, so that fails explicitly.
func (m *Manager) Create(ctx context.Context, description string) *CreateResult {
	graph, warns, err := revision.Load(ctx, m.source)
	if err != nil {
		return &CreateResult{Errors: []string{fmt.Sprintf("cannot load revisions: %v", err)}}
	}

	res := &CreateResult{Warnings: warningStrings(warns)}

	parent := ""
	heads := graph.Heads()
	switch {
	case len(heads) == 1:
		parent = heads[0].ID
	case len(heads) > 1:
		ids := make([]string, len(heads))
		for i, h := range heads {
			ids[i] = h.ID
		}
		res.Errors = append(res.Errors, fmt.Sprintf(
			"history has multiple heads (%v): parent of the new revision is ambiguous", ids))
		return res
	}

	rec, err := m.guardedMaterialize(ctx, parent, description)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("runner failed: %v", err))
		return res
	}

	res.Success = true
	res.Record = rec
	m.log.With().Str("revision", rec.ID).Logger().Info("revision created")
	return res
}

// --- composition helpers ---

// loadState loads the graph, reads the position, and resolves the state.
func (m *Manager) loadState(ctx context.Context) (*revision.Graph, []revision.LoadWarning, *state.State, error) {
	graph, warns, err := revision.Load(ctx, m.source)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading revisions: %w", err)
	}

	pos, err := m.positions.Positions(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading backing store position: %w", err)
	}

	st := state.NewResolver(graph).Resolve(pos)
	return graph, warns, st, nil
}

// appliedTips returns the ids in applied that are not the parent of any
// other applied record — the heads of the applied sub-history. More than
// one means the applied chain is not linear.
func appliedTips(graph *revision.Graph, applied []*revision.Record) []string {
	inApplied := make(map[string]bool, len(applied))
	for _, rec := range applied {
		inApplied[rec.ID] = true
	}

	var tips []string
	for _, rec := range applied {
		isParent := false
		for _, child := range graph.ChildrenOf(rec.ID) {
			if inApplied[child.ID] {
				isParent = true
				break
			}
		}
		if !isParent {
			tips = append(tips, rec.ID)
		}
	}
	return tips
}

func reverse(recs []*revision.Record) []*revision.Record {
	out := make([]*revision.Record, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = rec
	}
	return out
}

func warningStrings(warns []revision.LoadWarning) []string {
	if len(warns) == 0 {
		return nil
	}
	out := make([]string, len(warns))
	for i, w := range warns {
		out[i] = "load: " + w.String()
	}
	return out
}

func orphanError(orphaned []string) string {
	return fmt.Sprintf(
		"backing store reports revision(s) unknown to the current source tree: %v; resolve the drift first",
		orphaned)
}

// --- runner boundary ---
//
// A misbehaving external runner must not take the manager down with it:
// panics are converted to errors here, at the only place runner code is
// invoked, and end up in OperationResult.Errors like any other failure.

func (m *Manager) guardedApply(ctx context.Context, plan []*revision.Record) (report *runner.Report, err error) {
	defer recoverToError(&err)
	report = &runner.Report{}
	r, err := m.run.Apply(ctx, plan)
	if r != nil {
		report = r
	}
	return report, err
}

func (m *Manager) guardedRollback(ctx context.Context, plan []*revision.Record) (report *runner.Report, err error) {
	defer recoverToError(&err)
	report = &runner.Report{}
	r, err := m.run.Rollback(ctx, plan)
	if r != nil {
		report = r
	}
	return report, err
}

func (m *Manager) guardedDropAll(ctx context.Context) (err error) {
	defer recoverToError(&err)
	return m.run.DropAll(ctx)
}

func (m *Manager) guardedMaterialize(ctx context.Context, parent, description string) (rec *revision.Record, err error) {
	defer recoverToError(&err)
	return m.run.Materialize(ctx, parent, description)
}

func recoverToError(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("runner panic: %v", p)
	}
}
