package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/datakeel/migrec/internal/database"
	"github.com/datakeel/migrec/internal/errs"
	"github.com/datakeel/migrec/internal/logger"
	"github.com/datakeel/migrec/internal/revision"
)

// DefaultPositionTable is the bookkeeping table the SQL runner records
// applied revisions in. The schema verifier excludes it from "extra
// tables" — it belongs to the engine, not the domain model.
const DefaultPositionTable = "migrec_revisions"

// SQLRunnerConfig configures a SQLRunner.
type SQLRunnerConfig struct {
	Dialect       database.Dialect
	PositionTable string // defaults to DefaultPositionTable
	ManifestDir   string // where Materialize writes new manifests
	Logger        *logger.Logger
}

// SQLRunner is the reference Runner and PositionStore: it executes the
// up/down statements carried on revision records and tracks position in a
// bookkeeping table on the same store.
type SQLRunner struct {
	db      database.DB
	dialect database.Dialect
	table   string
	dir     string
	log     *logger.Logger
}

// NewSQLRunner creates a SQLRunner over the given store.
func NewSQLRunner(db database.DB, cfg *SQLRunnerConfig) *SQLRunner {
	if cfg == nil {
		cfg = &SQLRunnerConfig{}
	}
	table := cfg.PositionTable
	if table == "" {
		table = DefaultPositionTable
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &SQLRunner{
		db:      db,
		dialect: cfg.Dialect,
		table:   table,
		dir:     cfg.ManifestDir,
		log:     log,
	}
}

// --- PositionStore implementation ---

// Positions returns the tips of the recorded history: every recorded
// revision that is not the parent of another recorded revision. An absent
// bookkeeping table means an empty store, not an error.
func (r *SQLRunner) Positions(ctx context.Context) ([]string, error) {
	exists, err := r.db.TableExists(ctx, r.table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	q, args, err := database.Select(r.table, r.dialect).
		Columns("id", "parent").
		OrderBy("id").
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	isParent := make(map[string]bool)
	for rows.Next() {
		var id string
		var parent *string
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan position row", err)
		}
		ids = append(ids, id)
		if parent != nil && *parent != "" {
			isParent[*parent] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error iterating position rows", err)
	}

	var tips []string
	for _, id := range ids {
		if !isParent[id] {
			tips = append(tips, id)
		}
	}
	sort.Strings(tips)
	return tips, nil
}

// --- Runner implementation ---

// Apply executes each revision's up statements in order and records it.
// On failure the report lists what completed before the error.
func (r *SQLRunner) Apply(ctx context.Context, plan []*revision.Record) (*Report, error) {
	if err := r.ensureTable(ctx); err != nil {
		return &Report{}, err
	}

	report := &Report{}
	for _, rec := range plan {
		r.log.With().Str("revision", rec.ID).Logger().Info("applying revision")

		for i, stmt := range rec.Up {
			if _, err := r.db.Exec(ctx, stmt); err != nil {
				return report, errs.Wrap(errs.ErrKindQueryFailed,
					fmt.Sprintf("revision %s: up statement %d failed", rec.ID, i+1), err)
			}
		}
		if err := r.recordApplied(ctx, rec); err != nil {
			return report, err
		}
		report.Applied = append(report.Applied, rec.ID)
	}
	report.Output = fmt.Sprintf("applied %d revision(s)", len(report.Applied))
	return report, nil
}

// Rollback executes each revision's down statements (plan must be ordered
// children first) and deletes its position row.
func (r *SQLRunner) Rollback(ctx context.Context, plan []*revision.Record) (*Report, error) {
	report := &Report{}
	for _, rec := range plan {
		r.log.With().Str("revision", rec.ID).Logger().Info("rolling back revision")

		for i, stmt := range rec.Down {
			if _, err := r.db.Exec(ctx, stmt); err != nil {
				return report, errs.Wrap(errs.ErrKindQueryFailed,
					fmt.Sprintf("revision %s: down statement %d failed", rec.ID, i+1), err)
			}
		}
		if err := r.removeApplied(ctx, rec.ID); err != nil {
			return report, err
		}
		report.RolledBack = append(report.RolledBack, rec.ID)
	}
	report.Output = fmt.Sprintf("rolled back %d revision(s)", len(report.RolledBack))
	return report, nil
}

// DropAll destroys every structural object, bookkeeping included.
func (r *SQLRunner) DropAll(ctx context.Context) error {
	switch r.dialect {
	case database.DialectMySQL:
		return r.dropAllMySQL(ctx)
	default:
		return r.dropAllPostgres(ctx)
	}
}

func (r *SQLRunner) dropAllPostgres(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DROP SCHEMA public CASCADE`); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `CREATE SCHEMA public`)
	return err
}

func (r *SQLRunner) dropAllMySQL(ctx context.Context) error {
	tables, err := r.db.ListTables(ctx)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}

	// FK ordering does not matter with checks off for the session.
	if _, err := r.db.Exec(ctx, `SET FOREIGN_KEY_CHECKS = 0`); err != nil {
		return err
	}
	for _, t := range tables {
		stmt := "DROP TABLE IF EXISTS " + database.QuoteIdent(t, r.dialect)
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	_, err = r.db.Exec(ctx, `SET FOREIGN_KEY_CHECKS = 1`)
	return err
}

// Materialize writes a new manifest skeleton to the manifest directory and
// returns its identity. The up/down statements are the author's job.
func (r *SQLRunner) Materialize(ctx context.Context, parentID, description string) (*revision.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "materialize cancelled", err)
	}
	if r.dir == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "no manifest directory configured")
	}

	rec := &revision.Record{
		ID:          strings.ReplaceAll(uuid.NewString(), "-", ""),
		ParentID:    parentID,
		Description: description,
	}

	data, err := revision.MarshalManifest(rec)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to render manifest", err)
	}

	path := filepath.Join(r.dir, rec.ID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to write manifest", err)
	}
	rec.SourceRef = path

	r.log.With().Str("revision", rec.ID).Str("path", path).Logger().Info("materialized revision")
	return rec, nil
}

// --- bookkeeping ---

// ensureTable creates the position table if it does not exist. The DDL is
// deliberately the portable subset both dialects accept.
func (r *SQLRunner) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         VARCHAR(64) PRIMARY KEY,
		parent     VARCHAR(64),
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, database.QuoteIdent(r.table, r.dialect))

	_, err := r.db.Exec(ctx, stmt)
	return err
}

func (r *SQLRunner) recordApplied(ctx context.Context, rec *revision.Record) error {
	var parent *string
	if rec.ParentID != "" {
		parent = &rec.ParentID
	}

	stmt := fmt.Sprintf("INSERT INTO %s (id, parent) VALUES (%s, %s)",
		database.QuoteIdent(r.table, r.dialect), r.placeholder(1), r.placeholder(2))

	if _, err := r.db.Exec(ctx, stmt, rec.ID, parent); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed,
			fmt.Sprintf("failed to record revision %s as applied", rec.ID), err)
	}
	return nil
}

func (r *SQLRunner) removeApplied(ctx context.Context, id string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = %s",
		database.QuoteIdent(r.table, r.dialect), r.placeholder(1))

	if _, err := r.db.Exec(ctx, stmt, id); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed,
			fmt.Sprintf("failed to remove applied record for revision %s", id), err)
	}
	return nil
}

func (r *SQLRunner) placeholder(idx int) string {
	if r.dialect == database.DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", idx)
}
