// Command migrec runs the migration engine from a YAML config file.
//
// Subcommands:
//
//	migrec -config migrec.yaml status     print applied / pending / orphaned
//	migrec -config migrec.yaml verify     integrity + schema checks, exit 1 on findings
//	migrec -config migrec.yaml apply      apply all pending revisions
//	migrec -config migrec.yaml rollback   roll back N steps (-steps)
//	migrec -config migrec.yaml refresh    roll everything back, reapply
//	migrec -config migrec.yaml fresh      drop everything, rebuild from the root
//	migrec -config migrec.yaml create     materialize a new revision (-m description)
//	migrec -config migrec.yaml serve      start the read-only inspection API
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datakeel/migrec/internal/config"
	"github.com/datakeel/migrec/internal/database"
	"github.com/datakeel/migrec/internal/database/mysql"
	"github.com/datakeel/migrec/internal/database/postgres"
	miniostore "github.com/datakeel/migrec/internal/filestore/minio"
	"github.com/datakeel/migrec/internal/logger"
	"github.com/datakeel/migrec/internal/manager"
	"github.com/datakeel/migrec/internal/revision"
	"github.com/datakeel/migrec/internal/runner"
	"github.com/datakeel/migrec/internal/schemadiff"
	"github.com/datakeel/migrec/internal/server"
)

func main() {
	cfgPath := flag.String("config", "migrec.yaml", "path to config file")
	steps := flag.Int("steps", 1, "rollback steps")
	message := flag.String("m", "", "description for create")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		fmt.Fprintln(os.Stderr, "usage: migrec [-config file] <status|verify|apply|rollback|refresh|fresh|create|serve>")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LoggerConfig())
	ctx := context.Background()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Errorf("database connection failed: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	source, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		log.Errorf("revision source failed: %v", err)
		os.Exit(1)
	}
	defer closeSource()

	sqlRunner := runner.NewSQLRunner(db, &runner.SQLRunnerConfig{
		Dialect:       cfg.Dialect(),
		PositionTable: cfg.Runner.PositionTable,
		ManifestDir:   cfg.Runner.ManifestDir,
		Logger:        log,
	})

	mgr := manager.New(&manager.Config{
		Source:           source,
		Positions:        sqlRunner,
		Runner:           sqlRunner,
		Declared:         schemadiff.NewFileProvider(cfg.Schema.DeclaredPath),
		Actual:           schemadiff.NewIntrospectProvider(db),
		BookkeepingTable: cfg.Runner.PositionTable,
		Logger:           log,
	})

	os.Exit(run(ctx, cmd, cfg, db, mgr, source, log, *steps, *message))
}

func run(ctx context.Context, cmd string, cfg *config.File, db database.DB,
	mgr *manager.Manager, source revision.Source, log *logger.Logger,
	steps int, message string) int {

	switch cmd {
	case "status":
		report, err := mgr.Status(ctx)
		if err != nil {
			log.Errorf("status failed: %v", err)
			return 1
		}
		printJSON(map[string]interface{}{
			"applied":  report.State.AppliedIDs(),
			"pending":  report.State.PendingIDs(),
			"orphaned": report.State.Orphaned,
		})
		return 0

	case "verify":
		report, err := mgr.Verify(ctx)
		if err != nil {
			log.Errorf("verify failed: %v", err)
			return 1
		}
		printJSON(report)
		if report.Clean() {
			return 0
		}
		return 1

	case "apply":
		return exitFor(withLock(ctx, cfg, db, log, mgr.Apply), log)

	case "rollback":
		return exitFor(withLock(ctx, cfg, db, log, func(ctx context.Context) *manager.OperationResult {
			return mgr.Rollback(ctx, steps)
		}), log)

	case "refresh":
		return exitFor(withLock(ctx, cfg, db, log, mgr.Refresh), log)

	case "fresh":
		return exitFor(withLock(ctx, cfg, db, log, mgr.Fresh), log)

	case "create":
		res := mgr.Create(ctx, message)
		printJSON(res)
		if res.Success {
			return 0
		}
		return 1

	case "serve":
		return serve(ctx, cfg, mgr, source, log)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return 2
	}
}

// withLock serializes a mutating operation behind a Postgres advisory lock
// when the backing store supports one. MySQL callers serialize externally.
func withLock(ctx context.Context, cfg *config.File, db database.DB,
	log *logger.Logger, op func(context.Context) *manager.OperationResult) *manager.OperationResult {

	if cfg.Dialect() == database.DialectPostgres {
		release, err := postgres.NewAdvisoryLock(db).Acquire(ctx, "migrec")
		if err != nil {
			log.Errorf("could not acquire migration lock: %v", err)
			return &manager.OperationResult{Errors: []string{err.Error()}}
		}
		defer release()
	}
	return op(ctx)
}

func exitFor(res *manager.OperationResult, log *logger.Logger) int {
	printJSON(res)
	if res.Success {
		return 0
	}
	for _, e := range res.Errors {
		log.Error(e)
	}
	return 1
}

func serve(ctx context.Context, cfg *config.File, mgr *manager.Manager,
	source revision.Source, log *logger.Logger) int {

	srv := server.New(cfg.Server.Addr, mgr, source, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Errorf("server failed: %v", err)
		return 1
	case <-stop:
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown failed: %v", err)
			return 1
		}
		return 0
	}
}

func openDatabase(ctx context.Context, cfg *config.File) (database.DB, error) {
	dbCfg := cfg.DatabaseConfig()
	switch dbCfg.Driver {
	case database.DriverMySQL:
		return mysql.New(ctx, dbCfg)
	default:
		return postgres.New(ctx, dbCfg)
	}
}

func openSource(ctx context.Context, cfg *config.File) (revision.Source, func(), error) {
	if cfg.Source.Kind == "bucket" {
		store, err := miniostore.New(ctx, cfg.FilestoreConfig())
		if err != nil {
			return nil, nil, err
		}
		src := revision.NewBucketSource(store, cfg.Source.Bucket, cfg.Source.Prefix)
		return src, func() { _ = store.Close() }, nil
	}
	return revision.NewDirSource(cfg.Source.Path), func() {}, nil
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
