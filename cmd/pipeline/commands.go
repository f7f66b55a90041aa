package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/control-tower/internal/config"
	"github.com/andresuchdata/control-tower/internal/pipeline"
	"github.com/andresuchdata/control-tower/internal/repository/postgres"
	"github.com/andresuchdata/control-tower/pkg/logger"
)

func runTenant(c *cli.Context) error {
	asOf, err := parseAsOf(c)
	if err != nil {
		return err
	}
	rt, err := buildDeps(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	run, res, err := rt.scheduler.RunTenant(c.Context, c.String("tenant"), asOf)
	if err != nil {
		return err
	}

	logger.Log.Info().
		Str("tenant_id", run.TenantID).
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("recommendations", run.Recommendations).
		Str("fingerprint", run.Fingerprint).
		Msg("run finished")

	if c.Bool("print") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Recommendations)
	}
	return nil
}

func runAll(c *cli.Context) error {
	asOf, err := parseAsOf(c)
	if err != nil {
		return err
	}
	rt, err := buildDeps(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	tenants := c.StringSlice("tenants")
	if len(tenants) == 0 {
		tenants = rt.cfg.Scheduler.Tenants
	}
	if len(tenants) == 0 {
		tenants, err = rt.tenants.Tenants(c.Context)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
	}
	if len(tenants) == 0 {
		logger.Log.Warn().Msg("no tenants to run")
		return nil
	}

	outcomes, err := rt.scheduler.RunAll(c.Context, tenants, asOf)
	failed := 0
	for _, o := range outcomes {
		event := logger.Log.Info()
		if o.Err != nil {
			failed++
			event = logger.Log.Error().Err(o.Err)
		}
		if o.Run != nil {
			event = event.Str("run_id", o.Run.ID).Str("status", string(o.Run.Status))
		}
		event.Str("tenant_id", o.TenantID).Msg("tenant run outcome")
	}
	logger.Log.Info().Int("tenants", len(outcomes)).Int("failed", failed).Msg("run-all finished")
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func syncDrive(c *cli.Context) error {
	cfg := config.Load()
	folderID := cfg.Drive.FolderID
	if c.String("drive-folder-id") != "" {
		folderID = c.String("drive-folder-id")
	}
	dir := cfg.Drive.DownloadDir
	if c.String("download-dir") != "" {
		dir = c.String("download-dir")
	}
	return runDriveSync(c.Context, cfg.Drive.CredentialsJSON, folderID, dir)
}

func failStale(c *cli.Context) error {
	cfg := config.Load()
	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	n, err := pipeline.NewRepository(db.DB.DB).FailStaleRuns(c.Context, time.Now().Add(-c.Duration("older-than")))
	if err != nil {
		return err
	}
	logger.Log.Info().Int64("runs", n).Msg("stale runs marked failed")
	return nil
}

func migrate(c *cli.Context) error {
	db, err := sql.Open("pgx", c.String("db-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(c.Context); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	dir := c.String("migrations-dir")
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if strings.TrimSpace(string(body)) == "" {
			continue
		}
		if _, err := db.ExecContext(c.Context, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(file), err)
		}
		logger.Log.Info().Str("file", filepath.Base(file)).Msg("migration applied")
	}
	return nil
}
