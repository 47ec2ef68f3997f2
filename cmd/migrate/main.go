package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/eventcore/pkg/config"
	"github.com/angelmondragon/eventcore/pkg/db"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate|automigrate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (default: embedded for goose commands, "+migrate.DefaultDir+" for create/validate)")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch the filesystem.
	fileDir := opts.dir
	if fileDir == "" {
		fileDir = migrate.DefaultDir
	}
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			fail("missing -name for create", nil)
		}
		path, err := migrate.CreateSQLMigration(fileDir, opts.name)
		if err != nil {
			fail("failed to create migration", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(fileDir); err != nil {
			fail("migration validation failed", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    opts.cmd,
		"dir":    opts.dir,
		"driver": cfg.DB.Driver,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	logg.Info(ctx, "migrate ready")
	applied, err := run(ctx, cfg, dbClient, opts)
	if err != nil {
		fail(fmt.Sprintf("%s failed", opts.cmd), err)
	}
	for _, m := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version": m.Version,
			"path":    m.Path,
			"state":   m.Direction,
		}), "migration")
	}
	logg.Info(ctx, "migrate complete")
}

func run(ctx context.Context, cfg *config.Config, dbClient *db.Client, opts options) ([]migrate.Applied, error) {
	if opts.cmd == "automigrate" {
		return nil, migrate.AutoMigrate(dbClient.DB().WithContext(ctx))
	}
	if cfg.DB.IsSQLite() {
		return nil, errors.New("goose migrations target postgres; use -cmd=automigrate for sqlite")
	}

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return nil, err
	}
	source := migrate.Source(opts.dir)
	switch opts.cmd {
	case "up", "down", "status":
		return migrate.Run(ctx, sqlDB, source, opts.cmd)
	case "version":
		if opts.version == "" {
			return nil, errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, source, opts.version)
	default:
		return nil, fmt.Errorf("unknown -cmd value: %s", opts.cmd)
	}
}

func fail(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
