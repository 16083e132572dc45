package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/BaSui01/fedgateway/internal/migration"
)

// =============================================================================
// 数据库迁移命令
// =============================================================================

// runMigrate handles `fedgateway migrate <action> [flags] [arg]`.
func runMigrate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return 2
	}

	action := args[0]
	switch action {
	case "help", "-h", "--help":
		printMigrateUsage(stdout)
		return 0
	case "reset":
		action = "down-all"
	}

	fs := flag.NewFlagSet("migrate "+action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create migrator: %v\n", err)
		return 1
	}
	defer func() { _ = migrator.Close() }()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(stdout)
	if err := cli.Run(context.Background(), action, fs.Args()); err != nil {
		fmt.Fprintf(stderr, "Migration failed: %v\n", err)
		return 1
	}
	return 0
}

// createMigrator 优先使用 --db-type/--db-url，否则读取配置中的 database 段
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	m, err := migration.NewMigratorFromConfig(cfg)
	if errors.Is(err, migration.ErrDatabaseDisabled) {
		return nil, fmt.Errorf("%w: set database.driver or pass --db-type/--db-url", err)
	}
	return m, err
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Revision audit database migrations

Usage:
  fedgateway migrate <action> [--config file | --db-type t --db-url u] [arg]

Actions:
  up          Apply all pending migrations
  down        Roll back the last migration
  reset       Roll back all migrations
  steps <n>   Apply n migrations (use "-- -n" to roll back)
  goto <v>    Migrate to version v
  force <v>   Force the recorded version (after a failed migration)
  status      Show every migration and whether it is applied
  version     Show the current version
  info        Show a summary

Examples:
  fedgateway migrate up --config /etc/fedgateway/gateway.yaml
  fedgateway migrate status --db-type sqlite --db-url "file:/data/revisions.db?mode=rwc"
  fedgateway migrate steps -- -1`)
}
