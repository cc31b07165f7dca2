package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/config"
	"github.com/BaSui01/agentrewind/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate handles "migrate <subcommand> [options] [arg]". The SQL snapshot
// store's schema lives in internal/migration/migrations.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage()
		return
	}
	if !isMigrateCommand(subcommand) {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	_ = fs.Parse(args[1:])

	logger, _ := initLogger(config.LogConfig{Level: "warn", Format: "console"})
	defer func() { _ = logger.Sync() }()

	migrator, err := createMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migration.NewCLI(migrator).Execute(ctx, subcommand, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", subcommand, err)
		os.Exit(1)
	}
}

func isMigrateCommand(name string) bool {
	for _, c := range migration.Commands {
		if c == name {
			return true
		}
	}
	return false
}

// createMigrator prefers explicit flags, then the database section of the
// config.
func createMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.DatabaseConfig(), logger)
}

func printMigrateUsage() {
	fmt.Printf(`Database Migration Commands

Usage:
  agentrewind migrate <subcommand> [options] [arg]

Subcommands:
  %s

  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  info      Show a migration summary
  version   Show current migration version
  goto <v>  Migrate to a specific version
  steps <n> Apply (n>0) or roll back (n<0) n migrations
  force <v> Force set migration version (use with caution)
  reset     Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentrewind migrate up --config /etc/agentrewind/config.yaml
  agentrewind migrate status
  agentrewind migrate goto 1
  agentrewind migrate up --db-type sqlite --db-url "file:rewind.db?mode=rwc"
`, strings.Join(migration.Commands, ", "))
}
