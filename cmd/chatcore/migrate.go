package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/xpio/chatcore/config"
	"github.com/xpio/chatcore/internal/migration"
)

func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator(subargs, func(m *migration.Migrator, _ []string) error {
			return m.Up()
		})
	case "down":
		withMigrator(subargs, func(m *migration.Migrator, _ []string) error {
			return m.Down()
		})
	case "version":
		withMigrator(subargs, func(m *migration.Migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Printf("version: %d, dirty: %v\n", version, dirty)
			return nil
		})
	case "force":
		withMigrator(subargs, func(m *migration.Migrator, rest []string) error {
			if len(rest) < 1 {
				return fmt.Errorf("force requires a version argument")
			}
			v, err := strconv.Atoi(rest[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", rest[0], err)
			}
			return m.Force(v)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// withMigrator loads config, builds a migrator, runs fn, and exits non-zero
// on failure.
func withMigrator(args []string, fn func(m *migration.Migrator, rest []string) error) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	databaseURL := cfg.Database.URL()
	if databaseURL == "" {
		fmt.Fprintf(os.Stderr, "Migrations require a postgres database (driver is %q)\n", cfg.Database.Driver)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	m, err := migration.NewMigrator(databaseURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = m.Close() }()

	if err := fn(m, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  chatcore migrate <subcommand> [options]

Subcommands:
  up         Apply all pending migrations
  down       Rollback the last migration
  version    Show current migration version
  force <v>  Force set migration version (recover a dirty state)

Options:
  --config <path>   Path to configuration file (YAML)`)
}
