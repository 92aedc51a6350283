package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/astrogeminibot/internal/database"
	"github.com/BaSui01/astrogeminibot/internal/migration"
)

// =============================================================================
// Usage ledger migration commands
// =============================================================================

// errSQLiteMigrations is returned for SQLite ledgers, which are created by
// gorm AutoMigrate when the bot starts.
var errSQLiteMigrations = errors.New("sqlite ledgers are migrated automatically by 'serve'")

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}

	subcommand, rest := args[0], args[1:]
	// steps 的参数可以是负数，先取出位置参数再解析 flag
	positional := []string{subcommand}
	if (subcommand == "steps" || subcommand == "force") && len(rest) > 0 {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	_ = fs.Parse(rest)

	dbCfg, err := migrationDatabaseConfig(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	migrator, err := migration.NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	if err := cli.Run(context.Background(), positional); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", subcommand, err)
		migrator.Close()
		os.Exit(1)
	}
}

// migrationDatabaseConfig 命令行参数优先，其次读取配置文件的 database 段
func migrationDatabaseConfig(configPath, dbType, dbURL string) (database.Config, error) {
	if dbType != "" && dbURL != "" {
		return checkMigratable(database.Config{Driver: dbType, DSN: dbURL})
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return database.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	return checkMigratable(ledgerDatabaseConfig(cfg.Database))
}

func checkMigratable(cfg database.Config) (database.Config, error) {
	if cfg.Driver == "" || strings.EqualFold(cfg.Driver, database.DriverSQLite) {
		return cfg, errSQLiteMigrations
	}
	if cfg.DSN == "" {
		return cfg, fmt.Errorf("no connection string for %s", cfg.Driver)
	}
	return cfg, nil
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Usage ledger migrations (PostgreSQL and MySQL)

Usage:
  astrogeminibot migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  force <v>   Force set migration version (use with caution)
  status      Show migration status
  version     Show current migration version
  info        Show migration summary

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql (default: from config)
  --db-url <url>      Database connection URL (default: from config)

SQLite ledgers need no migrations; 'serve' creates the table on start.

Examples:
  astrogeminibot migrate up --config /etc/astrogeminibot/config.yaml
  astrogeminibot migrate status --db-type postgres --db-url postgres://astro@localhost/astro
  astrogeminibot migrate force 1`)
}
