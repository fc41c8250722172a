package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/escrow/admin/internal/admin"
	"github.com/malbeclabs/escrow/api/config"
	"github.com/malbeclabs/escrow/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	configFlag := flag.String("config", "escrow.yaml", "Path to the YAML configuration file")
	envFileFlag := flag.String("env-file", ".env", "Path to a .env file loaded into the environment")

	// PostgreSQL configuration
	pgHostFlag := flag.String("postgres-host", "", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("postgres-port", "", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("postgres-database", "", "PostgreSQL database name (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("postgres-username", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("postgres-sslmode", "", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Delete every row from the ledger tables")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(logger.Config{Writer: os.Stderr, Verbose: *verboseFlag, Service: "escrow-admin"})

	cfg, err := config.Load(*configFlag, *envFileFlag)
	if err != nil {
		return err
	}
	pg := cfg.Postgres
	for dst, v := range map[*string]string{
		&pg.Host:     *pgHostFlag,
		&pg.Port:     *pgPortFlag,
		&pg.Database: *pgDatabaseFlag,
		&pg.Username: *pgUsernameFlag,
		&pg.Password: *pgPasswordFlag,
		&pg.SSLMode:  *pgSSLModeFlag,
	} {
		if v != "" {
			*dst = v
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := ""
	switch {
	case *pgMigrateFlag:
		command = "pg-migrate"
	case *pgMigrateDownFlag:
		command = "pg-migrate-down"
	case *pgMigrateStatusFlag:
		command = "pg-migrate-status"
	case *resetDBFlag:
		command = "reset-db"
	default:
		flag.Usage()
		return nil
	}
	if err := pg.Validate(); err != nil {
		return fmt.Errorf("--%s: %w", command, err)
	}

	switch command {
	case "pg-migrate":
		return admin.PgMigrateUp(ctx, log, pg)
	case "pg-migrate-down":
		return admin.PgMigrateDown(ctx, log, pg)
	case "pg-migrate-status":
		return admin.PgMigrateStatus(ctx, log, pg)
	default:
		pool, err := config.OpenPostgres(ctx, log, pg)
		if err != nil {
			return err
		}
		defer pool.Close()
		return admin.ResetDB(ctx, log, pool, admin.ResetDBConfig{
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}
}
