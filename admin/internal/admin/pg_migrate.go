package admin

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/escrow/api/config"
	"github.com/malbeclabs/escrow/ledger/pkg/postgres"
)

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) error {
	return postgres.MigrateUp(ctx, log, cfg.ConnString())
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) error {
	return postgres.MigrateDown(ctx, log, cfg.ConnString())
}

// PgMigrateStatus shows the status of all PostgreSQL migrations
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) error {
	return postgres.MigrateStatus(ctx, log, cfg.ConnString())
}
