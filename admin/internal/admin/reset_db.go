package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/escrow/ledger/pkg/postgres"
)

type ResetDBConfig struct {
	DryRun      bool
	SkipConfirm bool
	// In and Out carry the confirmation prompt.
	In  io.Reader
	Out io.Writer
}

// ResetDB empties every ledger table. Records, balances and mints are all
// lost; the schema and migration history are kept.
func ResetDB(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, cfg ResetDBConfig) error {
	out := cfg.Out

	counts := make(map[string]int64, len(postgres.Tables))
	var total int64
	for _, table := range postgres.Tables {
		var n int64
		if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n); err != nil {
			return fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		counts[table] = n
		total += n
	}

	if total == 0 {
		fmt.Fprintln(out, "No rows found in ledger tables")
		return nil
	}

	fmt.Fprintf(out, "⚠️  WARNING: This will DELETE %d row(s) from %d table(s):\n\n", total, len(postgres.Tables))
	for _, table := range postgres.Tables {
		fmt.Fprintf(out, "  - %s (%d rows)\n", table, counts[table])
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would truncate the above tables")
		return nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(out, "\n⚠️  This is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	idents := make([]string, len(postgres.Tables))
	for i, table := range postgres.Tables {
		idents[i] = pgx.Identifier{table}.Sanitize()
	}
	if _, err := pool.Exec(ctx, "TRUNCATE "+strings.Join(idents, ", ")); err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}

	log.Info("admin: ledger tables truncated", "rows", total)
	fmt.Fprintf(out, "Successfully deleted %d row(s)\n", total)
	return nil
}
