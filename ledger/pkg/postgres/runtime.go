// Package postgres is a host runtime backed by PostgreSQL. Each invocation
// runs in one serializable transaction and locks the rows it reads.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

type RuntimeConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Pool      *pgxpool.Pool
	Addresses *identity.Deriver
	Keyring   *runtime.Keyring
}

func (cfg *RuntimeConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Addresses == nil {
		return errors.New("addresses is required")
	}
	if cfg.Keyring == nil {
		return errors.New("keyring is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Runtime struct {
	log *slog.Logger
	cfg RuntimeConfig
}

func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{log: cfg.Logger, cfg: cfg}, nil
}

func (r *Runtime) Addresses() *identity.Deriver {
	return r.cfg.Addresses
}

// Ping checks that the database is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	return r.cfg.Pool.Ping(ctx)
}

func (r *Runtime) Invoke(ctx context.Context, caller solana.PublicKey, fn func(ctx context.Context, inv *runtime.Invocation) error) error {
	tx, err := r.cfg.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to begin invocation: %w", err)
		}
		return fmt.Errorf("failed to begin invocation: %w: %w", runtime.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	inv, err := runtime.NewInvocation(runtime.InvocationConfig{
		Caller:    caller,
		Now:       r.cfg.Clock.Now().Unix(),
		Accounts:  &accountStore{tx: tx},
		Ledger:    runtime.NewStandardLedger(&ledgerRecords{tx: tx}, r.cfg.Keyring),
		Addresses: r.cfg.Addresses,
		Keyring:   r.cfg.Keyring,
	})
	if err != nil {
		return err
	}

	if err := fn(ctx, inv); err != nil {
		err = classify(err)
		r.log.Debug("postgres: invocation rolled back", "caller", caller, "error", err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyCommit(err)
	}
	return nil
}

// classifyCommit separates commit failures that provably wrote nothing from
// those whose outcome is unknown. Only the former may be replayed.
func classifyCommit(err error) error {
	err = classify(fmt.Errorf("failed to commit invocation: %w", err))
	if errors.Is(err, runtime.ErrConflict) {
		return err
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", runtime.ErrUnavailable, err)
	}
	return err
}

// classify marks lock and serialization failures as runtime.ErrConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeUniqueViolation:
		return fmt.Errorf("%w: %w", runtime.ErrConflict, err)
	}
	return err
}
