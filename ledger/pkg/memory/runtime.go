// Package memory is an in-process host runtime. Invocations are serialized
// and each runs against a private copy of the state that replaces the
// committed state only when the invocation succeeds.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

type RuntimeConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Addresses *identity.Deriver
	Keyring   *runtime.Keyring
}

func (cfg *RuntimeConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
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

	mu    sync.Mutex
	state *state
}

func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{
		log:   cfg.Logger,
		cfg:   cfg,
		state: newState(),
	}, nil
}

func (r *Runtime) Addresses() *identity.Deriver {
	return r.cfg.Addresses
}

func (r *Runtime) Invoke(ctx context.Context, caller solana.PublicKey, fn func(ctx context.Context, inv *runtime.Invocation) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	inv, err := runtime.NewInvocation(runtime.InvocationConfig{
		Caller:    caller,
		Now:       r.cfg.Clock.Now().Unix(),
		Accounts:  &accountStore{s: work},
		Ledger:    runtime.NewStandardLedger(&ledgerRecords{s: work}, r.cfg.Keyring),
		Addresses: r.cfg.Addresses,
		Keyring:   r.cfg.Keyring,
	})
	if err != nil {
		return err
	}

	if err := fn(ctx, inv); err != nil {
		r.log.Debug("memory: invocation rolled back", "caller", caller, "error", err)
		return err
	}
	r.state = work
	return nil
}
