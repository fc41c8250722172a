// Package faucet dispenses bounded amounts of a faucet-owned token to any
// identity, at most once per cooldown period.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/escrow/pkg/guard"
	"github.com/malbeclabs/escrow/escrow/pkg/metrics"
	"github.com/malbeclabs/escrow/escrow/pkg/state"
	"github.com/malbeclabs/escrow/ledger/pkg/arith"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

const (
	MaxNameLen   = 32
	MaxSymbolLen = 10
	MaxURILen    = 200

	// DefaultRateLimit is 1000 whole tokens at the faucet's precision.
	DefaultRateLimit      uint64 = 1000 * 1_000_000
	DefaultCooldownPeriod int64  = 24 * 60 * 60

	engineName = "faucet"
)

var (
	seedFaucet     = []byte("faucet")
	seedMint       = []byte("mint")
	seedUserRecord = []byte("user_record")
)

type Config struct {
	Logger  *slog.Logger
	Runtime runtime.Runtime

	// RateLimit and CooldownPeriod are fixed into each faucet at creation.
	RateLimit      uint64
	CooldownPeriod int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runtime == nil {
		return errors.New("runtime is required")
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.CooldownPeriod < 0 {
		return errors.New("cooldown period must not be negative")
	}
	if cfg.CooldownPeriod == 0 {
		cfg.CooldownPeriod = DefaultCooldownPeriod
	}
	return nil
}

type Engine struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: cfg.Logger, cfg: cfg}, nil
}

type InitializeParams struct {
	Seed          string
	Name          string
	Symbol        string
	URI           string
	InitialSupply uint64
}

func (p InitializeParams) Validate() error {
	switch {
	case p.Seed == "":
		return ErrInvalidSeed
	case len(p.Seed) > state.MaxFaucetSeedLen:
		return ErrSeedTooLong
	case len(p.Name) > MaxNameLen:
		return ErrNameTooLong
	case len(p.Symbol) > MaxSymbolLen:
		return ErrSymbolTooLong
	case len(p.URI) > MaxURILen:
		return ErrURITooLong
	}
	return nil
}

// Addresses are the derived accounts of one faucet.
type Addresses struct {
	Faucet solana.PublicKey
	Mint   solana.PublicKey
	Pool   solana.PublicKey
}

func (e *Engine) Address(seed string) (Addresses, error) {
	d := e.cfg.Runtime.Addresses()
	f, err := d.Derive(seedFaucet, []byte(seed))
	if err != nil {
		return Addresses{}, err
	}
	m, err := d.Derive(seedMint, f.Key[:])
	if err != nil {
		return Addresses{}, err
	}
	pool, err := d.Associated(f.Key, m.Key)
	if err != nil {
		return Addresses{}, err
	}
	return Addresses{Faucet: f.Key, Mint: m.Key, Pool: pool}, nil
}

// Initialize creates the faucet record, its mint and pool, and mints the
// initial supply into the pool. The payer becomes the faucet admin.
func (e *Engine) Initialize(ctx context.Context, payer solana.PublicKey, p InitializeParams) (f *state.Faucet, err error) {
	defer func(start time.Time) { metrics.RecordOperation(engineName, "initialize", start, err) }(time.Now())

	if err := p.Validate(); err != nil {
		return nil, err
	}

	err = e.cfg.Runtime.Invoke(ctx, payer, func(ctx context.Context, inv *runtime.Invocation) error {
		faucetAddr, faucetAuth, err := inv.Sign(seedFaucet, []byte(p.Seed))
		if err != nil {
			return err
		}
		exists, err := inv.Accounts.Exists(ctx, faucetAddr.Key)
		if err != nil {
			return err
		}
		if exists {
			return ErrFaucetExists
		}
		mint, err := inv.Addresses.Derive(seedMint, faucetAddr.Key[:])
		if err != nil {
			return err
		}
		pool, err := inv.Addresses.Associated(faucetAddr.Key, mint.Key)
		if err != nil {
			return err
		}

		f = &state.Faucet{
			Seed:           p.Seed,
			Mint:           mint.Key,
			Authority:      faucetAddr.Key,
			Pool:           pool,
			Admin:          payer,
			RateLimit:      e.cfg.RateLimit,
			CooldownPeriod: e.cfg.CooldownPeriod,
			Bump:           faucetAddr.Bump,
		}
		if err := f.Validate(); err != nil {
			return err
		}

		if err := inv.Accounts.Create(ctx, faucetAddr.Key, payer, state.FaucetSize); err != nil {
			return fmt.Errorf("failed to create faucet record: %w", err)
		}
		meta := runtime.MintMetadata{Name: p.Name, Symbol: p.Symbol, URI: p.URI, Decimals: runtime.DefaultDecimals}
		if err := inv.Ledger.CreateMint(ctx, payer, mint.Key, faucetAddr.Key, meta); err != nil {
			return fmt.Errorf("failed to create mint: %w", err)
		}
		if err := inv.Ledger.OpenAccount(ctx, payer, pool, mint.Key, faucetAddr.Key); err != nil {
			return fmt.Errorf("failed to open pool: %w", err)
		}
		if p.InitialSupply > 0 {
			if err := inv.Ledger.Mint(ctx, mint.Key, pool, p.InitialSupply, faucetAuth); err != nil {
				return fmt.Errorf("failed to mint initial supply: %w", err)
			}
		}
		return writeFaucet(ctx, inv, faucetAddr.Key, f)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTokens(engineName, "mint", p.InitialSupply)
	e.log.Info("faucet: initialized", "seed", p.Seed, "mint", f.Mint, "admin", payer, "initialSupply", p.InitialSupply)
	return f, nil
}

// Request transfers amount from the pool to user's token account and
// records the request against the user's cooldown.
func (e *Engine) Request(ctx context.Context, user solana.PublicKey, seed string, amount uint64) (rec *state.UserRequestRecord, err error) {
	defer func(start time.Time) { metrics.RecordOperation(engineName, "request", start, err) }(time.Now())

	err = e.cfg.Runtime.Invoke(ctx, user, func(ctx context.Context, inv *runtime.Invocation) error {
		faucetAddr, faucetAuth, err := inv.Sign(seedFaucet, []byte(seed))
		if err != nil {
			return err
		}
		f, err := readFaucet(ctx, inv, faucetAddr.Key)
		if err != nil {
			return err
		}

		if amount == 0 {
			return ErrInvalidAmount
		}
		if amount > f.RateLimit {
			return ErrAmountTooHigh
		}
		available, err := inv.Ledger.BalanceOf(ctx, f.Pool)
		if err != nil {
			return err
		}
		if available < amount {
			return ErrInsufficientBalance
		}

		recAddr, err := inv.Addresses.Derive(seedUserRecord, faucetAddr.Key[:], user[:])
		if err != nil {
			return err
		}
		rec, err = readUserRecord(ctx, inv, recAddr.Key)
		isNew := errors.Is(err, ErrUserRecordNotFound)
		if err != nil && !isNew {
			return err
		}
		if isNew {
			rec = &state.UserRequestRecord{User: user, Bump: recAddr.Bump}
		}
		if !guard.CooldownElapsed(rec, f, inv.Now) {
			return ErrCooldownNotMet
		}

		total, err := arith.AddU64(rec.TotalReceived, amount)
		if err != nil {
			return err
		}
		count, err := arith.AddU32(rec.RequestCount, 1)
		if err != nil {
			return err
		}

		if isNew {
			if err := inv.Accounts.Create(ctx, recAddr.Key, user, state.UserRequestRecordSize); err != nil {
				return fmt.Errorf("failed to create user record: %w", err)
			}
		}
		dest, err := inv.Addresses.Associated(user, f.Mint)
		if err != nil {
			return err
		}
		if err := inv.Ledger.OpenAccount(ctx, user, dest, f.Mint, user); err != nil {
			return fmt.Errorf("failed to open user token account: %w", err)
		}
		if err := inv.Ledger.Transfer(ctx, f.Pool, dest, amount, faucetAuth); err != nil {
			return fmt.Errorf("failed to transfer from pool: %w", err)
		}

		rec.TotalReceived = total
		rec.RequestCount = count
		rec.LastRequest = inv.Now
		return writeUserRecord(ctx, inv, recAddr.Key, rec)
	})
	if err != nil {
		e.log.Debug("faucet: request rejected", "seed", seed, "user", user, "amount", amount, "error", err)
		return nil, err
	}

	metrics.RecordTokens(engineName, "dispense", amount)
	e.log.Info("faucet: tokens dispensed", "seed", seed, "user", user, "amount", amount, "requestCount", rec.RequestCount)
	return rec, nil
}

// DeleteResult reports what closing a faucet released.
type DeleteResult struct {
	Burned   uint64
	Refunded uint64
}

// Delete closes an empty faucet's pool, mint and record, refunding storage
// to the signer.
func (e *Engine) Delete(ctx context.Context, signer solana.PublicKey, seed string) (res DeleteResult, err error) {
	defer func(start time.Time) { metrics.RecordOperation(engineName, "delete", start, err) }(time.Now())
	return e.close(ctx, signer, seed, false)
}

// BurnAndDelete burns whatever the pool holds and then deletes the faucet.
func (e *Engine) BurnAndDelete(ctx context.Context, signer solana.PublicKey, seed string) (res DeleteResult, err error) {
	defer func(start time.Time) { metrics.RecordOperation(engineName, "burn_and_delete", start, err) }(time.Now())
	return e.close(ctx, signer, seed, true)
}

func (e *Engine) close(ctx context.Context, signer solana.PublicKey, seed string, burn bool) (DeleteResult, error) {
	var res DeleteResult
	err := e.cfg.Runtime.Invoke(ctx, signer, func(ctx context.Context, inv *runtime.Invocation) error {
		faucetAddr, faucetAuth, err := inv.Sign(seedFaucet, []byte(seed))
		if err != nil {
			return err
		}
		f, err := readFaucet(ctx, inv, faucetAddr.Key)
		if err != nil {
			return err
		}
		if !guard.CanAdministerFaucet(f, inv.Caller) {
			return ErrUnauthorized
		}

		balance, err := inv.Ledger.BalanceOf(ctx, f.Pool)
		if err != nil {
			return err
		}
		if balance > 0 {
			if !burn {
				return ErrFaucetNotEmpty
			}
			if err := inv.Ledger.Burn(ctx, f.Pool, balance, faucetAuth); err != nil {
				return fmt.Errorf("failed to burn pool: %w", err)
			}
			res.Burned = balance
		}

		rent, err := inv.Ledger.CloseAccount(ctx, f.Pool, inv.Caller, faucetAuth)
		if err != nil {
			return fmt.Errorf("failed to close pool: %w", err)
		}
		res.Refunded += rent
		rent, err = inv.Ledger.CloseMint(ctx, f.Mint, inv.Caller, faucetAuth)
		if errors.Is(err, runtime.ErrAccountNotEmpty) {
			return ErrTokensOutstanding
		}
		if err != nil {
			return fmt.Errorf("failed to close mint: %w", err)
		}
		res.Refunded += rent
		rent, err = inv.Accounts.Close(ctx, faucetAddr.Key, inv.Caller)
		if err != nil {
			return fmt.Errorf("failed to close faucet record: %w", err)
		}
		res.Refunded += rent
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}

	metrics.RecordTokens(engineName, "burn", res.Burned)
	e.log.Info("faucet: deleted", "seed", seed, "signer", signer, "burned", res.Burned, "refunded", res.Refunded)
	return res, nil
}

func (e *Engine) Get(ctx context.Context, seed string) (f *state.Faucet, err error) {
	err = e.cfg.Runtime.Invoke(ctx, solana.PublicKey{}, func(ctx context.Context, inv *runtime.Invocation) error {
		addr, err := inv.Addresses.Derive(seedFaucet, []byte(seed))
		if err != nil {
			return err
		}
		f, err = readFaucet(ctx, inv, addr.Key)
		return err
	})
	return f, err
}

func (e *Engine) UserRecord(ctx context.Context, seed string, user solana.PublicKey) (rec *state.UserRequestRecord, err error) {
	err = e.cfg.Runtime.Invoke(ctx, solana.PublicKey{}, func(ctx context.Context, inv *runtime.Invocation) error {
		faucetAddr, err := inv.Addresses.Derive(seedFaucet, []byte(seed))
		if err != nil {
			return err
		}
		if _, err := readFaucet(ctx, inv, faucetAddr.Key); err != nil {
			return err
		}
		recAddr, err := inv.Addresses.Derive(seedUserRecord, faucetAddr.Key[:], user[:])
		if err != nil {
			return err
		}
		rec, err = readUserRecord(ctx, inv, recAddr.Key)
		return err
	})
	return rec, err
}

func (e *Engine) PoolBalance(ctx context.Context, seed string) (balance uint64, err error) {
	err = e.cfg.Runtime.Invoke(ctx, solana.PublicKey{}, func(ctx context.Context, inv *runtime.Invocation) error {
		addr, err := inv.Addresses.Derive(seedFaucet, []byte(seed))
		if err != nil {
			return err
		}
		f, err := readFaucet(ctx, inv, addr.Key)
		if err != nil {
			return err
		}
		balance, err = inv.Ledger.BalanceOf(ctx, f.Pool)
		return err
	})
	return balance, err
}

func readFaucet(ctx context.Context, inv *runtime.Invocation, addr solana.PublicKey) (*state.Faucet, error) {
	data, err := inv.Accounts.Read(ctx, addr)
	if errors.Is(err, runtime.ErrAccountNotFound) {
		return nil, ErrFaucetNotFound
	}
	if err != nil {
		return nil, err
	}
	return state.DecodeFaucet(data)
}

func writeFaucet(ctx context.Context, inv *runtime.Invocation, addr solana.PublicKey, f *state.Faucet) error {
	data, err := state.EncodeFaucet(f)
	if err != nil {
		return err
	}
	return inv.Accounts.Write(ctx, addr, data)
}

func readUserRecord(ctx context.Context, inv *runtime.Invocation, addr solana.PublicKey) (*state.UserRequestRecord, error) {
	data, err := inv.Accounts.Read(ctx, addr)
	if errors.Is(err, runtime.ErrAccountNotFound) {
		return nil, ErrUserRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return state.DecodeUserRequestRecord(data)
}

func writeUserRecord(ctx context.Context, inv *runtime.Invocation, addr solana.PublicKey, r *state.UserRequestRecord) error {
	data, err := state.EncodeUserRequestRecord(r)
	if err != nil {
		return err
	}
	return inv.Accounts.Write(ctx, addr, data)
}
