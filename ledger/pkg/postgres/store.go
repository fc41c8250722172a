package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

type accountStore struct {
	tx pgx.Tx
}

func (a *accountStore) Create(ctx context.Context, addr, payer solana.PublicKey, size int) error {
	if size <= 0 {
		return fmt.Errorf("invalid account size %d", size)
	}
	inUse, err := addressInUse(ctx, a.tx, addr)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("account %s: %w", addr, runtime.ErrAccountExists)
	}
	_, err = a.tx.Exec(ctx,
		`INSERT INTO accounts (address, payer, size) VALUES ($1, $2, $3)`,
		addr.String(), payer.String(), size)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (a *accountStore) Read(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	var data []byte
	err := a.tx.QueryRow(ctx,
		`SELECT data FROM accounts WHERE address = $1 FOR UPDATE NOWAIT`,
		addr.String()).Scan(&data)
	if err != nil {
		return nil, notFoundWrap(err, "account", addr)
	}
	return data, nil
}

func (a *accountStore) Write(ctx context.Context, addr solana.PublicKey, data []byte) error {
	var size int
	err := a.tx.QueryRow(ctx,
		`SELECT size FROM accounts WHERE address = $1 FOR UPDATE NOWAIT`,
		addr.String()).Scan(&size)
	if err != nil {
		return notFoundWrap(err, "account", addr)
	}
	if len(data) > size {
		return fmt.Errorf("account %s: %d > %d: %w", addr, len(data), size, runtime.ErrDataTooLarge)
	}
	if data == nil {
		data = []byte{}
	}
	_, err = a.tx.Exec(ctx,
		`UPDATE accounts SET data = $2, updated_at = now() WHERE address = $1`,
		addr.String(), data)
	if err != nil {
		return fmt.Errorf("failed to write account: %w", err)
	}
	return nil
}

// Realloc changes the allocated size. Shrinking below the stored data fails.
func (a *accountStore) Realloc(ctx context.Context, addr solana.PublicKey, size int) error {
	var used int
	err := a.tx.QueryRow(ctx,
		`SELECT octet_length(data) FROM accounts WHERE address = $1 FOR UPDATE NOWAIT`,
		addr.String()).Scan(&used)
	if err != nil {
		return notFoundWrap(err, "account", addr)
	}
	if size <= 0 || used > size {
		return fmt.Errorf("account %s: realloc to %d: %w", addr, size, runtime.ErrDataTooLarge)
	}
	_, err = a.tx.Exec(ctx,
		`UPDATE accounts SET size = $2, updated_at = now() WHERE address = $1`,
		addr.String(), size)
	if err != nil {
		return fmt.Errorf("failed to realloc account: %w", err)
	}
	return nil
}

func (a *accountStore) Close(ctx context.Context, addr, refundTo solana.PublicKey) (uint64, error) {
	var size int
	err := a.tx.QueryRow(ctx,
		`DELETE FROM accounts WHERE address = $1 RETURNING size`,
		addr.String()).Scan(&size)
	if err != nil {
		return 0, notFoundWrap(err, "account", addr)
	}
	rent := runtime.Rent(size)
	if err := credit(ctx, a.tx, refundTo, rent); err != nil {
		return 0, err
	}
	return rent, nil
}

func (a *accountStore) Exists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	var exists bool
	err := a.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE address = $1)`,
		addr.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return exists, nil
}

func (a *accountStore) Lamports(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	var amount string
	err := a.tx.QueryRow(ctx,
		`SELECT amount::text FROM lamports WHERE owner = $1`,
		owner.String()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read lamports: %w", err)
	}
	return parseAmount(amount)
}

type ledgerRecords struct {
	tx pgx.Tx
}

func (l *ledgerRecords) GetMint(ctx context.Context, mint solana.PublicKey) (runtime.MintInfo, error) {
	var authority, supply string
	var decimals int16
	info := runtime.MintInfo{Mint: mint}
	err := l.tx.QueryRow(ctx,
		`SELECT authority, supply::text, name, symbol, uri, decimals
		   FROM token_mints WHERE mint = $1 FOR UPDATE NOWAIT`,
		mint.String()).Scan(&authority, &supply, &info.Metadata.Name, &info.Metadata.Symbol, &info.Metadata.URI, &decimals)
	if err != nil {
		return runtime.MintInfo{}, notFoundWrap(err, "mint", mint)
	}
	info.Metadata.Decimals = uint8(decimals)
	if info.Authority, err = solana.PublicKeyFromBase58(authority); err != nil {
		return runtime.MintInfo{}, fmt.Errorf("failed to parse mint authority: %w", err)
	}
	if info.Supply, err = parseAmount(supply); err != nil {
		return runtime.MintInfo{}, err
	}
	return info, nil
}

func (l *ledgerRecords) PutMint(ctx context.Context, info runtime.MintInfo) error {
	_, err := l.tx.Exec(ctx,
		`INSERT INTO token_mints (mint, authority, supply, name, symbol, uri, decimals)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		 ON CONFLICT (mint) DO UPDATE SET
		   authority = EXCLUDED.authority,
		   supply = EXCLUDED.supply,
		   name = EXCLUDED.name,
		   symbol = EXCLUDED.symbol,
		   uri = EXCLUDED.uri,
		   decimals = EXCLUDED.decimals`,
		info.Mint.String(), info.Authority.String(), formatAmount(info.Supply),
		info.Metadata.Name, info.Metadata.Symbol, info.Metadata.URI, int16(info.Metadata.Decimals))
	if err != nil {
		return fmt.Errorf("failed to write mint: %w", err)
	}
	return nil
}

func (l *ledgerRecords) DeleteMint(ctx context.Context, mint solana.PublicKey) error {
	if _, err := l.tx.Exec(ctx, `DELETE FROM token_mints WHERE mint = $1`, mint.String()); err != nil {
		return fmt.Errorf("failed to delete mint: %w", err)
	}
	return nil
}

func (l *ledgerRecords) GetTokenAccount(ctx context.Context, addr solana.PublicKey) (runtime.TokenAccount, error) {
	var mint, owner, balance string
	err := l.tx.QueryRow(ctx,
		`SELECT mint, owner, balance::text FROM token_accounts WHERE address = $1 FOR UPDATE NOWAIT`,
		addr.String()).Scan(&mint, &owner, &balance)
	if err != nil {
		return runtime.TokenAccount{}, notFoundWrap(err, "token account", addr)
	}
	acc := runtime.TokenAccount{Address: addr}
	if acc.Mint, err = solana.PublicKeyFromBase58(mint); err != nil {
		return runtime.TokenAccount{}, fmt.Errorf("failed to parse token account mint: %w", err)
	}
	if acc.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return runtime.TokenAccount{}, fmt.Errorf("failed to parse token account owner: %w", err)
	}
	if acc.Balance, err = parseAmount(balance); err != nil {
		return runtime.TokenAccount{}, err
	}
	return acc, nil
}

func (l *ledgerRecords) PutTokenAccount(ctx context.Context, acc runtime.TokenAccount) error {
	_, err := l.tx.Exec(ctx,
		`INSERT INTO token_accounts (address, mint, owner, balance)
		 VALUES ($1, $2, $3, $4::numeric)
		 ON CONFLICT (address) DO UPDATE SET
		   mint = EXCLUDED.mint,
		   owner = EXCLUDED.owner,
		   balance = EXCLUDED.balance`,
		acc.Address.String(), acc.Mint.String(), acc.Owner.String(), formatAmount(acc.Balance))
	if err != nil {
		return fmt.Errorf("failed to write token account: %w", err)
	}
	return nil
}

func (l *ledgerRecords) DeleteTokenAccount(ctx context.Context, addr solana.PublicKey) error {
	if _, err := l.tx.Exec(ctx, `DELETE FROM token_accounts WHERE address = $1`, addr.String()); err != nil {
		return fmt.Errorf("failed to delete token account: %w", err)
	}
	return nil
}

func (l *ledgerRecords) AddressInUse(ctx context.Context, addr solana.PublicKey) (bool, error) {
	return addressInUse(ctx, l.tx, addr)
}

func (l *ledgerRecords) Credit(ctx context.Context, owner solana.PublicKey, lamports uint64) error {
	return credit(ctx, l.tx, owner, lamports)
}

func addressInUse(ctx context.Context, tx pgx.Tx, addr solana.PublicKey) (bool, error) {
	var inUse bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE address = $1)
		     OR EXISTS (SELECT 1 FROM token_mints WHERE mint = $1)
		     OR EXISTS (SELECT 1 FROM token_accounts WHERE address = $1)`,
		addr.String()).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("failed to check address: %w", err)
	}
	return inUse, nil
}

func credit(ctx context.Context, tx pgx.Tx, owner solana.PublicKey, lamports uint64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO lamports (owner, amount) VALUES ($1, $2::numeric)
		 ON CONFLICT (owner) DO UPDATE SET amount = lamports.amount + EXCLUDED.amount`,
		owner.String(), formatAmount(lamports))
	if err != nil {
		return fmt.Errorf("failed to credit lamports: %w", err)
	}
	return nil
}

func notFoundWrap(err error, kind string, addr solana.PublicKey) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, addr, runtime.ErrAccountNotFound)
	}
	return fmt.Errorf("failed to read %s: %w", kind, err)
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	return v, nil
}
