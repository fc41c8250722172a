package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/ledger/pkg/arith"
)

// LedgerRecords is the storage a backend provides for mint and token
// account rows. Get methods return ErrAccountNotFound for missing rows.
type LedgerRecords interface {
	GetMint(ctx context.Context, mint solana.PublicKey) (MintInfo, error)
	PutMint(ctx context.Context, info MintInfo) error
	DeleteMint(ctx context.Context, mint solana.PublicKey) error
	GetTokenAccount(ctx context.Context, addr solana.PublicKey) (TokenAccount, error)
	PutTokenAccount(ctx context.Context, acc TokenAccount) error
	DeleteTokenAccount(ctx context.Context, addr solana.PublicKey) error
	AddressInUse(ctx context.Context, addr solana.PublicKey) (bool, error)
	Credit(ctx context.Context, owner solana.PublicKey, lamports uint64) error
}

// StandardLedger implements Ledger over a backend's rows. It performs all
// authority and balance checks; the backend only stores.
type StandardLedger struct {
	records LedgerRecords
	keyring *Keyring
}

func NewStandardLedger(records LedgerRecords, keyring *Keyring) *StandardLedger {
	return &StandardLedger{records: records, keyring: keyring}
}

func (l *StandardLedger) CreateMint(ctx context.Context, payer, mint, authority solana.PublicKey, meta MintMetadata) error {
	inUse, err := l.records.AddressInUse(ctx, mint)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("mint %s: %w", mint, ErrAccountExists)
	}
	return l.records.PutMint(ctx, MintInfo{Mint: mint, Authority: authority, Metadata: meta})
}

func (l *StandardLedger) CloseMint(ctx context.Context, mint, refundTo solana.PublicKey, authority Authority) (uint64, error) {
	info, err := l.records.GetMint(ctx, mint)
	if err != nil {
		return 0, err
	}
	if err := l.keyring.Authorizes(authority, info.Authority); err != nil {
		return 0, err
	}
	if info.Supply != 0 {
		return 0, fmt.Errorf("mint %s has supply %d: %w", mint, info.Supply, ErrAccountNotEmpty)
	}
	if err := l.records.DeleteMint(ctx, mint); err != nil {
		return 0, err
	}
	rent := Rent(MintSize)
	if err := l.records.Credit(ctx, refundTo, rent); err != nil {
		return 0, err
	}
	return rent, nil
}

func (l *StandardLedger) MintInfo(ctx context.Context, mint solana.PublicKey) (MintInfo, error) {
	return l.records.GetMint(ctx, mint)
}

// OpenAccount is idempotent for an existing account with the same mint and owner.
func (l *StandardLedger) OpenAccount(ctx context.Context, payer, account, mint, owner solana.PublicKey) error {
	if _, err := l.records.GetMint(ctx, mint); err != nil {
		return err
	}
	existing, err := l.records.GetTokenAccount(ctx, account)
	switch {
	case err == nil:
		if !existing.Mint.Equals(mint) {
			return ErrMintMismatch
		}
		if !existing.Owner.Equals(owner) {
			return ErrOwnerMismatch
		}
		return nil
	case !errors.Is(err, ErrAccountNotFound):
		return err
	}
	inUse, err := l.records.AddressInUse(ctx, account)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("token account %s: %w", account, ErrAccountExists)
	}
	return l.records.PutTokenAccount(ctx, TokenAccount{Address: account, Mint: mint, Owner: owner})
}

func (l *StandardLedger) CloseAccount(ctx context.Context, account, refundTo solana.PublicKey, authority Authority) (uint64, error) {
	acc, err := l.records.GetTokenAccount(ctx, account)
	if err != nil {
		return 0, err
	}
	if err := l.keyring.Authorizes(authority, acc.Owner); err != nil {
		return 0, err
	}
	if acc.Balance != 0 {
		return 0, fmt.Errorf("token account %s has balance %d: %w", account, acc.Balance, ErrAccountNotEmpty)
	}
	if err := l.records.DeleteTokenAccount(ctx, account); err != nil {
		return 0, err
	}
	rent := Rent(TokenAccountSize)
	if err := l.records.Credit(ctx, refundTo, rent); err != nil {
		return 0, err
	}
	return rent, nil
}

func (l *StandardLedger) Account(ctx context.Context, account solana.PublicKey) (TokenAccount, error) {
	return l.records.GetTokenAccount(ctx, account)
}

func (l *StandardLedger) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64, authority Authority) error {
	src, err := l.records.GetTokenAccount(ctx, from)
	if err != nil {
		return err
	}
	dst, err := l.records.GetTokenAccount(ctx, to)
	if err != nil {
		return err
	}
	if !src.Mint.Equals(dst.Mint) {
		return ErrMintMismatch
	}
	if err := l.keyring.Authorizes(authority, src.Owner); err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("transfer of %d from %s with balance %d: %w", amount, from, src.Balance, ErrInsufficientFunds)
	}
	if from.Equals(to) {
		return nil
	}
	if dst.Balance, err = arith.AddU64(dst.Balance, amount); err != nil {
		return err
	}
	src.Balance -= amount
	if err := l.records.PutTokenAccount(ctx, src); err != nil {
		return err
	}
	return l.records.PutTokenAccount(ctx, dst)
}

func (l *StandardLedger) Mint(ctx context.Context, mint, to solana.PublicKey, amount uint64, authority Authority) error {
	info, err := l.records.GetMint(ctx, mint)
	if err != nil {
		return err
	}
	if err := l.keyring.Authorizes(authority, info.Authority); err != nil {
		return err
	}
	dst, err := l.records.GetTokenAccount(ctx, to)
	if err != nil {
		return err
	}
	if !dst.Mint.Equals(mint) {
		return ErrMintMismatch
	}
	if info.Supply, err = arith.AddU64(info.Supply, amount); err != nil {
		return err
	}
	if dst.Balance, err = arith.AddU64(dst.Balance, amount); err != nil {
		return err
	}
	if err := l.records.PutMint(ctx, info); err != nil {
		return err
	}
	return l.records.PutTokenAccount(ctx, dst)
}

func (l *StandardLedger) Burn(ctx context.Context, from solana.PublicKey, amount uint64, authority Authority) error {
	src, err := l.records.GetTokenAccount(ctx, from)
	if err != nil {
		return err
	}
	if err := l.keyring.Authorizes(authority, src.Owner); err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("burn of %d from %s with balance %d: %w", amount, from, src.Balance, ErrInsufficientFunds)
	}
	info, err := l.records.GetMint(ctx, src.Mint)
	if err != nil {
		return err
	}
	if info.Supply, err = arith.SubU64(info.Supply, amount); err != nil {
		return err
	}
	src.Balance -= amount
	if err := l.records.PutMint(ctx, info); err != nil {
		return err
	}
	return l.records.PutTokenAccount(ctx, src)
}

func (l *StandardLedger) BalanceOf(ctx context.Context, account solana.PublicKey) (uint64, error) {
	acc, err := l.records.GetTokenAccount(ctx, account)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}
