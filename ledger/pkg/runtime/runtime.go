// Package runtime defines the host contracts the escrow engines run against:
// a deterministic-address account store, a fungible balance ledger and an
// atomic invocation boundary.
package runtime

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/ledger/pkg/failure"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
)

const (
	// MintSize and TokenAccountSize are the storage footprints charged for
	// ledger-owned accounts.
	MintSize         = 82
	TokenAccountSize = 165

	// DefaultDecimals is the precision of mints created by the faucet.
	DefaultDecimals = 6

	accountOverhead = 128
	lamportsPerByte = 6960
)

var (
	ErrAccountNotFound   = failure.New(failure.ClassNotFound, "AccountNotFound", "account does not exist")
	ErrAccountExists     = failure.New(failure.ClassState, "AccountAlreadyExists", "account already exists")
	ErrAccountNotEmpty   = failure.New(failure.ClassState, "AccountNotEmpty", "account still holds a balance")
	ErrInsufficientFunds = failure.New(failure.ClassBalance, "InsufficientFunds", "insufficient funds")
	ErrUnauthorized      = failure.New(failure.ClassAuthorization, "Unauthorized", "authority does not control the account")
	ErrMintMismatch      = failure.New(failure.ClassValidation, "MintMismatch", "accounts belong to different mints")
	ErrOwnerMismatch     = failure.New(failure.ClassValidation, "TokenAccountOwnershipMismatch", "token account has a different owner")

	// ErrDataTooLarge is returned when a write exceeds the allocated size.
	ErrDataTooLarge = errors.New("data exceeds allocated account size")
	// ErrConflict is returned when a concurrent invocation holds an account
	// this invocation needs. The invocation had no effect and may be retried.
	ErrConflict = errors.New("conflicting concurrent invocation")
	// ErrUnavailable is returned when the backing store failed before the
	// invocation could take effect. Nothing was written.
	ErrUnavailable = errors.New("runtime unavailable")
)

// Rent returns the refundable storage deposit for an account of size bytes.
func Rent(size int) uint64 {
	return uint64(accountOverhead+size) * lamportsPerByte
}

type MintMetadata struct {
	Name     string
	Symbol   string
	URI      string
	Decimals uint8
}

type MintInfo struct {
	Mint      solana.PublicKey
	Authority solana.PublicKey
	Supply    uint64
	Metadata  MintMetadata
}

type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
	Balance uint64
}

// AccountStore persists opaque records at derived addresses. Rent for a
// record is held by the host and credited to refundTo when it is closed.
type AccountStore interface {
	Create(ctx context.Context, addr, payer solana.PublicKey, size int) error
	Read(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	Write(ctx context.Context, addr solana.PublicKey, data []byte) error
	Realloc(ctx context.Context, addr solana.PublicKey, size int) error
	Close(ctx context.Context, addr, refundTo solana.PublicKey) (uint64, error)
	Exists(ctx context.Context, addr solana.PublicKey) (bool, error)
	Lamports(ctx context.Context, owner solana.PublicKey) (uint64, error)
}

// Ledger moves fungible balances between token accounts. Every debit checks
// the source balance and fails without effect when it is short.
type Ledger interface {
	CreateMint(ctx context.Context, payer, mint, authority solana.PublicKey, meta MintMetadata) error
	CloseMint(ctx context.Context, mint, refundTo solana.PublicKey, authority Authority) (uint64, error)
	MintInfo(ctx context.Context, mint solana.PublicKey) (MintInfo, error)
	OpenAccount(ctx context.Context, payer, account, mint, owner solana.PublicKey) error
	CloseAccount(ctx context.Context, account, refundTo solana.PublicKey, authority Authority) (uint64, error)
	Account(ctx context.Context, account solana.PublicKey) (TokenAccount, error)
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64, authority Authority) error
	Mint(ctx context.Context, mint, to solana.PublicKey, amount uint64, authority Authority) error
	Burn(ctx context.Context, from solana.PublicKey, amount uint64, authority Authority) error
	BalanceOf(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Runtime executes invocations atomically. If fn returns an error every
// store write and balance movement it made is discarded.
type Runtime interface {
	Invoke(ctx context.Context, caller solana.PublicKey, fn func(ctx context.Context, inv *Invocation) error) error
	Addresses() *identity.Deriver
}
