package runtime

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
)

// Invocation is the view of the host one operation runs against. Now is
// fixed for the whole invocation.
type Invocation struct {
	Caller    solana.PublicKey
	Now       int64
	Accounts  AccountStore
	Ledger    Ledger
	Addresses *identity.Deriver

	keyring *Keyring
}

type InvocationConfig struct {
	Caller    solana.PublicKey
	Now       int64
	Accounts  AccountStore
	Ledger    Ledger
	Addresses *identity.Deriver
	Keyring   *Keyring
}

func NewInvocation(cfg InvocationConfig) (*Invocation, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("accounts is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Addresses == nil {
		return nil, errors.New("addresses is required")
	}
	if cfg.Keyring == nil {
		return nil, errors.New("keyring is required")
	}
	return &Invocation{
		Caller:    cfg.Caller,
		Now:       cfg.Now,
		Accounts:  cfg.Accounts,
		Ledger:    cfg.Ledger,
		Addresses: cfg.Addresses,
		keyring:   cfg.Keyring,
	}, nil
}

// Signer is the authority of the invocation's caller.
func (inv *Invocation) Signer() Authority {
	return inv.keyring.signer(inv.Caller)
}

// Sign derives the program address for seeds and returns a capability to
// act as it.
func (inv *Invocation) Sign(seeds ...[]byte) (identity.Address, Authority, error) {
	addr, err := inv.Addresses.Derive(seeds...)
	if err != nil {
		return identity.Address{}, Authority{}, fmt.Errorf("failed to derive signer: %w", err)
	}
	return addr, inv.keyring.capability(addr.Key, addr.Bump), nil
}
