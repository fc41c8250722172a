package memory

import (
	"context"
	"fmt"
	"maps"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/ledger/pkg/arith"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

type record struct {
	payer solana.PublicKey
	size  int
	data  []byte
}

type state struct {
	accounts map[solana.PublicKey]record
	lamports map[solana.PublicKey]uint64
	mints    map[solana.PublicKey]runtime.MintInfo
	tokens   map[solana.PublicKey]runtime.TokenAccount
}

func newState() *state {
	return &state{
		accounts: make(map[solana.PublicKey]record),
		lamports: make(map[solana.PublicKey]uint64),
		mints:    make(map[solana.PublicKey]runtime.MintInfo),
		tokens:   make(map[solana.PublicKey]runtime.TokenAccount),
	}
}

// clone copies every map; record data slices are replaced on write, never
// mutated, so sharing them is safe.
func (s *state) clone() *state {
	return &state{
		accounts: maps.Clone(s.accounts),
		lamports: maps.Clone(s.lamports),
		mints:    maps.Clone(s.mints),
		tokens:   maps.Clone(s.tokens),
	}
}

func (s *state) inUse(addr solana.PublicKey) bool {
	if _, ok := s.accounts[addr]; ok {
		return true
	}
	if _, ok := s.mints[addr]; ok {
		return true
	}
	_, ok := s.tokens[addr]
	return ok
}

func (s *state) credit(owner solana.PublicKey, lamports uint64) error {
	v, err := arith.AddU64(s.lamports[owner], lamports)
	if err != nil {
		return err
	}
	s.lamports[owner] = v
	return nil
}

type accountStore struct {
	s *state
}

func (a *accountStore) Create(_ context.Context, addr, payer solana.PublicKey, size int) error {
	if size <= 0 {
		return fmt.Errorf("invalid account size %d", size)
	}
	if a.s.inUse(addr) {
		return fmt.Errorf("account %s: %w", addr, runtime.ErrAccountExists)
	}
	a.s.accounts[addr] = record{payer: payer, size: size}
	return nil
}

func (a *accountStore) Read(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	rec, ok := a.s.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", addr, runtime.ErrAccountNotFound)
	}
	return append([]byte(nil), rec.data...), nil
}

func (a *accountStore) Write(_ context.Context, addr solana.PublicKey, data []byte) error {
	rec, ok := a.s.accounts[addr]
	if !ok {
		return fmt.Errorf("account %s: %w", addr, runtime.ErrAccountNotFound)
	}
	if len(data) > rec.size {
		return fmt.Errorf("account %s: %d > %d: %w", addr, len(data), rec.size, runtime.ErrDataTooLarge)
	}
	rec.data = append([]byte(nil), data...)
	a.s.accounts[addr] = rec
	return nil
}

// Realloc changes the allocated size. Shrinking below the stored data fails.
func (a *accountStore) Realloc(_ context.Context, addr solana.PublicKey, size int) error {
	rec, ok := a.s.accounts[addr]
	if !ok {
		return fmt.Errorf("account %s: %w", addr, runtime.ErrAccountNotFound)
	}
	if size <= 0 || len(rec.data) > size {
		return fmt.Errorf("account %s: realloc to %d: %w", addr, size, runtime.ErrDataTooLarge)
	}
	rec.size = size
	a.s.accounts[addr] = rec
	return nil
}

func (a *accountStore) Close(_ context.Context, addr, refundTo solana.PublicKey) (uint64, error) {
	rec, ok := a.s.accounts[addr]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", addr, runtime.ErrAccountNotFound)
	}
	delete(a.s.accounts, addr)
	rent := runtime.Rent(rec.size)
	if err := a.s.credit(refundTo, rent); err != nil {
		return 0, err
	}
	return rent, nil
}

func (a *accountStore) Exists(_ context.Context, addr solana.PublicKey) (bool, error) {
	_, ok := a.s.accounts[addr]
	return ok, nil
}

func (a *accountStore) Lamports(_ context.Context, owner solana.PublicKey) (uint64, error) {
	return a.s.lamports[owner], nil
}

type ledgerRecords struct {
	s *state
}

func (l *ledgerRecords) GetMint(_ context.Context, mint solana.PublicKey) (runtime.MintInfo, error) {
	info, ok := l.s.mints[mint]
	if !ok {
		return runtime.MintInfo{}, fmt.Errorf("mint %s: %w", mint, runtime.ErrAccountNotFound)
	}
	return info, nil
}

func (l *ledgerRecords) PutMint(_ context.Context, info runtime.MintInfo) error {
	l.s.mints[info.Mint] = info
	return nil
}

func (l *ledgerRecords) DeleteMint(_ context.Context, mint solana.PublicKey) error {
	delete(l.s.mints, mint)
	return nil
}

func (l *ledgerRecords) GetTokenAccount(_ context.Context, addr solana.PublicKey) (runtime.TokenAccount, error) {
	acc, ok := l.s.tokens[addr]
	if !ok {
		return runtime.TokenAccount{}, fmt.Errorf("token account %s: %w", addr, runtime.ErrAccountNotFound)
	}
	return acc, nil
}

func (l *ledgerRecords) PutTokenAccount(_ context.Context, acc runtime.TokenAccount) error {
	l.s.tokens[acc.Address] = acc
	return nil
}

func (l *ledgerRecords) DeleteTokenAccount(_ context.Context, addr solana.PublicKey) error {
	delete(l.s.tokens, addr)
	return nil
}

func (l *ledgerRecords) AddressInUse(_ context.Context, addr solana.PublicKey) (bool, error) {
	return l.s.inUse(addr), nil
}

func (l *ledgerRecords) Credit(_ context.Context, owner solana.PublicKey, lamports uint64) error {
	return l.s.credit(owner, lamports)
}
