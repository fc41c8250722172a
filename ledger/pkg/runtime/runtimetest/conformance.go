// Package runtimetest holds a behavioural suite every host runtime must pass.
package runtimetest

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAbort = errors.New("abort")

// Run exercises rt. Each subtest uses fresh identities so one runtime can be
// shared.
func Run(t *testing.T, rt runtime.Runtime) {
	t.Run("record lifecycle", func(t *testing.T) {
		ctx := t.Context()
		payer := solana.NewWallet().PublicKey()
		addr := solana.NewWallet().PublicKey()

		err := rt.Invoke(ctx, payer, func(ctx context.Context, inv *runtime.Invocation) error {
			require.NoError(t, inv.Accounts.Create(ctx, addr, payer, 16))
			require.ErrorIs(t, inv.Accounts.Create(ctx, addr, payer, 16), runtime.ErrAccountExists)
			require.NoError(t, inv.Accounts.Write(ctx, addr, []byte("hello")))
			require.ErrorIs(t, inv.Accounts.Write(ctx, addr, make([]byte, 17)), runtime.ErrDataTooLarge)
			require.ErrorIs(t, inv.Accounts.Realloc(ctx, addr, 4), runtime.ErrDataTooLarge)
			require.NoError(t, inv.Accounts.Realloc(ctx, addr, 32))
			require.NoError(t, inv.Accounts.Write(ctx, addr, make([]byte, 17)))
			require.NoError(t, inv.Accounts.Write(ctx, addr, []byte("hello")))
			return nil
		})
		require.NoError(t, err)

		err = rt.Invoke(ctx, payer, func(ctx context.Context, inv *runtime.Invocation) error {
			data, err := inv.Accounts.Read(ctx, addr)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), data)

			rent, err := inv.Accounts.Close(ctx, addr, payer)
			require.NoError(t, err)
			assert.Equal(t, runtime.Rent(32), rent)

			exists, err := inv.Accounts.Exists(ctx, addr)
			require.NoError(t, err)
			assert.False(t, exists)

			lamports, err := inv.Accounts.Lamports(ctx, payer)
			require.NoError(t, err)
			assert.Equal(t, runtime.Rent(32), lamports)

			_, err = inv.Accounts.Read(ctx, addr)
			require.ErrorIs(t, err, runtime.ErrAccountNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("failed invocation leaves no trace", func(t *testing.T) {
		ctx := t.Context()
		payer := solana.NewWallet().PublicKey()
		addr := solana.NewWallet().PublicKey()

		err := rt.Invoke(ctx, payer, func(ctx context.Context, inv *runtime.Invocation) error {
			require.NoError(t, inv.Accounts.Create(ctx, addr, payer, 16))
			require.NoError(t, inv.Accounts.Write(ctx, addr, []byte("partial")))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		err = rt.Invoke(ctx, payer, func(ctx context.Context, inv *runtime.Invocation) error {
			exists, err := inv.Accounts.Exists(ctx, addr)
			require.NoError(t, err)
			assert.False(t, exists)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("balances move only with authority", func(t *testing.T) {
		ctx := t.Context()
		alice := solana.NewWallet().PublicKey()
		bob := solana.NewWallet().PublicKey()
		var mint, aliceAcc, bobAcc solana.PublicKey

		err := rt.Invoke(ctx, alice, func(ctx context.Context, inv *runtime.Invocation) error {
			mintAddr, mintAuth, err := inv.Sign([]byte("conformance-mint"), alice[:])
			require.NoError(t, err)
			mint = mintAddr.Key
			aliceAcc, err = inv.Addresses.Associated(alice, mint)
			require.NoError(t, err)
			bobAcc, err = inv.Addresses.Associated(bob, mint)
			require.NoError(t, err)

			require.NoError(t, inv.Ledger.CreateMint(ctx, alice, mint, mintAuth.Owner, runtime.MintMetadata{Name: "Test", Symbol: "TST", Decimals: 6}))
			require.NoError(t, inv.Ledger.OpenAccount(ctx, alice, aliceAcc, mint, alice))
			require.NoError(t, inv.Ledger.OpenAccount(ctx, alice, aliceAcc, mint, alice))
			require.NoError(t, inv.Ledger.OpenAccount(ctx, alice, bobAcc, mint, bob))
			require.ErrorIs(t, inv.Ledger.OpenAccount(ctx, alice, bobAcc, mint, alice), runtime.ErrOwnerMismatch)

			require.ErrorIs(t, inv.Ledger.Mint(ctx, mint, aliceAcc, 100, inv.Signer()), runtime.ErrUnauthorized)
			require.NoError(t, inv.Ledger.Mint(ctx, mint, aliceAcc, 100, mintAuth))
			return nil
		})
		require.NoError(t, err)

		err = rt.Invoke(ctx, bob, func(ctx context.Context, inv *runtime.Invocation) error {
			require.ErrorIs(t, inv.Ledger.Transfer(ctx, aliceAcc, bobAcc, 10, inv.Signer()), runtime.ErrUnauthorized)
			return nil
		})
		require.NoError(t, err)

		err = rt.Invoke(ctx, alice, func(ctx context.Context, inv *runtime.Invocation) error {
			require.ErrorIs(t, inv.Ledger.Transfer(ctx, aliceAcc, bobAcc, 101, inv.Signer()), runtime.ErrInsufficientFunds)
			require.NoError(t, inv.Ledger.Transfer(ctx, aliceAcc, bobAcc, 40, inv.Signer()))
			return nil
		})
		require.NoError(t, err)

		err = rt.Invoke(ctx, bob, func(ctx context.Context, inv *runtime.Invocation) error {
			require.NoError(t, inv.Ledger.Burn(ctx, bobAcc, 15, inv.Signer()))

			a, err := inv.Ledger.BalanceOf(ctx, aliceAcc)
			require.NoError(t, err)
			b, err := inv.Ledger.BalanceOf(ctx, bobAcc)
			require.NoError(t, err)
			assert.Equal(t, uint64(60), a)
			assert.Equal(t, uint64(25), b)

			info, err := inv.Ledger.MintInfo(ctx, mint)
			require.NoError(t, err)
			assert.Equal(t, uint64(85), info.Supply)
			assert.Equal(t, "TST", info.Metadata.Symbol)

			_, err = inv.Ledger.CloseAccount(ctx, bobAcc, bob, inv.Signer())
			require.ErrorIs(t, err, runtime.ErrAccountNotEmpty)
			require.NoError(t, inv.Ledger.Burn(ctx, bobAcc, 25, inv.Signer()))
			rent, err := inv.Ledger.CloseAccount(ctx, bobAcc, bob, inv.Signer())
			require.NoError(t, err)
			assert.Equal(t, runtime.Rent(runtime.TokenAccountSize), rent)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rolled back transfers restore balances", func(t *testing.T) {
		ctx := t.Context()
		alice := solana.NewWallet().PublicKey()
		bob := solana.NewWallet().PublicKey()
		var aliceAcc, bobAcc solana.PublicKey

		err := rt.Invoke(ctx, alice, func(ctx context.Context, inv *runtime.Invocation) error {
			mintAddr, mintAuth, err := inv.Sign([]byte("conformance-mint"), alice[:])
			require.NoError(t, err)
			aliceAcc, _ = inv.Addresses.Associated(alice, mintAddr.Key)
			bobAcc, _ = inv.Addresses.Associated(bob, mintAddr.Key)
			require.NoError(t, inv.Ledger.CreateMint(ctx, alice, mintAddr.Key, mintAuth.Owner, runtime.MintMetadata{Decimals: 6}))
			require.NoError(t, inv.Ledger.OpenAccount(ctx, alice, aliceAcc, mintAddr.Key, alice))
			require.NoError(t, inv.Ledger.OpenAccount(ctx, alice, bobAcc, mintAddr.Key, bob))
			return inv.Ledger.Mint(ctx, mintAddr.Key, aliceAcc, 50, mintAuth)
		})
		require.NoError(t, err)

		err = rt.Invoke(ctx, alice, func(ctx context.Context, inv *runtime.Invocation) error {
			require.NoError(t, inv.Ledger.Transfer(ctx, aliceAcc, bobAcc, 50, inv.Signer()))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		err = rt.Invoke(ctx, alice, func(ctx context.Context, inv *runtime.Invocation) error {
			a, err := inv.Ledger.BalanceOf(ctx, aliceAcc)
			require.NoError(t, err)
			assert.Equal(t, uint64(50), a)
			b, err := inv.Ledger.BalanceOf(ctx, bobAcc)
			require.NoError(t, err)
			assert.Zero(t, b)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("closing a mint requires zero supply", func(t *testing.T) {
		ctx := t.Context()
		alice := solana.NewWallet().PublicKey()

		err := rt.Invoke(ctx, alice, func(ctx context.Context, inv *runtime.Invocation) error {
			mintAddr, mintAuth, err := inv.Sign([]byte("closable-mint"), alice[:])
			require.NoError(t, err)
			acc, _ := inv.Addresses.Associated(alice, mintAddr.Key)
			require.NoError(t, inv.Ledger.CreateMint(ctx, alice, mintAddr.Key, mintAuth.Owner, runtime.MintMetadata{Decimals: 6}))
			require.ErrorIs(t, inv.Ledger.CreateMint(ctx, alice, mintAddr.Key, mintAuth.Owner, runtime.MintMetadata{}), runtime.ErrAccountExists)
			require.NoError(t, inv.Ledger.OpenAccount(ctx, alice, acc, mintAddr.Key, alice))
			require.NoError(t, inv.Ledger.Mint(ctx, mintAddr.Key, acc, 5, mintAuth))

			_, err = inv.Ledger.CloseMint(ctx, mintAddr.Key, alice, mintAuth)
			require.ErrorIs(t, err, runtime.ErrAccountNotEmpty)

			require.NoError(t, inv.Ledger.Burn(ctx, acc, 5, inv.Signer()))
			_, err = inv.Ledger.CloseMint(ctx, mintAddr.Key, alice, inv.Signer())
			require.ErrorIs(t, err, runtime.ErrUnauthorized)
			rent, err := inv.Ledger.CloseMint(ctx, mintAddr.Key, alice, mintAuth)
			require.NoError(t, err)
			assert.Equal(t, runtime.Rent(runtime.MintSize), rent)
			return nil
		})
		require.NoError(t, err)
	})
}
