package task

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/escrow/escrow/pkg/state"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
	"github.com/malbeclabs/escrow/ledger/pkg/memory"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
	escrowtesting "github.com/malbeclabs/escrow/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mintSeed = []byte("test-mint")

type harness struct {
	clock   *clockwork.FakeClock
	rt      *memory.Runtime
	engine  *Engine
	mint    solana.PublicKey
	creator solana.PublicKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(1_750_000_000, 0))
	d, err := identity.NewDeriver(identity.DeriverConfig{Program: solana.NewWallet().PublicKey()})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	k, err := runtime.NewKeyring([]byte("task-engine-test-secret"))
	require.NoError(t, err)
	rt, err := memory.NewRuntime(memory.RuntimeConfig{
		Logger:    escrowtesting.NewLogger(),
		Clock:     clock,
		Addresses: d,
		Keyring:   k,
	})
	require.NoError(t, err)

	mint, err := d.Derive(mintSeed)
	require.NoError(t, err)
	payer := solana.NewWallet().PublicKey()
	err = rt.Invoke(context.Background(), payer, func(ctx context.Context, inv *runtime.Invocation) error {
		return inv.Ledger.CreateMint(ctx, payer, mint.Key, mint.Key, runtime.MintMetadata{Symbol: "ALT", Decimals: runtime.DefaultDecimals})
	})
	require.NoError(t, err)

	engine, err := New(Config{Logger: escrowtesting.NewLogger(), Runtime: rt, Mint: mint.Key})
	require.NoError(t, err)

	h := &harness{clock: clock, rt: rt, engine: engine, mint: mint.Key, creator: solana.NewWallet().PublicKey()}
	h.fund(t, h.creator, 10_000)
	return h
}

// fund mints amount into owner's token account.
func (h *harness) fund(t *testing.T, owner solana.PublicKey, amount uint64) {
	t.Helper()
	err := h.rt.Invoke(context.Background(), owner, func(ctx context.Context, inv *runtime.Invocation) error {
		_, auth, err := inv.Sign(mintSeed)
		if err != nil {
			return err
		}
		ata, err := inv.Addresses.Associated(owner, h.mint)
		if err != nil {
			return err
		}
		if err := inv.Ledger.OpenAccount(ctx, owner, ata, h.mint, owner); err != nil {
			return err
		}
		return inv.Ledger.Mint(ctx, h.mint, ata, amount, auth)
	})
	require.NoError(t, err)
}

func (h *harness) balanceOf(t *testing.T, owner solana.PublicKey) uint64 {
	t.Helper()
	var b uint64
	err := h.rt.Invoke(context.Background(), owner, func(ctx context.Context, inv *runtime.Invocation) error {
		ata, err := inv.Addresses.Associated(owner, h.mint)
		if err != nil {
			return err
		}
		b, err = balance(ctx, inv, ata)
		return err
	})
	require.NoError(t, err)
	return b
}

func (h *harness) create(t *testing.T, id string, reward uint64) state.TaskRef {
	t.Helper()
	task, err := h.engine.Create(context.Background(), h.creator, id, reward)
	require.NoError(t, err)
	return task.Ref()
}

func (h *harness) get(t *testing.T, ref state.TaskRef) *state.Task {
	t.Helper()
	task, err := h.engine.Get(context.Background(), ref)
	require.NoError(t, err)
	return task
}

// requireInvariants checks the escrow and assignee invariants of a stored task.
func (h *harness) requireInvariants(t *testing.T, ref state.TaskRef) {
	t.Helper()
	task := h.get(t, ref)
	require.NoError(t, task.Validate())
	require.LessOrEqual(t, len(task.Assignees), state.MaxAssignees)
	require.NotContains(t, task.Assignees, task.Creator)
	for _, c := range task.ClaimedAssignees {
		require.Contains(t, task.Assignees, c)
	}
	if task.Status == state.TaskStatusCreated || task.Status == state.TaskStatusInProgress {
		held, err := h.engine.EscrowBalance(context.Background(), ref)
		require.NoError(t, err)
		require.Equal(t, task.RewardAmount, held)
	}
}

func wallets(n int) []solana.PublicKey {
	keys := make([]solana.PublicKey, n)
	for i := range keys {
		keys[i] = solana.NewWallet().PublicKey()
	}
	return keys
}

func TestTask_Config(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "logger is required")
	_, err = New(Config{Logger: escrowtesting.NewLogger()})
	require.ErrorContains(t, err, "runtime is required")
	h := newHarness(t)
	_, err = New(Config{Logger: escrowtesting.NewLogger(), Runtime: h.rt})
	require.ErrorContains(t, err, "mint is required")
	assert.Equal(t, h.mint, h.engine.Mint())
}

func TestTask_ValidateID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id   string
		want error
	}{
		{strings.Repeat("a", 50), nil},
		{"fix-bug_42", nil},
		{strings.Repeat("a", 51), ErrTaskIDTooLong},
		{"", ErrInvalidTaskIDFormat},
		{"has space", ErrInvalidTaskIDFormat},
		{"naïve", ErrInvalidTaskIDFormat},
		{"semi;colon", ErrInvalidTaskIDFormat},
	}
	for _, tc := range cases {
		err := ValidateID(tc.id)
		if tc.want == nil {
			assert.NoError(t, err, tc.id)
		} else {
			assert.ErrorIs(t, err, tc.want, tc.id)
		}
	}
}

func TestTask_Create(t *testing.T) {
	t.Parallel()

	t.Run("escrows the reward", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		task, err := h.engine.Create(context.Background(), h.creator, "build-docs", 400)
		require.NoError(t, err)

		assert.Equal(t, state.TaskStatusCreated, task.Status)
		assert.Equal(t, uint64(400), task.RewardAmount)
		assert.Equal(t, h.clock.Now().Unix(), task.CreatedAt)
		assert.Empty(t, task.Assignees)
		assert.False(t, task.HasPendingDecrease())
		assert.Equal(t, uint64(9_600), h.balanceOf(t, h.creator))
		h.requireInvariants(t, task.Ref())

		addr, err := h.engine.Address(task.Ref())
		require.NoError(t, err)
		assert.Equal(t, addr.Bump, task.Bump)
	})

	t.Run("ids are unique per creator", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.create(t, "same", 10)
		_, err := h.engine.Create(context.Background(), h.creator, "same", 10)
		require.ErrorIs(t, err, ErrTaskExists)

		other := solana.NewWallet().PublicKey()
		h.fund(t, other, 10)
		_, err = h.engine.Create(context.Background(), other, "same", 10)
		require.NoError(t, err)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.engine.Create(context.Background(), h.creator, "ok", 0)
		require.ErrorIs(t, err, ErrInvalidRewardAmount)
		_, err = h.engine.Create(context.Background(), h.creator, "not ok", 1)
		require.ErrorIs(t, err, ErrInvalidTaskIDFormat)
	})

	t.Run("requires creator balance", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.engine.Create(context.Background(), h.creator, "big", 10_001)
		require.ErrorIs(t, err, ErrInsufficientBalance)
		_, err = h.engine.Create(context.Background(), solana.NewWallet().PublicKey(), "unfunded", 1)
		require.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, uint64(10_000), h.balanceOf(t, h.creator))
	})
}

func TestTask_CancelRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.create(t, strings.Repeat("a", 50), 100)
	assert.Equal(t, uint64(9_900), h.balanceOf(t, h.creator))

	refunded, err := h.engine.Cancel(context.Background(), h.creator, ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), refunded)
	assert.Equal(t, uint64(10_000), h.balanceOf(t, h.creator))

	held, err := h.engine.EscrowBalance(context.Background(), ref)
	require.NoError(t, err)
	assert.Zero(t, held)
	assert.Equal(t, state.TaskStatusCancelled, h.get(t, ref).Status)

	_, err = h.engine.Cancel(context.Background(), h.creator, ref)
	require.ErrorIs(t, err, ErrInvalidTaskStatus)
}

func TestTask_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("only by creator", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		_, err := h.engine.Cancel(context.Background(), solana.NewWallet().PublicKey(), ref)
		require.ErrorIs(t, err, ErrUnauthorizedCreator)
		h.requireInvariants(t, ref)
	})

	t.Run("in progress with pending decrease", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		_, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 40)
		require.NoError(t, err)
		_, err = h.engine.Assign(context.Background(), h.creator, ref, solana.NewWallet().PublicKey())
		require.NoError(t, err)

		refunded, err := h.engine.Cancel(context.Background(), h.creator, ref)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), refunded)
		task := h.get(t, ref)
		assert.Equal(t, state.TaskStatusCancelled, task.Status)
		assert.False(t, task.HasPendingDecrease())
	})

	t.Run("not after completion", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		a := solana.NewWallet().PublicKey()
		_, err := h.engine.Assign(context.Background(), h.creator, ref, a)
		require.NoError(t, err)
		_, err = h.engine.Complete(context.Background(), a, ref)
		require.NoError(t, err)
		_, err = h.engine.Cancel(context.Background(), h.creator, ref)
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
	})
}

func TestTask_Assign(t *testing.T) {
	t.Parallel()

	t.Run("first assignment starts the task", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		a := solana.NewWallet().PublicKey()
		h.clock.Advance(time.Minute)

		task, err := h.engine.Assign(context.Background(), h.creator, ref, a)
		require.NoError(t, err)
		assert.Equal(t, state.TaskStatusInProgress, task.Status)
		assert.Equal(t, []solana.PublicKey{a}, task.Assignees)
		assert.Equal(t, h.clock.Now().Unix(), task.UpdatedAt)

		b := solana.NewWallet().PublicKey()
		task, err = h.engine.Assign(context.Background(), h.creator, ref, b)
		require.NoError(t, err)
		assert.Equal(t, state.TaskStatusInProgress, task.Status)
		assert.Equal(t, []solana.PublicKey{a, b}, task.Assignees)
		h.requireInvariants(t, ref)
	})

	t.Run("rejections", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		a := solana.NewWallet().PublicKey()

		_, err := h.engine.Assign(context.Background(), a, ref, a)
		require.ErrorIs(t, err, ErrUnauthorizedCreator)
		_, err = h.engine.Assign(context.Background(), h.creator, ref, h.creator)
		require.ErrorIs(t, err, ErrCannotAssignToCreator)
		_, err = h.engine.AssignMultiple(context.Background(), h.creator, ref, nil)
		require.ErrorIs(t, err, ErrNoAssignees)
		_, err = h.engine.AssignMultiple(context.Background(), h.creator, ref, []solana.PublicKey{a, a})
		require.ErrorIs(t, err, ErrDuplicateAssignee)
		_, err = h.engine.Assign(context.Background(), h.creator, state.TaskRef{Creator: h.creator, ID: "missing"}, a)
		require.ErrorIs(t, err, ErrTaskNotFound)

		// A rejected batch leaves nothing behind.
		task := h.get(t, ref)
		assert.Empty(t, task.Assignees)
		assert.Equal(t, state.TaskStatusCreated, task.Status)

		_, err = h.engine.Assign(context.Background(), h.creator, ref, a)
		require.NoError(t, err)
		_, err = h.engine.Assign(context.Background(), h.creator, ref, a)
		require.ErrorIs(t, err, ErrDuplicateAssignee)
		h.requireInvariants(t, ref)
	})

	t.Run("caps assignees", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)

		_, err := h.engine.AssignMultiple(context.Background(), h.creator, ref, wallets(state.MaxAssignees+1))
		require.ErrorIs(t, err, ErrTooManyAssignees)

		task, err := h.engine.AssignMultiple(context.Background(), h.creator, ref, wallets(state.MaxAssignees-1))
		require.NoError(t, err)
		assert.Len(t, task.Assignees, state.MaxAssignees-1)
		_, err = h.engine.AssignMultiple(context.Background(), h.creator, ref, wallets(2))
		require.ErrorIs(t, err, ErrTooManyAssignees)
		task, err = h.engine.Assign(context.Background(), h.creator, ref, solana.NewWallet().PublicKey())
		require.NoError(t, err)
		assert.Len(t, task.Assignees, state.MaxAssignees)
		h.requireInvariants(t, ref)
	})

	t.Run("not once completed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		a := solana.NewWallet().PublicKey()
		_, err := h.engine.Assign(context.Background(), h.creator, ref, a)
		require.NoError(t, err)
		_, err = h.engine.Complete(context.Background(), a, ref)
		require.NoError(t, err)
		_, err = h.engine.Assign(context.Background(), h.creator, ref, solana.NewWallet().PublicKey())
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
	})
}

func TestTask_Complete(t *testing.T) {
	t.Parallel()

	t.Run("requires an assignee", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		_, err := h.engine.Complete(context.Background(), h.creator, ref)
		require.ErrorIs(t, err, ErrNoAssignee)
	})

	t.Run("only listed assignees", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		_, err := h.engine.Assign(context.Background(), h.creator, ref, solana.NewWallet().PublicKey())
		require.NoError(t, err)
		_, err = h.engine.Complete(context.Background(), solana.NewWallet().PublicKey(), ref)
		require.ErrorIs(t, err, ErrUnauthorizedAssignee)
		_, err = h.engine.Complete(context.Background(), h.creator, ref)
		require.ErrorIs(t, err, ErrUnauthorizedAssignee)
	})

	t.Run("marks completed without paying", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		a := solana.NewWallet().PublicKey()
		_, err := h.engine.Assign(context.Background(), h.creator, ref, a)
		require.NoError(t, err)

		task, err := h.engine.Complete(context.Background(), a, ref)
		require.NoError(t, err)
		assert.Equal(t, state.TaskStatusCompleted, task.Status)
		held, err := h.engine.EscrowBalance(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), held)
		assert.Zero(t, h.balanceOf(t, a))

		_, err = h.engine.Complete(context.Background(), a, ref)
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
	})
}

func TestTask_ClaimSplit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.create(t, "split", 100)
	assignees := wallets(3)
	_, err := h.engine.AssignMultiple(context.Background(), h.creator, ref, assignees)
	require.NoError(t, err)

	_, err = h.engine.Claim(context.Background(), assignees[0], ref)
	require.ErrorIs(t, err, ErrInvalidTaskStatus)

	_, err = h.engine.Complete(context.Background(), assignees[1], ref)
	require.NoError(t, err)

	_, err = h.engine.Claim(context.Background(), solana.NewWallet().PublicKey(), ref)
	require.ErrorIs(t, err, ErrUnauthorizedAssignee)

	for i, a := range assignees {
		paid, err := h.engine.Claim(context.Background(), a, ref)
		require.NoError(t, err)
		assert.Equal(t, uint64(33), paid)
		assert.Equal(t, uint64(33), h.balanceOf(t, a))
		h.requireInvariants(t, ref)

		_, err = h.engine.Claim(context.Background(), a, ref)
		require.ErrorIs(t, err, ErrAlreadyClaimed)

		if i < len(assignees)-1 {
			_, err = h.engine.Close(context.Background(), a, ref)
			require.ErrorIs(t, err, ErrClaimsOutstanding)
		}
	}

	held, err := h.engine.EscrowBalance(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), held)

	res, err := h.engine.Close(context.Background(), assignees[2], ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Remainder)
	assert.Equal(t, runtime.Rent(runtime.TokenAccountSize)+runtime.Rent(state.TaskSize), res.Refunded)
	assert.Equal(t, uint64(10_000-100+1), h.balanceOf(t, h.creator))

	_, err = h.engine.Get(context.Background(), ref)
	require.ErrorIs(t, err, ErrTaskNotFound)
	held, err = h.engine.EscrowBalance(context.Background(), ref)
	require.NoError(t, err)
	assert.Zero(t, held)
}

func TestTask_Close(t *testing.T) {
	t.Parallel()

	t.Run("requires completion", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		_, err := h.engine.Close(context.Background(), h.creator, ref)
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
	})

	t.Run("exact split leaves no remainder", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		assignees := wallets(2)
		_, err := h.engine.AssignMultiple(context.Background(), h.creator, ref, assignees)
		require.NoError(t, err)
		_, err = h.engine.UpdateStatus(context.Background(), h.creator, ref, state.TaskStatusCompleted)
		require.NoError(t, err)
		for _, a := range assignees {
			_, err := h.engine.Claim(context.Background(), a, ref)
			require.NoError(t, err)
		}
		res, err := h.engine.Close(context.Background(), h.creator, ref)
		require.NoError(t, err)
		assert.Zero(t, res.Remainder)
		assert.Equal(t, uint64(9_900), h.balanceOf(t, h.creator))
	})
}

func TestTask_UpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("transitions", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)

		_, err := h.engine.UpdateStatus(context.Background(), solana.NewWallet().PublicKey(), ref, state.TaskStatusInProgress)
		require.ErrorIs(t, err, ErrUnauthorizedCreator)
		_, err = h.engine.UpdateStatus(context.Background(), h.creator, ref, state.TaskStatusCompleted)
		require.ErrorIs(t, err, ErrNoAssignee)

		task, err := h.engine.UpdateStatus(context.Background(), h.creator, ref, state.TaskStatusInProgress)
		require.NoError(t, err)
		assert.Equal(t, state.TaskStatusInProgress, task.Status)

		_, err = h.engine.UpdateStatus(context.Background(), h.creator, ref, state.TaskStatusCreated)
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
		_, err = h.engine.UpdateStatus(context.Background(), h.creator, ref, state.TaskStatus(9))
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
	})

	t.Run("cancelling refunds", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		task, err := h.engine.UpdateStatus(context.Background(), h.creator, ref, state.TaskStatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, state.TaskStatusCancelled, task.Status)
		assert.Equal(t, uint64(10_000), h.balanceOf(t, h.creator))
	})
}

func TestTask_Delete(t *testing.T) {
	t.Parallel()

	t.Run("open task is refunded and removed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 250)
		refunded, err := h.engine.Delete(context.Background(), h.creator, ref)
		require.NoError(t, err)
		assert.Equal(t, uint64(250), refunded)
		assert.Equal(t, uint64(10_000), h.balanceOf(t, h.creator))
		_, err = h.engine.Get(context.Background(), ref)
		require.ErrorIs(t, err, ErrTaskNotFound)

		// The id can be reused.
		h.create(t, "t1", 10)
	})

	t.Run("cancelled task is reclaimed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 250)
		_, err := h.engine.Cancel(context.Background(), h.creator, ref)
		require.NoError(t, err)
		refunded, err := h.engine.Delete(context.Background(), h.creator, ref)
		require.NoError(t, err)
		assert.Zero(t, refunded)
		_, err = h.engine.Get(context.Background(), ref)
		require.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("completed task must be closed instead", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 250)
		a := solana.NewWallet().PublicKey()
		_, err := h.engine.Assign(context.Background(), h.creator, ref, a)
		require.NoError(t, err)
		_, err = h.engine.Complete(context.Background(), a, ref)
		require.NoError(t, err)
		_, err = h.engine.Delete(context.Background(), h.creator, ref)
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
		_, err = h.engine.Delete(context.Background(), a, ref)
		require.ErrorIs(t, err, ErrUnauthorizedCreator)
	})
}

func TestTask_UpdateReward(t *testing.T) {
	t.Parallel()

	t.Run("increase is funded immediately", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		_, err := h.engine.Assign(context.Background(), h.creator, ref, solana.NewWallet().PublicKey())
		require.NoError(t, err)

		task, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 160)
		require.NoError(t, err)
		assert.Equal(t, uint64(160), task.RewardAmount)
		assert.Equal(t, uint64(9_840), h.balanceOf(t, h.creator))
		h.requireInvariants(t, ref)
	})

	t.Run("increase cancels a pending decrease", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		_, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 50)
		require.NoError(t, err)
		task, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 120)
		require.NoError(t, err)
		assert.False(t, task.HasPendingDecrease())
		assert.Equal(t, uint64(120), task.RewardAmount)
		h.requireInvariants(t, ref)
	})

	t.Run("equal amount only refreshes timestamp", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)
		h.clock.Advance(time.Hour)
		task, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 100)
		require.NoError(t, err)
		assert.Equal(t, h.clock.Now().Unix(), task.UpdatedAt)
		assert.False(t, task.HasPendingDecrease())
		assert.Equal(t, uint64(9_900), h.balanceOf(t, h.creator))
	})

	t.Run("rejections", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ref := h.create(t, "t1", 100)

		_, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 0)
		require.ErrorIs(t, err, ErrInvalidRewardAmount)
		_, err = h.engine.UpdateReward(context.Background(), solana.NewWallet().PublicKey(), ref, 200)
		require.ErrorIs(t, err, ErrUnauthorizedCreator)
		_, err = h.engine.UpdateReward(context.Background(), h.creator, ref, 100_000)
		require.ErrorIs(t, err, ErrInsufficientBalance)

		_, err = h.engine.Assign(context.Background(), h.creator, ref, solana.NewWallet().PublicKey())
		require.NoError(t, err)
		_, err = h.engine.UpdateReward(context.Background(), h.creator, ref, 50)
		require.ErrorIs(t, err, ErrDecreaseInvalidStatus)

		_, err = h.engine.Cancel(context.Background(), h.creator, ref)
		require.NoError(t, err)
		_, err = h.engine.UpdateReward(context.Background(), h.creator, ref, 200)
		require.ErrorIs(t, err, ErrInvalidTaskStatus)
	})
}

func TestTask_DecreaseTimeLock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.create(t, "t1", 500)
	t0 := h.clock.Now().Unix()

	task, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 300)
	require.NoError(t, err)
	require.True(t, task.HasPendingDecrease())
	assert.Equal(t, uint64(300), *task.PendingDecrease)
	assert.Equal(t, t0, *task.DecreaseRequestedAt)
	assert.Equal(t, uint64(500), task.RewardAmount)
	h.requireInvariants(t, ref)

	_, err = h.engine.ExecutePendingDecrease(context.Background(), solana.NewWallet().PublicKey(), ref)
	require.ErrorIs(t, err, ErrUnauthorizedCreator)

	h.clock.Advance(6*time.Hour - time.Second)
	_, err = h.engine.ExecutePendingDecrease(context.Background(), h.creator, ref)
	require.ErrorIs(t, err, ErrDecreaseTimeLockNotMet)

	h.clock.Advance(time.Second)
	refund, err := h.engine.ExecutePendingDecrease(context.Background(), h.creator, ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), refund)

	task = h.get(t, ref)
	assert.Equal(t, uint64(300), task.RewardAmount)
	assert.False(t, task.HasPendingDecrease())
	assert.Equal(t, uint64(9_700), h.balanceOf(t, h.creator))
	h.requireInvariants(t, ref)

	_, err = h.engine.ExecutePendingDecrease(context.Background(), h.creator, ref)
	require.ErrorIs(t, err, ErrNoPendingDecrease)
}

func TestTask_DecreaseBlockedOnceAssigned(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.create(t, "t1", 500)
	_, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 300)
	require.NoError(t, err)
	_, err = h.engine.Assign(context.Background(), h.creator, ref, solana.NewWallet().PublicKey())
	require.NoError(t, err)

	h.clock.Advance(7 * time.Hour)
	_, err = h.engine.ExecutePendingDecrease(context.Background(), h.creator, ref)
	require.ErrorIs(t, err, ErrDecreaseInvalidStatus)
	h.requireInvariants(t, ref)
}

func TestTask_CancelPendingDecrease(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.create(t, "t1", 500)
	_, err := h.engine.UpdateReward(context.Background(), h.creator, ref, 300)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	first, err := h.engine.CancelPendingDecrease(context.Background(), h.creator, ref)
	require.NoError(t, err)
	assert.False(t, first.HasPendingDecrease())
	assert.Equal(t, uint64(500), first.RewardAmount)

	h.clock.Advance(time.Minute)
	_, err = h.engine.CancelPendingDecrease(context.Background(), h.creator, ref)
	require.ErrorIs(t, err, ErrNoPendingDecrease)
	assert.Equal(t, first, h.get(t, ref))
	assert.Equal(t, uint64(9_500), h.balanceOf(t, h.creator))
	h.requireInvariants(t, ref)
}

// encodeLegacyTask writes a task in the single-assignee layout.
func encodeLegacyTask(t *testing.T, task *state.Task, assignee *solana.PublicKey) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	_, err := enc.Write(bin.SighashAccount("Task"))
	require.NoError(t, err)
	require.NoError(t, enc.WriteString(task.TaskID))
	require.NoError(t, enc.WriteUint64(task.RewardAmount, bin.LE))
	require.NoError(t, enc.WriteUint8(uint8(task.Status)))
	require.NoError(t, enc.WriteBytes(task.Creator[:], false))
	require.NoError(t, enc.WriteBytes(task.Escrow[:], false))
	require.NoError(t, enc.WriteOption(assignee != nil))
	if assignee != nil {
		require.NoError(t, enc.WriteBytes(assignee[:], false))
	}
	require.NoError(t, enc.WriteInt64(task.CreatedAt, bin.LE))
	require.NoError(t, enc.WriteInt64(task.UpdatedAt, bin.LE))
	require.NoError(t, enc.WriteOption(false))
	require.NoError(t, enc.WriteOption(false))
	require.NoError(t, enc.WriteUint8(task.Bump))
	return buf.Bytes()
}

func TestTask_LegacyRecordUpgrade(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	assignee := solana.NewWallet().PublicKey()
	ref := state.TaskRef{Creator: h.creator, ID: "legacy-1"}
	const legacySize = 8 + 4 + state.MaxTaskIDLen + 8 + 1 + 32 + 32 + 1 + 32 + 8 + 8 + 9 + 9 + 1

	addr, err := h.engine.Address(ref)
	require.NoError(t, err)
	err = h.rt.Invoke(context.Background(), h.creator, func(ctx context.Context, inv *runtime.Invocation) error {
		escrow, err := inv.Addresses.Associated(addr.Key, h.mint)
		if err != nil {
			return err
		}
		data := encodeLegacyTask(t, &state.Task{
			TaskID:       ref.ID,
			RewardAmount: 90,
			Status:       state.TaskStatusInProgress,
			Creator:      h.creator,
			Escrow:       escrow,
			CreatedAt:    1,
			UpdatedAt:    1,
			Bump:         addr.Bump,
		}, &assignee)
		if err := inv.Accounts.Create(ctx, addr.Key, h.creator, legacySize); err != nil {
			return err
		}
		return inv.Accounts.Write(ctx, addr.Key, data)
	})
	require.NoError(t, err)
	h.fund(t, addr.Key, 90)

	task := h.get(t, ref)
	assert.Equal(t, state.TaskLayoutSingleAssignee, task.Layout)
	assert.Equal(t, []solana.PublicKey{assignee}, task.Assignees)

	task, err = h.engine.Complete(context.Background(), assignee, ref)
	require.NoError(t, err)
	assert.Equal(t, state.TaskLayoutMultiAssignee, task.Layout)

	stored := h.get(t, ref)
	assert.Equal(t, state.TaskLayoutMultiAssignee, stored.Layout)
	assert.Equal(t, state.TaskStatusCompleted, stored.Status)

	paid, err := h.engine.Claim(context.Background(), assignee, ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), paid)
	res, err := h.engine.Close(context.Background(), assignee, ref)
	require.NoError(t, err)
	assert.Equal(t, runtime.Rent(runtime.TokenAccountSize)+runtime.Rent(state.TaskSize), res.Refunded)
}
