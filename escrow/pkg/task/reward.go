package task

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/escrow/pkg/guard"
	"github.com/malbeclabs/escrow/escrow/pkg/metrics"
	"github.com/malbeclabs/escrow/escrow/pkg/state"
	"github.com/malbeclabs/escrow/ledger/pkg/arith"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

// UpdateReward changes a task's reward. Increases are funded immediately and
// drop any pending decrease. Decreases are only recorded; they take effect
// through ExecutePendingDecrease after the time lock.
func (e *Engine) UpdateReward(ctx context.Context, caller solana.PublicKey, ref state.TaskRef, amount uint64) (*state.Task, error) {
	if amount == 0 {
		return nil, ErrInvalidRewardAmount
	}

	var (
		t     *state.Task
		topUp uint64
	)
	err := e.run(ctx, "update_reward", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t = en.task
		if !guard.IsCreator(t, caller) {
			return ErrUnauthorizedCreator
		}
		if !guard.CanModify(t, caller) {
			return ErrInvalidTaskStatus
		}

		switch {
		case amount > t.RewardAmount:
			if topUp, err = arith.SubU64(amount, t.RewardAmount); err != nil {
				return err
			}
			source, err := e.tokenAccount(inv, caller)
			if err != nil {
				return err
			}
			available, err := balance(ctx, inv, source)
			if err != nil {
				return err
			}
			if available < topUp {
				return ErrInsufficientBalance
			}
			if err := inv.Ledger.Transfer(ctx, source, t.Escrow, topUp, inv.Signer()); err != nil {
				return fmt.Errorf("failed to top up escrow: %w", err)
			}
			t.RewardAmount = amount
			if t.HasPendingDecrease() {
				t.CancelDecrease(inv.Now)
			}
			t.Touch(inv.Now)
		case amount < t.RewardAmount:
			if !guard.CanInitiateDecrease(t, caller) {
				return ErrDecreaseInvalidStatus
			}
			t.RequestDecrease(amount, inv.Now)
		default:
			t.Touch(inv.Now)
		}
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTokens(engineName, "escrowed", topUp)
	if t.HasPendingDecrease() {
		unlock, _ := t.DecreaseUnlocksAt()
		e.log.Info("task: reward decrease requested", "task", ref, "reward", t.RewardAmount, "pending", *t.PendingDecrease, "unlocksAt", unlock)
	} else {
		e.log.Info("task: reward updated", "task", ref, "reward", t.RewardAmount, "topUp", topUp)
	}
	return t, nil
}

// ExecutePendingDecrease refunds the difference between the current reward
// and the pending amount once the time lock has passed.
func (e *Engine) ExecutePendingDecrease(ctx context.Context, caller solana.PublicKey, ref state.TaskRef) (uint64, error) {
	var refund uint64
	err := e.run(ctx, "execute_pending_decrease", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t := en.task
		if !guard.IsCreator(t, caller) {
			return ErrUnauthorizedCreator
		}
		if !t.HasPendingDecrease() {
			return ErrNoPendingDecrease
		}
		if !guard.CanInitiateDecrease(t, caller) {
			return ErrDecreaseInvalidStatus
		}
		if !guard.CanExecuteDecrease(t, inv.Now) {
			return ErrDecreaseTimeLockNotMet
		}
		if refund, err = arith.SubU64(t.RewardAmount, *t.PendingDecrease); err != nil {
			return err
		}
		held, err := balance(ctx, inv, t.Escrow)
		if err != nil {
			return err
		}
		if held < refund {
			return ErrInsufficientEscrow
		}
		if err := e.payOut(ctx, inv, en, t.Creator, refund); err != nil {
			return err
		}
		t.ExecuteDecrease(inv.Now)
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordTokens(engineName, "refunded", refund)
	e.log.Info("task: reward decreased", "task", ref, "refund", refund)
	return refund, nil
}

// CancelPendingDecrease clears a pending decrease without moving funds.
func (e *Engine) CancelPendingDecrease(ctx context.Context, caller solana.PublicKey, ref state.TaskRef) (*state.Task, error) {
	var t *state.Task
	err := e.run(ctx, "cancel_pending_decrease", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t = en.task
		if !guard.IsCreator(t, caller) {
			return ErrUnauthorizedCreator
		}
		if !t.HasPendingDecrease() {
			return ErrNoPendingDecrease
		}
		t.CancelDecrease(inv.Now)
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("task: reward decrease cancelled", "task", ref)
	return t, nil
}
