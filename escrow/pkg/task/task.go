// Package task holds rewards in escrow for tasks and releases them to
// assignees once the work is complete.
package task

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
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

const engineName = "task"

var seedTask = []byte("task")

type Config struct {
	Logger  *slog.Logger
	Runtime runtime.Runtime

	// Mint is the token every reward is denominated in.
	Mint solana.PublicKey
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runtime == nil {
		return errors.New("runtime is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
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

func (e *Engine) Mint() solana.PublicKey {
	return e.cfg.Mint
}

// ValidateID checks a task id against the length and character rules.
func ValidateID(id string) error {
	if len(id) > state.MaxTaskIDLen {
		return ErrTaskIDTooLong
	}
	if id == "" {
		return ErrInvalidTaskIDFormat
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return ErrInvalidTaskIDFormat
		}
	}
	return nil
}

// Address returns the derived address of the task record.
func (e *Engine) Address(ref state.TaskRef) (identity.Address, error) {
	return e.cfg.Runtime.Addresses().Derive(seedTask, []byte(ref.ID), ref.Creator[:])
}

// entry is a task loaded inside an invocation together with the capability
// to move its escrow.
type entry struct {
	task *state.Task
	addr identity.Address
	auth runtime.Authority
}

func (e *Engine) run(ctx context.Context, op string, caller solana.PublicKey, fn func(ctx context.Context, inv *runtime.Invocation) error) error {
	start := time.Now()
	err := e.cfg.Runtime.Invoke(ctx, caller, fn)
	metrics.RecordOperation(engineName, op, start, err)
	if err != nil {
		e.log.Debug("task: operation rejected", "operation", op, "caller", caller, "error", err)
	}
	return err
}

func (e *Engine) load(ctx context.Context, inv *runtime.Invocation, ref state.TaskRef) (*entry, error) {
	addr, auth, err := inv.Sign(seedTask, []byte(ref.ID), ref.Creator[:])
	if err != nil {
		return nil, err
	}
	data, err := inv.Accounts.Read(ctx, addr.Key)
	if errors.Is(err, runtime.ErrAccountNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	t, err := state.DecodeTask(data)
	if err != nil {
		return nil, err
	}
	return &entry{task: t, addr: addr, auth: auth}, nil
}

// save writes the task in the current layout, growing records that were
// stored in the single-assignee layout first.
func (e *Engine) save(ctx context.Context, inv *runtime.Invocation, en *entry) error {
	if en.task.Layout == state.TaskLayoutSingleAssignee {
		if err := inv.Accounts.Realloc(ctx, en.addr.Key, state.TaskSize); err != nil {
			return fmt.Errorf("failed to grow legacy task: %w", err)
		}
		e.log.Info("task: upgraded legacy record", "task", en.task.Ref())
	}
	data, err := state.EncodeTask(en.task)
	if err != nil {
		return err
	}
	if err := inv.Accounts.Write(ctx, en.addr.Key, data); err != nil {
		return err
	}
	en.task.Layout = state.TaskLayoutMultiAssignee
	return nil
}

func (e *Engine) tokenAccount(inv *runtime.Invocation, owner solana.PublicKey) (solana.PublicKey, error) {
	return inv.Addresses.Associated(owner, e.cfg.Mint)
}

// balance treats an account that was never opened as empty.
func balance(ctx context.Context, inv *runtime.Invocation, account solana.PublicKey) (uint64, error) {
	b, err := inv.Ledger.BalanceOf(ctx, account)
	if errors.Is(err, runtime.ErrAccountNotFound) {
		return 0, nil
	}
	return b, err
}

// payOut moves amount from the task escrow to owner's token account,
// opening it when needed.
func (e *Engine) payOut(ctx context.Context, inv *runtime.Invocation, en *entry, owner solana.PublicKey, amount uint64) error {
	dest, err := e.tokenAccount(inv, owner)
	if err != nil {
		return err
	}
	if err := inv.Ledger.OpenAccount(ctx, inv.Caller, dest, e.cfg.Mint, owner); err != nil {
		return fmt.Errorf("failed to open token account: %w", err)
	}
	if amount == 0 {
		return nil
	}
	if err := inv.Ledger.Transfer(ctx, en.task.Escrow, dest, amount, en.auth); err != nil {
		return fmt.Errorf("failed to transfer from escrow: %w", err)
	}
	return nil
}

// Create opens a task with its escrow funded by the creator.
func (e *Engine) Create(ctx context.Context, creator solana.PublicKey, id string, reward uint64) (*state.Task, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if reward == 0 {
		return nil, ErrInvalidRewardAmount
	}

	var t *state.Task
	err := e.run(ctx, "create", creator, func(ctx context.Context, inv *runtime.Invocation) error {
		addr, _, err := inv.Sign(seedTask, []byte(id), creator[:])
		if err != nil {
			return err
		}
		exists, err := inv.Accounts.Exists(ctx, addr.Key)
		if err != nil {
			return err
		}
		if exists {
			return ErrTaskExists
		}

		source, err := e.tokenAccount(inv, creator)
		if err != nil {
			return err
		}
		available, err := balance(ctx, inv, source)
		if err != nil {
			return err
		}
		if available < reward {
			return ErrInsufficientBalance
		}
		escrow, err := e.tokenAccount(inv, addr.Key)
		if err != nil {
			return err
		}

		if err := inv.Accounts.Create(ctx, addr.Key, creator, state.TaskSize); err != nil {
			return fmt.Errorf("failed to create task record: %w", err)
		}
		if err := inv.Ledger.OpenAccount(ctx, creator, escrow, e.cfg.Mint, addr.Key); err != nil {
			return fmt.Errorf("failed to open escrow: %w", err)
		}
		if err := inv.Ledger.Transfer(ctx, source, escrow, reward, inv.Signer()); err != nil {
			return fmt.Errorf("failed to fund escrow: %w", err)
		}

		t = &state.Task{
			TaskID:       id,
			RewardAmount: reward,
			Status:       state.TaskStatusCreated,
			Creator:      creator,
			Escrow:       escrow,
			CreatedAt:    inv.Now,
			UpdatedAt:    inv.Now,
			Bump:         addr.Bump,
		}
		return e.save(ctx, inv, &entry{task: t, addr: addr})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTokens(engineName, "escrowed", reward)
	e.log.Info("task: created", "task", t.Ref(), "reward", reward)
	return t, nil
}

func (e *Engine) Assign(ctx context.Context, caller solana.PublicKey, ref state.TaskRef, assignee solana.PublicKey) (*state.Task, error) {
	return e.AssignMultiple(ctx, caller, ref, []solana.PublicKey{assignee})
}

// AssignMultiple appends assignees to an open task. The first assignment
// moves a Created task to InProgress.
func (e *Engine) AssignMultiple(ctx context.Context, caller solana.PublicKey, ref state.TaskRef, assignees []solana.PublicKey) (*state.Task, error) {
	if len(assignees) == 0 {
		return nil, ErrNoAssignees
	}

	var t *state.Task
	err := e.run(ctx, "assign", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t = en.task
		if !guard.IsCreator(t, caller) {
			return ErrUnauthorizedCreator
		}
		if !guard.CanAssign(t, caller) {
			return ErrInvalidTaskStatus
		}
		if len(t.Assignees)+len(assignees) > state.MaxAssignees {
			return ErrTooManyAssignees
		}
		for _, a := range assignees {
			if a.Equals(t.Creator) {
				return ErrCannotAssignToCreator
			}
			if guard.IsAssignee(t, a) {
				return ErrDuplicateAssignee
			}
			t.Assignees = append(t.Assignees, a)
		}
		if t.Status == state.TaskStatusCreated {
			t.SetStatus(state.TaskStatusInProgress, inv.Now)
		} else {
			t.Touch(inv.Now)
		}
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("task: assigned", "task", ref, "added", len(assignees), "assignees", len(t.Assignees))
	return t, nil
}

// Complete is called by a listed assignee to mark the task done. It moves
// no funds; each assignee then claims a share.
func (e *Engine) Complete(ctx context.Context, caller solana.PublicKey, ref state.TaskRef) (*state.Task, error) {
	var t *state.Task
	err := e.run(ctx, "complete", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t = en.task
		if err := e.checkCompletable(ctx, inv, t); err != nil {
			return err
		}
		if !guard.IsAssignee(t, caller) {
			return ErrUnauthorizedAssignee
		}
		markCompleted(t, inv.Now)
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("task: completed", "task", ref, "by", caller)
	return t, nil
}

func (e *Engine) checkCompletable(ctx context.Context, inv *runtime.Invocation, t *state.Task) error {
	if !guard.IsOpen(t) {
		return ErrInvalidTaskStatus
	}
	if !guard.CanComplete(t) {
		return ErrNoAssignee
	}
	held, err := balance(ctx, inv, t.Escrow)
	if err != nil {
		return err
	}
	if held < t.RewardAmount {
		return ErrInsufficientEscrow
	}
	return nil
}

// markCompleted also drops any pending decrease, which can no longer run.
func markCompleted(t *state.Task, now int64) {
	if t.HasPendingDecrease() {
		t.CancelDecrease(now)
	}
	t.SetStatus(state.TaskStatusCompleted, now)
}

// UpdateStatus lets the creator drive the lifecycle directly. Cancelling
// through it refunds the escrow exactly like Cancel.
func (e *Engine) UpdateStatus(ctx context.Context, caller solana.PublicKey, ref state.TaskRef, status state.TaskStatus) (*state.Task, error) {
	if !status.Valid() {
		return nil, ErrInvalidTaskStatus
	}

	var (
		t        *state.Task
		refunded uint64
	)
	err := e.run(ctx, "update_status", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t = en.task
		if !guard.IsCreator(t, caller) {
			return ErrUnauthorizedCreator
		}
		if !guard.CanTransition(t.Status, status) {
			return ErrInvalidTaskStatus
		}
		switch status {
		case state.TaskStatusInProgress:
			t.SetStatus(status, inv.Now)
		case state.TaskStatusCompleted:
			if err := e.checkCompletable(ctx, inv, t); err != nil {
				return err
			}
			markCompleted(t, inv.Now)
		case state.TaskStatusCancelled:
			if refunded, err = e.cancel(ctx, inv, en); err != nil {
				return err
			}
		}
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTokens(engineName, "refunded", refunded)
	e.log.Info("task: status updated", "task", ref, "status", status)
	return t, nil
}

// Claim pays the caller an equal share of the reward. Integer division
// remainders stay in escrow until Close.
func (e *Engine) Claim(ctx context.Context, caller solana.PublicKey, ref state.TaskRef) (uint64, error) {
	var share uint64
	err := e.run(ctx, "claim", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t := en.task
		if !guard.CanClaim(t, caller) {
			switch {
			case t.Status != state.TaskStatusCompleted:
				return ErrInvalidTaskStatus
			case !guard.IsAssignee(t, caller):
				return ErrUnauthorizedAssignee
			default:
				return ErrAlreadyClaimed
			}
		}
		if share, err = arith.DivU64(t.RewardAmount, uint64(len(t.Assignees))); err != nil {
			return err
		}
		held, err := balance(ctx, inv, t.Escrow)
		if err != nil {
			return err
		}
		if held < share {
			return ErrInsufficientEscrow
		}
		if err := e.payOut(ctx, inv, en, caller, share); err != nil {
			return err
		}
		t.ClaimedAssignees = append(t.ClaimedAssignees, caller)
		t.Touch(inv.Now)
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordTokens(engineName, "claimed", share)
	e.log.Info("task: reward claimed", "task", ref, "assignee", caller, "amount", share)
	return share, nil
}

// CloseResult reports what closing a task returned to its creator.
type CloseResult struct {
	Remainder uint64
	Refunded  uint64
}

// Close retires a completed task once every assignee has claimed. Anyone may
// call it; the escrow remainder and storage refunds go to the creator.
func (e *Engine) Close(ctx context.Context, caller solana.PublicKey, ref state.TaskRef) (CloseResult, error) {
	var res CloseResult
	err := e.run(ctx, "close", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t := en.task
		if t.Status != state.TaskStatusCompleted {
			return ErrInvalidTaskStatus
		}
		if !guard.CanCloseAccount(t) {
			return ErrClaimsOutstanding
		}
		if res.Remainder, err = balance(ctx, inv, t.Escrow); err != nil {
			return err
		}
		if err := e.payOut(ctx, inv, en, t.Creator, res.Remainder); err != nil {
			return err
		}
		rent, err := inv.Ledger.CloseAccount(ctx, t.Escrow, t.Creator, en.auth)
		if err != nil {
			return fmt.Errorf("failed to close escrow: %w", err)
		}
		res.Refunded += rent
		rent, err = inv.Accounts.Close(ctx, en.addr.Key, t.Creator)
		if err != nil {
			return fmt.Errorf("failed to close task record: %w", err)
		}
		res.Refunded += rent
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	metrics.RecordTokens(engineName, "remainder", res.Remainder)
	e.log.Info("task: closed", "task", ref, "remainder", res.Remainder, "refunded", res.Refunded)
	return res, nil
}

// Cancel refunds the escrow to the creator and leaves a Cancelled record.
func (e *Engine) Cancel(ctx context.Context, caller solana.PublicKey, ref state.TaskRef) (uint64, error) {
	var refunded uint64
	err := e.run(ctx, "cancel", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		if !guard.IsCreator(en.task, caller) {
			return ErrUnauthorizedCreator
		}
		if refunded, err = e.cancel(ctx, inv, en); err != nil {
			return err
		}
		return e.save(ctx, inv, en)
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordTokens(engineName, "refunded", refunded)
	e.log.Info("task: cancelled", "task", ref, "refunded", refunded)
	return refunded, nil
}

// Delete cancels an open task and reclaims its record. A cancelled task is
// simply reclaimed.
func (e *Engine) Delete(ctx context.Context, caller solana.PublicKey, ref state.TaskRef) (uint64, error) {
	var refunded uint64
	err := e.run(ctx, "delete", caller, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t := en.task
		if !guard.IsCreator(t, caller) {
			return ErrUnauthorizedCreator
		}
		switch {
		case guard.IsOpen(t):
			if refunded, err = e.cancel(ctx, inv, en); err != nil {
				return err
			}
		case t.Status != state.TaskStatusCancelled:
			return ErrInvalidTaskStatus
		}
		if _, err := inv.Accounts.Close(ctx, en.addr.Key, t.Creator); err != nil {
			return fmt.Errorf("failed to close task record: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordTokens(engineName, "refunded", refunded)
	e.log.Info("task: deleted", "task", ref, "refunded", refunded)
	return refunded, nil
}

// cancel refunds the whole escrow to the creator, closes the escrow account
// and marks the task Cancelled. The caller saves the record.
func (e *Engine) cancel(ctx context.Context, inv *runtime.Invocation, en *entry) (uint64, error) {
	t := en.task
	if !guard.CanCancel(t, t.Creator) {
		return 0, ErrInvalidTaskStatus
	}
	held, err := balance(ctx, inv, t.Escrow)
	if err != nil {
		return 0, err
	}
	if held < t.RewardAmount {
		return 0, ErrInsufficientEscrow
	}
	if err := e.payOut(ctx, inv, en, t.Creator, held); err != nil {
		return 0, err
	}
	if _, err := inv.Ledger.CloseAccount(ctx, t.Escrow, t.Creator, en.auth); err != nil {
		return 0, fmt.Errorf("failed to close escrow: %w", err)
	}
	if t.HasPendingDecrease() {
		t.CancelDecrease(inv.Now)
	}
	t.SetStatus(state.TaskStatusCancelled, inv.Now)
	return held, nil
}

func (e *Engine) Get(ctx context.Context, ref state.TaskRef) (*state.Task, error) {
	var t *state.Task
	err := e.cfg.Runtime.Invoke(ctx, solana.PublicKey{}, func(ctx context.Context, inv *runtime.Invocation) error {
		en, err := e.load(ctx, inv, ref)
		if err != nil {
			return err
		}
		t = en.task
		return nil
	})
	return t, err
}

// EscrowBalance is zero once the escrow has been closed.
func (e *Engine) EscrowBalance(ctx context.Context, ref state.TaskRef) (uint64, error) {
	var held uint64
	err := e.cfg.Runtime.Invoke(ctx, solana.PublicKey{}, func(ctx context.Context, inv *runtime.Invocation) error {
		addr, err := inv.Addresses.Derive(seedTask, []byte(ref.ID), ref.Creator[:])
		if err != nil {
			return err
		}
		escrow, err := e.tokenAccount(inv, addr.Key)
		if err != nil {
			return err
		}
		held, err = balance(ctx, inv, escrow)
		return err
	})
	return held, err
}
