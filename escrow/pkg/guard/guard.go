// Package guard holds the authorization and state predicates consulted by
// the faucet and task engines. Every function is pure.
package guard

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/escrow/pkg/state"
	"github.com/malbeclabs/escrow/ledger/pkg/arith"
)

func IsCreator(t *state.Task, who solana.PublicKey) bool {
	return t.Creator.Equals(who)
}

// IsOpen reports whether the task is still Created or InProgress.
func IsOpen(t *state.Task) bool {
	return t.Status == state.TaskStatusCreated || t.Status == state.TaskStatusInProgress
}

// CanModify allows reward top-ups and no-op updates by the creator while the
// task is open.
func CanModify(t *state.Task, who solana.PublicKey) bool {
	return IsCreator(t, who) && IsOpen(t)
}

func CanAssign(t *state.Task, who solana.PublicKey) bool {
	return IsCreator(t, who) && IsOpen(t)
}

// CanInitiateDecrease only allows decreases before anyone is assigned.
func CanInitiateDecrease(t *state.Task, who solana.PublicKey) bool {
	return IsCreator(t, who) && t.Status == state.TaskStatusCreated
}

func CanExecuteDecrease(t *state.Task, now int64) bool {
	unlock, ok := t.DecreaseUnlocksAt()
	return ok && now >= unlock
}

// CanComplete requires an open task with at least one assignee.
func CanComplete(t *state.Task) bool {
	return IsOpen(t) && len(t.Assignees) > 0
}

func IsAssignee(t *state.Task, who solana.PublicKey) bool {
	return solana.PublicKeySlice(t.Assignees).Contains(who)
}

func HasClaimed(t *state.Task, who solana.PublicKey) bool {
	return solana.PublicKeySlice(t.ClaimedAssignees).Contains(who)
}

func CanClaim(t *state.Task, who solana.PublicKey) bool {
	return t.Status == state.TaskStatusCompleted && IsAssignee(t, who) && !HasClaimed(t, who)
}

func CanCancel(t *state.Task, who solana.PublicKey) bool {
	return IsCreator(t, who) && !t.Status.Terminal()
}

// CanCloseAccount is true once a completed task has paid every assignee.
func CanCloseAccount(t *state.Task) bool {
	return t.Status == state.TaskStatusCompleted && len(t.ClaimedAssignees) == len(t.Assignees)
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Statuses never regress and terminal statuses never change.
func CanTransition(from, to state.TaskStatus) bool {
	switch from {
	case state.TaskStatusCreated:
		return to == state.TaskStatusInProgress || to == state.TaskStatusCompleted || to == state.TaskStatusCancelled
	case state.TaskStatusInProgress:
		return to == state.TaskStatusCompleted || to == state.TaskStatusCancelled
	default:
		return false
	}
}

func CanAdministerFaucet(f *state.Faucet, who solana.PublicKey) bool {
	return f.Admin.Equals(who)
}

// CooldownElapsed is true for a first request or once the faucet's cooldown
// has passed since the last one.
func CooldownElapsed(r *state.UserRequestRecord, f *state.Faucet, now int64) bool {
	if r == nil || r.LastRequest <= 0 {
		return true
	}
	since, err := arith.SubI64(now, r.LastRequest)
	if err != nil {
		return false
	}
	return since >= f.CooldownPeriod
}
