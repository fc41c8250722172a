package handlers

import (
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/escrow/escrow/pkg/state"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
)

type TaskResponse struct {
	ID                  string             `json:"id"`
	Creator             solana.PublicKey   `json:"creator"`
	Reward              uint64             `json:"reward"`
	Status              state.TaskStatus   `json:"status"`
	Escrow              solana.PublicKey   `json:"escrow"`
	EscrowBalance       uint64             `json:"escrow_balance"`
	Assignees           []solana.PublicKey `json:"assignees"`
	ClaimedAssignees    []solana.PublicKey `json:"claimed_assignees"`
	CreatedAt           int64              `json:"created_at"`
	UpdatedAt           int64              `json:"updated_at"`
	PendingDecrease     *uint64            `json:"pending_decrease,omitempty"`
	DecreaseRequestedAt *int64             `json:"decrease_requested_at,omitempty"`
	DecreaseUnlocksAt   *int64             `json:"decrease_unlocks_at,omitempty"`
}

type CreateTaskRequest struct {
	ID     string `json:"id"`
	Reward uint64 `json:"reward"`
}

type AssignTaskRequest struct {
	Assignees []solana.PublicKey `json:"assignees"`
}

type UpdateTaskStatusRequest struct {
	Status state.TaskStatus `json:"status"`
}

type UpdateTaskRewardRequest struct {
	Amount uint64 `json:"amount"`
}

// AmountResponse reports tokens moved by claims, cancellations and executed
// decreases.
type AmountResponse struct {
	Amount uint64 `json:"amount"`
}

type CloseTaskResponse struct {
	Remainder uint64 `json:"remainder"`
	Refunded  uint64 `json:"refunded"`
}

func (a *API) taskResponse(r *http.Request, t *state.Task) (TaskResponse, error) {
	balance, err := a.tasks.EscrowBalance(r.Context(), t.Ref())
	if err != nil {
		return TaskResponse{}, err
	}
	resp := TaskResponse{
		ID:                  t.TaskID,
		Creator:             t.Creator,
		Reward:              t.RewardAmount,
		Status:              t.Status,
		Escrow:              t.Escrow,
		EscrowBalance:       balance,
		Assignees:           t.Assignees,
		ClaimedAssignees:    t.ClaimedAssignees,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
		PendingDecrease:     t.PendingDecrease,
		DecreaseRequestedAt: t.DecreaseRequestedAt,
	}
	if at, ok := t.DecreaseUnlocksAt(); ok {
		resp.DecreaseUnlocksAt = &at
	}
	return resp, nil
}

func (a *API) writeTask(w http.ResponseWriter, r *http.Request, status int, t *state.Task) {
	resp, err := a.taskResponse(r, t)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

func taskRef(r *http.Request) (state.TaskRef, error) {
	creator, err := identity.Parse(chi.URLParam(r, "creator"))
	if err != nil {
		return state.TaskRef{}, err
	}
	return state.TaskRef{Creator: creator, ID: chi.URLParam(r, "id")}, nil
}

// taskHandler adapts an engine call addressed by the task in the URL.
func (a *API) taskHandler(op string, call func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := taskRef(r)
		if err != nil {
			writeBadRequest(w, r, err.Error())
			return
		}
		var out any
		err = a.invoke(r.Context(), op, func() (err error) {
			out, err = call(r, a.signer(r), ref)
			return err
		})
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if t, ok := out.(*state.Task); ok {
			a.writeTask(w, r, http.StatusOK, t)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetTask handles GET /tasks/{creator}/{id}.
func (a *API) GetTask(w http.ResponseWriter, r *http.Request) {
	ref, err := taskRef(r)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	t, err := a.tasks.Get(r.Context(), ref)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeTask(w, r, http.StatusOK, t)
}

// CreateTask handles POST /tasks. The signer is the creator and funds the
// escrow.
func (a *API) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	var t *state.Task
	err := a.invoke(r.Context(), "task_create", func() (err error) {
		t, err = a.tasks.Create(r.Context(), a.signer(r), req.ID, req.Reward)
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeTask(w, r, http.StatusCreated, t)
}

// AssignTask handles POST /tasks/{creator}/{id}/assignees.
func (a *API) AssignTask(w http.ResponseWriter, r *http.Request) {
	var req AssignTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	a.taskHandler("task_assign", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		if len(req.Assignees) == 1 {
			return a.tasks.Assign(r.Context(), caller, ref, req.Assignees[0])
		}
		return a.tasks.AssignMultiple(r.Context(), caller, ref, req.Assignees)
	})(w, r)
}

// UpdateTaskStatus handles POST /tasks/{creator}/{id}/status.
func (a *API) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	a.taskHandler("task_update_status", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		return a.tasks.UpdateStatus(r.Context(), caller, ref, req.Status)
	})(w, r)
}

// CompleteTask handles POST /tasks/{creator}/{id}/complete.
func (a *API) CompleteTask(w http.ResponseWriter, r *http.Request) {
	a.taskHandler("task_complete", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		return a.tasks.Complete(r.Context(), caller, ref)
	})(w, r)
}

// ClaimReward handles POST /tasks/{creator}/{id}/claim.
func (a *API) ClaimReward(w http.ResponseWriter, r *http.Request) {
	a.taskHandler("task_claim", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		share, err := a.tasks.Claim(r.Context(), caller, ref)
		return AmountResponse{Amount: share}, err
	})(w, r)
}

// CloseTask handles POST /tasks/{creator}/{id}/close.
func (a *API) CloseTask(w http.ResponseWriter, r *http.Request) {
	a.taskHandler("task_close", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		res, err := a.tasks.Close(r.Context(), caller, ref)
		return CloseTaskResponse{Remainder: res.Remainder, Refunded: res.Refunded}, err
	})(w, r)
}

// CancelTask handles POST /tasks/{creator}/{id}/cancel.
func (a *API) CancelTask(w http.ResponseWriter, r *http.Request) {
	a.taskHandler("task_cancel", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		refunded, err := a.tasks.Cancel(r.Context(), caller, ref)
		return AmountResponse{Amount: refunded}, err
	})(w, r)
}

// DeleteTask handles DELETE /tasks/{creator}/{id}.
func (a *API) DeleteTask(w http.ResponseWriter, r *http.Request) {
	a.taskHandler("task_delete", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		refunded, err := a.tasks.Delete(r.Context(), caller, ref)
		return AmountResponse{Amount: refunded}, err
	})(w, r)
}

// UpdateTaskReward handles PUT /tasks/{creator}/{id}/reward.
func (a *API) UpdateTaskReward(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskRewardRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	a.taskHandler("task_update_reward", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		return a.tasks.UpdateReward(r.Context(), caller, ref, req.Amount)
	})(w, r)
}

// ExecutePendingDecrease handles POST /tasks/{creator}/{id}/reward/decrease/execute.
func (a *API) ExecutePendingDecrease(w http.ResponseWriter, r *http.Request) {
	a.taskHandler("task_execute_decrease", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		refunded, err := a.tasks.ExecutePendingDecrease(r.Context(), caller, ref)
		return AmountResponse{Amount: refunded}, err
	})(w, r)
}

// CancelPendingDecrease handles DELETE /tasks/{creator}/{id}/reward/decrease.
func (a *API) CancelPendingDecrease(w http.ResponseWriter, r *http.Request) {
	a.taskHandler("task_cancel_decrease", func(r *http.Request, caller solana.PublicKey, ref state.TaskRef) (any, error) {
		return a.tasks.CancelPendingDecrease(r.Context(), caller, ref)
	})(w, r)
}
