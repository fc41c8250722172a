package task

import "github.com/malbeclabs/escrow/ledger/pkg/failure"

var (
	ErrTaskIDTooLong         = failure.New(failure.ClassValidation, "TaskIdTooLong", "task id exceeds 50 bytes")
	ErrInvalidTaskIDFormat   = failure.New(failure.ClassValidation, "InvalidTaskIdFormat", "task id may only contain letters, digits, underscores and hyphens")
	ErrInvalidRewardAmount   = failure.New(failure.ClassValidation, "InvalidRewardAmount", "reward amount must be greater than zero")
	ErrNoAssignees           = failure.New(failure.ClassValidation, "NoAssignees", "no assignees given")
	ErrCannotAssignToCreator = failure.New(failure.ClassValidation, "CannotAssignToCreator", "the creator cannot be assigned to their own task")
	ErrDuplicateAssignee     = failure.New(failure.ClassValidation, "DuplicateAssignee", "assignee is already on the task")
	ErrTooManyAssignees      = failure.New(failure.ClassValidation, "TooManyAssignees", "a task has at most 10 assignees")

	ErrUnauthorizedCreator  = failure.New(failure.ClassAuthorization, "UnauthorizedTaskCreator", "signer is not the task creator")
	ErrUnauthorizedAssignee = failure.New(failure.ClassAuthorization, "UnauthorizedAssignee", "signer is not an assignee of the task")

	ErrInvalidTaskStatus      = failure.New(failure.ClassState, "InvalidTaskStatus", "operation is not allowed in the task's status")
	ErrNoAssignee             = failure.New(failure.ClassState, "NoAssignee", "task has no assignee")
	ErrAlreadyClaimed         = failure.New(failure.ClassState, "AlreadyClaimed", "assignee has already claimed")
	ErrDecreaseInvalidStatus  = failure.New(failure.ClassState, "CannotDecreaseRewardInvalidStatus", "reward can only be decreased before the task is assigned")
	ErrNoPendingDecrease      = failure.New(failure.ClassState, "NoPendingDecrease", "task has no pending reward decrease")
	ErrTaskExists             = failure.New(failure.ClassState, "TaskAlreadyExists", "creator already has a task with this id")
	ErrClaimsOutstanding      = failure.New(failure.ClassState, "ClaimsOutstanding", "not every assignee has claimed")
	ErrInsufficientBalance    = failure.New(failure.ClassBalance, "InsufficientBalance", "creator balance is too low")
	ErrInsufficientEscrow     = failure.New(failure.ClassBalance, "InsufficientEscrowBalance", "escrow balance is too low")
	ErrDecreaseTimeLockNotMet = failure.New(failure.ClassTemporal, "DecreaseTimeLockNotMet", "decrease time lock has not elapsed")
	ErrTaskNotFound           = failure.New(failure.ClassNotFound, "TaskNotFound", "task does not exist")
)
