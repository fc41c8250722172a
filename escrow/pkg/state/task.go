package state

import (
	"errors"
	"fmt"
	"math"
	"slices"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/escrow/ledger/pkg/arith"
)

const (
	MaxTaskIDLen = 50
	MaxAssignees = 10

	// DecreaseTimeLock is the delay in seconds between requesting and
	// executing a reward decrease.
	DecreaseTimeLock int64 = 6 * 60 * 60

	TaskSize = discriminatorLen +
		4 + MaxTaskIDLen + // task_id
		8 + // reward_amount
		1 + // status
		32 + 32 + // creator, escrow
		4 + 32*MaxAssignees + // assignees
		4 + 32*MaxAssignees + // claimed_assignees
		8 + 8 + // created_at, updated_at
		1 + 8 + // pending_decrease_amount
		1 + 8 + // decrease_requested_at
		1 // bump
)

// Layout versions of the task record.
const (
	TaskLayoutSingleAssignee uint8 = 1
	TaskLayoutMultiAssignee  uint8 = 2
)

// TaskRef addresses a task: ids are unique per creator.
type TaskRef struct {
	Creator solana.PublicKey
	ID      string
}

func (r TaskRef) String() string {
	return r.Creator.String() + "/" + r.ID
}

type Task struct {
	TaskID              string
	RewardAmount        uint64
	Status              TaskStatus
	Creator             solana.PublicKey
	Escrow              solana.PublicKey
	Assignees           []solana.PublicKey
	ClaimedAssignees    []solana.PublicKey
	CreatedAt           int64
	UpdatedAt           int64
	PendingDecrease     *uint64
	DecreaseRequestedAt *int64
	Bump                uint8

	// Layout is the version the record was decoded from. Records are always
	// written in the multi-assignee layout.
	Layout uint8
}

func (t *Task) Ref() TaskRef {
	return TaskRef{Creator: t.Creator, ID: t.TaskID}
}

func (t *Task) HasPendingDecrease() bool {
	return t.PendingDecrease != nil && t.DecreaseRequestedAt != nil
}

// DecreaseUnlocksAt is the earliest time a pending decrease may execute. A
// request time too late to add the lock to never unlocks.
func (t *Task) DecreaseUnlocksAt() (int64, bool) {
	if !t.HasPendingDecrease() {
		return 0, false
	}
	at, err := arith.AddI64(*t.DecreaseRequestedAt, DecreaseTimeLock)
	if err != nil {
		return math.MaxInt64, true
	}
	return at, true
}

func (t *Task) Touch(now int64) {
	t.UpdatedAt = now
}

func (t *Task) SetStatus(status TaskStatus, now int64) {
	t.Status = status
	t.UpdatedAt = now
}

func (t *Task) RequestDecrease(amount uint64, now int64) {
	t.PendingDecrease = &amount
	t.DecreaseRequestedAt = &now
	t.UpdatedAt = now
}

// ExecuteDecrease applies the pending amount and clears the request.
func (t *Task) ExecuteDecrease(now int64) {
	if t.PendingDecrease != nil {
		t.RewardAmount = *t.PendingDecrease
	}
	t.CancelDecrease(now)
}

func (t *Task) CancelDecrease(now int64) {
	t.PendingDecrease = nil
	t.DecreaseRequestedAt = nil
	t.UpdatedAt = now
}

// Validate checks the structural invariants every persisted task holds.
func (t *Task) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("task %q: invalid status %d", t.TaskID, t.Status)
	}
	if (t.PendingDecrease == nil) != (t.DecreaseRequestedAt == nil) {
		return fmt.Errorf("task %q: pending decrease amount and request time must be set together", t.TaskID)
	}
	if len(t.Assignees) > MaxAssignees {
		return fmt.Errorf("task %q: %d assignees exceeds %d", t.TaskID, len(t.Assignees), MaxAssignees)
	}
	if hasDuplicates(t.Assignees) {
		return fmt.Errorf("task %q: duplicate assignee", t.TaskID)
	}
	if hasDuplicates(t.ClaimedAssignees) {
		return fmt.Errorf("task %q: duplicate claimant", t.TaskID)
	}
	if solana.PublicKeySlice(t.Assignees).Contains(t.Creator) {
		return fmt.Errorf("task %q: creator is an assignee", t.TaskID)
	}
	for _, c := range t.ClaimedAssignees {
		if !solana.PublicKeySlice(t.Assignees).Contains(c) {
			return fmt.Errorf("task %q: claimant %s is not an assignee", t.TaskID, c)
		}
	}
	return nil
}

func hasDuplicates(keys []solana.PublicKey) bool {
	for i := range keys {
		if slices.ContainsFunc(keys[i+1:], keys[i].Equals) {
			return true
		}
	}
	return false
}

func (t *Task) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteString(t.TaskID); err != nil {
		return err
	}
	if err := enc.WriteUint64(t.RewardAmount, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint8(uint8(t.Status)); err != nil {
		return err
	}
	if err := writeKey(enc, t.Creator); err != nil {
		return err
	}
	if err := writeKey(enc, t.Escrow); err != nil {
		return err
	}
	if err := writeKeys(enc, t.Assignees); err != nil {
		return err
	}
	if err := writeKeys(enc, t.ClaimedAssignees); err != nil {
		return err
	}
	if err := enc.WriteInt64(t.CreatedAt, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(t.UpdatedAt, bin.LE); err != nil {
		return err
	}
	if err := writeOptionU64(enc, t.PendingDecrease); err != nil {
		return err
	}
	if err := writeOptionI64(enc, t.DecreaseRequestedAt); err != nil {
		return err
	}
	return enc.WriteUint8(t.Bump)
}

func (t *Task) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = t.readHead(dec); err != nil {
		return err
	}
	if t.Assignees, err = readKeys(dec, MaxAssignees); err != nil {
		return err
	}
	if t.ClaimedAssignees, err = readKeys(dec, MaxAssignees); err != nil {
		return err
	}
	if err = t.readTail(dec); err != nil {
		return err
	}
	t.Layout = TaskLayoutMultiAssignee
	return nil
}

// unmarshalSingleAssignee reads the original layout, where a task had at
// most one assignee and no claim tracking.
func (t *Task) unmarshalSingleAssignee(dec *bin.Decoder) (err error) {
	if err = t.readHead(dec); err != nil {
		return err
	}
	some, err := dec.ReadOption()
	if err != nil {
		return err
	}
	t.Assignees = nil
	t.ClaimedAssignees = nil
	if some {
		a, err := readKey(dec)
		if err != nil {
			return err
		}
		t.Assignees = []solana.PublicKey{a}
	}
	if err = t.readTail(dec); err != nil {
		return err
	}
	t.Layout = TaskLayoutSingleAssignee
	return nil
}

func (t *Task) readHead(dec *bin.Decoder) (err error) {
	if t.TaskID, err = dec.ReadString(); err != nil {
		return err
	}
	if len(t.TaskID) > MaxTaskIDLen {
		return fmt.Errorf("task id of %d bytes exceeds %d", len(t.TaskID), MaxTaskIDLen)
	}
	if t.RewardAmount, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	status, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	t.Status = TaskStatus(status)
	if !t.Status.Valid() {
		return fmt.Errorf("invalid task status %d", status)
	}
	if t.Creator, err = readKey(dec); err != nil {
		return err
	}
	t.Escrow, err = readKey(dec)
	return err
}

func (t *Task) readTail(dec *bin.Decoder) (err error) {
	if t.CreatedAt, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	if t.UpdatedAt, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	if t.PendingDecrease, err = readOptionU64(dec); err != nil {
		return err
	}
	if t.DecreaseRequestedAt, err = readOptionI64(dec); err != nil {
		return err
	}
	t.Bump, err = dec.ReadUint8()
	return err
}

// EncodeTask always writes the multi-assignee layout.
func EncodeTask(t *Task) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return encode(taskV2Discriminator, t)
}

// DecodeTask reads either layout. Single-assignee records come back with
// Layout set to TaskLayoutSingleAssignee and are rewritten in the current
// layout the next time they are saved.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	dec, err := decoder(data, taskV2Discriminator)
	switch {
	case err == nil:
		err = t.UnmarshalWithDecoder(dec)
	case errors.Is(err, ErrUnknownLayout):
		if dec, err = decoder(data, taskV1Discriminator); err == nil {
			err = t.unmarshalSingleAssignee(dec)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &t, nil
}
