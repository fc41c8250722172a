package state

import (
	"bytes"
	"math"
	"strings"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask() *Task {
	return &Task{
		TaskID:       "task-1",
		RewardAmount: 500,
		Status:       TaskStatusCreated,
		Creator:      solana.NewWallet().PublicKey(),
		Escrow:       solana.NewWallet().PublicKey(),
		CreatedAt:    1_700_000_000,
		UpdatedAt:    1_700_000_000,
		Bump:         254,
	}
}

// encodeSingleAssignee writes a task in the original single-assignee layout.
func encodeSingleAssignee(t *testing.T, task *Task, assignee *solana.PublicKey) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	_, err := enc.Write(bin.SighashAccount("Task"))
	require.NoError(t, err)
	require.NoError(t, enc.WriteString(task.TaskID))
	require.NoError(t, enc.WriteUint64(task.RewardAmount, bin.LE))
	require.NoError(t, enc.WriteUint8(uint8(task.Status)))
	require.NoError(t, writeKey(enc, task.Creator))
	require.NoError(t, writeKey(enc, task.Escrow))
	require.NoError(t, enc.WriteOption(assignee != nil))
	if assignee != nil {
		require.NoError(t, writeKey(enc, *assignee))
	}
	require.NoError(t, enc.WriteInt64(task.CreatedAt, bin.LE))
	require.NoError(t, enc.WriteInt64(task.UpdatedAt, bin.LE))
	require.NoError(t, writeOptionU64(enc, task.PendingDecrease))
	require.NoError(t, writeOptionI64(enc, task.DecreaseRequestedAt))
	require.NoError(t, enc.WriteUint8(task.Bump))
	return buf.Bytes()
}

func TestState_Task_Codec(t *testing.T) {
	t.Parallel()

	t.Run("fits the allocated size at capacity", func(t *testing.T) {
		t.Parallel()
		task := newTask()
		task.TaskID = strings.Repeat("a", MaxTaskIDLen)
		for range MaxAssignees {
			task.Assignees = append(task.Assignees, solana.NewWallet().PublicKey())
		}
		task.ClaimedAssignees = append([]solana.PublicKey(nil), task.Assignees...)
		task.RequestDecrease(300, 1_700_000_100)

		data, err := EncodeTask(task)
		require.NoError(t, err)
		assert.Equal(t, TaskSize, len(data))

		got, err := DecodeTask(data)
		require.NoError(t, err)
		assert.Equal(t, TaskLayoutMultiAssignee, got.Layout)
		assert.Equal(t, task.Assignees, got.Assignees)
		require.NotNil(t, got.PendingDecrease)
		assert.Equal(t, uint64(300), *got.PendingDecrease)
		assert.Equal(t, int64(1_700_000_100), *got.DecreaseRequestedAt)
	})

	t.Run("upgrades the single-assignee layout", func(t *testing.T) {
		t.Parallel()
		task := newTask()
		task.Status = TaskStatusInProgress
		assignee := solana.NewWallet().PublicKey()

		got, err := DecodeTask(encodeSingleAssignee(t, task, &assignee))
		require.NoError(t, err)
		assert.Equal(t, TaskLayoutSingleAssignee, got.Layout)
		assert.Equal(t, []solana.PublicKey{assignee}, got.Assignees)
		assert.Empty(t, got.ClaimedAssignees)
		assert.Equal(t, TaskStatusInProgress, got.Status)

		data, err := EncodeTask(got)
		require.NoError(t, err)
		again, err := DecodeTask(data)
		require.NoError(t, err)
		assert.Equal(t, TaskLayoutMultiAssignee, again.Layout)
		assert.Equal(t, got.Assignees, again.Assignees)
	})

	t.Run("single-assignee layout without an assignee", func(t *testing.T) {
		t.Parallel()
		got, err := DecodeTask(encodeSingleAssignee(t, newTask(), nil))
		require.NoError(t, err)
		assert.Empty(t, got.Assignees)
	})

	t.Run("rejects unknown discriminators", func(t *testing.T) {
		t.Parallel()
		data, err := EncodeFaucet(&Faucet{Seed: "f", RateLimit: 1})
		require.NoError(t, err)
		_, err = DecodeTask(data)
		require.ErrorIs(t, err, ErrUnknownLayout)
		_, err = DecodeTask([]byte{1, 2})
		require.ErrorIs(t, err, ErrUnknownLayout)
	})

	t.Run("rejects truncated records", func(t *testing.T) {
		t.Parallel()
		data, err := EncodeTask(newTask())
		require.NoError(t, err)
		_, err = DecodeTask(data[:len(data)-5])
		require.Error(t, err)
	})

	t.Run("refuses to encode a broken invariant", func(t *testing.T) {
		t.Parallel()
		task := newTask()
		task.Assignees = []solana.PublicKey{task.Creator}
		_, err := EncodeTask(task)
		require.ErrorContains(t, err, "creator is an assignee")
	})
}

func TestState_Task_Validate(t *testing.T) {
	t.Parallel()

	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr string
	}{
		{"valid", func(*Task) {}, ""},
		{"pending amount without time", func(t *Task) { v := uint64(1); t.PendingDecrease = &v }, "set together"},
		{"pending time without amount", func(t *Task) { v := int64(1); t.DecreaseRequestedAt = &v }, "set together"},
		{"duplicate assignee", func(t *Task) { t.Assignees = []solana.PublicKey{a, a} }, "duplicate assignee"},
		{"duplicate claimant", func(t *Task) {
			t.Assignees = []solana.PublicKey{a, b}
			t.ClaimedAssignees = []solana.PublicKey{a, a}
		}, "duplicate claimant"},
		{"claimant not assigned", func(t *Task) {
			t.Assignees = []solana.PublicKey{a}
			t.ClaimedAssignees = []solana.PublicKey{b}
		}, "is not an assignee"},
		{"too many assignees", func(t *Task) {
			for range MaxAssignees + 1 {
				t.Assignees = append(t.Assignees, solana.NewWallet().PublicKey())
			}
		}, "exceeds"},
		{"invalid status", func(t *Task) { t.Status = TaskStatus(9) }, "invalid status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			task := newTask()
			tt.mutate(task)
			err := task.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestState_Task_Decrease(t *testing.T) {
	t.Parallel()

	task := newTask()
	_, ok := task.DecreaseUnlocksAt()
	assert.False(t, ok)

	task.RequestDecrease(300, 1_700_000_000)
	assert.True(t, task.HasPendingDecrease())
	unlock, ok := task.DecreaseUnlocksAt()
	require.True(t, ok)
	assert.Equal(t, int64(1_700_000_000+6*3600), unlock)
	assert.Equal(t, uint64(500), task.RewardAmount)

	late := newTask()
	late.RequestDecrease(1, math.MaxInt64-10)
	unlock2, ok := late.DecreaseUnlocksAt()
	require.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), unlock2, "overflowing lock saturates")

	task.ExecuteDecrease(unlock)
	assert.False(t, task.HasPendingDecrease())
	assert.Equal(t, uint64(300), task.RewardAmount)
	assert.Equal(t, unlock, task.UpdatedAt)

	task.RequestDecrease(100, unlock+1)
	task.CancelDecrease(unlock + 2)
	assert.False(t, task.HasPendingDecrease())
	assert.Equal(t, uint64(300), task.RewardAmount)
}

func TestState_TaskStatus_Text(t *testing.T) {
	t.Parallel()

	for _, s := range []TaskStatus{TaskStatusCreated, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got TaskStatus
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.False(t, TaskStatusInProgress.Terminal())

	var s TaskStatus
	require.Error(t, s.UnmarshalText([]byte("done")))
	_, err := TaskStatus(7).MarshalText()
	require.Error(t, err)
}

func TestState_Faucet_Codec(t *testing.T) {
	t.Parallel()

	f := &Faucet{
		Seed:           strings.Repeat("s", MaxFaucetSeedLen),
		Mint:           solana.NewWallet().PublicKey(),
		Authority:      solana.NewWallet().PublicKey(),
		Pool:           solana.NewWallet().PublicKey(),
		Admin:          solana.NewWallet().PublicKey(),
		RateLimit:      1_000_000_000,
		CooldownPeriod: 86400,
		Bump:           253,
	}
	require.NoError(t, f.Validate())

	data, err := EncodeFaucet(f)
	require.NoError(t, err)
	assert.Equal(t, FaucetSize, len(data))

	got, err := DecodeFaucet(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = DecodeUserRequestRecord(data)
	require.ErrorIs(t, err, ErrUnknownLayout)

	require.Error(t, (&Faucet{}).Validate())
}

func TestState_UserRequestRecord_Codec(t *testing.T) {
	t.Parallel()

	r := &UserRequestRecord{
		User:          solana.NewWallet().PublicKey(),
		LastRequest:   1_700_000_000,
		TotalReceived: 500,
		RequestCount:  1,
		Bump:          255,
	}
	data, err := EncodeUserRequestRecord(r)
	require.NoError(t, err)
	assert.Equal(t, UserRequestRecordSize, len(data))

	got, err := DecodeUserRequestRecord(data)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}
