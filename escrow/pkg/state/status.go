package state

import "fmt"

// TaskStatus is the lifecycle position of a task. Completed and Cancelled
// are terminal.
type TaskStatus uint8

const (
	TaskStatusCreated TaskStatus = iota
	TaskStatusInProgress
	TaskStatusCompleted
	TaskStatusCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusCreated:
		return "created"
	case TaskStatusInProgress:
		return "in_progress"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s TaskStatus) Valid() bool {
	return s <= TaskStatusCancelled
}

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid task status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "created":
		*s = TaskStatusCreated
	case "in_progress":
		*s = TaskStatusInProgress
	case "completed":
		*s = TaskStatusCompleted
	case "cancelled":
		*s = TaskStatusCancelled
	default:
		return fmt.Errorf("invalid task status %q", b)
	}
	return nil
}
