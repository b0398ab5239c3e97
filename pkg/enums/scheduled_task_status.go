package enums

import "fmt"

// ScheduledTaskStatus tracks where a durable task sits in its lifecycle.
type ScheduledTaskStatus string

const (
	ScheduledTaskPending ScheduledTaskStatus = "pending"
	ScheduledTaskDone    ScheduledTaskStatus = "done"
	ScheduledTaskDead    ScheduledTaskStatus = "dead"
)

var validScheduledTaskStatuses = []ScheduledTaskStatus{
	ScheduledTaskPending,
	ScheduledTaskDone,
	ScheduledTaskDead,
}

// IsValid reports whether the value is a known ScheduledTaskStatus.
func (v ScheduledTaskStatus) IsValid() bool {
	for _, candidate := range validScheduledTaskStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseScheduledTaskStatus converts raw input into ScheduledTaskStatus.
func ParseScheduledTaskStatus(value string) (ScheduledTaskStatus, error) {
	for _, candidate := range validScheduledTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid scheduled task status %q", value)
}
