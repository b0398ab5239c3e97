package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

// ScheduledTask is a durable one-shot or recurring unit of background work.
type ScheduledTask struct {
	ID              uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Kind            string                    `gorm:"column:kind;not null"`
	Payload         json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	RunAt           time.Time                 `gorm:"column:run_at;not null"`
	IntervalSeconds *int64                    `gorm:"column:interval_seconds"`
	DedupeKey       *string                   `gorm:"column:dedupe_key"`
	Status          enums.ScheduledTaskStatus `gorm:"column:status;type:scheduled_task_status;not null"`
	AttemptCount    int                       `gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts     int                       `gorm:"column:max_attempts;not null"`
	LockedUntil     *time.Time                `gorm:"column:locked_until"`
	LastError       *string                   `gorm:"column:last_error"`
	CreatedAt       time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *ScheduledTask) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// Recurring reports whether the task re-arms after success.
func (t ScheduledTask) Recurring() bool {
	return t.IntervalSeconds != nil && *t.IntervalSeconds > 0
}
