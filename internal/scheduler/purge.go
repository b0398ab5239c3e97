package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/herfa-app/herfa-backend/pkg/logger"
)

// PurgeKind is the housekeeping task that drops finished rows.
const PurgeKind = "scheduler.purge"

// PurgeDedupeKey keeps a single recurring purge task across deploys.
const PurgeDedupeKey = "recurring:scheduler.purge"

type purgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// PurgePayload builds the payload for a purge task.
func PurgePayload(retention time.Duration) any {
	return purgePayload{RetentionHours: int(retention / time.Hour)}
}

// NewPurgeHandler deletes done tasks older than the retention carried in the payload.
func NewPurgeHandler(repo Repository, logg *logger.Logger, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return HandlerFunc(func(ctx context.Context, task Task) error {
		var payload purgePayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		if payload.RetentionHours <= 0 {
			return NonRetryable(fmt.Errorf("retention_hours must be positive"))
		}
		cutoff := now().UTC().Add(-time.Duration(payload.RetentionHours) * time.Hour)
		deleted, err := repo.PurgeFinishedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		if logg != nil && deleted > 0 {
			logg.Info(logg.WithField(ctx, "deleted", deleted), "purged finished tasks")
		}
		return nil
	})
}
