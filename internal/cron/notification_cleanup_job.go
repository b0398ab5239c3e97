package cron

import (
	"context"
	"errors"
	"time"

	"github.com/herfa-app/herfa-backend/pkg/logger"
)

const (
	defaultNotificationRetention = 30 * 24 * time.Hour
	defaultNotificationBatch     = 500
)

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository readNotificationPurger
	Retention  time.Duration
	// BatchSize caps rows removed per statement.
	BatchSize int
}

type readNotificationPurger interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// NewNotificationCleanupJob purges read notifications past retention. Unread
// ones stay until the user reads or deletes them.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil || params.Repository == nil {
		return nil, errors.New("notification cleanup: logger and repository required")
	}
	job := &notificationCleanupJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultNotificationRetention
	}
	if job.batch <= 0 {
		job.batch = defaultNotificationBatch
	}
	return job, nil
}

type notificationCleanupJob struct {
	logg      *logger.Logger
	repo      readNotificationPurger
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

// Run deletes in batches until one comes back short so a large backlog never
// holds a long lock on the table.
func (j *notificationCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			j.report(ctx, cutoff, total, batches)
			return err
		}
		n, err := j.repo.DeleteReadBefore(ctx, cutoff, j.batch)
		if err != nil {
			j.report(ctx, cutoff, total, batches)
			return err
		}
		total += n
		batches++
		if n < int64(j.batch) {
			break
		}
	}
	j.report(ctx, cutoff, total, batches)
	return nil
}

func (j *notificationCleanupJob) report(ctx context.Context, cutoff time.Time, deleted int64, batches int) {
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"batches":      batches,
		"rows_deleted": deleted,
	}), "read notifications purged")
}
