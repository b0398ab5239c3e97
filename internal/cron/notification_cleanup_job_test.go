package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/herfa-app/herfa-backend/pkg/logger"
)

// batchedPurger hands out pending rows batch by batch.
type batchedPurger struct {
	pending int64
	cutoffs []time.Time
	failAt  int
}

func (p *batchedPurger) DeleteReadBefore(_ context.Context, cutoff time.Time, batch int) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	if p.failAt > 0 && len(p.cutoffs) == p.failAt {
		return 0, errors.New("statement timeout")
	}
	n := min(p.pending, int64(batch))
	p.pending -= n
	return n, nil
}

func cleanupJob(t *testing.T, purger *batchedPurger, retention time.Duration, batch int, now time.Time) *notificationCleanupJob {
	t.Helper()
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron", Output: io.Discard}),
		Repository: purger,
		Retention:  retention,
		BatchSize:  batch,
	})
	if err != nil {
		t.Fatalf("NewNotificationCleanupJob: %v", err)
	}
	cleanup := job.(*notificationCleanupJob)
	cleanup.now = func() time.Time { return now }
	return cleanup
}

func TestNotificationCleanupDrainsBacklogInBatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	purger := &batchedPurger{pending: 25}
	job := cleanupJob(t, purger, 0, 10, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(purger.cutoffs) != 3 || purger.pending != 0 {
		t.Fatalf("expected 3 batches draining everything, got %d batches and %d left", len(purger.cutoffs), purger.pending)
	}
	for _, cutoff := range purger.cutoffs {
		if !cutoff.Equal(now.Add(-30 * 24 * time.Hour)) {
			t.Fatalf("cutoff %s does not honour the 30 day default", cutoff)
		}
	}
}

func TestNotificationCleanupExactMultipleProbesOnce(t *testing.T) {
	purger := &batchedPurger{pending: 20}
	job := cleanupJob(t, purger, 48*time.Hour, 10, time.Now())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// two full batches, then an empty one ends the loop
	if len(purger.cutoffs) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(purger.cutoffs))
	}
}

func TestNotificationCleanupStopsOnError(t *testing.T) {
	purger := &batchedPurger{pending: 100, failAt: 2}
	job := cleanupJob(t, purger, 0, 10, time.Now())

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if purger.pending != 90 {
		t.Fatalf("expected only the first batch applied, %d left", purger.pending)
	}
}

func TestNotificationCleanupHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	purger := &batchedPurger{pending: 100}
	job := cleanupJob(t, purger, 0, 10, time.Now())

	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(purger.cutoffs) != 0 {
		t.Fatalf("no statement should run after cancellation")
	}
}

func TestNotificationCleanupRequiresDeps(t *testing.T) {
	if _, err := NewNotificationCleanupJob(NotificationCleanupJobParams{}); err == nil {
		t.Fatal("expected error without logger and repository")
	}
}
