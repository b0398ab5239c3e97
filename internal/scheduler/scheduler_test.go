package scheduler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/db/dbtest"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

type fixture struct {
	db     *gorm.DB
	repo   Repository
	sched  *Scheduler
	worker *Worker
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:  dbtest.Open(t),
		now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.repo = NewRepository(f.db)

	sched, err := NewScheduler(f.repo, 3, clock)
	require.NoError(t, err)
	f.sched = sched

	worker, err := NewWorker(WorkerParams{
		Repo:   f.repo,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Config: WorkerConfig{BatchSize: 10, Lease: time.Minute, MaxBackoff: time.Minute},
		Now:    clock,
	})
	require.NoError(t, err)
	worker.jitter = func(d time.Duration) time.Duration { return d }
	f.worker = worker
	return f
}

func (f *fixture) load(t *testing.T, task *models.ScheduledTask) models.ScheduledTask {
	t.Helper()
	var row models.ScheduledTask
	require.NoError(t, f.db.Where("id = ?", task.ID).First(&row).Error)
	return row
}

func TestScheduleOnceDedupe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sched.ScheduleOnce(ctx, time.Hour, "appointment.reminder", map[string]string{"type": "24h"}, WithDedupeKey("reminder:a:24h"))
	require.NoError(t, err)
	assert.True(t, first.RunAt.Equal(f.now.Add(time.Hour)))
	assert.Equal(t, enums.ScheduledTaskPending, first.Status)
	assert.Equal(t, 3, first.MaxAttempts)

	second, err := f.sched.ScheduleOnce(ctx, 2*time.Hour, "appointment.reminder", nil, WithDedupeKey("reminder:a:24h"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Model(&models.ScheduledTask{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestScheduleWithTxRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.sched.ScheduleOnce(ctx, 0, "appointment.settle", nil, WithTx(tx)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, f.db.Model(&models.ScheduledTask{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.ScheduleOnce(ctx, 0, "  ", nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.sched.ScheduleRecurring(ctx, 10*time.Millisecond, "scheduler.purge", nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	task, err := f.sched.ScheduleRecurring(ctx, time.Hour, PurgeKind, PurgePayload(24*time.Hour), WithMaxAttempts(5))
	require.NoError(t, err)
	require.True(t, task.Recurring())
	assert.EqualValues(t, 3600, *task.IntervalSeconds)
	assert.Equal(t, 5, task.MaxAttempts)
	assert.JSONEq(t, `{"retention_hours":24}`, string(task.Payload))
}

func TestWorkerMarksDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen atomic.Int32
	require.NoError(t, f.worker.Register("noop", HandlerFunc(func(_ context.Context, task Task) error {
		seen.Add(1)
		if task.Attempt != 1 {
			t.Errorf("attempt = %d, want 1", task.Attempt)
		}
		return nil
	})))

	task, err := f.sched.ScheduleOnce(ctx, 0, "noop", nil)
	require.NoError(t, err)
	later, err := f.sched.ScheduleOnce(ctx, time.Hour, "noop", nil)
	require.NoError(t, err)

	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, seen.Load())
	assert.Equal(t, enums.ScheduledTaskDone, f.load(t, task).Status)
	assert.Equal(t, enums.ScheduledTaskPending, f.load(t, later).Status)

	n, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkerRearmsRecurring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.worker.Register("tick", HandlerFunc(func(context.Context, Task) error { return nil })))

	task, err := f.sched.ScheduleRecurring(ctx, time.Minute, "tick", nil)
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	row := f.load(t, task)
	assert.Equal(t, enums.ScheduledTaskPending, row.Status)
	assert.True(t, row.RunAt.Equal(f.now.Add(time.Minute)), "run_at = %s", row.RunAt)
	assert.Nil(t, row.LockedUntil)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.worker.Register("flaky", HandlerFunc(func(context.Context, Task) error {
		return errors.New("smtp unavailable")
	})))

	task, err := f.sched.ScheduleOnce(ctx, 0, "flaky", nil)
	require.NoError(t, err)

	for attempt := 1; attempt < 3; attempt++ {
		n, err := f.worker.RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		row := f.load(t, task)
		require.Equal(t, enums.ScheduledTaskPending, row.Status)
		require.Equal(t, attempt, row.AttemptCount)
		require.NotNil(t, row.LastError)
		assert.Equal(t, "smtp unavailable", *row.LastError)
		assert.True(t, row.RunAt.Equal(f.now.Add(backoffFor(attempt, time.Minute))))

		f.now = row.RunAt
	}

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	row := f.load(t, task)
	assert.Equal(t, enums.ScheduledTaskDead, row.Status)
	assert.Equal(t, 3, row.AttemptCount)
}

func TestWorkerNonRetryableDeadLettersImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.worker.Register("integrity", HandlerFunc(func(context.Context, Task) error {
		return pkgerrors.New(pkgerrors.CodeDataIntegrity, "hold already released")
	})))
	require.NoError(t, f.worker.Register("bad", HandlerFunc(func(_ context.Context, task Task) error {
		var dst struct{ ID int }
		return task.Decode(&dst)
	})))

	integrity, err := f.sched.ScheduleOnce(ctx, 0, "integrity", nil)
	require.NoError(t, err)
	bad, err := f.sched.ScheduleOnce(ctx, 0, "bad", map[string]string{"ID": "not-a-number"})
	require.NoError(t, err)
	unknown, err := f.sched.ScheduleOnce(ctx, 0, "unregistered", nil)
	require.NoError(t, err)

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)

	for _, task := range []*models.ScheduledTask{integrity, bad, unknown} {
		row := f.load(t, task)
		assert.Equal(t, enums.ScheduledTaskDead, row.Status, task.Kind)
		assert.Equal(t, 1, row.AttemptCount, task.Kind)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.worker.Register("panics", HandlerFunc(func(context.Context, Task) error {
		panic("nil map")
	})))

	task, err := f.sched.ScheduleOnce(ctx, 0, "panics", nil)
	require.NoError(t, err)

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	row := f.load(t, task)
	assert.Equal(t, enums.ScheduledTaskPending, row.Status)
	assert.Equal(t, 1, row.AttemptCount)
}

func TestClaimDueSkipsLeasedTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.ScheduleOnce(ctx, 0, "noop", nil)
	require.NoError(t, err)

	claimed, err := f.repo.ClaimDue(ctx, f.now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := f.repo.ClaimDue(ctx, f.now.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// lease expired: the task is delivered again
	expired, err := f.repo.ClaimDue(ctx, f.now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, expired, 1)
}

func TestOutcomeRequiresCurrentLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.sched.ScheduleOnce(ctx, 0, "noop", nil)
	require.NoError(t, err)
	first, err := f.repo.ClaimDue(ctx, f.now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := f.repo.ClaimDue(ctx, f.now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)

	stale := *first[0].LockedUntil
	require.ErrorIs(t, f.repo.MarkDone(ctx, task.ID, stale), ErrLeaseLost)
	require.ErrorIs(t, f.repo.MarkDead(ctx, task.ID, stale, 1, errors.New("late")), ErrLeaseLost)
	row := f.load(t, task)
	assert.Equal(t, enums.ScheduledTaskPending, row.Status)
	assert.Zero(t, row.AttemptCount)

	cause := errors.New(strings.Repeat("a", maxTaskErrorLen-1) + "é…")
	require.NoError(t, f.repo.MarkRetry(ctx, task.ID, *second[0].LockedUntil, 1, f.now.Add(time.Hour), cause))
	row = f.load(t, task)
	assert.Equal(t, 1, row.AttemptCount)
	assert.Nil(t, row.LockedUntil)
	require.NotNil(t, row.LastError)
	assert.True(t, utf8.ValidString(*row.LastError))
	assert.LessOrEqual(t, len(*row.LastError), maxTaskErrorLen)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	msg := truncate(errors.New(strings.Repeat("a", maxTaskErrorLen-1) + "é…"))
	require.NotNil(t, msg)
	assert.True(t, utf8.ValidString(*msg))
	assert.Equal(t, strings.Repeat("a", maxTaskErrorLen-1), *msg)

	short := truncate(errors.New("smtp unavailable"))
	assert.Equal(t, "smtp unavailable", *short)
	assert.Nil(t, truncate(nil))
}

func TestWorkerOverrunLeavesOutcomeToNewOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var reclaimed []models.ScheduledTask
	require.NoError(t, f.worker.Register("slow", HandlerFunc(func(ctx context.Context, _ Task) error {
		// another worker picks the task up after this lease lapses
		var err error
		reclaimed, err = f.repo.ClaimDue(ctx, f.now.Add(2*time.Minute), time.Minute, 10)
		return err
	})))

	task, err := f.sched.ScheduleOnce(ctx, 0, "slow", nil)
	require.NoError(t, err)
	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, reclaimed, 1)

	row := f.load(t, task)
	assert.Equal(t, enums.ScheduledTaskPending, row.Status)
	require.NotNil(t, row.LockedUntil)
	assert.True(t, row.LockedUntil.Equal(*reclaimed[0].LockedUntil))

	require.NoError(t, f.repo.MarkDone(ctx, task.ID, *reclaimed[0].LockedUntil))
	assert.Equal(t, enums.ScheduledTaskDone, f.load(t, task).Status)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	h := HandlerFunc(func(context.Context, Task) error { return nil })
	require.NoError(t, f.worker.Register("k", h))
	require.Error(t, f.worker.Register("k", h))
	require.Error(t, f.worker.Register("", h))
}

func TestPurgeHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.sched.ScheduleOnce(ctx, 0, "noop", nil)
	require.NoError(t, err)
	dead, err := f.sched.ScheduleOnce(ctx, 0, "noop", nil)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.ScheduledTask{}).Where("id = ?", old.ID).
		Updates(map[string]any{"status": enums.ScheduledTaskDone, "updated_at": f.now.Add(-48 * time.Hour)}).Error)
	require.NoError(t, f.db.Model(&models.ScheduledTask{}).Where("id = ?", dead.ID).
		Updates(map[string]any{"status": enums.ScheduledTaskDead, "updated_at": f.now.Add(-48 * time.Hour)}).Error)

	handler := NewPurgeHandler(f.repo, nil, func() time.Time { return f.now })
	require.NoError(t, handler.Handle(ctx, Task{Kind: PurgeKind, Payload: []byte(`{"retention_hours":24}`)}))

	var remaining []models.ScheduledTask
	require.NoError(t, f.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, dead.ID, remaining[0].ID)

	err = handler.Handle(ctx, Task{Kind: PurgeKind, Payload: []byte(`{}`)})
	assert.True(t, IsNonRetryable(err))
}
