package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/herfa-app/herfa-backend/internal/bootstrap"
	"github.com/herfa-app/herfa-backend/internal/cron"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/internal/settlement"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
)

const outboxRetentionSchedule = "30 3 * * *"

func main() {
	bootstrap.Main("cron-worker", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	core, err := rt.Core()
	if err != nil {
		return err
	}
	jobs, err := buildRegistry(rt, core)
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	locks, err := cron.NewRedisLockFactory(redisClient, rt.Config.Cron.LockTTL)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: jobs,
		Locks:    locks,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     rt.Config.Cron.Tick,
	})
	if err != nil {
		return err
	}
	rt.ServeMetrics(ctx)
	return service.Run(ctx)
}

func buildRegistry(rt *bootstrap.Runtime, core *bootstrap.Core) (*cron.Registry, error) {
	cfg, logg := rt.Config, rt.Logger

	sweep, err := settlement.NewExpiredHoldSweepJob(settlement.ExpiredHoldSweepJobParams{
		Logger:       logg,
		Appointments: core.Appointments,
		Notifier:     core.Notifier,
		HoldExpiry:   cfg.Settlement.HoldExpiry,
		BatchSize:    cfg.Settlement.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	cleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(rt.DB.DB()),
		Retention:  cfg.Cron.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          rt.DB,
		Outbox:      core.OutboxRepo,
		DeadLetters: outbox.NewDeadLetterStore(rt.DB.DB()),
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := settlement.NewLedgerReconcileJob(settlement.LedgerReconcileJobParams{
		Logger:   logg,
		Ledger:   core.Ledger,
		Lookback: cfg.Cron.LedgerReconcileLookback,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	schedules := []struct {
		job  cron.Job
		spec string
	}{
		{sweep, cfg.Settlement.SweepInterval.String()},
		{cleanup, cfg.Cron.NotificationCleanup},
		{retention, outboxRetentionSchedule},
		{reconcile, cfg.Cron.LedgerReconcile},
	}
	for _, s := range schedules {
		schedule, err := cron.ParseSchedule(s.spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.job.Name(), err)
		}
		registry.Register(s.job, schedule)
	}
	return registry, nil
}
