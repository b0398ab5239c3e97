package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/herfa-app/herfa-backend/internal/appointments"
	"github.com/herfa-app/herfa-backend/internal/bootstrap"
	"github.com/herfa-app/herfa-backend/internal/email"
	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/internal/settlement"
	"github.com/herfa-app/herfa-backend/internal/users"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/outbox/idempotency"
	"github.com/herfa-app/herfa-backend/pkg/pubsub"
)

func main() {
	bootstrap.Main("worker", func(ctx context.Context, rt *bootstrap.Runtime) error {
		service, err := buildService(ctx, rt)
		if err != nil {
			return err
		}
		rt.ServeMetrics(ctx)
		return service.Run(ctx)
	})
}

func buildService(ctx context.Context, rt *bootstrap.Runtime) (*Service, error) {
	cfg, logg := rt.Config, rt.Logger
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return nil, err
	}
	pubsubClient, err := rt.PubSub(ctx, pubsub.RoleSubscriber)
	if err != nil {
		return nil, err
	}
	core, err := rt.Core()
	if err != nil {
		return nil, err
	}
	feeRatio, err := ledger.ParseFeeRatio(cfg.Settlement.PlatformFeeRatio)
	if err != nil {
		return nil, err
	}
	mailer, err := email.NewDispatcher(core.Tasks, logg)
	if err != nil {
		return nil, err
	}
	directory := users.NewRepository(rt.DB.DB())

	worker, err := scheduler.NewWorker(scheduler.WorkerParams{
		Repo:    core.TaskRepo,
		Logger:  logg,
		Metrics: metrics.NewTaskMetrics(prometheus.DefaultRegisterer),
		Config: scheduler.WorkerConfig{
			BatchSize:    cfg.Scheduler.BatchSize,
			PollInterval: cfg.Scheduler.PollInterval,
			Lease:        cfg.Scheduler.Lease,
			MaxBackoff:   cfg.Scheduler.MaxBackoff,
		},
	})
	if err != nil {
		return nil, err
	}

	emailHandler, err := email.NewHandler(email.NewSender(cfg.SMTP, logg), email.DefaultTemplates(), logg)
	if err != nil {
		return nil, err
	}
	reminderHandler, err := settlement.NewReminderHandler(settlement.ReminderHandlerParams{
		Logger:       logg,
		Appointments: core.Appointments,
		Users:        directory,
		Notifier:     core.Notifier,
		Mailer:       mailer,
	})
	if err != nil {
		return nil, err
	}
	settleHandler, err := settlement.NewSettleHandler(settlement.SettleHandlerParams{
		Logger:       logg,
		Appointments: core.Appointments,
		Ledger:       core.Ledger,
		Users:        directory,
		Notifier:     core.Notifier,
		Mailer:       mailer,
		Tx:           rt.DB,
		Outbox:       core.Outbox,
		Metrics:      core.LedgerMetrics,
		FeeRatio:     feeRatio,
	})
	if err != nil {
		return nil, err
	}
	for kind, handler := range map[string]scheduler.Handler{
		email.SendKind:            emailHandler,
		appointments.ReminderKind: reminderHandler,
		appointments.SettleKind:   settleHandler,
		scheduler.PurgeKind:       scheduler.NewPurgeHandler(core.TaskRepo, logg, nil),
	} {
		if err := worker.Register(kind, handler); err != nil {
			return nil, err
		}
	}
	if _, err := core.Tasks.ScheduleRecurring(ctx, 24*time.Hour, scheduler.PurgeKind, scheduler.PurgePayload(purgeRetention),
		scheduler.WithDedupeKey(scheduler.PurgeDedupeKey)); err != nil {
		return nil, err
	}

	claims, err := idempotency.NewGuard(redisClient, notifications.NotificationConsumer, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return nil, err
	}
	consumer, err := notifications.NewConsumer(notifications.NewRepository(rt.DB.DB()), pubsubClient.NotificationSubscription(), claims, logg)
	if err != nil {
		return nil, err
	}

	return NewService(ServiceParams{
		Logger:   logg,
		Tasks:    worker,
		Consumer: consumer,
		Dependencies: map[string]pinger{
			"database": rt.DB.Ping,
			"redis":    redisClient.Ping,
			"pubsub":   pubsubClient.Ping,
		},
	})
}
