package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/herfa-app/herfa-backend/internal/appointments"
	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
)

// Core is the domain graph the api, worker and cron binaries all need: the
// ledger, durable tasks, the outbox and the appointment state machine.
type Core struct {
	Currency      enums.Currency
	LedgerMetrics *metrics.LedgerMetrics

	Ledger       ledger.Service
	TaskRepo     scheduler.Repository
	Tasks        *scheduler.Scheduler
	OutboxRepo   *outbox.Repository
	Outbox       *outbox.Service
	Notifier     *notifications.Notifier
	Appointments appointments.Service
}

// Core wires the shared services on the runtime's database. Call it once per
// process; its metrics register on the default registry.
func (rt *Runtime) Core() (*Core, error) {
	conn := rt.DB.DB()
	c := &Core{
		Currency:      enums.Currency(rt.Config.Settlement.Currency),
		LedgerMetrics: metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
		TaskRepo:      scheduler.NewRepository(conn),
		OutboxRepo:    outbox.NewRepository(conn),
	}
	var err error
	if c.Ledger, err = ledger.NewService(conn, ledger.NewRepository(conn), ledger.Options{
		Currency: c.Currency,
		Metrics:  c.LedgerMetrics,
		Logger:   rt.Logger,
	}); err != nil {
		return nil, err
	}
	if c.Tasks, err = scheduler.NewScheduler(c.TaskRepo, rt.Config.Scheduler.MaxAttempts, nil); err != nil {
		return nil, err
	}
	c.Outbox = outbox.NewService(c.OutboxRepo, rt.Logger)
	if c.Notifier, err = notifications.NewNotifier(rt.DB, c.Outbox, rt.Logger); err != nil {
		return nil, err
	}
	if c.Appointments, err = appointments.NewService(appointments.ServiceParams{
		Repo:      appointments.NewRepository(conn),
		Tx:        rt.DB,
		Ledger:    c.Ledger,
		Scheduler: c.Tasks,
		Outbox:    c.Outbox,
		Notifier:  c.Notifier,
		Logger:    rt.Logger,
		Currency:  c.Currency,
	}); err != nil {
		return nil, err
	}
	return c, nil
}
