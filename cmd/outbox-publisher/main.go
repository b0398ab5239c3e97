package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/herfa-app/herfa-backend/internal/bootstrap"
	"github.com/herfa-app/herfa-backend/internal/relay"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/registry"
	"github.com/herfa-app/herfa-backend/pkg/pubsub"
)

func main() {
	bootstrap.Main("outbox-publisher", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg := rt.Config
	client, err := rt.PubSub(ctx, pubsub.RolePublisher)
	if err != nil {
		return err
	}
	routes, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}

	conn := rt.DB.DB()
	publisher, err := relay.New(relay.Params{
		Logger:       rt.Logger,
		DB:           rt.DB,
		Rows:         outbox.NewRepository(conn),
		DeadLetters:  outbox.NewDeadLetterStore(conn),
		Registry:     routes,
		Publishers:   relay.PubSubPublishers(client.Publisher),
		Metrics:      metrics.NewRelayMetrics(prometheus.DefaultRegisterer),
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		PollInterval: cfg.Outbox.PollInterval(),
	})
	if err != nil {
		return err
	}

	if err := bootstrap.Ping(ctx, map[string]func(context.Context) error{
		"database": rt.DB.Ping,
		"pubsub":   client.Ping,
	}); err != nil {
		return err
	}
	rt.ServeMetrics(ctx)
	return publisher.Run(ctx)
}
