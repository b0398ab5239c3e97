package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herfa-app/herfa-backend/api/controllers"
	"github.com/herfa-app/herfa-backend/api/routes"
	"github.com/herfa-app/herfa-backend/internal/bootstrap"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	paymobwebhook "github.com/herfa-app/herfa-backend/internal/webhooks/paymob"
	"github.com/herfa-app/herfa-backend/pkg/auth"
	"github.com/herfa-app/herfa-backend/pkg/outbox/idempotency"
	"github.com/herfa-app/herfa-backend/pkg/redis"
)

const (
	paymobGuardScope = "paymob-webhook"
	shutdownTimeout  = 15 * time.Second
)

func main() {
	bootstrap.Main("api", serve)
}

func serve(ctx context.Context, rt *bootstrap.Runtime) error {
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	handler, err := buildRouter(rt, redisClient)
	if err != nil {
		return err
	}

	// PORT is injected by the hosting platform and wins over config.
	port := os.Getenv("PORT")
	if port == "" {
		port = rt.Config.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	rt.Logger.Info(rt.Logger.WithField(ctx, "addr", server.Addr), "listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildRouter(rt *bootstrap.Runtime, redisClient *redis.Client) (http.Handler, error) {
	core, err := rt.Core()
	if err != nil {
		return nil, err
	}
	notificationsSvc, err := notifications.NewService(notifications.NewRepository(rt.DB.DB()))
	if err != nil {
		return nil, err
	}
	paymobSvc, err := paymobwebhook.NewService(paymobwebhook.ServiceParams{
		Ledger:   core.Ledger,
		Tx:       rt.DB,
		Outbox:   core.Outbox,
		Notifier: core.Notifier,
		Logger:   rt.Logger,
	})
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewKeys(rt.Config.JWT)
	if err != nil {
		return nil, err
	}
	guard, err := idempotency.NewGuard(redisClient, paymobGuardScope, rt.Config.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return nil, err
	}

	return routes.NewRouter(routes.Dependencies{
		Config: rt.Config,
		Logger: rt.Logger,
		Cache:  redisClient,
		Tokens: tokens,
		Readiness: map[string]controllers.Pinger{
			"database": rt.DB,
			"redis":    redisClient,
		},
		Metrics:       promhttp.Handler(),
		Appointments:  core.Appointments,
		Wallets:       core.Ledger,
		Notifications: notificationsSvc,
		Paymob:        paymobSvc,
		PaymobGuard:   guard,
	}), nil
}
