// Package bootstrap owns process startup for the cmd binaries: environment,
// config, logger, connections and their orderly shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herfa-app/herfa-backend/pkg/config"
	"github.com/herfa-app/herfa-backend/pkg/db"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/migrate"
	"github.com/herfa-app/herfa-backend/pkg/pubsub"
	"github.com/herfa-app/herfa-backend/pkg/redis"
)

const closeTimeout = 10 * time.Second

// Runtime is one binary's live process state. Close releases everything it
// opened, newest first.
type Runtime struct {
	Service string
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Start loads .env and config, builds the service logger and opens the
// database. Dev deployments with HERFA_AUTO_MIGRATE also migrate here.
func Start(ctx context.Context, service string) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		boot.Debug(ctx, "no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = service

	rt := &Runtime{
		Service: service,
		Config:  cfg,
		Logger: logger.New(logger.Options{
			ServiceName: service,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}

	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.onClose("database", rt.DB.Close)

	if err := migrate.ApplyOnBoot(ctx, cfg.App, rt.Logger, rt.DB); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Redis opens the shared cache client. It is closed with the runtime.
func (rt *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("open redis: %w", err)
	}
	rt.onClose("redis", client.Close)
	return client, nil
}

// PubSub opens a client restricted to role's topics or subscriptions.
func (rt *Runtime) PubSub(ctx context.Context, role pubsub.Role) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, role, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("open pubsub: %w", err)
	}
	rt.onClose("pubsub", client.Close)
	return client, nil
}

func (rt *Runtime) onClose(name string, fn func() error) {
	rt.closers = append(rt.closers, namedCloser{name: name, close: fn})
}

// Close is safe to call more than once.
func (rt *Runtime) Close() {
	ctx := context.Background()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.close(); err != nil {
			rt.Logger.Error(rt.Logger.WithField(ctx, "resource", c.name), "close failed", err)
		}
	}
	rt.closers = nil
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the fields
// every log line of this process should have.
func (rt *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"env":          rt.Config.App.Env,
		"service_kind": rt.Service,
	})
	return ctx, stop
}

// ServeMetrics exposes the default prometheus registry on
// HERFA_METRICS_ADDR until ctx ends. It is a no-op when the address is unset.
func (rt *Runtime) ServeMetrics(ctx context.Context) {
	addr := rt.Config.Service.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error(rt.Logger.WithField(ctx, "addr", addr), "metrics listener failed", err)
		}
	}()
}

// Ping fails on the first unreachable dependency.
func Ping(ctx context.Context, deps map[string]func(context.Context) error) error {
	for name, ping := range deps {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping: %w", name, err)
		}
	}
	return nil
}

// Main runs a binary's body and turns its result into an exit code after
// every deferred close in run has happened.
func Main(service string, run func(ctx context.Context, rt *Runtime) error) {
	os.Exit(exitCode(service, run))
}

func exitCode(service string, run func(ctx context.Context, rt *Runtime) error) int {
	rt, err := Start(context.Background(), service)
	if err != nil {
		logger.New(logger.Options{ServiceName: service}).Error(context.Background(), "startup failed", err)
		return 1
	}
	defer rt.Close()

	ctx, stop := rt.SignalContext()
	defer stop()

	rt.Logger.Info(ctx, "starting")
	if err := run(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, "stopped unexpectedly", err)
		return 1
	}
	rt.Logger.Info(ctx, "shut down gracefully")
	return 0
}
