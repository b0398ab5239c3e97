package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/herfa-app/herfa-backend/pkg/logger"
)

const purgeRetention = 7 * 24 * time.Hour

type runner interface {
	Run(ctx context.Context) error
}

type pinger func(context.Context) error

// ServiceParams wires the worker process.
type ServiceParams struct {
	Logger       *logger.Logger
	Tasks        runner
	Consumer     runner
	Dependencies map[string]pinger
}

// Service runs the durable task worker next to the notification consumer.
// Either one stopping with an error takes the process down.
type Service struct {
	logg     *logger.Logger
	tasks    runner
	consumer runner
	deps     map[string]pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Tasks == nil {
		return nil, errors.New("task worker is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	return &Service{
		logg:     params.Logger,
		tasks:    params.Tasks,
		consumer: params.Consumer,
		deps:     params.Dependencies,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range s.deps {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stopped(gctx, "task worker", s.tasks.Run(gctx)) })
	g.Go(func() error { return stopped(gctx, "notification consumer", s.consumer.Run(gctx)) })
	return g.Wait()
}

func stopped(ctx context.Context, name string, err error) error {
	if err == nil && ctx.Err() == nil {
		return fmt.Errorf("%s exited", name)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
