package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/Overseer/internal/api"
	"github.com/CZERTAINLY/Overseer/internal/metrics"
	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/supervisor"
)

type Service struct {
	sup       *supervisor.Supervisor
	server    *api.Server
	metrics   *metrics.Prometheus
	scheduler gocron.Scheduler
	listen    string
	once      []model.TaskSpec
}

// New builds a service from cfg. Extra supervisor options are applied after
// the ones derived from the config.
func New(ctx context.Context, cfg model.Config, opts ...supervisor.Option) (*Service, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}

	var retention time.Duration
	if cfg.Service.Retention != "" {
		var err error
		retention, err = time.ParseDuration(cfg.Service.Retention)
		if err != nil {
			return nil, fmt.Errorf("parsing service.retention: %w", err)
		}
	}

	runner := cfg.Service.Runner
	if runner == "" {
		runner = model.DefaultRunner
	}

	svc := &Service{
		listen: model.DefaultListen,
	}
	supOpts := []supervisor.Option{
		supervisor.WithMaxConcurrent(cfg.Service.MaxConcurrent),
		supervisor.WithAttemptReset(cfg.Service.ResetAttemptOnSuccess),
	}
	if cfg.Metrics.Enabled {
		svc.metrics = metrics.New()
		supOpts = append(supOpts, supervisor.WithMetrics(svc.metrics))
	}
	sup, err := supervisor.New(runner, append(supOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("initializing supervisor: %w", err)
	}
	svc.sup = sup

	if cfg.API.Enabled {
		var apiOpts []api.Option
		if svc.metrics != nil {
			apiOpts = append(apiOpts, api.WithMetrics(svc.metrics.Handler()))
		}
		svc.server = api.New(sup, apiOpts...)
		if cfg.API.Listen.TCPAddr != nil {
			svc.listen = cfg.API.Listen.String()
		}
	}

	for i, task := range cfg.Tasks {
		if err := task.Spec.Validate(); err != nil {
			return nil, fmt.Errorf("tasks[%d].spec: %w", i, err)
		}
		if task.Schedule == nil {
			svc.once = append(svc.once, task.Spec)
		}
	}

	svc.scheduler, err = newScheduler(ctx, cfg.Tasks, retention, sup)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Supervisor exposes the underlying supervisor.
func (s *Service) Supervisor() *supervisor.Supervisor {
	return s.sup
}

// Do runs the service until ctx is cancelled or the API server fails.
// Returns nil on graceful cancellation.
func (s *Service) Do(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.sup.Do(ctx)
	})
	if s.server != nil {
		g.Go(func() error {
			return s.server.Do(ctx, s.listen)
		})
	}

	for _, spec := range s.once {
		submit(ctx, s.sup, spec)
	}

	if s.scheduler != nil {
		s.scheduler.Start()
		g.Go(func() error {
			<-ctx.Done()
			if err := s.scheduler.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}
