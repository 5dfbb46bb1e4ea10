package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/registry"
	"github.com/CZERTAINLY/Overseer/internal/service"
	"github.com/CZERTAINLY/Overseer/internal/subprocess"
	"github.com/CZERTAINLY/Overseer/internal/supervisor"

	"github.com/stretchr/testify/require"
)

// instantExecutor succeeds right away.
type instantExecutor struct{}

func (instantExecutor) Execute(_ context.Context, _ model.TaskKind, _ time.Duration, onStart func()) subprocess.Result {
	onStart()
	now := time.Now()
	return subprocess.Result{Started: now, Stopped: now}
}

func spec(slot string) model.TaskSpec {
	return model.TaskSpec{
		Slot:    slot,
		Backoff: model.DefaultBackoff,
		Kind: model.TaskKind{Subprocess: &model.Subprocess{
			Command: "true",
		}},
	}
}

func config(tasks ...model.Task) model.Config {
	return model.Config{
		Service: model.Service{Runner: "svc"},
		Metrics: model.Metrics{Enabled: true},
		Tasks:   tasks,
	}
}

func run(t *testing.T, svc *service.Service) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	wg.Go(func() {
		require.NoError(t, svc.Do(ctx))
	})
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return cancel
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	cfg := config()
	cfg.Version = 1
	_, err := service.New(t.Context(), cfg)
	require.EqualError(t, err, "config version 1 is not supported, expected 0")

	cfg = config()
	cfg.Service.Retention = "a week"
	_, err = service.New(t.Context(), cfg)
	require.ErrorContains(t, err, "parsing service.retention")

	cfg = config()
	cfg.Service.Runner = "my-runner"
	_, err = service.New(t.Context(), cfg)
	require.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = service.New(t.Context(), config(model.Task{Spec: spec("")}))
	require.ErrorIs(t, err, model.ErrInvalidSpec)

	_, err = service.New(t.Context(), config(model.Task{
		Schedule: &model.Schedule{Cron: "* * *"},
		Spec:     spec("a"),
	}))
	require.ErrorContains(t, err, "parsing tasks[0].schedule")
}

func TestOnceAndScheduled(t *testing.T) {
	t.Parallel()
	svc, err := service.New(t.Context(), config(
		model.Task{Spec: spec("once")},
		model.Task{Schedule: &model.Schedule{Duration: "PT0.05S"}, Spec: spec("tick")},
	), supervisor.WithExecutor(instantExecutor{}))
	require.NoError(t, err)
	run(t, svc)

	sup := svc.Supervisor()
	require.Eventually(t, func() bool {
		return len(sup.List(registry.Filter{Slot: "tick"})) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	once := sup.List(registry.Filter{Slot: "once"})
	require.Len(t, once, 1)
	require.Equal(t, "svc-once-1", once[0].ID)
	require.Eventually(t, func() bool {
		info, err := sup.Status("svc-once-1")
		return err == nil && info.Status == model.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRetention(t *testing.T) {
	t.Parallel()
	cfg := config(model.Task{Spec: spec("short")})
	cfg.Service.Retention = "20ms"
	svc, err := service.New(t.Context(), cfg, supervisor.WithExecutor(instantExecutor{}))
	require.NoError(t, err)
	run(t, svc)

	require.Eventually(t, func() bool {
		_, err := svc.Supervisor().Status("svc-short-1")
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
	_, err = svc.Supervisor().Status("svc-short-1")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCancelStopsEverything(t *testing.T) {
	t.Parallel()
	svc, err := service.New(t.Context(), config(), supervisor.WithExecutor(instantExecutor{}))
	require.NoError(t, err)
	cancel := run(t, svc)
	cancel()

	require.Eventually(t, func() bool {
		_, err := svc.Supervisor().Submit(t.Context(), spec("late"))
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}
