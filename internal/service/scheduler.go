package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

const maxPruneEvery = time.Minute

type submitter interface {
	Submit(ctx context.Context, spec model.TaskSpec) (string, error)
	Prune(retention time.Duration) int
}

// newScheduler returns nil when there is nothing to schedule.
func newScheduler(ctx context.Context, tasks []model.Task, retention time.Duration, sup submitter) (gocron.Scheduler, error) {
	var defs []gocron.JobDefinition
	var specs []model.TaskSpec
	for i, task := range tasks {
		if task.Schedule == nil {
			continue
		}
		def, err := jobDefinition(ctx, *task.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parsing tasks[%d].schedule: %w", i, err)
		}
		defs = append(defs, def)
		specs = append(specs, task.Spec)
	}
	if len(defs) == 0 && retention <= 0 {
		return nil, nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	for i, def := range defs {
		spec := specs[i]
		_, err = s.NewJob(
			def,
			gocron.NewTask(func() { submit(ctx, sup, spec) }),
			gocron.WithName("submit "+spec.Slot),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("initializing gocron job: %w", err), s.Shutdown())
		}
	}

	if retention > 0 {
		_, err = s.NewJob(
			gocron.DurationJob(min(retention, maxPruneEvery)),
			gocron.NewTask(func() {
				if n := sup.Prune(retention); n > 0 {
					slog.DebugContext(ctx, "pruned final tasks", "count", n)
				}
			}),
			gocron.WithName("prune"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("initializing gocron prune job: %w", err), s.Shutdown())
		}
	}
	return s, nil
}

func jobDefinition(ctx context.Context, cfg model.Schedule) (gocron.JobDefinition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.Cron != "":
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
		return gocron.CronJob(cfg.Cron, false), nil
	default:
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, err
		}
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
		return gocron.DurationJob(d), nil
	}
}

func submit(ctx context.Context, sup submitter, spec model.TaskSpec) {
	id, err := sup.Submit(ctx, spec)
	switch {
	case err == nil:
		slog.DebugContext(ctx, "task submitted", "slot", spec.Slot, "task_id", id)
	case errors.Is(err, model.ErrRejected), errors.Is(err, model.ErrClosed):
		slog.DebugContext(ctx, "task skipped", "slot", spec.Slot, "reason", err)
	default:
		slog.ErrorContext(ctx, "task submission failed", "slot", spec.Slot, "error", err)
	}
}
