package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/CZERTAINLY/Overseer/internal/log"
	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/registry"
	"github.com/CZERTAINLY/Overseer/internal/subprocess"
	"github.com/CZERTAINLY/Overseer/internal/tracing"
)

// lifecycle owns one task id from admission until it is final, cancelled
// or the supervisor closes. Every registry transition may lose a race
// against a cancel or replace; in that case the lifecycle quietly returns.
func (s *Supervisor) lifecycle(ticket registry.Ticket, spec model.TaskSpec) {
	id := ticket.Info.ID
	ctx := log.ContextAttrs(ticket.Ctx,
		slog.String("task_id", id),
		slog.String("slot", spec.Slot),
	)
	defer s.abandon(ctx, id)

	runner := s.reg.Runner()
	attempt := ticket.Info.Attempt
	failures := 0
	for {
		actx := log.ContextAttrs(ctx, slog.Int("attempt", attempt))

		res, err := s.launch(actx, id, attempt, spec)
		if err != nil {
			slog.DebugContext(actx, "launch abandoned", "error", err)
			return
		}

		outcome := res.Outcome(spec.Kind.Subprocess.FailOnNonZero)
		if outcome == model.StatusCancelled {
			slog.InfoContext(actx, "task execution cancelled", "reason", context.Cause(ctx))
			return
		}

		info, err := s.reg.Transition(id, outcome, registry.Update{
			ExitCode: exitCode(res),
			Reason:   res.Reason(),
		})
		if err != nil {
			s.lostRace(actx, err)
			return
		}
		s.metrics.TaskCompleted(runner, outcome, res.Stopped.Sub(res.Started))
		if outcome.IsFailure() {
			s.metrics.RunnerError(runner, errKind(outcome))
			failures++
			slog.WarnContext(actx, "task finished", "status", outcome, "reason", info.Reason)
		} else {
			failures = 0
			slog.InfoContext(actx, "task finished", "status", outcome)
		}
		if info.Final {
			return
		}

		plan, err := planRestart(s.calc, spec, outcome, failures, s.resetAttempt)
		if err != nil {
			slog.ErrorContext(actx, "can't plan a restart", "error", err)
			_, _ = s.reg.Cancel(id, err.Error())
			return
		}
		if _, err := s.reg.Transition(id, model.StatusRestarting, registry.Update{
			NextRunAt: time.Now().Add(plan.delay),
		}); err != nil {
			s.lostRace(actx, err)
			return
		}
		slog.DebugContext(actx, "task restarting", "delay", plan.delay.String(), "failures", failures)

		if !sleep(ctx, plan.delay) {
			return
		}

		info, err = s.reg.Transition(id, model.StatusPending, registry.Update{
			ResetAttempt: plan.resetAttempt,
		})
		if err != nil {
			s.lostRace(actx, err)
			return
		}
		attempt = info.Attempt
	}
}

// launch runs a single execution inside a span. The error is returned only
// when ctx ended while waiting for a concurrency slot.
func (s *Supervisor) launch(ctx context.Context, id string, attempt int, spec model.TaskSpec) (subprocess.Result, error) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return subprocess.Result{}, err
		}
		defer s.sem.Release(1)
	}

	ctx, span := s.tracer.Start(ctx, "task.launch", trace.WithAttributes(
		attribute.String("task.id", id),
		attribute.String("task.slot", spec.Slot),
		attribute.Int("task.attempt", attempt),
	))

	onStart := func() {
		if _, err := s.reg.Transition(id, model.StatusRunning, registry.Update{}); err != nil {
			s.lostRace(ctx, err)
			return
		}
		s.metrics.TaskStarted(s.reg.Runner())
		slog.DebugContext(ctx, "task running")
	}

	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	res := s.exec.Execute(ctx, spec.Kind, timeout, onStart)

	outcome := res.Outcome(spec.Kind.Subprocess.FailOnNonZero)
	span.SetAttributes(
		attribute.String("task.status", outcome.String()),
		attribute.Int("process.exit_code", res.ExitCode),
	)
	tracing.End(span, outcomeErr(outcome, res))
	return res, nil
}

// abandon makes sure a task does not stay non-final when its lifecycle
// returns because the supervisor is shutting down.
func (s *Supervisor) abandon(ctx context.Context, id string) {
	if !errors.Is(context.Cause(ctx), model.ErrClosed) {
		return
	}
	if _, err := s.reg.Cancel(id, "supervisor closed"); err == nil {
		slog.DebugContext(ctx, "task cancelled on close")
	}
}

func (s *Supervisor) lostRace(ctx context.Context, err error) {
	if errors.Is(err, model.ErrInvalidState) {
		slog.DebugContext(ctx, "transition dropped", "error", err)
		return
	}
	s.metrics.RunnerError(s.reg.Runner(), "transition")
	slog.ErrorContext(ctx, "transition failed", "error", err)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
