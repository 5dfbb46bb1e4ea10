package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/CZERTAINLY/Overseer/internal/backoff"
	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/registry"
	"github.com/CZERTAINLY/Overseer/internal/subprocess"
	"github.com/CZERTAINLY/Overseer/internal/tracing"
)

// Executor runs one execution of a task kind. *subprocess.Runner is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, kind model.TaskKind, timeout time.Duration, onStart func()) subprocess.Result
}

// Metrics receives lifecycle events. *metrics.Prometheus implements it.
type Metrics interface {
	TaskAdmitted(decision string)
	TaskStarted(runner string)
	TaskCompleted(runner string, outcome model.TaskStatus, d time.Duration)
	RunnerError(runner, kind string)
}

type noopMetrics struct{}

func (noopMetrics) TaskAdmitted(string) {}
func (noopMetrics) TaskStarted(string) {}
func (noopMetrics) TaskCompleted(string, model.TaskStatus, time.Duration) {}
func (noopMetrics) RunnerError(string, string) {}

type Option func(*Supervisor)

func WithExecutor(e Executor) Option {
	return func(s *Supervisor) { s.exec = e }
}

func WithMetrics(m Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithBackoff replaces the calculator, mostly to inject a seeded source.
func WithBackoff(c backoff.Calculator) Option {
	return func(s *Supervisor) { s.calc = c }
}

// WithMaxConcurrent bounds the number of processes running at once. Tasks
// waiting for a free place stay Pending. n <= 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		} else {
			s.sem = nil
		}
	}
}

// WithAttemptReset makes attempt go back to 1 after every successful run
// instead of counting all launches of the id.
func WithAttemptReset(reset bool) Option {
	return func(s *Supervisor) { s.resetAttempt = reset }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Supervisor) { s.tracer = tracing.Tracer(tp) }
}

// Supervisor admits task specs, runs them and applies their restart
// strategy until they reach a final status or the supervisor is closed.
type Supervisor struct {
	mx     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	reg          *registry.Registry
	exec         Executor
	metrics      Metrics
	calc         backoff.Calculator
	sem          *semaphore.Weighted
	resetAttempt bool
	tracer       trace.Tracer
}

// New returns a running supervisor. Runner is the first segment of all
// task ids and can't contain a dash.
func New(runner string, opts ...Option) (*Supervisor, error) {
	reg, err := registry.New(runner)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		reg:     reg,
		exec:    subprocess.NewRunner(),
		metrics: noopMetrics{},
		calc:    backoff.New(nil),
		tracer:  tracing.Tracer(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit validates and admits spec. On success the task is launched in
// the background and its id returned right away; a DropIfRunning spec for
// an occupied slot fails with model.ErrRejected.
func (s *Supervisor) Submit(ctx context.Context, spec model.TaskSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.closed {
		return "", model.ErrClosed
	}

	ticket, decision, err := admit(s.ctx, s.reg, spec)
	s.metrics.TaskAdmitted(decision)
	if err != nil {
		slog.DebugContext(ctx, "submission rejected", "slot", spec.Slot, "error", err)
		return "", err
	}
	if ticket.Replaced != "" {
		slog.InfoContext(ctx, "task replaced", "slot", spec.Slot, "task_id", ticket.Info.ID, "replaced", ticket.Replaced)
	} else {
		slog.DebugContext(ctx, "task admitted", "slot", spec.Slot, "task_id", ticket.Info.ID)
	}

	s.wg.Go(func() {
		s.lifecycle(ticket, spec)
	})
	return ticket.Info.ID, nil
}

// Status is a pure registry read and never waits for a running process.
func (s *Supervisor) Status(id string) (model.TaskInfo, error) {
	return s.reg.Get(id)
}

// List returns the known tasks ordered by creation time.
func (s *Supervisor) List(f registry.Filter) []model.TaskInfo {
	return s.reg.List(f)
}

// Cancel stops a task which is not final yet. A running process gets
// killed, a pending restart never happens.
func (s *Supervisor) Cancel(ctx context.Context, id string) (model.TaskInfo, error) {
	info, err := s.reg.Cancel(id, "cancelled by request")
	if err != nil {
		return info, err
	}
	slog.InfoContext(ctx, "task cancelled", "task_id", id)
	return info, nil
}

// Prune drops final tasks which did not change for longer than retention.
func (s *Supervisor) Prune(retention time.Duration) int {
	return s.reg.Prune(time.Now().Add(-retention))
}

// Runner returns the runner name used in ids.
func (s *Supervisor) Runner() string {
	return s.reg.Runner()
}

// Do blocks until ctx is done and closes the supervisor.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", "runner", s.reg.Runner())
	<-ctx.Done()
	return s.Close()
}

// Close rejects new submissions, cancels every task which is not final and
// waits for all lifecycles to return. It is safe to call more than once.
func (s *Supervisor) Close() error {
	s.mx.Lock()
	if !s.closed {
		s.closed = true
		n := s.reg.CancelAll("supervisor closed", model.ErrClosed)
		s.cancel(model.ErrClosed)
		slog.Debug("supervisor closing", "cancelled", n)
	}
	s.mx.Unlock()

	s.wg.Wait()
	return nil
}

func exitCode(res subprocess.Result) *int {
	if res.SpawnErr != nil {
		return nil
	}
	code := res.ExitCode
	return &code
}

func outcomeErr(outcome model.TaskStatus, res subprocess.Result) error {
	switch outcome {
	case model.StatusSucceeded:
		return nil
	case model.StatusSpawnFailed:
		return res.SpawnErr
	case model.StatusTimedOut:
		return model.ErrTimedOut
	case model.StatusCancelled:
		return model.ErrCancelled
	default:
		return errors.New(res.Reason())
	}
}

func errKind(outcome model.TaskStatus) string {
	switch outcome {
	case model.StatusSpawnFailed:
		return "spawn"
	case model.StatusTimedOut:
		return "timeout"
	default:
		return outcome.String()
	}
}
