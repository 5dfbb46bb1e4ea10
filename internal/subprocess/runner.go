package subprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

const (
	defaultWaitDelay = 2 * time.Second
	defaultLineLimit = 4096
	defaultTailLimit = 64 * 1024
)

// Result of a single execution.
type Result struct {
	Command string
	Args    []string
	Dir     string
	Started time.Time
	Stopped time.Time
	// ExitCode is -1 when the process did not exit on its own or was never
	// started.
	ExitCode int
	TimedOut bool
	// Cancelled is set when the parent context ended before the process.
	Cancelled bool
	// SpawnErr is set when the process could not be started at all.
	SpawnErr error
	// Err reports problems after a successful start other than a non-zero
	// exit, eg. the output pipes not being closed in time.
	Err    error
	Stdout []byte // tail of the standard output
	Stderr []byte // tail of the standard error
}

// Outcome maps the result to the task status it ends with.
func (r Result) Outcome(failOnNonZero bool) model.TaskStatus {
	switch {
	case r.SpawnErr != nil:
		return model.StatusSpawnFailed
	case r.Cancelled:
		return model.StatusCancelled
	case r.TimedOut:
		return model.StatusTimedOut
	case failOnNonZero && r.ExitCode != 0:
		return model.StatusFailed
	default:
		return model.StatusSucceeded
	}
}

// Reason is a short human readable description of the outcome.
func (r Result) Reason() string {
	switch {
	case r.SpawnErr != nil:
		return r.SpawnErr.Error()
	case r.Cancelled:
		return "cancelled"
	case r.TimedOut:
		return "timed out"
	case r.Err != nil:
		return r.Err.Error()
	case r.ExitCode < 0:
		return "terminated by a signal"
	case r.ExitCode != 0:
		return fmt.Sprintf("exit code %d", r.ExitCode)
	default:
		return ""
	}
}

type Option func(*Runner)

// WithWaitDelay bounds the time to wait for output pipes after the process
// got killed.
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) { r.waitDelay = d }
}

// WithLineLimit truncates logged output lines to n bytes.
func WithLineLimit(n int) Option {
	return func(r *Runner) { r.lineLimit = n }
}

// WithTailLimit sets how many trailing bytes of each stream are kept in a
// Result.
func WithTailLimit(n int) Option {
	return func(r *Runner) { r.tailLimit = n }
}

// Runner executes subprocess tasks. It holds no per-execution state and
// can be shared by any number of goroutines.
type Runner struct {
	waitDelay time.Duration
	lineLimit int
	tailLimit int
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		waitDelay: defaultWaitDelay,
		lineLimit: defaultLineLimit,
		tailLimit: defaultTailLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs the kind and blocks until the process ends, timeout elapses
// or ctx is done. In the latter two cases the whole process group gets
// killed. onStart, if not nil, is called once the process has been spawned.
// Timeout <= 0 means no timeout.
func (r *Runner) Execute(ctx context.Context, kind model.TaskKind, timeout time.Duration, onStart func()) Result {
	sp := kind.Subprocess
	if sp == nil {
		now := time.Now().UTC()
		return Result{
			ExitCode: -1,
			Started:  now,
			Stopped:  now,
			SpawnErr: fmt.Errorf("%w: unsupported task kind", model.ErrInvalidSpec),
		}
	}

	res := Result{
		Command:  sp.Command,
		Args:     append([]string(nil), sp.Args...),
		Dir:      sp.Cwd,
		ExitCode: -1,
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, timeout, model.ErrTimedOut)
		defer cancel()
	} else {
		slog.DebugContext(ctx, "command has no timeout", "command", sp.Command)
	}

	cmd := exec.CommandContext(runCtx, sp.Command, sp.Args...)
	cmd.Env = sp.Env.Environ()
	cmd.Dir = sp.Cwd
	cmd.WaitDelay = r.waitDelay
	killGroup(cmd)

	stdout := newLineWriter(ctx, "stdout", slog.LevelInfo, r.lineLimit, r.tailLimit)
	stderr := newLineWriter(ctx, "stderr", slog.LevelWarn, r.lineLimit, r.tailLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	res.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		res.Stopped = time.Now().UTC()
		res.SpawnErr = err
		slog.DebugContext(ctx, "spawn failed", "command", sp.Command, "error", err)
		return res
	}
	slog.DebugContext(ctx, "process started", "command", sp.Command, "pid", cmd.Process.Pid)
	if onStart != nil {
		onStart()
	}

	err := cmd.Wait()
	res.Stopped = time.Now().UTC()
	stdout.Flush()
	stderr.Flush()
	res.Stdout = stdout.Tail()
	res.Stderr = stderr.Tail()

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err != nil && ctx.Err() != nil:
		res.Cancelled = true
	case err != nil && runCtx.Err() != nil:
		res.TimedOut = errors.Is(context.Cause(runCtx), model.ErrTimedOut)
		res.Cancelled = !res.TimedOut
	case err != nil && !errors.As(err, &exitErr):
		res.Err = err
	}

	slog.DebugContext(ctx, "process finished",
		"command", sp.Command,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"cancelled", res.Cancelled,
		"duration", res.Stopped.Sub(res.Started).String(),
	)
	return res
}
