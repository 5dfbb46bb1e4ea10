package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/registry"
	"github.com/stretchr/testify/require"
)

func spec(slot string, restart model.RestartStrategy) model.TaskSpec {
	return model.TaskSpec{
		Slot:    slot,
		Restart: restart,
		Kind:    model.TaskKind{Subprocess: &model.Subprocess{Command: "true"}},
		Backoff: model.DefaultBackoff,
	}
}

func newRegistry(t *testing.T, opts ...registry.Option) *registry.Registry {
	t.Helper()
	reg, err := registry.New("node1", opts...)
	require.NoError(t, err)
	return reg
}

func TestNew(t *testing.T) {
	t.Parallel()
	_, err := registry.New("my-node")
	require.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = registry.New("")
	require.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestReserve(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)
	ctx := t.Context()

	first, err := reg.Reserve(ctx, spec("echo", model.RestartNever))
	require.NoError(t, err)
	require.Equal(t, "node1-echo-1", first.Info.ID)
	require.Equal(t, model.StatusPending, first.Info.Status)
	require.Equal(t, 1, first.Info.Attempt)
	require.Empty(t, first.Replaced)

	info, err := reg.Get(first.Info.ID)
	require.NoError(t, err)
	require.Equal(t, first.Info, info)

	_, err = reg.Reserve(ctx, spec("echo", model.RestartNever))
	require.ErrorIs(t, err, model.ErrRejected)
	require.Equal(t, 1, reg.Len())

	other, err := reg.Reserve(ctx, spec("date", model.RestartNever))
	require.NoError(t, err)
	require.Equal(t, "node1-date-1", other.Info.ID)

	// a final task frees the slot, the counter keeps growing
	_, err = reg.Transition(first.Info.ID, model.StatusRunning, registry.Update{})
	require.NoError(t, err)
	code := 0
	info, err = reg.Transition(first.Info.ID, model.StatusSucceeded, registry.Update{ExitCode: &code})
	require.NoError(t, err)
	require.True(t, info.Final)
	require.Error(t, first.Ctx.Err())

	second, err := reg.Reserve(ctx, spec("echo", model.RestartNever))
	require.NoError(t, err)
	require.Equal(t, "node1-echo-2", second.Info.ID)
}

func TestReplace(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)
	ctx := t.Context()

	first := reg.Replace(ctx, spec("echo", model.RestartAlways))
	require.Empty(t, first.Replaced)
	_, err := reg.Transition(first.Info.ID, model.StatusRunning, registry.Update{})
	require.NoError(t, err)

	second := reg.Replace(ctx, spec("echo", model.RestartAlways))
	require.Equal(t, first.Info.ID, second.Replaced)
	require.Equal(t, "node1-echo-2", second.Info.ID)

	info, err := reg.Get(first.Info.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, info.Status)
	require.Equal(t, "replaced", info.Reason)
	require.True(t, info.Final)
	require.ErrorIs(t, context.Cause(first.Ctx), model.ErrCancelled)
	require.NoError(t, second.Ctx.Err())

	id, ok := reg.Current("echo")
	require.True(t, ok)
	require.Equal(t, second.Info.ID, id)

	// completion racing the replace is rejected and keeps Cancelled
	_, err = reg.Transition(first.Info.ID, model.StatusSucceeded, registry.Update{})
	require.ErrorIs(t, err, model.ErrInvalidState)
	info, err = reg.Get(first.Info.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, info.Status)
}

func TestTransition(t *testing.T) {
	t.Parallel()

	t.Run("restart cycle", func(t *testing.T) {
		t.Parallel()
		reg := newRegistry(t)
		ticket, err := reg.Reserve(t.Context(), spec("loop", model.RestartAlways))
		require.NoError(t, err)
		id := ticket.Info.ID

		prev := ticket.Info.UpdatedAt
		for cycle := 1; cycle <= 3; cycle++ {
			info, err := reg.Transition(id, model.StatusRunning, registry.Update{})
			require.NoError(t, err)
			require.Equal(t, cycle, info.Attempt)

			code := 0
			info, err = reg.Transition(id, model.StatusSucceeded, registry.Update{ExitCode: &code})
			require.NoError(t, err)
			require.False(t, info.Final)

			next := time.Now().Add(time.Minute)
			info, err = reg.Transition(id, model.StatusRestarting, registry.Update{NextRunAt: next})
			require.NoError(t, err)
			require.Equal(t, next, info.NextRunAt)
			require.Equal(t, 0, *info.ExitCode)

			info, err = reg.Transition(id, model.StatusPending, registry.Update{})
			require.NoError(t, err)
			require.Equal(t, cycle+1, info.Attempt)
			require.True(t, info.NextRunAt.IsZero())
			require.False(t, info.UpdatedAt.Before(prev))
			require.False(t, info.UpdatedAt.Before(info.CreatedAt))
			prev = info.UpdatedAt
		}

		info, err := reg.Transition(id, model.StatusRunning, registry.Update{})
		require.NoError(t, err)
		_, err = reg.Transition(id, model.StatusFailed, registry.Update{})
		require.NoError(t, err)
		_, err = reg.Transition(id, model.StatusRestarting, registry.Update{})
		require.NoError(t, err)
		info, err = reg.Transition(id, model.StatusPending, registry.Update{ResetAttempt: true})
		require.NoError(t, err)
		require.Equal(t, 1, info.Attempt)
	})

	t.Run("illegal", func(t *testing.T) {
		t.Parallel()
		reg := newRegistry(t)
		ticket, err := reg.Reserve(t.Context(), spec("once", model.RestartNever))
		require.NoError(t, err)
		id := ticket.Info.ID

		_, err = reg.Transition(id, model.StatusSucceeded, registry.Update{})
		require.ErrorIs(t, err, model.ErrInvalidState)
		info, err := reg.Get(id)
		require.NoError(t, err)
		require.Equal(t, model.StatusPending, info.Status)

		_, err = reg.Transition(id, model.StatusRunning, registry.Update{})
		require.NoError(t, err)
		info, err = reg.Transition(id, model.StatusTimedOut, registry.Update{Reason: "timed out"})
		require.NoError(t, err)
		require.True(t, info.Final)
		require.Equal(t, "timed out", info.Reason)

		_, err = reg.Transition(id, model.StatusRestarting, registry.Update{})
		require.ErrorIs(t, err, model.ErrInvalidState)
		_, err = reg.Cancel(id, "too late")
		require.ErrorIs(t, err, model.ErrInvalidState)

		_, err = reg.Transition("node1-nope-1", model.StatusRunning, registry.Update{})
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("clock going backwards", func(t *testing.T) {
		t.Parallel()
		base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		ticks := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
		var mx sync.Mutex
		clock := func() time.Time {
			mx.Lock()
			defer mx.Unlock()
			now := ticks[0]
			if len(ticks) > 1 {
				ticks = ticks[1:]
			}
			return now
		}
		reg := newRegistry(t, registry.WithClock(clock))
		ticket, err := reg.Reserve(t.Context(), spec("clock", model.RestartNever))
		require.NoError(t, err)
		info, err := reg.Transition(ticket.Info.ID, model.StatusRunning, registry.Update{})
		require.NoError(t, err)
		require.Equal(t, base, info.UpdatedAt)
		info, err = reg.Transition(ticket.Info.ID, model.StatusFailed, registry.Update{})
		require.NoError(t, err)
		require.Equal(t, base.Add(time.Second), info.UpdatedAt)
	})
}

func TestCancel(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)
	ctx := t.Context()

	a, err := reg.Reserve(ctx, spec("a", model.RestartAlways))
	require.NoError(t, err)
	b, err := reg.Reserve(ctx, spec("b", model.RestartAlways))
	require.NoError(t, err)

	info, err := reg.Cancel(a.Info.ID, "by user")
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, info.Status)
	require.Equal(t, "by user", info.Reason)
	require.ErrorIs(t, context.Cause(a.Ctx), model.ErrCancelled)
	_, ok := reg.Current("a")
	require.False(t, ok)

	_, err = reg.Cancel("node1-x-1", "")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.Equal(t, 1, reg.CancelAll("supervisor closed", model.ErrClosed))
	require.ErrorIs(t, context.Cause(b.Ctx), model.ErrClosed)
	require.Zero(t, reg.CancelAll("again", model.ErrClosed))
	info, err = reg.Get(b.Info.ID)
	require.NoError(t, err)
	require.Equal(t, "supervisor closed", info.Reason)
}

func TestListAndPrune(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mx sync.Mutex
	clock := func() time.Time {
		mx.Lock()
		defer mx.Unlock()
		now = now.Add(time.Second)
		return now
	}
	reg := newRegistry(t, registry.WithClock(clock))
	ctx := t.Context()

	for _, slot := range []string{"c", "a", "b"} {
		_, err := reg.Reserve(ctx, spec(slot, model.RestartNever))
		require.NoError(t, err)
	}
	_, err := reg.Cancel("node1-a-1", "")
	require.NoError(t, err)

	all := reg.List(registry.Filter{})
	require.Len(t, all, 3)
	require.Equal(t, []string{"node1-c-1", "node1-a-1", "node1-b-1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	bySlot := reg.List(registry.Filter{Slot: "b"})
	require.Len(t, bySlot, 1)
	require.Equal(t, "node1-b-1", bySlot[0].ID)

	cancelled := model.StatusCancelled
	byStatus := reg.List(registry.Filter{Status: &cancelled})
	require.Len(t, byStatus, 1)
	require.Equal(t, "node1-a-1", byStatus[0].ID)

	require.Zero(t, reg.Prune(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 1, reg.Prune(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
	_, err = reg.Get("node1-a-1")
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Equal(t, 2, reg.Len())

	// pruned ids are never handed out again
	ticket, err := reg.Reserve(ctx, spec("a", model.RestartNever))
	require.NoError(t, err)
	require.Equal(t, "node1-a-2", ticket.Info.ID)
}

func TestConcurrentAdmission(t *testing.T) {
	t.Parallel()
	const n = 64

	t.Run("reserve", func(t *testing.T) {
		t.Parallel()
		reg := newRegistry(t)
		var wg sync.WaitGroup
		var mx sync.Mutex
		var accepted, rejected int
		start := make(chan struct{})
		for range n {
			wg.Go(func() {
				<-start
				_, err := reg.Reserve(t.Context(), spec("race", model.RestartNever))
				mx.Lock()
				defer mx.Unlock()
				if err != nil {
					require.ErrorIs(t, err, model.ErrRejected)
					rejected++
					return
				}
				accepted++
			})
		}
		close(start)
		wg.Wait()
		require.Equal(t, 1, accepted)
		require.Equal(t, n-1, rejected)
		require.Equal(t, 1, reg.Len())
	})

	t.Run("replace", func(t *testing.T) {
		t.Parallel()
		reg := newRegistry(t)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for range n {
			wg.Go(func() {
				<-start
				_ = reg.Replace(t.Context(), spec("race", model.RestartAlways))
			})
		}
		close(start)
		wg.Wait()

		tasks := reg.List(registry.Filter{Slot: "race"})
		require.Len(t, tasks, n)
		live := 0
		for _, info := range tasks {
			if !info.Final {
				live++
				continue
			}
			require.Equal(t, model.StatusCancelled, info.Status)
		}
		require.Equal(t, 1, live)
		id, ok := reg.Current("race")
		require.True(t, ok)
		require.Equal(t, registry.FormatID("node1", "race", n), id)
	})
}
