// Package registry is the single source of truth of task state.
//
// All mutations go through one mutex, which makes admission decisions,
// transitions and cancellations of a slot linearizable. A slot index points
// to the one id of the slot which is not final yet; ids are never reused
// since every slot keeps its own counter for the lifetime of the registry.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

type entry struct {
	info   model.TaskInfo
	spec   model.TaskSpec
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Ticket is handed to the owner of a freshly admitted task.
type Ticket struct {
	Info model.TaskInfo
	// Ctx is cancelled once the task gets cancelled or reaches a final
	// status. context.Cause tells which.
	Ctx context.Context
	// Replaced is the id of the occupant cancelled by a replace, if any.
	Replaced string
}

// Update carries the optional fields of a transition.
type Update struct {
	ExitCode *int
	Reason   string
	// NextRunAt is recorded when entering Restarting.
	NextRunAt time.Time
	// ResetAttempt makes Restarting -> Pending set attempt back to 1
	// instead of incrementing it.
	ResetAttempt bool
}

// Filter for List. Zero value matches everything.
type Filter struct {
	Slot   string
	Status *model.TaskStatus
}

func (f Filter) match(info model.TaskInfo) bool {
	if f.Slot != "" && f.Slot != info.Slot {
		return false
	}
	if f.Status != nil && *f.Status != info.Status {
		return false
	}
	return true
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

type Registry struct {
	mx       sync.Mutex
	runner   string
	now      func() time.Time
	tasks    map[string]*entry
	slots    map[string]string
	counters map[string]uint64
}

func New(runner string, opts ...Option) (*Registry, error) {
	if err := ValidateRunner(runner); err != nil {
		return nil, err
	}
	r := &Registry{
		runner:   runner,
		now:      time.Now,
		tasks:    make(map[string]*entry),
		slots:    make(map[string]string),
		counters: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) Runner() string {
	return r.runner
}

// Reserve atomically checks the slot of spec is free and inserts a new
// Pending task. It fails with model.ErrRejected when the slot is occupied.
// The ticket context derives from parent.
func (r *Registry) Reserve(parent context.Context, spec model.TaskSpec) (Ticket, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if id, ok := r.slots[spec.Slot]; ok {
		return Ticket{}, fmt.Errorf("%w: slot %q is held by %s", model.ErrRejected, spec.Slot, id)
	}
	return r.insert(parent, spec, ""), nil
}

// Replace cancels the current occupant of the slot, if any, and inserts a
// new Pending task in the same critical section, so no concurrent
// admission observes an empty slot in between.
func (r *Registry) Replace(parent context.Context, spec model.TaskSpec) Ticket {
	r.mx.Lock()
	defer r.mx.Unlock()

	var replaced string
	if id, ok := r.slots[spec.Slot]; ok {
		e := r.tasks[id]
		r.cancelLocked(e, "replaced", model.ErrCancelled)
		replaced = id
	}
	return r.insert(parent, spec, replaced)
}

func (r *Registry) insert(parent context.Context, spec model.TaskSpec, replaced string) Ticket {
	r.counters[spec.Slot]++
	id := FormatID(r.runner, spec.Slot, r.counters[spec.Slot])
	now := r.now()

	ctx, cancel := context.WithCancelCause(parent)
	e := &entry{
		info: model.TaskInfo{
			ID:        id,
			Slot:      spec.Slot,
			Status:    model.StatusPending,
			Attempt:   1,
			CreatedAt: now,
			UpdatedAt: now,
		},
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
	}
	r.tasks[id] = e
	r.slots[spec.Slot] = id
	return Ticket{Info: e.info, Ctx: ctx, Replaced: replaced}
}

// Transition moves id to the status to. Illegal steps fail with
// model.ErrInvalidState and leave the task untouched.
func (r *Registry) Transition(id string, to model.TaskStatus, u Update) (model.TaskInfo, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return model.TaskInfo{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	from := e.info.Status
	if !model.CanTransition(from, to, e.spec.Restart) {
		return e.info, fmt.Errorf("%w: %s: %s -> %s", model.ErrInvalidState, id, from, to)
	}

	if to == model.StatusCancelled {
		r.cancelLocked(e, u.Reason, model.ErrCancelled)
		return e.info, nil
	}

	e.info.Status = to
	e.info.UpdatedAt = r.stamp(e.info.UpdatedAt)
	switch to {
	case model.StatusPending:
		if u.ResetAttempt {
			e.info.Attempt = 1
		} else {
			e.info.Attempt++
		}
		e.info.NextRunAt = time.Time{}
	case model.StatusRunning:
		e.info.Reason = ""
	case model.StatusRestarting:
		e.info.NextRunAt = u.NextRunAt
	default:
		e.info.ExitCode = u.ExitCode
		e.info.Reason = u.Reason
	}

	if to.FinalFor(e.spec.Restart) {
		r.finalLocked(e, nil)
	}
	return e.info, nil
}

// Cancel moves a not yet final task to Cancelled and cancels its context
// with model.ErrCancelled.
func (r *Registry) Cancel(id, reason string) (model.TaskInfo, error) {
	return r.cancel(id, reason, model.ErrCancelled)
}

// CancelAll cancels every task which is not final, using cause for the
// ticket contexts. It returns the number of cancelled tasks.
func (r *Registry) CancelAll(reason string, cause error) int {
	r.mx.Lock()
	defer r.mx.Unlock()

	n := 0
	for _, e := range r.tasks {
		if e.info.Final {
			continue
		}
		r.cancelLocked(e, reason, cause)
		n++
	}
	return n
}

func (r *Registry) cancel(id, reason string, cause error) (model.TaskInfo, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return model.TaskInfo{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if e.info.Final {
		return e.info, fmt.Errorf("%w: %s is already %s", model.ErrInvalidState, id, e.info.Status)
	}
	r.cancelLocked(e, reason, cause)
	return e.info, nil
}

func (r *Registry) cancelLocked(e *entry, reason string, cause error) {
	e.info.Status = model.StatusCancelled
	e.info.UpdatedAt = r.stamp(e.info.UpdatedAt)
	e.info.NextRunAt = time.Time{}
	e.info.Reason = reason
	r.finalLocked(e, cause)
}

// finalLocked releases the slot and the ticket context.
func (r *Registry) finalLocked(e *entry, cause error) {
	e.info.Final = true
	if r.slots[e.info.Slot] == e.info.ID {
		delete(r.slots, e.info.Slot)
	}
	if cause == nil {
		cause = context.Canceled
	}
	e.cancel(cause)
}

// stamp returns now, but never less than prev.
func (r *Registry) stamp(prev time.Time) time.Time {
	now := r.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

// Get is a pure read and never blocks on a running execution.
func (r *Registry) Get(id string) (model.TaskInfo, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return model.TaskInfo{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return e.info, nil
}

// Current returns the id holding the slot, if any.
func (r *Registry) Current(slot string) (string, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	id, ok := r.slots[slot]
	return id, ok
}

// List returns the matching tasks ordered by creation time.
func (r *Registry) List(f Filter) []model.TaskInfo {
	r.mx.Lock()
	out := make([]model.TaskInfo, 0, len(r.tasks))
	for _, e := range r.tasks {
		if f.match(e.info) {
			out = append(out, e.info)
		}
	}
	r.mx.Unlock()

	slices.SortFunc(out, func(a, b model.TaskInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Prune forgets final tasks last updated before the deadline. Counters
// stay, so ids are not reused.
func (r *Registry) Prune(before time.Time) int {
	r.mx.Lock()
	defer r.mx.Unlock()

	n := 0
	for id, e := range r.tasks {
		if e.info.Final && e.info.UpdatedAt.Before(before) {
			delete(r.tasks, id)
			n++
		}
	}
	return n
}

// Len returns the number of tasks held.
func (r *Registry) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.tasks)
}
