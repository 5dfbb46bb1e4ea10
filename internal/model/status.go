package model

import (
	"fmt"
	"strings"
)

// TaskStatus is the lifecycle state of a single task id.
type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusTimedOut
	StatusSpawnFailed
	StatusRestarting
	StatusCancelled
)

var statusNames = [...]string{
	StatusPending:     "pending",
	StatusRunning:     "running",
	StatusSucceeded:   "succeeded",
	StatusFailed:      "failed",
	StatusTimedOut:    "timedOut",
	StatusSpawnFailed: "spawnFailed",
	StatusRestarting:  "restarting",
	StatusCancelled:   "cancelled",
}

func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return statusNames[s]
}

func ParseStatus(s string) (TaskStatus, error) {
	n := normalize(s)
	for i, name := range statusNames {
		if strings.ToLower(name) == n {
			return TaskStatus(i), nil
		}
	}
	if n == "timed-out" || n == "spawn-failed" {
		return ParseStatus(strings.ReplaceAll(n, "-", ""))
	}
	return 0, fmt.Errorf("%w: unknown task status %q", ErrInvalidArgument, s)
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("%w: unknown task status %d", ErrInvalidArgument, int(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// IsOutcome reports whether s is the result of a finished execution.
func (s TaskStatus) IsOutcome() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusSpawnFailed:
		return true
	}
	return false
}

// IsFailure reports whether s is an outcome which counts as a failure for
// restart decisions.
func (s TaskStatus) IsFailure() bool {
	return s.IsOutcome() && s != StatusSucceeded
}

// FinalFor reports whether no further automatic transition happens from s
// when the task runs with the given restart strategy.
func (s TaskStatus) FinalFor(restart RestartStrategy) bool {
	switch s {
	case StatusCancelled:
		return true
	case StatusSucceeded:
		return restart != RestartAlways
	case StatusFailed, StatusTimedOut, StatusSpawnFailed:
		return restart == RestartNever
	default:
		return false
	}
}

var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:     {StatusRunning, StatusSpawnFailed, StatusCancelled},
	StatusRunning:     {StatusSucceeded, StatusFailed, StatusTimedOut, StatusSpawnFailed, StatusCancelled},
	StatusSucceeded:   {StatusRestarting, StatusCancelled},
	StatusFailed:      {StatusRestarting, StatusCancelled},
	StatusTimedOut:    {StatusRestarting, StatusCancelled},
	StatusSpawnFailed: {StatusRestarting, StatusCancelled},
	StatusRestarting:  {StatusPending, StatusCancelled},
}

// CanTransition validates a single step of the task state machine. Outcomes
// may only leave towards Restarting or Cancelled while they are not final
// for the restart strategy.
func CanTransition(from, to TaskStatus, restart RestartStrategy) bool {
	if from.FinalFor(restart) {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
