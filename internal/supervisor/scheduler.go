package supervisor

import (
	"time"

	"github.com/CZERTAINLY/Overseer/internal/backoff"
	"github.com/CZERTAINLY/Overseer/internal/model"
)

// restartPlan is what happens after a non-final outcome.
type restartPlan struct {
	delay time.Duration
	// resetAttempt is set after a success when attempts restart from 1.
	resetAttempt bool
}

// planRestart is called for outcomes which are not final for the restart
// strategy. failures is the number of consecutive failed runs including
// the current one, zero after a success. A success waits exactly the
// restart interval, a failure waits the larger of the interval and the
// backoff for the failure streak.
func planRestart(calc backoff.Calculator, spec model.TaskSpec, outcome model.TaskStatus, failures int, resetOnSuccess bool) (restartPlan, error) {
	interval := time.Duration(spec.RestartIntervalMs) * time.Millisecond
	if !outcome.IsFailure() {
		return restartPlan{delay: interval, resetAttempt: resetOnSuccess}, nil
	}
	d, err := calc.Duration(max(failures, 1), spec.Backoff)
	if err != nil {
		return restartPlan{}, err
	}
	return restartPlan{delay: max(interval, d)}, nil
}
