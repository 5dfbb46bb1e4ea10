package service

// Package service wires a loaded model.Config into a running overseer.
//
// Overview
// Service owns the supervisor, the optional HTTP API and a gocron scheduler.
// Tasks from the config without a schedule are submitted once on start,
// scheduled tasks are submitted on every tick. The admission strategy of
// the task decides what happens when the previous run still holds the slot,
// so a dropIfRunning task simply skips a tick.
//
// Data flow:
//
//   gocron            Service             supervisor.Supervisor      subprocess.Runner
//     |                  |                        |                         |
//     | tick ----------->| Submit(spec) --------->| admit + lifecycle ----->| Execute()
//     |                  |                        |<------- Result ---------|
//   api.Server --------->| Submit/Status/List/Cancel                        |
//     |                  |                        | restart / final         |
//
// Shutdown: the scheduler, the API and the supervisor all stop when the
// context of Do ends. The supervisor cancels every task which is not final;
// a tick racing the close gets model.ErrClosed and is only logged.
//
// Invariants:
//   - every submission goes through the supervisor, the scheduler has no
//     state of its own
//   - the retention job only prunes final tasks
