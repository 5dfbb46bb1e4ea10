package model

import (
	"encoding/json"
	"time"
)

// TaskInfo is a snapshot of the registry state of one task id.
type TaskInfo struct {
	ID      string
	Slot    string
	Status  TaskStatus
	Attempt int
	// Final is set once no further automatic transition is going to happen.
	Final     bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// ExitCode of the last finished execution, nil when nothing has exited yet
	// or the process could not be spawned.
	ExitCode *int
	// Reason explains the last outcome, eg. a spawn error or a cancel reason.
	Reason string
	// NextRunAt is the planned relaunch while Restarting.
	NextRunAt time.Time
}

type taskInfoWire struct {
	ID        string     `json:"id"`
	Slot      string     `json:"slot"`
	Status    TaskStatus `json:"status"`
	Attempt   int        `json:"attempt"`
	Final     bool       `json:"final"`
	CreatedAt int64      `json:"createdAt"`
	UpdatedAt int64      `json:"updatedAt"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	NextRunAt int64      `json:"nextRunAt,omitempty"`
}

// MarshalJSON encodes timestamps as epoch milliseconds.
func (i TaskInfo) MarshalJSON() ([]byte, error) {
	w := taskInfoWire{
		ID:        i.ID,
		Slot:      i.Slot,
		Status:    i.Status,
		Attempt:   i.Attempt,
		Final:     i.Final,
		CreatedAt: i.CreatedAt.UnixMilli(),
		UpdatedAt: i.UpdatedAt.UnixMilli(),
		ExitCode:  i.ExitCode,
		Reason:    i.Reason,
	}
	if !i.NextRunAt.IsZero() {
		w.NextRunAt = i.NextRunAt.UnixMilli()
	}
	return json.Marshal(w)
}

func (i *TaskInfo) UnmarshalJSON(b []byte) error {
	var w taskInfoWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*i = TaskInfo{
		ID:        w.ID,
		Slot:      w.Slot,
		Status:    w.Status,
		Attempt:   w.Attempt,
		Final:     w.Final,
		CreatedAt: time.UnixMilli(w.CreatedAt),
		UpdatedAt: time.UnixMilli(w.UpdatedAt),
		ExitCode:  w.ExitCode,
		Reason:    w.Reason,
	}
	if w.NextRunAt != 0 {
		i.NextRunAt = time.UnixMilli(w.NextRunAt)
	}
	return nil
}
