package model

import (
	"errors"
)

var (
	ErrRejected        = errors.New("slot occupied")
	ErrNotFound        = errors.New("task not found")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidSpec     = errors.New("invalid task spec")
	ErrClosed          = errors.New("supervisor closed")
	ErrCancelled       = errors.New("task cancelled")
	ErrTimedOut        = errors.New("task timed out")
)
