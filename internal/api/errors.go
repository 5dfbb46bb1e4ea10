package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

var problems = []struct {
	err    error
	typ    string
	status int
}{
	{model.ErrRejected, ProblemRejected, http.StatusConflict},
	{model.ErrNotFound, ProblemNotFound, http.StatusNotFound},
	{model.ErrInvalidState, ProblemInvalidState, http.StatusConflict},
	{model.ErrInvalidSpec, ProblemInvalidSpec, http.StatusBadRequest},
	{model.ErrInvalidArgument, ProblemInvalidArgument, http.StatusBadRequest},
	{model.ErrClosed, ProblemClosed, http.StatusServiceUnavailable},
}

// ToProblem maps err to a problem detail.
func ToProblem(err error) Problem {
	for _, p := range problems {
		if errors.Is(err, p.err) {
			return Problem{
				Type:   p.typ,
				Title:  http.StatusText(p.status),
				Status: p.status,
				Detail: err.Error(),
			}
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		typ := ProblemInternal
		switch {
		case fe.Code == http.StatusNotFound:
			typ = ProblemNotFound
		case fe.Code < http.StatusInternalServerError:
			typ = ProblemInvalidArgument
		}
		return Problem{
			Type:   typ,
			Title:  http.StatusText(fe.Code),
			Status: fe.Code,
			Detail: fe.Message,
		}
	}
	return Problem{
		Type:   ProblemInternal,
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Detail: err.Error(),
	}
}

// FromProblem is the reverse of ToProblem, it returns an error wrapping
// the sentinel of p.Type.
func FromProblem(p Problem) error {
	for _, known := range problems {
		if known.typ == p.Type {
			return &ProblemError{Problem: p, sentinel: known.err}
		}
	}
	return &ProblemError{Problem: p}
}

type ProblemError struct {
	Problem  Problem
	sentinel error
}

func (e *ProblemError) Error() string {
	if e.Problem.Detail != "" {
		return e.Problem.Detail
	}
	return e.Problem.Title
}

func (e *ProblemError) Unwrap() error {
	return e.sentinel
}
