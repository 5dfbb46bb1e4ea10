package api

import "github.com/CZERTAINLY/Overseer/internal/model"

const (
	BasePath    = "/api/v1"
	TasksPath   = BasePath + "/tasks"
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"

	ProblemContentType = "application/problem+json"
)

type SubmitRequest struct {
	// RequestID is optional and only used for log correlation.
	RequestID string         `json:"requestId,omitempty"`
	Spec      model.TaskSpec `json:"spec"`
}

type SubmitResponse struct {
	TaskID string `json:"taskId"`
}

type InfoResponse struct {
	Info model.TaskInfo `json:"info"`
}

type ListResponse struct {
	Tasks []model.TaskInfo `json:"tasks"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// Problem is an RFC 9457 problem detail. Type carries one of the Problem*
// codes so clients can map it back to the sentinel error.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

const (
	ProblemRejected        = "rejected"
	ProblemNotFound        = "not-found"
	ProblemInvalidState    = "invalid-state"
	ProblemInvalidSpec     = "invalid-spec"
	ProblemInvalidArgument = "invalid-argument"
	ProblemClosed          = "closed"
	ProblemInternal        = "internal"
)
