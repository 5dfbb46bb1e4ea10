package supervisor

import (
	"context"
	"fmt"

	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/registry"
)

// Admission decisions, also used as the metrics label.
const (
	DecisionAccepted = "accepted"
	DecisionReplaced = "replaced"
	DecisionRejected = "rejected"
)

// admit makes the accept, replace or reject decision for spec. The check
// and the registry mutation happen in one registry critical section.
func admit(parent context.Context, reg *registry.Registry, spec model.TaskSpec) (registry.Ticket, string, error) {
	switch spec.Admission {
	case model.AdmissionDropIfRunning:
		ticket, err := reg.Reserve(parent, spec)
		if err != nil {
			return registry.Ticket{}, DecisionRejected, err
		}
		return ticket, DecisionAccepted, nil
	case model.AdmissionReplace:
		ticket := reg.Replace(parent, spec)
		if ticket.Replaced != "" {
			return ticket, DecisionReplaced, nil
		}
		return ticket, DecisionAccepted, nil
	default:
		return registry.Ticket{}, DecisionRejected, fmt.Errorf("%w: admission %s", model.ErrInvalidSpec, spec.Admission)
	}
}
