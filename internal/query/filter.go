package query

import (
	"github.com/meshgate/opmond/internal/models"
	"github.com/meshgate/opmond/internal/registry"
	"github.com/meshgate/opmond/internal/store"
)

// Role classifies a query caller. The role decides record visibility and
// whether the security server internal IP is disclosed.
type Role int

const (
	// RoleRegularClient sees only exchanges it participated in.
	RoleRegularClient Role = iota
	// RoleCentralMonitoringClient sees all records, IP masked.
	RoleCentralMonitoringClient
	// RoleOwner sees all records including the internal IP.
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleCentralMonitoringClient:
		return "central-monitoring-client"
	default:
		return "regular-client"
	}
}

// ResolveRole maps a caller identity to its role. Owner wins over central
// monitoring when both match.
func ResolveRole(reg *registry.Registry, caller models.ClientID) Role {
	switch {
	case reg.IsOwner(caller):
		return RoleOwner
	case reg.IsCentralMonitoringClient(caller):
		return RoleCentralMonitoringClient
	default:
		return RoleRegularClient
	}
}

// effectiveCriteria combines the caller's requested search criteria with
// the implicit restriction of its role. Criteria are conjunctive, so a
// regular client cannot widen its view past its own exchanges. The time
// range is filled in by the engine after clamping.
func effectiveCriteria(role Role, caller models.ClientID, req *OperationalDataRequest, limit int) store.Criteria {
	c := store.Criteria{Limit: limit}

	if role == RoleRegularClient {
		c.EitherSide = append(c.EitherSide, caller)
	}
	if client := req.client(); client != nil {
		c.EitherSide = append(c.EitherSide, *client)
	}
	if provider := req.serviceProvider(); provider != nil {
		c.ServiceSide = provider
	}

	return c
}
