// Package agentfilter classifies agent records as legitimate creators
// versus system, donor-only, and repository identities. Decide is a pure
// function of the agent attributes fetched in bulk; no per-agent API calls
// happen here, so a role change is reflected on the very next run.
package agentfilter

import (
	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

// Reason explains an inclusion decision. False inclusion leaks internal
// identities into public discovery; false exclusion hides a creator. Rule
// order is exact and deterministic.
type Reason string

const (
	// ReasonSystemUser excludes software accounts representing operators.
	ReasonSystemUser Reason = "system user"

	// ReasonSystemGenerated excludes auto-created shadow agents.
	ReasonSystemGenerated Reason = "system generated"

	// ReasonRepoAgent excludes the repository's own corporate identity.
	ReasonRepoAgent Reason = "repository agent"

	// ReasonDonorOnly excludes agents whose only linked role is donor.
	ReasonDonorOnly Reason = "donor-only, no creator role"

	// ReasonCreatorRole includes agents holding a creator role.
	ReasonCreatorRole Reason = "creator role"

	// ReasonPublishedLinkage includes agents linked from a published record.
	ReasonPublishedLinkage Reason = "linked to published record"

	// ReasonNoQualifyingLinkage is the default exclusion.
	ReasonNoQualifyingLinkage Reason = "no qualifying role or linkage"
)

// Role names as they appear in linked_agent_roles.
const (
	roleCreator = "creator"
	roleDonor   = "donor"
)

// Decision is the per-agent classification outcome.
type Decision struct {
	Include bool
	Reason  Reason
}

// Decide classifies one agent. Exclusions are evaluated in priority order;
// the first matching exclusion wins.
func Decide(agent *aspace.Agent) Decision {
	if agent.IsUser {
		return Decision{Reason: ReasonSystemUser}
	}

	if agent.SystemGenerated {
		return Decision{Reason: ReasonSystemGenerated}
	}

	if agent.IsRepoAgent {
		return Decision{Reason: ReasonRepoAgent}
	}

	hasCreator := hasRole(agent.LinkedAgentRoles, roleCreator)

	if donorOnly(agent.LinkedAgentRoles) && !hasCreator {
		return Decision{Reason: ReasonDonorOnly}
	}

	if hasCreator {
		return Decision{Include: true, Reason: ReasonCreatorRole}
	}

	if agent.IsLinkedToPublishedRecord {
		return Decision{Include: true, Reason: ReasonPublishedLinkage}
	}

	return Decision{Reason: ReasonNoQualifyingLinkage}
}

func hasRole(roles []string, want string) bool {
	for _, role := range roles {
		if role == want {
			return true
		}
	}

	return false
}

// donorOnly reports whether the role set is non-empty and contains nothing
// but donor roles.
func donorOnly(roles []string) bool {
	if len(roles) == 0 {
		return false
	}

	for _, role := range roles {
		if role != roleDonor {
			return false
		}
	}

	return true
}
