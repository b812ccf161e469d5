// Package lifecycle models the fixed dependency graph over editorial roles.
// The graph is configuration, not data: it is built once and never mutated.
package lifecycle

import (
	"fmt"

	"purple/internal/domain"
)

// ErrConfiguration reports a role referenced by the graph that is missing
// from the configured role set. It is fatal at startup, never per-document.
type ErrConfiguration struct {
	Role domain.Role
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("lifecycle: role %q not in configured role set", e.Role)
}

// Graph is the activity dependency graph:
//
//	enqueuer -> formatting -> first_editor -> second_editor \
//	                       \-> ref_checker ------------------> final_review_editor -> publisher
type Graph struct {
	prereqs map[domain.Role][]domain.Role
}

// New returns the editorial pipeline graph. The blocked role is deliberately
// absent: it is synthetic and never a prerequisite of anything.
func New() Graph {
	return Graph{prereqs: map[domain.Role][]domain.Role{
		domain.RoleEnqueuer:          {},
		domain.RoleFormatting:        {domain.RoleEnqueuer},
		domain.RoleFirstEditor:       {domain.RoleFormatting},
		domain.RoleSecondEditor:      {domain.RoleFirstEditor},
		domain.RoleRefChecker:        {domain.RoleFormatting},
		domain.RoleFinalReviewEditor: {domain.RoleSecondEditor, domain.RoleRefChecker},
		domain.RolePublisher:         {domain.RoleFinalReviewEditor},
	}}
}

// Roles returns every role in the graph.
func (g Graph) Roles() []domain.Role {
	roles := make([]domain.Role, 0, len(g.prereqs))
	for r := range g.prereqs {
		roles = append(roles, r)
	}
	return roles
}

// Contains reports whether the role is part of the graph.
func (g Graph) Contains(role domain.Role) bool {
	_, ok := g.prereqs[role]
	return ok
}

// PrerequisitesOf returns the direct prerequisites of a role.
func (g Graph) PrerequisitesOf(role domain.Role) ([]domain.Role, error) {
	pre, ok := g.prereqs[role]
	if !ok {
		return nil, &ErrConfiguration{Role: role}
	}
	return pre, nil
}

// Validate checks that every graph role (plus the synthetic blocked role)
// exists in the configured role set.
func (g Graph) Validate(configured map[domain.Role]bool) error {
	for role := range g.prereqs {
		if !configured[role] {
			return &ErrConfiguration{Role: role}
		}
	}
	if !configured[domain.RoleBlocked] {
		return &ErrConfiguration{Role: domain.RoleBlocked}
	}
	return nil
}

// Completed returns the roles with a done assignment on the document.
func (g Graph) Completed(assignments []domain.Assignment) map[domain.Role]bool {
	done := make(map[domain.Role]bool)
	for _, a := range assignments {
		if a.State == domain.StateDone && g.Contains(a.Role) {
			done[a.Role] = true
		}
	}
	return done
}

// Incomplete returns all graph roles without a done assignment. It includes
// roles currently in progress or waiting for work to begin.
func (g Graph) Incomplete(assignments []domain.Assignment) map[domain.Role]bool {
	completed := g.Completed(assignments)
	out := make(map[domain.Role]bool)
	for role := range g.prereqs {
		if !completed[role] {
			out[role] = true
		}
	}
	return out
}

// Pending returns the roles that could be assigned now but have not been:
// every prerequisite is done and no non-withdrawn assignment exists yet.
func (g Graph) Pending(assignments []domain.Assignment) map[domain.Role]bool {
	completed := make(map[domain.Role]bool)
	taken := make(map[domain.Role]bool)
	for _, a := range assignments {
		if !g.Contains(a.Role) {
			continue
		}
		if a.State != domain.StateWithdrawn {
			taken[a.Role] = true
		}
		if a.State == domain.StateDone {
			completed[a.Role] = true
		}
	}
	out := make(map[domain.Role]bool)
	for role, prereqs := range g.prereqs {
		if taken[role] {
			continue
		}
		ready := true
		for _, pre := range prereqs {
			if !completed[pre] {
				ready = false
				break
			}
		}
		if ready {
			out[role] = true
		}
	}
	return out
}
