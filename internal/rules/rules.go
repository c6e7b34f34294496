// Package rules loads and evaluates the declarative reward rules that drive
// inviter role assignments.
package rules

import (
	"strings"

	"github.com/invitewarden/invitewarden-server/internal/domain"
)

// Kind discriminates the two rule variants.
type Kind string

const (
	// KindPerInvitee awards the reward role while at least one current
	// invitee holds any of the required roles.
	KindPerInvitee Kind = "per_invitee"
	// KindThreshold awards the reward role while the count of current
	// invitees holding a required role meets the threshold.
	KindThreshold Kind = "threshold"
)

// RoleSelector references a guild role by id or, failing that, by name.
type RoleSelector struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Empty reports whether the selector references nothing.
func (s RoleSelector) Empty() bool {
	return s.ID == "" && s.Name == ""
}

// Resolve finds the matching guild role, trying id first and falling back to
// a case-insensitive name match.
func (s RoleSelector) Resolve(roles []domain.GuildRole) (domain.GuildRole, bool) {
	if s.ID != "" {
		for _, r := range roles {
			if r.ID == s.ID {
				return r, true
			}
		}
	}
	if s.Name != "" {
		for _, r := range roles {
			if strings.EqualFold(r.Name, s.Name) {
				return r, true
			}
		}
	}
	return domain.GuildRole{}, false
}

// Rule is one declarative reward rule.
//
// Rules are independent and evaluated in file order. When two rules target
// the same reward role, each rule's add/remove decision is applied on its
// own, so the last rule processed determines the final state. That is a
// configuration hazard, not something the engine resolves.
type Rule struct {
	Kind          Kind           `json:"kind" validate:"required,oneof=per_invitee threshold"`
	RewardRole    RoleSelector   `json:"reward_role"`
	RequiredRoles []RoleSelector `json:"required_roles" validate:"required,min=1"`
	Threshold     int            `json:"threshold,omitempty" validate:"required_if=Kind threshold,omitempty,gt=0"`
}

// ResolvedRule is a Rule whose role selectors have been resolved against a
// guild's live role list.
type ResolvedRule struct {
	Kind            Kind
	RewardRoleID    string
	RequiredRoleIDs []string
	Threshold       int
}
