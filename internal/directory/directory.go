// Package directory abstracts the guild directory the tracker reconciles
// against: invite listings, member lookups, and role mutations.
//
// The core treats every call here as a suspension point that may fail
// transiently; callers degrade to "treat as absent" rather than retrying
// within a pass.
package directory

import (
	"context"

	"github.com/invitewarden/invitewarden-server/internal/domain"
)

// Directory is the guild directory collaborator.
//
// Implementations map absence (unknown member, unknown guild) to
// errors.ErrNotFound and transient failures to errors.ErrUnavailable so the
// pipeline can tell a defined outcome from a degraded one.
type Directory interface {
	// ListInvites returns the guild's current invite links with use counts.
	ListInvites(ctx context.Context, guildID string) ([]domain.InviteInfo, error)

	// ListMembers returns the guild's full membership. Used by the
	// retroactive pass, which fetches membership once and reuses it across
	// every inviter's evaluation.
	ListMembers(ctx context.Context, guildID string) ([]*domain.Member, error)

	// FetchMember returns one member's current state.
	FetchMember(ctx context.Context, guildID, userID string) (*domain.Member, error)

	// ListRoles returns the guild's role definitions for rule resolution.
	ListRoles(ctx context.Context, guildID string) ([]domain.GuildRole, error)

	// AddRole grants a role to a member.
	AddRole(ctx context.Context, guildID, userID, roleID string) error

	// RemoveRole revokes a role from a member.
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}
