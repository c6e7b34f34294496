package domain

import "time"

// EventType identifies a gateway event consumed by the tracker pipeline.
type EventType string

// Gateway event types.
const (
	EventMemberJoined       EventType = "member_joined"
	EventMemberLeft         EventType = "member_left"
	EventMemberRolesChanged EventType = "member_roles_changed"
	EventInviteCreated      EventType = "invite_created"
	EventInviteDeleted      EventType = "invite_deleted"

	// EventSnapshotSync is synthesized by the poll ticker to refresh a
	// guild's stored invite snapshot outside of join handling.
	EventSnapshotSync EventType = "snapshot_sync"
)

// Event is a typed gateway event. Fields beyond Type and GuildID are
// populated per event type:
//
//   - member events carry UserID (and Old/NewRoleIDs for role changes)
//   - invite events carry Code and, when known, InviterID
//
// Admin mutations do not flow through the event source; the tracker
// serializes them against these events with a per-guild ledger lock.
type Event struct {
	Type       EventType `json:"type"`
	GuildID    string    `json:"guild_id"`
	UserID     string    `json:"user_id,omitempty"`
	Code       string    `json:"code,omitempty"`
	InviterID  string    `json:"inviter_id,omitempty"`
	OldRoleIDs []string  `json:"old_role_ids,omitempty"`
	NewRoleIDs []string  `json:"new_role_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
