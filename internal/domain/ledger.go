package domain

import "time"

// LedgerRecord is the persistent list of members a single inviter brought
// into a guild. Insertion order is preserved for display; membership is a
// set (an invitee appears at most once).
//
// Records outlive the invite links that produced them: deleting or expiring
// a code never touches the ledger. Entries are removed only when the invitee
// leaves the guild or an admin removes the mapping.
type LedgerRecord struct {
	GuildID    string    `json:"guild_id"`
	InviterID  string    `json:"inviter_id"`
	InviteeIDs []string  `json:"invitee_ids"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Has reports whether inviteeID is already recorded under this inviter.
func (r *LedgerRecord) Has(inviteeID string) bool {
	for _, id := range r.InviteeIDs {
		if id == inviteeID {
			return true
		}
	}
	return false
}

// Remove deletes inviteeID from the record, preserving order of the rest.
// Returns false if the invitee was not present.
func (r *LedgerRecord) Remove(inviteeID string) bool {
	for i, id := range r.InviteeIDs {
		if id == inviteeID {
			r.InviteeIDs = append(r.InviteeIDs[:i], r.InviteeIDs[i+1:]...)
			return true
		}
	}
	return false
}

// LedgerSummary is a human-readable projection of the ledger, regenerated on
// every save. It is never read back as a source of truth.
type LedgerSummary struct {
	GuildID     string                  `json:"guild_id"`
	Inviters    map[string]InviterStats `json:"inviters"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// InviterStats is one inviter's row in the summary projection.
type InviterStats struct {
	Count      int      `json:"count"`
	InviteeIDs []string `json:"invitee_ids"`
}
