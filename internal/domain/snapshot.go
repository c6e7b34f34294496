package domain

// InviteInfo is the observed state of a single guild invite link.
type InviteInfo struct {
	Code      string `json:"code"`
	Uses      int    `json:"uses"`
	InviterID string `json:"inviter_id,omitempty"` // Absent for vanity or widget invites
}

// InviteSnapshot is the last observed invite state for one guild, keyed by
// invite code. Snapshots are replaced wholesale on every poll and never
// merged field-by-field; they exist only so the next poll can be diffed
// against them.
type InviteSnapshot map[string]InviteInfo

// Clone returns a deep copy of the snapshot.
func (s InviteSnapshot) Clone() InviteSnapshot {
	if s == nil {
		return nil
	}
	out := make(InviteSnapshot, len(s))
	for code, info := range s {
		out[code] = info
	}
	return out
}
