package domain

// Member is a guild member as reported by the directory.
type Member struct {
	ID      string   `json:"id"`
	RoleIDs []string `json:"role_ids"`
}

// HasRole reports whether the member currently holds the given role.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the member holds at least one of the given roles.
func (m *Member) HasAnyRole(roleIDs []string) bool {
	for _, id := range roleIDs {
		if m.HasRole(id) {
			return true
		}
	}
	return false
}

// GuildRole is a role definition as reported by the directory.
// Used to resolve rule role references by id or, failing that, by name.
type GuildRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
