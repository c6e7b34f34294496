package directory

import (
	"context"
	"sync"

	"github.com/invitewarden/invitewarden-server/internal/domain"
	"github.com/invitewarden/invitewarden-server/internal/errors"
)

// Fake is an in-memory Directory for tests. It records role mutations so
// reconciliation tests can assert on exactly which calls were issued.
type Fake struct {
	mu sync.Mutex

	invites map[string][]domain.InviteInfo       // guildID -> invites
	members map[string]map[string]*domain.Member // guildID -> userID -> member
	roles   map[string][]domain.GuildRole        // guildID -> roles

	// FailFetches makes member lookups fail transiently when set.
	FailFetches bool
	// FailFetchesFor makes FetchMember fail transiently for these user IDs
	// only.
	FailFetchesFor map[string]bool
	// FailMutations makes AddRole/RemoveRole fail transiently when set.
	FailMutations bool

	// AddRoleCalls and RemoveRoleCalls record mutations as
	// "userID:roleID" strings in call order.
	AddRoleCalls    []string
	RemoveRoleCalls []string
}

// NewFake creates an empty fake directory.
func NewFake() *Fake {
	return &Fake{
		invites: map[string][]domain.InviteInfo{},
		members: map[string]map[string]*domain.Member{},
		roles:   map[string][]domain.GuildRole{},
	}
}

// SetInvites replaces a guild's invite list.
func (f *Fake) SetInvites(guildID string, invites []domain.InviteInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites[guildID] = invites
}

// PutMember adds or replaces a guild member.
func (f *Fake) PutMember(guildID string, member *domain.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[guildID] == nil {
		f.members[guildID] = map[string]*domain.Member{}
	}
	f.members[guildID][member.ID] = member
}

// RemoveMember deletes a guild member, as if they left.
func (f *Fake) RemoveMember(guildID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[guildID], userID)
}

// SetRoles replaces a guild's role definitions.
func (f *Fake) SetRoles(guildID string, roles []domain.GuildRole) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID] = roles
}

// ResetCalls clears the recorded mutation calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AddRoleCalls = nil
	f.RemoveRoleCalls = nil
}

// MutationCount returns the total number of role mutations issued.
func (f *Fake) MutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.AddRoleCalls) + len(f.RemoveRoleCalls)
}

// ListInvites implements Directory.
func (f *Fake) ListInvites(_ context.Context, guildID string) ([]domain.InviteInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFetches {
		return nil, errors.Unavailable("fake directory: fetches disabled")
	}
	out := make([]domain.InviteInfo, len(f.invites[guildID]))
	copy(out, f.invites[guildID])
	return out, nil
}

// ListMembers implements Directory.
func (f *Fake) ListMembers(_ context.Context, guildID string) ([]*domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFetches {
		return nil, errors.Unavailable("fake directory: fetches disabled")
	}
	out := make([]*domain.Member, 0, len(f.members[guildID]))
	for _, m := range f.members[guildID] {
		out = append(out, cloneMember(m))
	}
	return out, nil
}

// FetchMember implements Directory.
func (f *Fake) FetchMember(_ context.Context, guildID, userID string) (*domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFetches || f.FailFetchesFor[userID] {
		return nil, errors.Unavailable("fake directory: fetches disabled")
	}
	m, ok := f.members[guildID][userID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return cloneMember(m), nil
}

// ListRoles implements Directory.
func (f *Fake) ListRoles(_ context.Context, guildID string) ([]domain.GuildRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFetches {
		return nil, errors.Unavailable("fake directory: fetches disabled")
	}
	out := make([]domain.GuildRole, len(f.roles[guildID]))
	copy(out, f.roles[guildID])
	return out, nil
}

// AddRole implements Directory.
func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailMutations {
		return errors.Unavailable("fake directory: mutations disabled")
	}
	f.AddRoleCalls = append(f.AddRoleCalls, userID+":"+roleID)
	if m, ok := f.members[guildID][userID]; ok && !m.HasRole(roleID) {
		m.RoleIDs = append(m.RoleIDs, roleID)
	}
	return nil
}

// RemoveRole implements Directory.
func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailMutations {
		return errors.Unavailable("fake directory: mutations disabled")
	}
	f.RemoveRoleCalls = append(f.RemoveRoleCalls, userID+":"+roleID)
	if m, ok := f.members[guildID][userID]; ok {
		for i, id := range m.RoleIDs {
			if id == roleID {
				m.RoleIDs = append(m.RoleIDs[:i], m.RoleIDs[i+1:]...)
				break
			}
		}
	}
	return nil
}

func cloneMember(m *domain.Member) *domain.Member {
	roles := make([]string, len(m.RoleIDs))
	copy(roles, m.RoleIDs)
	return &domain.Member{ID: m.ID, RoleIDs: roles}
}
