package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/invitewarden/invitewarden-server/internal/directory"
	"github.com/invitewarden/invitewarden-server/internal/domain"
	"github.com/invitewarden/invitewarden-server/internal/ledger"
	"github.com/invitewarden/invitewarden-server/internal/rules"
	"github.com/invitewarden/invitewarden-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGuild = "guild-1"

// staticRules is a fixed RuleProvider for tests.
type staticRules []rules.Rule

func (s staticRules) Rules() []rules.Rule { return s }

type fixture struct {
	reconciler *Reconciler
	ledger     *ledger.Ledger
	dir        *directory.Fake
}

// setupReconcileTest wires a reconciler against a temp store and a fake
// directory pre-seeded with the guild's role definitions.
func setupReconcileTest(t *testing.T, configured []rules.Rule) *fixture {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "invitewarden-reconcile-test-*")
	require.NoError(t, err)

	s, err := store.New(filepath.Join(tmpDir, "test.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(tmpDir)
	})

	led := ledger.New(s, nil)

	dir := directory.NewFake()
	dir.SetRoles(testGuild, []domain.GuildRole{
		{ID: "role-r", Name: "Regular"},
		{ID: "role-reward", Name: "Recruiter"},
		{ID: "role-reward2", Name: "Super Recruiter"},
	})

	rec := New(dir, led, rules.NewEngine(nil), staticRules(configured), nil)

	return &fixture{reconciler: rec, ledger: led, dir: dir}
}

func perInviteeRule() rules.Rule {
	return rules.Rule{
		Kind:          rules.KindPerInvitee,
		RewardRole:    rules.RoleSelector{ID: "role-reward"},
		RequiredRoles: []rules.RoleSelector{{ID: "role-r"}},
	}
}

func thresholdRule(n int) rules.Rule {
	return rules.Rule{
		Kind:          rules.KindThreshold,
		RewardRole:    rules.RoleSelector{ID: "role-reward"},
		RequiredRoles: []rules.RoleSelector{{ID: "role-r"}},
		Threshold:     n,
	}
}

func (f *fixture) addInvitee(t *testing.T, inviterID, inviteeID string, roleIDs ...string) {
	t.Helper()
	f.dir.PutMember(testGuild, &domain.Member{ID: inviteeID, RoleIDs: roleIDs})
	_, err := f.ledger.AddInvitee(context.Background(), testGuild, inviterID, inviteeID)
	require.NoError(t, err)
}

func (f *fixture) inviterRoles(t *testing.T, inviterID string) []string {
	t.Helper()
	m, err := f.dir.FetchMember(context.Background(), testGuild, inviterID)
	require.NoError(t, err)
	return m.RoleIDs
}

func TestReconcile_PerInviteeScenario(t *testing.T) {
	f := setupReconcileTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})

	// B joins without the qualifying role: no reward yet
	f.addInvitee(t, "user-a", "user-b")
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.NotContains(t, f.inviterRoles(t, "user-a"), "role-reward")

	// C joins holding the qualifying role: reward granted
	f.addInvitee(t, "user-a", "user-c", "role-r")
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.Contains(t, f.inviterRoles(t, "user-a"), "role-reward")

	// B leaves: C still qualifies, reward retained
	f.dir.RemoveMember(testGuild, "user-b")
	_, _, err := f.ledger.RemoveInvitee(ctx, testGuild, "user-b")
	require.NoError(t, err)
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.Contains(t, f.inviterRoles(t, "user-a"), "role-reward")

	// C leaves: zero qualifying invitees, reward revoked
	f.dir.RemoveMember(testGuild, "user-c")
	_, _, err = f.ledger.RemoveInvitee(ctx, testGuild, "user-c")
	require.NoError(t, err)
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.NotContains(t, f.inviterRoles(t, "user-a"), "role-reward")
}

func TestReconcile_ThresholdBoundary(t *testing.T) {
	f := setupReconcileTest(t, []rules.Rule{thresholdRule(3)})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})

	f.addInvitee(t, "user-a", "user-b", "role-r")
	f.addInvitee(t, "user-a", "user-c", "role-r")
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.NotContains(t, f.inviterRoles(t, "user-a"), "role-reward")

	// Third qualifying invitee crosses the threshold
	f.addInvitee(t, "user-a", "user-d", "role-r")
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.Contains(t, f.inviterRoles(t, "user-a"), "role-reward")

	// Losing the third drops below threshold and revokes
	f.dir.RemoveMember(testGuild, "user-d")
	_, _, err := f.ledger.RemoveInvitee(ctx, testGuild, "user-d")
	require.NoError(t, err)
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.NotContains(t, f.inviterRoles(t, "user-a"), "role-reward")
}

func TestReconcile_AbsentInviteeDoesNotCount(t *testing.T) {
	f := setupReconcileTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})
	f.addInvitee(t, "user-a", "user-b", "role-r")

	// Invitee in the ledger but gone from the guild: silently excluded
	f.dir.RemoveMember(testGuild, "user-b")
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.NotContains(t, f.inviterRoles(t, "user-a"), "role-reward")
}

func TestRetroactive_Idempotent(t *testing.T) {
	f := setupReconcileTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})
	f.dir.PutMember(testGuild, &domain.Member{ID: "user-x"})
	f.addInvitee(t, "user-a", "user-b", "role-r")
	f.addInvitee(t, "user-x", "user-y")

	require.NoError(t, f.reconciler.Retroactive(ctx, testGuild))
	assert.Contains(t, f.inviterRoles(t, "user-a"), "role-reward")
	assert.NotContains(t, f.inviterRoles(t, "user-x"), "role-reward")
	first := f.dir.MutationCount()
	assert.Equal(t, 1, first)

	// Second pass with no intervening events issues zero mutations
	require.NoError(t, f.reconciler.Retroactive(ctx, testGuild))
	assert.Equal(t, first, f.dir.MutationCount())
}

func TestRetroactive_InviterFailureDoesNotAbortPass(t *testing.T) {
	f := setupReconcileTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})
	f.dir.PutMember(testGuild, &domain.Member{ID: "user-x"})
	f.addInvitee(t, "user-a", "user-b", "role-r")
	f.addInvitee(t, "user-x", "user-y", "role-r")

	// One inviter's fetch fails transiently; the pass still succeeds and
	// the other inviter is reconciled
	f.dir.FailFetchesFor = map[string]bool{"user-a": true}
	require.NoError(t, f.reconciler.Retroactive(ctx, testGuild))
	assert.Contains(t, f.inviterRoles(t, "user-x"), "role-reward")
	assert.NotContains(t, f.dir.AddRoleCalls, "user-a:role-reward")

	// A later pass with the failure cleared converges the skipped inviter
	f.dir.FailFetchesFor = nil
	require.NoError(t, f.reconciler.Retroactive(ctx, testGuild))
	assert.Contains(t, f.inviterRoles(t, "user-a"), "role-reward")
}

func TestReconcile_MutationFailureDoesNotAbortPass(t *testing.T) {
	f := setupReconcileTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})
	f.addInvitee(t, "user-a", "user-b", "role-r")

	// The add fails this pass; the pass itself still succeeds
	f.dir.FailMutations = true
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.NotContains(t, f.inviterRoles(t, "user-a"), "role-reward")

	// Next pass re-derives the same desired state and retries naturally
	f.dir.FailMutations = false
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.Contains(t, f.inviterRoles(t, "user-a"), "role-reward")
}

func TestReconcile_LastRuleWinsForSharedRewardRole(t *testing.T) {
	// Two rules target the same reward role; the second cannot be
	// satisfied, so its remove decision lands last.
	f := setupReconcileTest(t, []rules.Rule{
		perInviteeRule(),
		thresholdRule(5),
	})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})
	f.addInvitee(t, "user-a", "user-b", "role-r")

	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))

	// The per-invitee rule granted it, then the threshold rule revoked it
	assert.Equal(t, []string{"user-a:role-reward"}, f.dir.AddRoleCalls)
	assert.Equal(t, []string{"user-a:role-reward"}, f.dir.RemoveRoleCalls)
	assert.NotContains(t, f.inviterRoles(t, "user-a"), "role-reward")
}

func TestReconcile_InviterLeftGuild(t *testing.T) {
	f := setupReconcileTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	// Inviter not in the directory at all
	f.addInvitee(t, "user-gone", "user-b", "role-r")
	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-gone"))
	assert.Zero(t, f.dir.MutationCount())
}

func TestReconcile_NoRulesNoDirectoryCalls(t *testing.T) {
	f := setupReconcileTest(t, nil)
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})
	f.addInvitee(t, "user-a", "user-b", "role-r")

	require.NoError(t, f.reconciler.ReconcileInviter(ctx, testGuild, "user-a"))
	assert.Zero(t, f.dir.MutationCount())
}
