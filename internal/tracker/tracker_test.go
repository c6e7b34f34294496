package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/invitewarden/invitewarden-server/internal/directory"
	"github.com/invitewarden/invitewarden-server/internal/domain"
	apperrors "github.com/invitewarden/invitewarden-server/internal/errors"
	"github.com/invitewarden/invitewarden-server/internal/ledger"
	"github.com/invitewarden/invitewarden-server/internal/reconcile"
	"github.com/invitewarden/invitewarden-server/internal/rules"
	"github.com/invitewarden/invitewarden-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGuild = "guild-1"

type staticRules []rules.Rule

func (s staticRules) Rules() []rules.Rule { return s }

type fixture struct {
	tracker *Tracker
	store   *store.Store
	ledger  *ledger.Ledger
	dir     *directory.Fake
}

func setupTrackerTest(t *testing.T, configured []rules.Rule) *fixture {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "invitewarden-tracker-test-*")
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
	})

	rec := reconcile.New(dir, led, rules.NewEngine(nil), staticRules(configured), nil)

	tr := New(Config{
		Store:      s,
		Ledger:     led,
		Directory:  dir,
		Reconciler: rec,
		Source:     NewChannelSource(16),
		GuildIDs:   []string{testGuild},
	})

	return &fixture{tracker: tr, store: s, ledger: led, dir: dir}
}

func perInviteeRule() rules.Rule {
	return rules.Rule{
		Kind:          rules.KindPerInvitee,
		RewardRole:    rules.RoleSelector{ID: "role-reward"},
		RequiredRoles: []rules.RoleSelector{{ID: "role-r"}},
	}
}

func joinEvent(userID string) domain.Event {
	return domain.Event{
		Type:      domain.EventMemberJoined,
		GuildID:   testGuild,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func TestHandleMemberJoined_AttributesAndRecords(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	// Baseline snapshot: code abc has 2 uses
	f.dir.SetInvites(testGuild, []domain.InviteInfo{
		{Code: "abc", Uses: 2, InviterID: "user-a"},
	})
	require.NoError(t, f.store.PutSnapshot(ctx, testGuild, domain.InviteSnapshot{
		"abc": {Code: "abc", Uses: 2, InviterID: "user-a"},
	}))

	// B joins and the use count ticks to 3
	f.dir.SetInvites(testGuild, []domain.InviteInfo{
		{Code: "abc", Uses: 3, InviterID: "user-a"},
	})
	require.NoError(t, f.tracker.handle(ctx, joinEvent("user-b")))

	inviterID, found, err := f.ledger.InviterOf(ctx, testGuild, "user-b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "user-a", inviterID)

	// Snapshot advanced to the fresh listing
	snap, err := f.store.GetSnapshot(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, 3, snap["abc"].Uses)
}

func TestHandleMemberJoined_FailClosedOnListingFailure(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.PutSnapshot(ctx, testGuild, domain.InviteSnapshot{
		"abc": {Code: "abc", Uses: 2, InviterID: "user-a"},
	}))

	f.dir.FailFetches = true
	err := f.tracker.handle(ctx, joinEvent("user-b"))
	require.Error(t, err)

	// No ledger entry, and the old snapshot is still intact
	_, found, err := f.ledger.InviterOf(ctx, testGuild, "user-b")
	require.NoError(t, err)
	assert.False(t, found)

	snap, err := f.store.GetSnapshot(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, 2, snap["abc"].Uses)
}

func TestHandleMemberJoined_UnattributedStillCommitsSnapshot(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	// No snapshot delta at all (e.g. vanity URL join)
	f.dir.SetInvites(testGuild, []domain.InviteInfo{
		{Code: "abc", Uses: 2, InviterID: "user-a"},
	})
	require.NoError(t, f.store.PutSnapshot(ctx, testGuild, domain.InviteSnapshot{
		"abc": {Code: "abc", Uses: 2, InviterID: "user-a"},
	}))

	require.NoError(t, f.tracker.handle(ctx, joinEvent("user-b")))

	_, found, err := f.ledger.InviterOf(ctx, testGuild, "user-b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHandleMemberJoined_SelfJoinNotRecorded(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.PutSnapshot(ctx, testGuild, domain.InviteSnapshot{
		"abc": {Code: "abc", Uses: 0, InviterID: "user-a"},
	}))
	f.dir.SetInvites(testGuild, []domain.InviteInfo{
		{Code: "abc", Uses: 1, InviterID: "user-a"},
	})

	require.NoError(t, f.tracker.handle(ctx, joinEvent("user-a")))

	_, found, err := f.ledger.InviterOf(ctx, testGuild, "user-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotSync_MissedJoinStaysUnattributed(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.PutSnapshot(ctx, testGuild, domain.InviteSnapshot{
		"abc": {Code: "abc", Uses: 2, InviterID: "user-a"},
	}))

	// The use ticks, but a sync lands before the join event is processed
	f.dir.SetInvites(testGuild, []domain.InviteInfo{
		{Code: "abc", Uses: 3, InviterID: "user-a"},
	})
	require.NoError(t, f.tracker.handle(ctx, domain.Event{
		Type:    domain.EventSnapshotSync,
		GuildID: testGuild,
	}))

	// The sync consumed the delta: the late join goes unattributed
	require.NoError(t, f.tracker.handle(ctx, joinEvent("user-b")))
	_, found, err := f.ledger.InviterOf(ctx, testGuild, "user-b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCountUseIncrements(t *testing.T) {
	old := domain.InviteSnapshot{
		"abc": {Code: "abc", Uses: 2},
		"def": {Code: "def", Uses: 5},
	}
	current := domain.InviteSnapshot{
		"abc": {Code: "abc", Uses: 3},
		"def": {Code: "def", Uses: 5},
		"ghi": {Code: "ghi", Uses: 1},
	}

	assert.Equal(t, 1, countUseIncrements(old, current))
	assert.Equal(t, 0, countUseIncrements(current, current))
}

func TestHandleInviteDeleted_LedgerSurvives(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	_, err := f.ledger.AddInvitee(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)

	// The invite that produced the mapping disappears
	f.dir.SetInvites(testGuild, nil)
	require.NoError(t, f.tracker.handle(ctx, domain.Event{
		Type:    domain.EventInviteDeleted,
		GuildID: testGuild,
		Code:    "abc",
	}))

	inviterID, found, err := f.ledger.InviterOf(ctx, testGuild, "user-b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "user-a", inviterID)

	// Snapshot reflects the deletion
	snap, err := f.store.GetSnapshot(ctx, testGuild)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestHandleMemberLeft_RemovesAndReconciles(t *testing.T) {
	f := setupTrackerTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a", RoleIDs: []string{"role-reward"}})
	f.dir.PutMember(testGuild, &domain.Member{ID: "user-b", RoleIDs: []string{"role-r"}})
	_, err := f.ledger.AddInvitee(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)

	f.dir.RemoveMember(testGuild, "user-b")
	require.NoError(t, f.tracker.handle(ctx, domain.Event{
		Type:    domain.EventMemberLeft,
		GuildID: testGuild,
		UserID:  "user-b",
	}))

	_, found, err := f.ledger.InviterOf(ctx, testGuild, "user-b")
	require.NoError(t, err)
	assert.False(t, found)

	m, err := f.dir.FetchMember(ctx, testGuild, "user-a")
	require.NoError(t, err)
	assert.NotContains(t, m.RoleIDs, "role-reward")
}

func TestHandleMemberLeft_UnknownMemberNoop(t *testing.T) {
	f := setupTrackerTest(t, []rules.Rule{perInviteeRule()})

	require.NoError(t, f.tracker.handle(context.Background(), domain.Event{
		Type:    domain.EventMemberLeft,
		GuildID: testGuild,
		UserID:  "user-z",
	}))
	assert.Zero(t, f.dir.MutationCount())
}

func TestHandleMemberRolesChanged_ReconcilesInviter(t *testing.T) {
	f := setupTrackerTest(t, []rules.Rule{perInviteeRule()})
	ctx := context.Background()

	f.dir.PutMember(testGuild, &domain.Member{ID: "user-a"})
	f.dir.PutMember(testGuild, &domain.Member{ID: "user-b"})
	_, err := f.ledger.AddInvitee(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)

	// Invitee gains the qualifying role
	f.dir.PutMember(testGuild, &domain.Member{ID: "user-b", RoleIDs: []string{"role-r"}})
	require.NoError(t, f.tracker.handle(ctx, domain.Event{
		Type:       domain.EventMemberRolesChanged,
		GuildID:    testGuild,
		UserID:     "user-b",
		NewRoleIDs: []string{"role-r"},
	}))

	m, err := f.dir.FetchMember(ctx, testGuild, "user-a")
	require.NoError(t, err)
	assert.Contains(t, m.RoleIDs, "role-reward")
}

func TestAddMapping_ConflictOnOtherInviter(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	created, err := f.tracker.AddMapping(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)
	assert.True(t, created)

	// Same pair again: idempotent
	created, err = f.tracker.AddMapping(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)
	assert.False(t, created)

	// Different inviter for the same invitee: rejected
	_, err = f.tracker.AddMapping(ctx, testGuild, "user-x", "user-b")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestAddMapping_ConcurrentAddsKeepSingleInviter(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	// Two racing adds for the same invitee must resolve to exactly one
	// winner; the ledger's cross-inviter check spans several store
	// transactions, so only the guild lock makes this hold.
	for i := 0; i < 50; i++ {
		inviteeID := fmt.Sprintf("user-%d", i)

		var errs [2]error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = f.tracker.AddMapping(ctx, testGuild, "inviter-a", inviteeID)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = f.tracker.AddMapping(ctx, testGuild, "inviter-b", inviteeID)
		}()
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				require.True(t, apperrors.Is(err, apperrors.ErrConflict))
			}
		}
		require.Equal(t, 1, winners, "invitee %s", inviteeID)

		owners := 0
		for _, inviterID := range []string{"inviter-a", "inviter-b"} {
			invitees, err := f.ledger.InviteesOf(ctx, testGuild, inviterID)
			require.NoError(t, err)
			if slices.Contains(invitees, inviteeID) {
				owners++
			}
		}
		require.Equal(t, 1, owners, "invitee %s", inviteeID)
	}
}

func TestAddMapping_RacesLiveJoinKeepsSingleInviter(t *testing.T) {
	f := setupTrackerTest(t, nil)

	source := NewChannelSource(16)
	f.tracker.source = source
	f.tracker.guildIDs = nil
	f.tracker.pollInterval = 0

	ctx := context.Background()
	require.NoError(t, f.store.PutSnapshot(ctx, testGuild, domain.InviteSnapshot{}))
	f.dir.SetInvites(testGuild, []domain.InviteInfo{
		{Code: "abc", Uses: 1, InviterID: "user-live"},
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(runCtx) }()

	// Manual correction and live join race for the same invitee
	adminErr := make(chan error, 1)
	go func() {
		_, err := f.tracker.AddMapping(ctx, testGuild, "user-admin", "user-b")
		adminErr <- err
	}()
	source.Publish(joinEvent("user-b"))
	source.Close()

	if err := <-adminErr; err != nil {
		// The live join won; the admin side saw the conflict
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not drain after source close")
	}

	// Whoever won, the invitee ends up under exactly one inviter
	inviterID, found, err := f.ledger.InviterOf(ctx, testGuild, "user-b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, []string{"user-live", "user-admin"}, inviterID)

	owners := 0
	for _, candidate := range []string{"user-live", "user-admin"} {
		invitees, err := f.ledger.InviteesOf(ctx, testGuild, candidate)
		require.NoError(t, err)
		if slices.Contains(invitees, "user-b") {
			owners++
		}
	}
	assert.Equal(t, 1, owners)
}

func TestRemoveMapping_ThenRemap(t *testing.T) {
	f := setupTrackerTest(t, nil)
	ctx := context.Background()

	_, err := f.tracker.AddMapping(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)

	found, err := f.tracker.RemoveMapping(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)
	assert.True(t, found)

	// Removing again reports not found
	found, err = f.tracker.RemoveMapping(ctx, testGuild, "user-a", "user-b")
	require.NoError(t, err)
	assert.False(t, found)

	// The invitee can now be mapped to a different inviter
	created, err := f.tracker.AddMapping(ctx, testGuild, "user-x", "user-b")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRun_ProcessesEventsInOrder(t *testing.T) {
	f := setupTrackerTest(t, nil)

	// No configured guild IDs: skip startup priming and the poll ticker so
	// the snapshot below is exactly what the join diffs against.
	source := NewChannelSource(16)
	f.tracker.source = source
	f.tracker.guildIDs = nil
	f.tracker.pollInterval = 0

	require.NoError(t, f.store.PutSnapshot(context.Background(), testGuild, domain.InviteSnapshot{}))
	f.dir.SetInvites(testGuild, []domain.InviteInfo{
		{Code: "abc", Uses: 1, InviterID: "user-a"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(ctx) }()

	source.Publish(joinEvent("user-b"))
	source.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not drain after source close")
	}

	inviterID, found, err := f.ledger.InviterOf(context.Background(), testGuild, "user-b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "user-a", inviterID)
}
