// Package tracker runs the event pipeline that turns gateway events into
// ledger mutations and reward reconciliation.
//
// Events for one guild are processed by a single goroutine in arrival
// order; different guilds proceed independently. Each member-join walks the
// pipeline Unresolved → Attributed → Recorded → RolesReconciled in a single
// forward pass: any failure before the ledger write aborts the event and
// leaves the ledger at its last durable state.
//
// Admin mutations run on their caller's goroutine and serialize with the
// guild worker through a per-guild ledger lock, so a manual correction and
// a live event racing for the same invitee cannot both pass the ledger's
// cross-inviter check.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/invitewarden/invitewarden-server/internal/attribution"
	"github.com/invitewarden/invitewarden-server/internal/directory"
	"github.com/invitewarden/invitewarden-server/internal/domain"
	"github.com/invitewarden/invitewarden-server/internal/errors"
	"github.com/invitewarden/invitewarden-server/internal/ledger"
	"github.com/invitewarden/invitewarden-server/internal/reconcile"
	"github.com/invitewarden/invitewarden-server/internal/store"
)

// guildQueueSize buffers bursts of gateway events per guild.
const guildQueueSize = 64

// Tracker consumes gateway events and drives attribution, the ledger, and
// reconciliation.
type Tracker struct {
	store      *store.Store
	ledger     *ledger.Ledger
	directory  directory.Directory
	reconciler *reconcile.Reconciler
	source     EventSource
	logger     *slog.Logger

	pollInterval time.Duration
	guildIDs     []string

	mu     sync.Mutex
	queues map[string]chan domain.Event
	wg     sync.WaitGroup

	// ledgerLocks serializes ledger read-modify-write sections per guild,
	// between the guild worker and admin mutations arriving on HTTP
	// goroutines.
	ledgerLocks *lockTable
}

// Config bundles the tracker's collaborators.
type Config struct {
	Store        *store.Store
	Ledger       *ledger.Ledger
	Directory    directory.Directory
	Reconciler   *reconcile.Reconciler
	Source       EventSource
	Logger       *slog.Logger
	PollInterval time.Duration
	GuildIDs     []string
}

// New creates a tracker.
func New(cfg Config) *Tracker {
	return &Tracker{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		directory:    cfg.Directory,
		reconciler:   cfg.Reconciler,
		source:       cfg.Source,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		guildIDs:     cfg.GuildIDs,
		queues:       make(map[string]chan domain.Event),
		ledgerLocks:  newLockTable(),
	}
}

// Run consumes the event source and the poll ticker until the context is
// cancelled, then drains the per-guild workers.
func (t *Tracker) Run(ctx context.Context) error {
	// Prime snapshots so the first join after startup diffs against
	// something recent rather than a stale pre-restart snapshot.
	for _, guildID := range t.guildIDs {
		if err := t.refreshSnapshot(ctx, guildID); err != nil && t.logger != nil {
			t.logger.Warn("Initial snapshot refresh failed", "guild_id", guildID, "error", err)
		}
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if t.pollInterval > 0 {
		ticker = time.NewTicker(t.pollInterval)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			t.closeQueues()
			t.wg.Wait()
			return ctx.Err()

		case <-tick:
			// A sync queued ahead of a pending join event consumes that
			// join's use-count delta; refreshSnapshot logs the loss.
			for _, guildID := range t.guildIDs {
				t.dispatch(ctx, domain.Event{
					Type:      domain.EventSnapshotSync,
					GuildID:   guildID,
					Timestamp: time.Now(),
				})
			}

		case event, ok := <-t.source.Events():
			if !ok {
				t.closeQueues()
				t.wg.Wait()
				return nil
			}
			t.dispatch(ctx, event)
		}
	}
}

// dispatch routes an event onto its guild's serial queue, starting the
// guild worker on first use.
func (t *Tracker) dispatch(ctx context.Context, event domain.Event) {
	if event.GuildID == "" {
		return
	}

	t.mu.Lock()
	queue, ok := t.queues[event.GuildID]
	if !ok {
		queue = make(chan domain.Event, guildQueueSize)
		t.queues[event.GuildID] = queue
		t.wg.Add(1)
		go t.guildWorker(ctx, event.GuildID, queue)
	}
	t.mu.Unlock()

	select {
	case queue <- event:
	case <-ctx.Done():
	}
}

func (t *Tracker) closeQueues() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, queue := range t.queues {
		close(queue)
	}
	t.queues = make(map[string]chan domain.Event)
}

// guildWorker processes one guild's events in order. Failures are isolated
// per event: the worker logs and moves on.
func (t *Tracker) guildWorker(ctx context.Context, guildID string, queue <-chan domain.Event) {
	defer t.wg.Done()

	for event := range queue {
		if err := t.handle(ctx, event); err != nil {
			if t.logger != nil {
				t.logger.Error("Event processing failed",
					"guild_id", guildID,
					"event_type", event.Type,
					"user_id", event.UserID,
					"error", err,
				)
			}
		}
	}
}

// handle runs one event through the pipeline.
func (t *Tracker) handle(ctx context.Context, event domain.Event) error {
	switch event.Type {
	case domain.EventMemberJoined:
		return t.handleMemberJoined(ctx, event)
	case domain.EventMemberLeft:
		return t.handleMemberLeft(ctx, event)
	case domain.EventMemberRolesChanged:
		return t.handleMemberRolesChanged(ctx, event)
	case domain.EventInviteCreated, domain.EventInviteDeleted, domain.EventSnapshotSync:
		// Invite lifecycle only refreshes the snapshot cache. Deleting a
		// code never reaches into the ledger.
		return t.refreshSnapshot(ctx, event.GuildID)
	default:
		if t.logger != nil {
			t.logger.Warn("Ignoring unknown event type", "event_type", event.Type)
		}
		return nil
	}
}

// handleMemberJoined attributes the join by diffing the stored snapshot
// against a fresh invite listing, records the mapping, and reconciles the
// inviter's rewards.
func (t *Tracker) handleMemberJoined(ctx context.Context, event domain.Event) error {
	// Unresolved: load the last snapshot and fetch a fresh one.
	old, err := t.store.GetSnapshot(ctx, event.GuildID)
	if err != nil && !errors.Is(err, store.ErrSnapshotNotFound) {
		return err
	}

	invites, err := t.directory.ListInvites(ctx, event.GuildID)
	if err != nil {
		// Fail closed: without a fresh listing there is nothing to diff,
		// and the stale snapshot stays durable for the next attempt.
		return err
	}
	current := snapshotFromInvites(invites)

	// Attributed: pick the invite whose use count moved.
	result, attributed := attribution.Attribute(old, current)
	if !attributed {
		if t.logger != nil {
			t.logger.Info("Join could not be attributed to an invite",
				"guild_id", event.GuildID,
				"user_id", event.UserID,
			)
		}
		// Still commit the snapshot so the missed increment is not
		// re-diffed forever.
		return t.store.PutSnapshot(ctx, event.GuildID, current)
	}

	if result.InviterID == event.UserID {
		// Self-joins via one's own link are not recorded.
		return t.store.PutSnapshot(ctx, event.GuildID, current)
	}

	// Recorded: ledger write first, snapshot commit second. If the ledger
	// write fails the old snapshot survives and the next join re-diffs.
	created, err := t.recordMapping(ctx, event.GuildID, result.InviterID, event.UserID)
	if err != nil {
		if errors.Is(err, errors.ErrConflict) {
			// Already recorded under someone else (e.g. rejoin after an
			// admin correction). Keep the existing mapping.
			if t.logger != nil {
				t.logger.Warn("Join attribution conflicts with existing ledger entry",
					"guild_id", event.GuildID,
					"user_id", event.UserID,
					"inviter_id", result.InviterID,
				)
			}
			return t.store.PutSnapshot(ctx, event.GuildID, current)
		}
		return err
	}

	if err := t.store.PutSnapshot(ctx, event.GuildID, current); err != nil {
		return err
	}

	if t.logger != nil {
		t.logger.Info("Join attributed",
			"guild_id", event.GuildID,
			"user_id", event.UserID,
			"inviter_id", result.InviterID,
			"code", result.Code,
			"created", created,
		)
	}

	// RolesReconciled: transient reconciliation failures are logged by the
	// reconciler and retried on the next event; the attribution stands.
	if err := t.reconciler.ReconcileInviter(ctx, event.GuildID, result.InviterID); err != nil {
		if t.logger != nil {
			t.logger.Warn("Post-join reconciliation failed",
				"guild_id", event.GuildID,
				"inviter_id", result.InviterID,
				"error", err,
			)
		}
	}
	return nil
}

// handleMemberLeft removes the member from the ledger and re-evaluates the
// inviter who loses them.
func (t *Tracker) handleMemberLeft(ctx context.Context, event domain.Event) error {
	unlock := t.ledgerLocks.acquire(event.GuildID)
	inviterID, found, err := t.ledger.RemoveInvitee(ctx, event.GuildID, event.UserID)
	unlock()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	return t.reconciler.ReconcileInviter(ctx, event.GuildID, inviterID)
}

// handleMemberRolesChanged re-evaluates the inviter whose invitee's roles
// moved; role changes for members nobody invited are irrelevant.
func (t *Tracker) handleMemberRolesChanged(ctx context.Context, event domain.Event) error {
	inviterID, found, err := t.ledger.InviterOf(ctx, event.GuildID, event.UserID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	return t.reconciler.ReconcileInviter(ctx, event.GuildID, inviterID)
}

// recordMapping performs the ledger's check-then-write under the guild's
// ledger lock. AddInvitee spans several store transactions, so without the
// lock two writers could both pass the cross-inviter check and record the
// invitee under two inviters.
func (t *Tracker) recordMapping(ctx context.Context, guildID, inviterID, inviteeID string) (bool, error) {
	unlock := t.ledgerLocks.acquire(guildID)
	defer unlock()
	return t.ledger.AddInvitee(ctx, guildID, inviterID, inviteeID)
}

// refreshSnapshot replaces the guild's stored snapshot with a fresh invite
// listing.
func (t *Tracker) refreshSnapshot(ctx context.Context, guildID string) error {
	invites, err := t.directory.ListInvites(ctx, guildID)
	if err != nil {
		return err
	}
	current := snapshotFromInvites(invites)

	// Committing fresh counts wholesale erases any use that ticked since
	// the previous snapshot without its join event being processed first
	// (poll tick ordered ahead of the join, startup, invite churn). Those
	// joins stay unattributed until an admin corrects them; surface the
	// loss instead of hiding it.
	if old, err := t.store.GetSnapshot(ctx, guildID); err == nil {
		if missed := countUseIncrements(old, current); missed > 0 && t.logger != nil {
			t.logger.Warn("Invite uses advanced outside join handling, those joins stay unattributed",
				"guild_id", guildID,
				"codes", missed,
			)
		}
	}

	return t.store.PutSnapshot(ctx, guildID, current)
}

// countUseIncrements counts codes whose use count strictly increased
// between two snapshots.
func countUseIncrements(old, current domain.InviteSnapshot) int {
	n := 0
	for code, inv := range current {
		if prev, ok := old[code]; ok && inv.Uses > prev.Uses {
			n++
		}
	}
	return n
}

func snapshotFromInvites(invites []domain.InviteInfo) domain.InviteSnapshot {
	snapshot := make(domain.InviteSnapshot, len(invites))
	for _, inv := range invites {
		snapshot[inv.Code] = inv
	}
	return snapshot
}
