package tracker

import (
	"context"
)

// Admin operations bypass the gateway queue. The guild's ledger lock
// serializes their ledger read-modify-write against the guild worker, and
// the reconcile step takes the reconciler's per-inviter locks like any live
// event.

// AddMapping records a manual inviter to invitee mapping and reconciles the
// inviter. Recording the same pair again reports created=false. Mapping an
// invitee already recorded under a different inviter fails with a conflict;
// remove the existing mapping first.
func (t *Tracker) AddMapping(ctx context.Context, guildID, inviterID, inviteeID string) (bool, error) {
	created, err := t.recordMapping(ctx, guildID, inviterID, inviteeID)
	if err != nil {
		return false, err
	}

	if err := t.reconciler.ReconcileInviter(ctx, guildID, inviterID); err != nil && t.logger != nil {
		t.logger.Warn("Reconciliation after manual mapping failed",
			"guild_id", guildID,
			"inviter_id", inviterID,
			"error", err,
		)
	}
	return created, nil
}

// RemoveMapping deletes a manual or attributed mapping and reconciles the
// inviter who lost the invitee.
func (t *Tracker) RemoveMapping(ctx context.Context, guildID, inviterID, inviteeID string) (bool, error) {
	unlock := t.ledgerLocks.acquire(guildID)
	found, err := t.ledger.RemoveMapping(ctx, guildID, inviterID, inviteeID)
	unlock()
	if err != nil || !found {
		return found, err
	}

	if err := t.reconciler.ReconcileInviter(ctx, guildID, inviterID); err != nil && t.logger != nil {
		t.logger.Warn("Reconciliation after mapping removal failed",
			"guild_id", guildID,
			"inviter_id", inviterID,
			"error", err,
		)
	}
	return true, nil
}

// ListInvitees returns the recorded invitees for an inviter in insertion
// order.
func (t *Tracker) ListInvitees(ctx context.Context, guildID, inviterID string) ([]string, error) {
	return t.ledger.InviteesOf(ctx, guildID, inviterID)
}

// RunRetroactive triggers a full retroactive reconciliation pass for the
// guild, tagged with the given pass id for log correlation.
func (t *Tracker) RunRetroactive(ctx context.Context, guildID, passID string) error {
	return t.reconciler.RetroactivePass(ctx, guildID, passID)
}
