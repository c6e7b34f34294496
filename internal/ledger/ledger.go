// Package ledger maintains the persistent inviter→invitees mapping. The
// ledger is the single source of truth for "who invited whom": entries are
// created on attribution or admin action and removed only on member leave or
// admin removal, never because the originating invite link went away.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/invitewarden/invitewarden-server/internal/domain"
	apperrors "github.com/invitewarden/invitewarden-server/internal/errors"
	"github.com/invitewarden/invitewarden-server/internal/store"
)

// Ledger exposes the membership ledger operations over the persistent store.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a ledger backed by the given store.
func New(store *store.Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
	}
}

// AddInvitee records inviteeID under inviterID. Idempotent: recording an
// existing pair is a no-op and reports created == false. An invitee already
// recorded under a different inviter is rejected with a conflict, keeping
// the at-most-one-inviter invariant intact.
func (l *Ledger) AddInvitee(ctx context.Context, guildID, inviterID, inviteeID string) (created bool, err error) {
	// Reject cross-inviter duplicates before touching the target record.
	owner, ok, err := l.InviterOf(ctx, guildID, inviteeID)
	if err != nil {
		return false, err
	}
	if ok {
		if owner == inviterID {
			return false, nil
		}
		return false, apperrors.Conflictf("invitee %s is already recorded under inviter %s", inviteeID, owner)
	}

	record, err := l.store.GetLedgerRecord(ctx, guildID, inviterID)
	if err != nil {
		if !errors.Is(err, store.ErrLedgerRecordNotFound) {
			return false, fmt.Errorf("load ledger record: %w", err)
		}
		record = &domain.LedgerRecord{GuildID: guildID, InviterID: inviterID}
	}

	record.InviteeIDs = append(record.InviteeIDs, inviteeID)
	if err := l.store.PutLedgerRecord(ctx, record); err != nil {
		return false, err
	}

	if l.logger != nil {
		l.logger.Info("Ledger entry added",
			"guild_id", guildID,
			"inviter_id", inviterID,
			"invitee_id", inviteeID,
			"invitee_count", len(record.InviteeIDs),
		)
	}
	return true, nil
}

// RemoveInvitee removes inviteeID from whichever inviter holds it and
// returns that inviter. Reports found == false when the invitee is unknown.
func (l *Ledger) RemoveInvitee(ctx context.Context, guildID, inviteeID string) (inviterID string, found bool, err error) {
	records, err := l.store.ListLedgerRecords(ctx, guildID)
	if err != nil {
		return "", false, err
	}

	for _, record := range records {
		if !record.Remove(inviteeID) {
			continue
		}
		if err := l.store.PutLedgerRecord(ctx, record); err != nil {
			return "", false, err
		}
		if l.logger != nil {
			l.logger.Info("Ledger entry removed",
				"guild_id", guildID,
				"inviter_id", record.InviterID,
				"invitee_id", inviteeID,
			)
		}
		return record.InviterID, true, nil
	}

	return "", false, nil
}

// RemoveMapping removes a specific inviter→invitee pair (admin operation).
// Reports found == false when the pair does not exist.
func (l *Ledger) RemoveMapping(ctx context.Context, guildID, inviterID, inviteeID string) (found bool, err error) {
	record, err := l.store.GetLedgerRecord(ctx, guildID, inviterID)
	if err != nil {
		if errors.Is(err, store.ErrLedgerRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load ledger record: %w", err)
	}

	if !record.Remove(inviteeID) {
		return false, nil
	}
	if err := l.store.PutLedgerRecord(ctx, record); err != nil {
		return false, err
	}

	if l.logger != nil {
		l.logger.Info("Ledger mapping removed by admin",
			"guild_id", guildID,
			"inviter_id", inviterID,
			"invitee_id", inviteeID,
		)
	}
	return true, nil
}

// InviteesOf returns the invitees recorded under an inviter, in insertion
// order. Unknown inviters yield an empty list.
func (l *Ledger) InviteesOf(ctx context.Context, guildID, inviterID string) ([]string, error) {
	record, err := l.store.GetLedgerRecord(ctx, guildID, inviterID)
	if err != nil {
		if errors.Is(err, store.ErrLedgerRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load ledger record: %w", err)
	}
	return record.InviteeIDs, nil
}

// InviterOf returns the inviter an invitee is recorded under, if any.
func (l *Ledger) InviterOf(ctx context.Context, guildID, inviteeID string) (inviterID string, found bool, err error) {
	records, err := l.store.ListLedgerRecords(ctx, guildID)
	if err != nil {
		return "", false, err
	}
	for _, record := range records {
		if record.Has(inviteeID) {
			return record.InviterID, true, nil
		}
	}
	return "", false, nil
}

// AllInviters returns every inviter with at least one recorded invitee.
func (l *Ledger) AllInviters(ctx context.Context, guildID string) ([]string, error) {
	records, err := l.store.ListLedgerRecords(ctx, guildID)
	if err != nil {
		return nil, err
	}

	inviters := make([]string, 0, len(records))
	for _, record := range records {
		if len(record.InviteeIDs) > 0 {
			inviters = append(inviters, record.InviterID)
		}
	}
	return inviters, nil
}
