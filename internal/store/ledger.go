package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/invitewarden/invitewarden-server/internal/domain"
)

// GetLedgerRecord retrieves one inviter's ledger record.
func (s *Store) GetLedgerRecord(_ context.Context, guildID, inviterID string) (*domain.LedgerRecord, error) {
	var record domain.LedgerRecord
	if err := s.get(ledgerKey(guildID, inviterID), &record); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrLedgerRecordNotFound
		}
		return nil, fmt.Errorf("get ledger record: %w", err)
	}
	return &record, nil
}

// PutLedgerRecord saves an inviter's ledger record and regenerates the
// guild's summary projection in the same transaction. A record with no
// invitees left is deleted instead of stored.
func (s *Store) PutLedgerRecord(_ context.Context, record *domain.LedgerRecord) error {
	record.UpdatedAt = time.Now()
	key := ledgerKey(record.GuildID, record.InviterID)

	err := s.db.Update(func(txn *badger.Txn) error {
		if len(record.InviteeIDs) == 0 {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		} else if err := setInTxn(txn, key, record); err != nil {
			return err
		}

		return s.writeSummaryInTxn(txn, record.GuildID)
	})
	if err != nil {
		return fmt.Errorf("put ledger record: %w", err)
	}
	return nil
}

// ListLedgerRecords returns every ledger record for a guild, in key order.
func (s *Store) ListLedgerRecords(_ context.Context, guildID string) ([]*domain.LedgerRecord, error) {
	prefix := ledgerGuildPrefix(guildID)
	var records []*domain.LedgerRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record domain.LedgerRecord
				if unmarshalErr := json.Unmarshal(val, &record); unmarshalErr != nil {
					// Skip malformed records
					return nil
				}
				records = append(records, &record)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}

	return records, nil
}

// GetLedgerSummary returns the guild's summary projection.
// The summary is derived state; callers must never treat it as authoritative.
func (s *Store) GetLedgerSummary(_ context.Context, guildID string) (*domain.LedgerSummary, error) {
	var summary domain.LedgerSummary
	if err := s.get(summaryKey(guildID), &summary); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &domain.LedgerSummary{
				GuildID:  guildID,
				Inviters: map[string]domain.InviterStats{},
			}, nil
		}
		return nil, fmt.Errorf("get ledger summary: %w", err)
	}
	return &summary, nil
}

// writeSummaryInTxn rebuilds the guild summary from the ledger records
// visible in the transaction. Called on every ledger save so the projection
// never drifts from the records.
func (s *Store) writeSummaryInTxn(txn *badger.Txn, guildID string) error {
	summary := &domain.LedgerSummary{
		GuildID:     guildID,
		Inviters:    map[string]domain.InviterStats{},
		GeneratedAt: time.Now(),
	}

	prefix := ledgerGuildPrefix(guildID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			var record domain.LedgerRecord
			if unmarshalErr := json.Unmarshal(val, &record); unmarshalErr != nil {
				return nil
			}
			summary.Inviters[record.InviterID] = domain.InviterStats{
				Count:      len(record.InviteeIDs),
				InviteeIDs: record.InviteeIDs,
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return setInTxn(txn, summaryKey(guildID), summary)
}
