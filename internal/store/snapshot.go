package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/invitewarden/invitewarden-server/internal/domain"
)

// GetSnapshot retrieves the last observed invite snapshot for a guild.
func (s *Store) GetSnapshot(_ context.Context, guildID string) (domain.InviteSnapshot, error) {
	var snapshot domain.InviteSnapshot
	if err := s.get(snapshotKey(guildID), &snapshot); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snapshot, nil
}

// PutSnapshot replaces the guild's invite snapshot wholesale.
// Snapshots are never merged field-by-field; the stored value is always the
// full last-observed state.
func (s *Store) PutSnapshot(_ context.Context, guildID string, snapshot domain.InviteSnapshot) error {
	if err := s.set(snapshotKey(guildID), snapshot); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot removes a guild's invite snapshot.
func (s *Store) DeleteSnapshot(_ context.Context, guildID string) error {
	if err := s.delete(snapshotKey(guildID)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
