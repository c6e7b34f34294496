package store

import "errors"

var (
	// ErrLedgerRecordNotFound is returned when an inviter has no ledger record.
	ErrLedgerRecordNotFound = errors.New("ledger record not found")
	// ErrSnapshotNotFound is returned when a guild has no stored invite snapshot.
	ErrSnapshotNotFound = errors.New("invite snapshot not found")
)
