package store

// Key prefixes for the persisted record types.
//
// Ledger records are keyed per guild and inviter so a guild's records can be
// listed with a single prefix scan:
//
//	ledger:<guildID>:<inviterID>  -> domain.LedgerRecord
//	snapshot:<guildID>            -> domain.InviteSnapshot
//	summary:<guildID>             -> domain.LedgerSummary (projection only)
const (
	ledgerPrefix   = "ledger:"
	snapshotPrefix = "snapshot:"
	summaryPrefix  = "summary:"
)

// ledgerKey builds the key for one inviter's ledger record.
func ledgerKey(guildID, inviterID string) []byte {
	return []byte(ledgerPrefix + guildID + ":" + inviterID)
}

// ledgerGuildPrefix builds the scan prefix covering a guild's ledger records.
func ledgerGuildPrefix(guildID string) []byte {
	return []byte(ledgerPrefix + guildID + ":")
}

// snapshotKey builds the key for a guild's invite snapshot.
func snapshotKey(guildID string) []byte {
	return []byte(snapshotPrefix + guildID)
}

// summaryKey builds the key for a guild's ledger summary projection.
func summaryKey(guildID string) []byte {
	return []byte(summaryPrefix + guildID)
}
