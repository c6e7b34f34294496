package tracker

import "sync"

// lockTable hands out one mutex per guild. The guild worker and admin
// mutations take it around ledger read-modify-write sections, since the
// ledger's cross-inviter check and the write that follows span separate
// store transactions. Locks are never evicted; the key space is the set of
// tracked guilds.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its unlock function.
func (t *lockTable) acquire(key string) func() {
	t.mu.Lock()
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
