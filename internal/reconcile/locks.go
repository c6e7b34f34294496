package reconcile

import "sync"

// lockTable hands out one mutex per key so reconciliation for a given
// inviter is serialized while different inviters proceed in parallel.
// Locks are never evicted; the key space (guild:inviter pairs with ledger
// entries) is small and bounded by guild membership.
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
